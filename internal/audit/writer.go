// Package audit appends immutable workflow history rows. Rows are written
// inside the caller's transaction so a state change and its audit entry
// commit or roll back together.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Metadata map[string]any

func (w Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// LoadChange appends one load_state_log row.
func (w Writer) LoadChange(ctx context.Context, tx *sql.Tx, loadID, actorID, from, to, reason string, meta Metadata) error {
	return w.append(ctx, tx, `INSERT INTO load_state_log(load_id,actor_id,from_state,to_state,reason,metadata_json,ts) VALUES (?,?,?,?,?,?,?)`,
		loadID, actorID, from, to, reason, meta)
}

// InvoiceChange appends one invoice_history row.
func (w Writer) InvoiceChange(ctx context.Context, tx *sql.Tx, invoiceID, actorID, from, to, reason string, meta Metadata) error {
	return w.append(ctx, tx, `INSERT INTO invoice_history(invoice_id,actor_id,from_state,to_state,reason,metadata_json,ts) VALUES (?,?,?,?,?,?,?)`,
		invoiceID, actorID, from, to, reason, meta)
}

func (w Writer) append(ctx context.Context, tx *sql.Tx, query, entityID, actorID, from, to, reason string, meta Metadata) error {
	ts := w.now().UTC().Format(time.RFC3339)
	if meta == nil {
		meta = Metadata{}
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}
	_, err = tx.ExecContext(ctx, query, entityID, actorID, from, to, nullable(reason), string(data), ts)
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
