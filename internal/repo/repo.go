package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"freightline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrStaleVersion is returned when a compare-and-swap update matches
	// zero rows: the caller's view of the aggregate is out of date.
	ErrStaleVersion = errors.New("stale version")
)

const loadColumns = `id,shipper_id,carrier_id,origin,destination,COALESCE(cargo,''),weight_tons,status,COALESCE(previous_status,''),version,
shipper_price_per_ton,admin_suggested_price,admin_final_price,price_locked,price_locked_by,price_locked_at,
COALESCE(posting_mode,''),invited_carriers_json,awarded_bid_id,active_invoice_id,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLoad(row rowScanner) (domain.Load, error) {
	var l domain.Load
	var invited sql.NullString
	var prev string
	var mode string
	err := row.Scan(&l.ID, &l.ShipperID, &l.CarrierID, &l.Origin, &l.Destination, &l.Cargo, &l.WeightTons,
		&l.Status, &prev, &l.Version,
		&l.ShipperPricePerTon, &l.AdminSuggestedPrice, &l.AdminFinalPrice,
		&l.PriceLocked, &l.PriceLockedBy, &l.PriceLockedAt,
		&mode, &invited, &l.AwardedBidID, &l.ActiveInvoiceID, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	if err != nil {
		return l, err
	}
	l.PreviousStatus = domain.LoadStatus(prev)
	l.PostingMode = domain.PostingMode(mode)
	if invited.Valid && invited.String != "" {
		if err := json.Unmarshal([]byte(invited.String), &l.InvitedCarriers); err != nil {
			return l, fmt.Errorf("decode invited carriers: %w", err)
		}
	}
	return l, nil
}

func (r Repo) InsertLoad(ctx context.Context, tx *sql.Tx, l domain.Load) error {
	invited, err := marshalStringSlice(l.InvitedCarriers)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO loads(id,shipper_id,carrier_id,origin,destination,cargo,weight_tons,status,previous_status,version,
shipper_price_per_ton,admin_suggested_price,admin_final_price,price_locked,price_locked_by,price_locked_at,
posting_mode,invited_carriers_json,awarded_bid_id,active_invoice_id,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		l.ID, l.ShipperID, l.CarrierID, l.Origin, l.Destination, nullable(l.Cargo), l.WeightTons,
		string(l.Status), nullable(string(l.PreviousStatus)), l.Version,
		l.ShipperPricePerTon, l.AdminSuggestedPrice, l.AdminFinalPrice,
		l.PriceLocked, l.PriceLockedBy, l.PriceLockedAt,
		nullable(string(l.PostingMode)), nullableStringPtr(invited), l.AwardedBidID, l.ActiveInvoiceID,
		l.CreatedAt, l.UpdatedAt)
	return err
}

func (r Repo) GetLoad(ctx context.Context, id string) (domain.Load, error) {
	return scanLoad(r.DB.QueryRowContext(ctx, `SELECT `+loadColumns+` FROM loads WHERE id=?`, id))
}

// GetLoadTx reads a load inside the caller's transaction so composite
// operations observe a consistent row.
func (r Repo) GetLoadTx(ctx context.Context, tx *sql.Tx, id string) (domain.Load, error) {
	return scanLoad(tx.QueryRowContext(ctx, `SELECT `+loadColumns+` FROM loads WHERE id=?`, id))
}

// UpdateLoadCAS writes the load with optimistic concurrency: the update
// matches only when the stored version equals expectedVersion, and bumps
// the version by one. Zero matched rows is reported as ErrStaleVersion.
func (r Repo) UpdateLoadCAS(ctx context.Context, tx *sql.Tx, l domain.Load, expectedVersion int) error {
	invited, err := marshalStringSlice(l.InvitedCarriers)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE loads SET carrier_id=?,status=?,previous_status=?,version=version+1,
shipper_price_per_ton=?,admin_suggested_price=?,admin_final_price=?,price_locked=?,price_locked_by=?,price_locked_at=?,
posting_mode=?,invited_carriers_json=?,awarded_bid_id=?,active_invoice_id=?,updated_at=?
WHERE id=? AND version=?`,
		l.CarrierID, string(l.Status), nullable(string(l.PreviousStatus)),
		l.ShipperPricePerTon, l.AdminSuggestedPrice, l.AdminFinalPrice,
		l.PriceLocked, l.PriceLockedBy, l.PriceLockedAt,
		nullable(string(l.PostingMode)), nullableStringPtr(invited), l.AwardedBidID, l.ActiveInvoiceID,
		l.UpdatedAt, l.ID, expectedVersion)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrStaleVersion
	}
	return nil
}

func (r Repo) ListLoads(ctx context.Context, status domain.LoadStatus, shipperID string, limit int) ([]domain.Load, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(status))
	}
	if shipperID != "" {
		clauses = append(clauses, "shipper_id=?")
		args = append(args, shipperID)
	}
	query := `SELECT ` + loadColumns + ` FROM loads WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Load
	for rows.Next() {
		l, err := scanLoad(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

// ListLoadStateLog returns the audit trail for one load in append order.
func (r Repo) ListLoadStateLog(ctx context.Context, loadID string) ([]domain.StateChange, error) {
	return listStateChanges(ctx, r.DB, `SELECT id,load_id,actor_id,from_state,to_state,COALESCE(reason,''),COALESCE(metadata_json,''),ts FROM load_state_log WHERE load_id=? ORDER BY id ASC`, loadID)
}

// ListInvoiceHistory returns the audit trail for one invoice in append order.
func (r Repo) ListInvoiceHistory(ctx context.Context, invoiceID string) ([]domain.StateChange, error) {
	return listStateChanges(ctx, r.DB, `SELECT id,invoice_id,actor_id,from_state,to_state,COALESCE(reason,''),COALESCE(metadata_json,''),ts FROM invoice_history WHERE invoice_id=? ORDER BY id ASC`, invoiceID)
}

func listStateChanges(ctx context.Context, db *sql.DB, query, entityID string) ([]domain.StateChange, error) {
	rows, err := db.QueryContext(ctx, query, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StateChange
	for rows.Next() {
		var c domain.StateChange
		if err := rows.Scan(&c.ID, &c.EntityID, &c.ActorID, &c.FromState, &c.ToState, &c.Reason, &c.Metadata, &c.TS); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func marshalStringSlice(in []string) (*string, error) {
	if len(in) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
