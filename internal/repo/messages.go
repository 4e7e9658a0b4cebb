package repo

import (
	"context"
	"database/sql"
	"time"

	"freightline/internal/domain"
)

const messageColumns = `seq,id,load_id,bid_id,sender_role,sender_id,type,amount,previous_amount,COALESCE(body,''),created_at`

func scanMessage(row rowScanner) (domain.NegotiationMessage, error) {
	var m domain.NegotiationMessage
	var role, msgType string
	err := row.Scan(&m.Seq, &m.ID, &m.LoadID, &m.BidID, &role, &m.SenderID, &msgType,
		&m.Amount, &m.PreviousAmount, &m.Body, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	m.SenderRole = domain.SenderRole(role)
	m.Type = domain.MessageType(msgType)
	return m, nil
}

// AppendMessage inserts a ledger entry and returns it with the store-assigned
// sequence number. The autoincrement seq is the total order of the thread.
func (r Repo) AppendMessage(ctx context.Context, tx *sql.Tx, m domain.NegotiationMessage) (domain.NegotiationMessage, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO negotiation_messages(id,load_id,bid_id,sender_role,sender_id,type,amount,previous_amount,body,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.LoadID, m.BidID, string(m.SenderRole), m.SenderID, string(m.Type),
		m.Amount, m.PreviousAmount, nullable(m.Body), m.CreatedAt)
	if err != nil {
		return m, err
	}
	m.Seq, err = res.LastInsertId()
	return m, err
}

// ListMessages returns the full ledger for a load ordered by sequence; the
// order is gap-free for readers because appends are transactional.
func (r Repo) ListMessages(ctx context.Context, loadID string) ([]domain.NegotiationMessage, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+messageColumns+` FROM negotiation_messages WHERE load_id=? ORDER BY seq ASC`, loadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.NegotiationMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) GetThread(ctx context.Context, loadID string) (domain.NegotiationThread, error) {
	var t domain.NegotiationThread
	err := r.DB.QueryRowContext(ctx, `SELECT load_id,total_bids,real_bids,simulated_bids,pending_counters,accepted_bid_id,accepted_carrier_id,accepted_amount,updated_at
FROM negotiation_threads WHERE load_id=?`, loadID).
		Scan(&t.LoadID, &t.TotalBids, &t.RealBids, &t.SimulatedBids, &t.PendingCounters,
			&t.AcceptedBidID, &t.AcceptedCarrierID, &t.AcceptedAmount, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

// UpsertThread writes the derived thread summary inside the same tx that
// appended the messages it summarizes.
func (r Repo) UpsertThread(ctx context.Context, tx *sql.Tx, t domain.NegotiationThread) error {
	if t.UpdatedAt == "" {
		t.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO negotiation_threads(load_id,total_bids,real_bids,simulated_bids,pending_counters,accepted_bid_id,accepted_carrier_id,accepted_amount,updated_at)
VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(load_id) DO UPDATE SET total_bids=excluded.total_bids, real_bids=excluded.real_bids,
simulated_bids=excluded.simulated_bids, pending_counters=excluded.pending_counters,
accepted_bid_id=excluded.accepted_bid_id, accepted_carrier_id=excluded.accepted_carrier_id,
accepted_amount=excluded.accepted_amount, updated_at=excluded.updated_at`,
		t.LoadID, t.TotalBids, t.RealBids, t.SimulatedBids, t.PendingCounters,
		t.AcceptedBidID, t.AcceptedCarrierID, t.AcceptedAmount, t.UpdatedAt)
	return err
}
