package repo

import (
	"context"
	"database/sql"

	"freightline/internal/domain"
)

const bidColumns = `id,load_id,carrier_id,amount,counter_amount,previous_amount,status,bid_type,COALESCE(carrier_type,''),COALESCE(notes,''),created_at,updated_at`

func scanBid(row rowScanner) (domain.Bid, error) {
	var b domain.Bid
	var status, bidType, carrierType string
	err := row.Scan(&b.ID, &b.LoadID, &b.CarrierID, &b.Amount, &b.CounterAmount, &b.PreviousAmount,
		&status, &bidType, &carrierType, &b.Notes, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	if err != nil {
		return b, err
	}
	b.Status = domain.BidStatus(status)
	b.BidType = domain.BidType(bidType)
	b.CarrierType = domain.CarrierType(carrierType)
	return b, nil
}

func (r Repo) InsertBid(ctx context.Context, tx *sql.Tx, b domain.Bid) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO bids(id,load_id,carrier_id,amount,counter_amount,previous_amount,status,bid_type,carrier_type,notes,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		b.ID, b.LoadID, b.CarrierID, b.Amount, b.CounterAmount, b.PreviousAmount,
		string(b.Status), string(b.BidType), nullable(string(b.CarrierType)), nullable(b.Notes),
		b.CreatedAt, b.UpdatedAt)
	return err
}

func (r Repo) GetBid(ctx context.Context, id string) (domain.Bid, error) {
	return scanBid(r.DB.QueryRowContext(ctx, `SELECT `+bidColumns+` FROM bids WHERE id=?`, id))
}

func (r Repo) GetBidTx(ctx context.Context, tx *sql.Tx, id string) (domain.Bid, error) {
	return scanBid(tx.QueryRowContext(ctx, `SELECT `+bidColumns+` FROM bids WHERE id=?`, id))
}

func (r Repo) UpdateBid(ctx context.Context, tx *sql.Tx, b domain.Bid) error {
	res, err := tx.ExecContext(ctx, `UPDATE bids SET amount=?,counter_amount=?,previous_amount=?,status=?,bid_type=?,notes=?,updated_at=? WHERE id=?`,
		b.Amount, b.CounterAmount, b.PreviousAmount, string(b.Status), string(b.BidType), nullable(b.Notes), b.UpdatedAt, b.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RejectOpenBids marks every pending or countered bid on the load as
// rejected, except the one being accepted. Returns the IDs it touched.
func (r Repo) RejectOpenBids(ctx context.Context, tx *sql.Tx, loadID, exceptBidID, updatedAt string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM bids WHERE load_id=? AND id<>? AND status IN ('pending','countered')`, loadID, exceptBidID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	_, err = tx.ExecContext(ctx, `UPDATE bids SET status='rejected', updated_at=? WHERE load_id=? AND id<>? AND status IN ('pending','countered')`,
		updatedAt, loadID, exceptBidID)
	return ids, err
}

// CountOpenBids counts pending/countered bids on a load inside the tx.
func (r Repo) CountOpenBids(ctx context.Context, tx *sql.Tx, loadID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM bids WHERE load_id=? AND status IN ('pending','countered')`, loadID).Scan(&n)
	return n, err
}

// ExpireStaleBids marks pending bids created before the cutoff as expired
// and returns them for ledger notes.
func (r Repo) ExpireStaleBids(ctx context.Context, tx *sql.Tx, loadID, cutoff, updatedAt string) ([]domain.Bid, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+bidColumns+` FROM bids WHERE load_id=? AND status='pending' AND created_at < ?`, loadID, cutoff)
	if err != nil {
		return nil, err
	}
	var stale []domain.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		stale = append(stale, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(stale) == 0 {
		return nil, nil
	}
	_, err = tx.ExecContext(ctx, `UPDATE bids SET status='expired', updated_at=? WHERE load_id=? AND status='pending' AND created_at < ?`,
		updatedAt, loadID, cutoff)
	return stale, err
}

func (r Repo) ListBids(ctx context.Context, loadID string) ([]domain.Bid, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+bidColumns+` FROM bids WHERE load_id=? ORDER BY created_at ASC, id ASC`, loadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}
