package repo

import (
	"context"
	"database/sql"

	"freightline/internal/domain"
)

const invoiceColumns = `id,load_id,idempotency_key,status,revision,previous_invoice_id,COALESCE(shipper_response,''),counter_amount,
base_freight,fuel_surcharge,tolls,gst_percent,gst_amount,discount,subtotal,total,
due_at,sent_at,viewed_at,paid_at,paid_amount,paid_reference,version,created_at,updated_at`

func scanInvoice(row rowScanner) (domain.Invoice, error) {
	var inv domain.Invoice
	var status, response string
	err := row.Scan(&inv.ID, &inv.LoadID, &inv.IdempotencyKey, &status, &inv.Revision, &inv.PreviousInvoiceID,
		&response, &inv.CounterAmount,
		&inv.Breakdown.BaseFreight, &inv.Breakdown.FuelSurcharge, &inv.Breakdown.Tolls,
		&inv.Breakdown.GSTPercent, &inv.Breakdown.GSTAmount, &inv.Breakdown.Discount,
		&inv.Subtotal, &inv.Total,
		&inv.DueAt, &inv.SentAt, &inv.ViewedAt, &inv.PaidAt, &inv.PaidAmount, &inv.PaidReference,
		&inv.Version, &inv.CreatedAt, &inv.UpdatedAt)
	if err == sql.ErrNoRows {
		return inv, ErrNotFound
	}
	if err != nil {
		return inv, err
	}
	inv.Status = domain.InvoiceStatus(status)
	inv.ShipperResponse = domain.ShipperResponse(response)
	return inv, nil
}

func (r Repo) InsertInvoice(ctx context.Context, tx *sql.Tx, inv domain.Invoice) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO invoices(id,load_id,idempotency_key,status,revision,previous_invoice_id,shipper_response,counter_amount,
base_freight,fuel_surcharge,tolls,gst_percent,gst_amount,discount,subtotal,total,
due_at,sent_at,viewed_at,paid_at,paid_amount,paid_reference,version,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		inv.ID, inv.LoadID, inv.IdempotencyKey, string(inv.Status), inv.Revision, inv.PreviousInvoiceID,
		nullable(string(inv.ShipperResponse)), inv.CounterAmount,
		inv.Breakdown.BaseFreight, inv.Breakdown.FuelSurcharge, inv.Breakdown.Tolls,
		inv.Breakdown.GSTPercent, inv.Breakdown.GSTAmount, inv.Breakdown.Discount,
		inv.Subtotal, inv.Total,
		inv.DueAt, inv.SentAt, inv.ViewedAt, inv.PaidAt, inv.PaidAmount, inv.PaidReference,
		inv.Version, inv.CreatedAt, inv.UpdatedAt)
	return err
}

func (r Repo) GetInvoice(ctx context.Context, id string) (domain.Invoice, error) {
	return scanInvoice(r.DB.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id=?`, id))
}

func (r Repo) GetInvoiceTx(ctx context.Context, tx *sql.Tx, id string) (domain.Invoice, error) {
	return scanInvoice(tx.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id=?`, id))
}

// GetInvoiceByKeyTx is the idempotency lookup for CreateInvoice, read inside
// the creating transaction.
func (r Repo) GetInvoiceByKeyTx(ctx context.Context, tx *sql.Tx, key string) (domain.Invoice, error) {
	return scanInvoice(tx.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE idempotency_key=?`, key))
}

// UpdateInvoiceCAS writes the invoice guarded by its version counter.
func (r Repo) UpdateInvoiceCAS(ctx context.Context, tx *sql.Tx, inv domain.Invoice, expectedVersion int) error {
	res, err := tx.ExecContext(ctx, `UPDATE invoices SET status=?,shipper_response=?,counter_amount=?,version=version+1,
due_at=?,sent_at=?,viewed_at=?,paid_at=?,paid_amount=?,paid_reference=?,updated_at=?
WHERE id=? AND version=?`,
		string(inv.Status), nullable(string(inv.ShipperResponse)), inv.CounterAmount,
		inv.DueAt, inv.SentAt, inv.ViewedAt, inv.PaidAt, inv.PaidAmount, inv.PaidReference,
		inv.UpdatedAt, inv.ID, expectedVersion)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStaleVersion
	}
	return nil
}

func (r Repo) ListInvoices(ctx context.Context, loadID string) ([]domain.Invoice, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE load_id=? ORDER BY revision ASC, created_at ASC`, loadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, inv)
	}
	return res, rows.Err()
}
