package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"freightline/internal/audit"
	"freightline/internal/domain"
	"freightline/internal/repo"
)

// invoiceTransitions is the invoice workflow table. Terminal statuses map
// to nothing; a paid invoice is immutable and corrections become revisions.
var invoiceTransitions = map[domain.InvoiceStatus][]domain.InvoiceStatus{
	domain.InvoiceDraft:       {domain.InvoiceSent, domain.InvoiceCancelled},
	domain.InvoiceSent:        {domain.InvoiceViewed, domain.InvoiceApproved, domain.InvoiceNegotiating, domain.InvoiceDisputed, domain.InvoiceOverdue, domain.InvoicePushFailed, domain.InvoiceCancelled},
	domain.InvoiceViewed:      {domain.InvoiceApproved, domain.InvoiceNegotiating, domain.InvoiceDisputed, domain.InvoiceCancelled},
	domain.InvoiceNegotiating: {domain.InvoiceSuperseded, domain.InvoiceCancelled},
	domain.InvoiceApproved:    {domain.InvoicePaid, domain.InvoiceOverdue, domain.InvoiceDisputed, domain.InvoiceCancelled},
	domain.InvoicePushFailed:  {domain.InvoiceSent, domain.InvoiceCancelled},
	domain.InvoiceOverdue:     {domain.InvoicePaid, domain.InvoiceDisputed, domain.InvoiceCancelled},
	domain.InvoicePaid:        {},
	domain.InvoiceDisputed:    {},
	domain.InvoiceSuperseded:  {},
	domain.InvoiceCancelled:   {},
}

func canInvoiceTransition(from, to domain.InvoiceStatus) bool {
	for _, next := range invoiceTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// invoiceTransitionTx applies one invoice workflow step with the version
// CAS and its history row in the caller's transaction.
func (e Engine) invoiceTransitionTx(ctx context.Context, tx *sql.Tx, inv domain.Invoice, target domain.InvoiceStatus, actorID, reason string, meta audit.Metadata) (domain.Invoice, error) {
	if inv.Status.Terminal() {
		return domain.Invoice{}, ErrInvoiceClosed
	}
	if !canInvoiceTransition(inv.Status, target) {
		return domain.Invoice{}, IllegalTransitionError{Entity: "invoice", From: string(inv.Status), To: string(target)}
	}
	expected := inv.Version
	from := inv.Status
	inv.Status = target
	inv.UpdatedAt = e.nowStr()
	if err := e.Repo.UpdateInvoiceCAS(ctx, tx, inv, expected); err != nil {
		if errors.Is(err, repo.ErrStaleVersion) {
			return domain.Invoice{}, ConcurrencyConflictError{Entity: "invoice", ID: inv.ID, Expected: expected, Current: inv.Version}
		}
		return domain.Invoice{}, err
	}
	inv.Version = expected + 1
	if err := e.auditor().InvoiceChange(ctx, tx, inv.ID, actorID, string(from), string(target), reason, meta); err != nil {
		return domain.Invoice{}, err
	}
	return inv, nil
}

// computeTotals fills the derived money fields: subtotal + tax − discounts.
// GST and the fuel surcharge default to the marketplace rates when the
// breakdown leaves them unset.
func (e Engine) computeTotals(b domain.PriceBreakdown) domain.PriceBreakdown {
	if b.GSTPercent == 0 && e.Config != nil {
		b.GSTPercent = e.Config.Pricing.GSTPercent
	}
	if b.FuelSurcharge == 0 && e.Config != nil && e.Config.Pricing.FuelSurchargePercent > 0 {
		b.FuelSurcharge = int64(math.Round(float64(b.BaseFreight) * e.Config.Pricing.FuelSurchargePercent / 100))
	}
	subtotal := b.BaseFreight + b.FuelSurcharge + b.Tolls
	b.GSTAmount = int64(math.Round(float64(subtotal) * b.GSTPercent / 100))
	return b
}

func breakdownTotals(b domain.PriceBreakdown) (subtotal, total int64) {
	subtotal = b.BaseFreight + b.FuelSurcharge + b.Tolls
	total = subtotal + b.GSTAmount - b.Discount
	return subtotal, total
}

// InvoiceCreateOptions are parameters for creating an invoice.
type InvoiceCreateOptions struct {
	LoadID         string
	Breakdown      domain.PriceBreakdown
	IdempotencyKey string
	ActorID        string
}

// CreateInvoice issues the draft invoice for an awarded, price-locked load
// and moves the load to invoice_created. A repeated call with the same
// idempotency key returns the first invoice unchanged with created false.
func (e Engine) CreateInvoice(ctx context.Context, opts InvoiceCreateOptions) (domain.Invoice, bool, error) {
	if e.Config == nil {
		return domain.Invoice{}, false, errors.New("config not loaded")
	}
	if opts.IdempotencyKey == "" {
		return domain.Invoice{}, false, errors.New("idempotency key is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Invoice{}, false, err
	}
	defer tx.Rollback()

	if existing, err := e.Repo.GetInvoiceByKeyTx(ctx, tx, opts.IdempotencyKey); err == nil {
		if existing.LoadID != opts.LoadID {
			return domain.Invoice{}, false, fmt.Errorf("invalid idempotency key: already used for load %s", existing.LoadID)
		}
		return existing, false, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Invoice{}, false, err
	}

	l, err := e.Repo.GetLoadTx(ctx, tx, opts.LoadID)
	if err != nil {
		return domain.Invoice{}, false, err
	}
	if l.Status.Terminal() {
		return domain.Invoice{}, false, ErrLoadClosed
	}
	if l.Status != domain.LoadAwarded {
		return domain.Invoice{}, false, ErrNotAwarded
	}
	if !l.PriceLocked {
		return domain.Invoice{}, false, ErrPriceNotLocked
	}

	breakdown := opts.Breakdown
	if breakdown.BaseFreight == 0 && l.AdminFinalPrice != nil {
		breakdown.BaseFreight = *l.AdminFinalPrice
	}
	if breakdown.BaseFreight <= 0 {
		return domain.Invoice{}, false, errors.New("base freight must be positive")
	}
	breakdown = e.computeTotals(breakdown)
	subtotal, total := breakdownTotals(breakdown)
	if total <= 0 {
		return domain.Invoice{}, false, errors.New("invoice total must be positive")
	}

	now := e.nowStr()
	var dueAt *string
	if e.Config.Invoicing.DueDays > 0 {
		due := e.now().UTC().AddDate(0, 0, e.Config.Invoicing.DueDays).Format(time.RFC3339)
		dueAt = &due
	}
	inv := domain.Invoice{
		ID:             uuid.New().String(),
		LoadID:         l.ID,
		IdempotencyKey: opts.IdempotencyKey,
		Status:         domain.InvoiceDraft,
		Revision:       1,
		Breakdown:      breakdown,
		Subtotal:       subtotal,
		Total:          total,
		DueAt:          dueAt,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.Repo.InsertInvoice(ctx, tx, inv); err != nil {
		return domain.Invoice{}, false, fmt.Errorf("insert invoice: %w", err)
	}
	if err := e.auditor().InvoiceChange(ctx, tx, inv.ID, opts.ActorID, "", string(domain.InvoiceDraft), "invoice created", audit.Metadata{"total": total}); err != nil {
		return domain.Invoice{}, false, err
	}
	l.ActiveInvoiceID = &inv.ID
	if _, err := e.transitionTx(ctx, tx, l, domain.LoadInvoiceCreated, opts.ActorID, "invoice created", audit.Metadata{"invoice_id": inv.ID}); err != nil {
		return domain.Invoice{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Invoice{}, false, err
	}
	return inv, true, nil
}

// SendInvoice moves a draft (or a failed push) to sent and advances the
// load to invoice_sent on the first send.
func (e Engine) SendInvoice(ctx context.Context, invoiceID, actorID string) (domain.Invoice, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Invoice{}, err
	}
	defer tx.Rollback()

	inv, err := e.Repo.GetInvoiceTx(ctx, tx, invoiceID)
	if err != nil {
		return domain.Invoice{}, err
	}
	now := e.nowStr()
	inv.SentAt = &now
	inv, err = e.invoiceTransitionTx(ctx, tx, inv, domain.InvoiceSent, actorID, "invoice sent", nil)
	if err != nil {
		return domain.Invoice{}, err
	}
	l, err := e.Repo.GetLoadTx(ctx, tx, inv.LoadID)
	if err != nil {
		return domain.Invoice{}, err
	}
	if l.Status == domain.LoadInvoiceCreated {
		if _, err := e.transitionTx(ctx, tx, l, domain.LoadInvoiceSent, actorID, "invoice sent", audit.Metadata{"invoice_id": inv.ID}); err != nil {
			return domain.Invoice{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Invoice{}, err
	}
	return inv, nil
}

// MarkInvoiceViewed records the shipper opening the invoice.
func (e Engine) MarkInvoiceViewed(ctx context.Context, invoiceID, actorID string) (domain.Invoice, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Invoice{}, err
	}
	defer tx.Rollback()

	inv, err := e.Repo.GetInvoiceTx(ctx, tx, invoiceID)
	if err != nil {
		return domain.Invoice{}, err
	}
	now := e.nowStr()
	inv.ViewedAt = &now
	inv, err = e.invoiceTransitionTx(ctx, tx, inv, domain.InvoiceViewed, actorID, "invoice viewed", nil)
	if err != nil {
		return domain.Invoice{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Invoice{}, err
	}
	return inv, nil
}

// RespondToInvoice applies the shipper's reply. Approve acknowledges the
// load; negotiate parks the invoice until the admin revises; query leaves
// the status alone; reject disputes the invoice.
func (e Engine) RespondToInvoice(ctx context.Context, invoiceID, shipperID string, response domain.ShipperResponse, counterAmount *int64, message string) (domain.Invoice, error) {
	if !response.Valid() {
		return domain.Invoice{}, fmt.Errorf("unknown response type %q", response)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Invoice{}, err
	}
	defer tx.Rollback()

	inv, err := e.Repo.GetInvoiceTx(ctx, tx, invoiceID)
	if err != nil {
		return domain.Invoice{}, err
	}
	if inv.Status.Terminal() {
		return domain.Invoice{}, ErrInvoiceClosed
	}
	l, err := e.Repo.GetLoadTx(ctx, tx, inv.LoadID)
	if err != nil {
		return domain.Invoice{}, err
	}
	if l.ShipperID != shipperID {
		return domain.Invoice{}, ForbiddenError{Role: "shipper", Op: "respond to another shipper's invoice"}
	}

	inv.ShipperResponse = response
	switch response {
	case domain.RespondApprove:
		inv, err = e.invoiceTransitionTx(ctx, tx, inv, domain.InvoiceApproved, shipperID, "shipper approved", nil)
		if err != nil {
			return domain.Invoice{}, err
		}
		if _, err := e.transitionTx(ctx, tx, l, domain.LoadInvoiceAcknowledged, shipperID, "invoice approved", audit.Metadata{"invoice_id": inv.ID}); err != nil {
			return domain.Invoice{}, err
		}
	case domain.RespondNegotiate:
		if counterAmount == nil || *counterAmount <= 0 {
			return domain.Invoice{}, errors.New("negotiate requires a positive counter amount")
		}
		inv.CounterAmount = counterAmount
		inv, err = e.invoiceTransitionTx(ctx, tx, inv, domain.InvoiceNegotiating, shipperID, "shipper negotiating", audit.Metadata{"counter_amount": *counterAmount, "message": message})
		if err != nil {
			return domain.Invoice{}, err
		}
	case domain.RespondReject:
		inv, err = e.invoiceTransitionTx(ctx, tx, inv, domain.InvoiceDisputed, shipperID, "shipper rejected", audit.Metadata{"message": message})
		if err != nil {
			return domain.Invoice{}, err
		}
	case domain.RespondQuery:
		// Status unchanged; the question is recorded in the history. A
		// query still needs an invoice the shipper has been shown.
		switch inv.Status {
		case domain.InvoiceSent, domain.InvoiceViewed, domain.InvoiceNegotiating:
		default:
			return domain.Invoice{}, IllegalTransitionError{Entity: "invoice", From: string(inv.Status), To: string(inv.Status)}
		}
		expected := inv.Version
		inv.UpdatedAt = e.nowStr()
		if err := e.Repo.UpdateInvoiceCAS(ctx, tx, inv, expected); err != nil {
			if errors.Is(err, repo.ErrStaleVersion) {
				return domain.Invoice{}, ConcurrencyConflictError{Entity: "invoice", ID: inv.ID, Expected: expected, Current: inv.Version}
			}
			return domain.Invoice{}, err
		}
		inv.Version = expected + 1
		if err := e.auditor().InvoiceChange(ctx, tx, inv.ID, shipperID, string(inv.Status), string(inv.Status), "shipper query", audit.Metadata{"message": message}); err != nil {
			return domain.Invoice{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Invoice{}, err
	}
	return inv, nil
}

// ReviseInvoice answers a negotiating shipper with a corrected breakdown.
// The old invoice is marked superseded, never mutated in place; the new
// draft carries revision+1 and points back at it.
func (e Engine) ReviseInvoice(ctx context.Context, invoiceID string, breakdown domain.PriceBreakdown, idempotencyKey, actorID string) (domain.Invoice, error) {
	if idempotencyKey == "" {
		return domain.Invoice{}, errors.New("idempotency key is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Invoice{}, err
	}
	defer tx.Rollback()

	if existing, err := e.Repo.GetInvoiceByKeyTx(ctx, tx, idempotencyKey); err == nil {
		prior, gerr := e.Repo.GetInvoiceTx(ctx, tx, invoiceID)
		if gerr != nil {
			return domain.Invoice{}, gerr
		}
		if existing.LoadID != prior.LoadID {
			return domain.Invoice{}, fmt.Errorf("invalid idempotency key: already used for load %s", existing.LoadID)
		}
		return existing, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Invoice{}, err
	}

	old, err := e.Repo.GetInvoiceTx(ctx, tx, invoiceID)
	if err != nil {
		return domain.Invoice{}, err
	}
	if old.Status != domain.InvoiceNegotiating {
		if old.Status.Terminal() {
			return domain.Invoice{}, ErrInvoiceClosed
		}
		return domain.Invoice{}, IllegalTransitionError{Entity: "invoice", From: string(old.Status), To: string(domain.InvoiceSuperseded)}
	}
	old, err = e.invoiceTransitionTx(ctx, tx, old, domain.InvoiceSuperseded, actorID, "superseded by revision", nil)
	if err != nil {
		return domain.Invoice{}, err
	}

	if breakdown.BaseFreight <= 0 {
		return domain.Invoice{}, errors.New("base freight must be positive")
	}
	breakdown = e.computeTotals(breakdown)
	subtotal, total := breakdownTotals(breakdown)
	now := e.nowStr()
	next := domain.Invoice{
		ID:                uuid.New().String(),
		LoadID:            old.LoadID,
		IdempotencyKey:    idempotencyKey,
		Status:            domain.InvoiceDraft,
		Revision:          old.Revision + 1,
		PreviousInvoiceID: &old.ID,
		Breakdown:         breakdown,
		Subtotal:          subtotal,
		Total:             total,
		DueAt:             old.DueAt,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := e.Repo.InsertInvoice(ctx, tx, next); err != nil {
		return domain.Invoice{}, fmt.Errorf("insert revision: %w", err)
	}
	if err := e.auditor().InvoiceChange(ctx, tx, next.ID, actorID, "", string(domain.InvoiceDraft), "revision created", audit.Metadata{
		"previous_invoice_id": old.ID,
		"revision":            next.Revision,
	}); err != nil {
		return domain.Invoice{}, err
	}

	l, err := e.Repo.GetLoadTx(ctx, tx, old.LoadID)
	if err != nil {
		return domain.Invoice{}, err
	}
	expected := l.Version
	l.ActiveInvoiceID = &next.ID
	l.UpdatedAt = now
	if err := e.updateLoad(ctx, tx, l, expected); err != nil {
		return domain.Invoice{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Invoice{}, err
	}
	return next, nil
}

// ConfirmPayment settles an approved (or overdue) invoice. Partial
// payments are rejected outright; there is no partial-paid state.
func (e Engine) ConfirmPayment(ctx context.Context, invoiceID string, amount int64, reference, actorID string) (domain.Invoice, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Invoice{}, err
	}
	defer tx.Rollback()

	inv, err := e.Repo.GetInvoiceTx(ctx, tx, invoiceID)
	if err != nil {
		return domain.Invoice{}, err
	}
	if inv.Status.Terminal() {
		return domain.Invoice{}, ErrInvoiceClosed
	}
	if inv.Status != domain.InvoiceApproved && inv.Status != domain.InvoiceOverdue {
		return domain.Invoice{}, IllegalTransitionError{Entity: "invoice", From: string(inv.Status), To: string(domain.InvoicePaid)}
	}
	if amount < inv.Total {
		return domain.Invoice{}, InsufficientPaymentError{InvoiceID: inv.ID, Want: inv.Total, Got: amount}
	}
	now := e.nowStr()
	inv.PaidAt = &now
	inv.PaidAmount = &amount
	inv.PaidReference = &reference
	inv, err = e.invoiceTransitionTx(ctx, tx, inv, domain.InvoicePaid, actorID, "payment confirmed", audit.Metadata{"amount": amount, "reference": reference})
	if err != nil {
		return domain.Invoice{}, err
	}
	l, err := e.Repo.GetLoadTx(ctx, tx, inv.LoadID)
	if err != nil {
		return domain.Invoice{}, err
	}
	if _, err := e.transitionTx(ctx, tx, l, domain.LoadInvoicePaid, actorID, "payment confirmed", audit.Metadata{"invoice_id": inv.ID, "amount": amount}); err != nil {
		return domain.Invoice{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Invoice{}, err
	}
	return inv, nil
}

// MarkInvoiceOverdue flags an unpaid invoice past its due date.
func (e Engine) MarkInvoiceOverdue(ctx context.Context, invoiceID, actorID string) (domain.Invoice, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Invoice{}, err
	}
	defer tx.Rollback()

	inv, err := e.Repo.GetInvoiceTx(ctx, tx, invoiceID)
	if err != nil {
		return domain.Invoice{}, err
	}
	if inv.DueAt != nil {
		due, perr := time.Parse(time.RFC3339, *inv.DueAt)
		if perr == nil && e.now().UTC().Before(due) {
			return domain.Invoice{}, fmt.Errorf("invoice %s is not due until %s", inv.ID, *inv.DueAt)
		}
	}
	inv, err = e.invoiceTransitionTx(ctx, tx, inv, domain.InvoiceOverdue, actorID, "past due", nil)
	if err != nil {
		return domain.Invoice{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Invoice{}, err
	}
	return inv, nil
}

// MarkPushFailed records a delivery failure reported by the transport
// layer; the invoice can be re-sent afterwards.
func (e Engine) MarkPushFailed(ctx context.Context, invoiceID, actorID, reason string) (domain.Invoice, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Invoice{}, err
	}
	defer tx.Rollback()

	inv, err := e.Repo.GetInvoiceTx(ctx, tx, invoiceID)
	if err != nil {
		return domain.Invoice{}, err
	}
	inv, err = e.invoiceTransitionTx(ctx, tx, inv, domain.InvoicePushFailed, actorID, reason, nil)
	if err != nil {
		return domain.Invoice{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Invoice{}, err
	}
	return inv, nil
}

// CancelInvoice voids a non-terminal invoice and detaches it from the load.
func (e Engine) CancelInvoice(ctx context.Context, invoiceID, actorID, reason string) (domain.Invoice, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Invoice{}, err
	}
	defer tx.Rollback()

	inv, err := e.Repo.GetInvoiceTx(ctx, tx, invoiceID)
	if err != nil {
		return domain.Invoice{}, err
	}
	inv, err = e.invoiceTransitionTx(ctx, tx, inv, domain.InvoiceCancelled, actorID, reason, nil)
	if err != nil {
		return domain.Invoice{}, err
	}
	l, err := e.Repo.GetLoadTx(ctx, tx, inv.LoadID)
	if err != nil {
		return domain.Invoice{}, err
	}
	if l.ActiveInvoiceID != nil && *l.ActiveInvoiceID == inv.ID {
		expected := l.Version
		l.ActiveInvoiceID = nil
		l.UpdatedAt = e.nowStr()
		if err := e.updateLoad(ctx, tx, l, expected); err != nil {
			return domain.Invoice{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Invoice{}, err
	}
	return inv, nil
}
