package engine

import (
	"context"
	"database/sql"

	"freightline/internal/audit"
	"freightline/internal/domain"
)

// loadTransitions is the single source of truth for the load lifecycle.
// Guards on individual targets live in checkTransitionGuards; nothing else
// in the engine decides reachability.
var loadTransitions = map[domain.LoadStatus][]domain.LoadStatus{
	domain.LoadDraft:               {domain.LoadPending, domain.LoadCancelled},
	domain.LoadPending:             {domain.LoadPriced, domain.LoadCancelled},
	domain.LoadPriced:              {domain.LoadPostedToCarriers, domain.LoadCancelled},
	domain.LoadPostedToCarriers:    {domain.LoadOpenForBid, domain.LoadCancelled},
	domain.LoadOpenForBid:          {domain.LoadCounterReceived, domain.LoadAwarded, domain.LoadPostedToCarriers, domain.LoadCancelled},
	domain.LoadCounterReceived:     {domain.LoadOpenForBid, domain.LoadAwarded, domain.LoadCancelled},
	domain.LoadAwarded:             {domain.LoadInvoiceCreated, domain.LoadOpenForBid, domain.LoadCancelled},
	domain.LoadInvoiceCreated:      {domain.LoadInvoiceSent, domain.LoadCancelled},
	domain.LoadInvoiceSent:         {domain.LoadInvoiceAcknowledged, domain.LoadCancelled},
	domain.LoadInvoiceAcknowledged: {domain.LoadInvoicePaid, domain.LoadCancelled},
	domain.LoadInvoicePaid:         {domain.LoadInTransit, domain.LoadCancelled},
	domain.LoadInTransit:           {domain.LoadDelivered, domain.LoadCancelled},
	domain.LoadDelivered:           {domain.LoadClosed, domain.LoadCancelled},
	domain.LoadClosed:              {},
	domain.LoadCancelled:           {},
}

// CanTransition reports table reachability without evaluating guards.
func CanTransition(from, to domain.LoadStatus) bool {
	for _, next := range loadTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition applies one lifecycle step with an optimistic version check.
// Pass expectedVersion < 0 to skip the caller-side check (the CAS write
// still protects against lost updates).
func (e Engine) Transition(ctx context.Context, loadID string, target domain.LoadStatus, actorID, reason string, expectedVersion int) (domain.Load, error) {
	if !target.Valid() {
		return domain.Load{}, IllegalTransitionError{Entity: "load", From: "", To: string(target)}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Load{}, err
	}
	defer tx.Rollback()

	l, err := e.loadForUpdate(ctx, tx, loadID, expectedVersion)
	if err != nil {
		return domain.Load{}, err
	}
	l, err = e.transitionTx(ctx, tx, l, target, actorID, reason, nil)
	if err != nil {
		return domain.Load{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Load{}, err
	}
	return l, nil
}

// transitionTx validates and applies a transition inside the caller's
// transaction: table check, guards, CAS write, previous-status copy and the
// audit row, all or nothing. Returns the updated load with its new version.
func (e Engine) transitionTx(ctx context.Context, tx *sql.Tx, l domain.Load, target domain.LoadStatus, actorID, reason string, meta audit.Metadata) (domain.Load, error) {
	if l.Status.Terminal() {
		return domain.Load{}, ErrLoadClosed
	}
	if !CanTransition(l.Status, target) {
		return domain.Load{}, IllegalTransitionError{Entity: "load", From: string(l.Status), To: string(target)}
	}
	if err := e.checkTransitionGuards(ctx, tx, l, target); err != nil {
		return domain.Load{}, err
	}
	expected := l.Version
	from := l.Status
	if from == domain.LoadAwarded && target == domain.LoadOpenForBid {
		// Reopening voids the award before the status flips.
		if err := e.voidAwardTx(ctx, tx, &l, actorID); err != nil {
			return domain.Load{}, err
		}
	}
	l.PreviousStatus = from
	l.Status = target
	l.UpdatedAt = e.nowStr()
	if err := e.updateLoad(ctx, tx, l, expected); err != nil {
		return domain.Load{}, err
	}
	l.Version = expected + 1
	if err := e.auditor().LoadChange(ctx, tx, l.ID, actorID, string(from), string(target), reason, meta); err != nil {
		return domain.Load{}, err
	}
	return l, nil
}

// checkTransitionGuards applies the state-specific side-effect guards.
func (e Engine) checkTransitionGuards(ctx context.Context, tx *sql.Tx, l domain.Load, target domain.LoadStatus) error {
	switch target {
	case domain.LoadAwarded:
		// Entering awarded requires an accepted bid on record.
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM bids WHERE load_id=? AND status='accepted'`, l.ID).Scan(&n); err != nil {
			return err
		}
		if n == 0 {
			return ErrNotAwarded
		}
	case domain.LoadInvoiceCreated:
		if !l.PriceLocked {
			return ErrPriceNotLocked
		}
	case domain.LoadInTransit:
		// Payment cannot be skipped.
		if l.Status != domain.LoadInvoicePaid {
			return IllegalTransitionError{Entity: "load", From: string(l.Status), To: string(target)}
		}
	case domain.LoadOpenForBid:
		// Reopening bidding after an award is permitted only before an
		// invoice exists, and only when the marketplace allows it.
		if l.Status == domain.LoadAwarded {
			if l.ActiveInvoiceID != nil {
				return IllegalTransitionError{Entity: "load", From: string(l.Status), To: string(target)}
			}
			if e.Config != nil && !e.Config.Bidding.ReopenAfterAward {
				return IllegalTransitionError{Entity: "load", From: string(l.Status), To: string(target)}
			}
		}
	case domain.LoadPostedToCarriers:
		// Re-solicitation only once no bid is still open.
		if l.Status == domain.LoadOpenForBid {
			n, err := e.Repo.CountOpenBids(ctx, tx, l.ID)
			if err != nil {
				return err
			}
			if n > 0 {
				return ErrBidNotOpen
			}
		}
	case domain.LoadCancelled:
		if l.Status == domain.LoadInvoicePaid && e.Config != nil && !e.Config.Invoicing.AllowCancelPaid {
			return IllegalTransitionError{Entity: "load", From: string(l.Status), To: string(target)}
		}
	}
	return nil
}
