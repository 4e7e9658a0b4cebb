package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"freightline/internal/audit"
	"freightline/internal/domain"
	"freightline/internal/repo"
)

// PlaceBidOptions are parameters for placing a bid. When the actor is an
// admin the bid is recorded as a simulated (admin-posted) offer on behalf
// of CarrierID.
type PlaceBidOptions struct {
	LoadID    string
	CarrierID string
	ActorID   string
	Amount    int64
	Notes     string
}

// PlaceBid records a carrier offer against a load that is open for
// bidding. The first bid on a freshly posted load also moves the load to
// open_for_bid within the same transaction.
func (e Engine) PlaceBid(ctx context.Context, opts PlaceBidOptions) (domain.Bid, domain.Load, error) {
	if e.Config == nil {
		return domain.Bid{}, domain.Load{}, errors.New("config not loaded")
	}
	if opts.Amount <= 0 {
		return domain.Bid{}, domain.Load{}, errors.New("amount must be positive")
	}
	carrier, err := e.Repo.GetParty(ctx, opts.CarrierID)
	if err != nil {
		return domain.Bid{}, domain.Load{}, fmt.Errorf("carrier: %w", err)
	}
	if carrier.Role != domain.RoleCarrier {
		return domain.Bid{}, domain.Load{}, ForbiddenError{Role: string(carrier.Role), Op: "place bid"}
	}
	if !carrier.Verified {
		return domain.Bid{}, domain.Load{}, ErrNotVerified
	}
	actor, err := e.Repo.GetParty(ctx, opts.ActorID)
	if err != nil {
		return domain.Bid{}, domain.Load{}, fmt.Errorf("actor: %w", err)
	}
	simulated := actor.Role == domain.RoleAdmin
	if simulated && !e.Config.Bidding.AllowSimulated {
		return domain.Bid{}, domain.Load{}, ForbiddenError{Role: string(actor.Role), Op: "place simulated bid"}
	}
	if !simulated && opts.ActorID != opts.CarrierID {
		return domain.Bid{}, domain.Load{}, ForbiddenError{Role: string(actor.Role), Op: "bid for another carrier"}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bid{}, domain.Load{}, err
	}
	defer tx.Rollback()

	l, err := e.Repo.GetLoadTx(ctx, tx, opts.LoadID)
	if err != nil {
		return domain.Bid{}, domain.Load{}, err
	}
	if l.Status.Terminal() {
		return domain.Bid{}, domain.Load{}, ErrLoadClosed
	}
	switch l.Status {
	case domain.LoadPostedToCarriers, domain.LoadOpenForBid, domain.LoadCounterReceived:
	default:
		return domain.Bid{}, domain.Load{}, IllegalTransitionError{Entity: "load", From: string(l.Status), To: string(domain.LoadOpenForBid)}
	}
	if l.PostingMode == domain.PostInvited && !simulated && !contains(l.InvitedCarriers, opts.CarrierID) {
		return domain.Bid{}, domain.Load{}, ErrNotInvited
	}

	now := e.nowStr()
	bidType := domain.BidTypeCarrier
	msgType := domain.MsgCarrierBid
	senderRole := domain.SenderCarrier
	if simulated {
		bidType = domain.BidTypeAdminPosted
		msgType = domain.MsgSimulatedBid
		senderRole = domain.SenderAdmin
	}
	b := domain.Bid{
		ID:          uuid.New().String(),
		LoadID:      l.ID,
		CarrierID:   opts.CarrierID,
		Amount:      opts.Amount,
		Status:      domain.BidPending,
		BidType:     bidType,
		CarrierType: carrier.CarrierType,
		Notes:       opts.Notes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Repo.InsertBid(ctx, tx, b); err != nil {
		return domain.Bid{}, domain.Load{}, fmt.Errorf("insert bid: %w", err)
	}
	if _, err := e.Repo.AppendMessage(ctx, tx, domain.NegotiationMessage{
		ID:         e.newMessageID(),
		LoadID:     l.ID,
		BidID:      &b.ID,
		SenderRole: senderRole,
		SenderID:   opts.ActorID,
		Type:       msgType,
		Amount:     &opts.Amount,
		Body:       opts.Notes,
		CreatedAt:  now,
	}); err != nil {
		return domain.Bid{}, domain.Load{}, err
	}

	t, err := e.threadTx(ctx, tx, l.ID)
	if err != nil {
		return domain.Bid{}, domain.Load{}, err
	}
	t.TotalBids++
	if simulated {
		t.SimulatedBids++
	} else {
		t.RealBids++
	}
	t.UpdatedAt = now
	if err := e.Repo.UpsertThread(ctx, tx, t); err != nil {
		return domain.Bid{}, domain.Load{}, err
	}

	if l.Status == domain.LoadPostedToCarriers {
		l, err = e.transitionTx(ctx, tx, l, domain.LoadOpenForBid, opts.ActorID, "first bid received", audit.Metadata{"bid_id": b.ID})
		if err != nil {
			return domain.Bid{}, domain.Load{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Bid{}, domain.Load{}, err
	}
	return b, l, nil
}

// CounterOffer proposes a revised price on an open bid. Either side may
// counter; an admin counter moves the load to counter_received, a carrier
// counter hands it back to open_for_bid.
func (e Engine) CounterOffer(ctx context.Context, bidID, actorID string, amount int64, body string) (domain.Bid, domain.Load, error) {
	if amount <= 0 {
		return domain.Bid{}, domain.Load{}, errors.New("amount must be positive")
	}
	actor, err := e.Repo.GetParty(ctx, actorID)
	if err != nil {
		return domain.Bid{}, domain.Load{}, fmt.Errorf("actor: %w", err)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bid{}, domain.Load{}, err
	}
	defer tx.Rollback()

	b, err := e.Repo.GetBidTx(ctx, tx, bidID)
	if err != nil {
		return domain.Bid{}, domain.Load{}, fmt.Errorf("bid: %w", err)
	}
	if b.Status != domain.BidPending && b.Status != domain.BidCountered {
		return domain.Bid{}, domain.Load{}, ErrBidNotOpen
	}
	l, err := e.Repo.GetLoadTx(ctx, tx, b.LoadID)
	if err != nil {
		return domain.Bid{}, domain.Load{}, err
	}
	if l.Status.Terminal() {
		return domain.Bid{}, domain.Load{}, ErrLoadClosed
	}
	if l.Status != domain.LoadOpenForBid && l.Status != domain.LoadCounterReceived {
		return domain.Bid{}, domain.Load{}, IllegalTransitionError{Entity: "load", From: string(l.Status), To: string(domain.LoadCounterReceived)}
	}

	now := e.nowStr()
	wasCountered := b.Status == domain.BidCountered
	prev := b.EffectiveAmount()
	b.PreviousAmount = &prev
	b.CounterAmount = &amount
	b.Status = domain.BidCountered
	b.UpdatedAt = now

	senderRole := domain.SenderCarrier
	msgType := domain.MsgCounterOffer
	if actor.Role == domain.RoleAdmin {
		senderRole = domain.SenderAdmin
		if b.BidType == domain.BidTypeAdminPosted {
			msgType = domain.MsgSimulatedCounter
		} else {
			b.BidType = domain.BidTypeAdminCounter
		}
	} else if actor.ID != b.CarrierID {
		return domain.Bid{}, domain.Load{}, ForbiddenError{Role: string(actor.Role), Op: "counter another carrier's bid"}
	}
	if err := e.Repo.UpdateBid(ctx, tx, b); err != nil {
		return domain.Bid{}, domain.Load{}, err
	}
	if _, err := e.Repo.AppendMessage(ctx, tx, domain.NegotiationMessage{
		ID:             e.newMessageID(),
		LoadID:         l.ID,
		BidID:          &b.ID,
		SenderRole:     senderRole,
		SenderID:       actorID,
		Type:           msgType,
		Amount:         &amount,
		PreviousAmount: &prev,
		Body:           body,
		CreatedAt:      now,
	}); err != nil {
		return domain.Bid{}, domain.Load{}, err
	}

	if !wasCountered {
		t, err := e.threadTx(ctx, tx, l.ID)
		if err != nil {
			return domain.Bid{}, domain.Load{}, err
		}
		t.PendingCounters++
		t.UpdatedAt = now
		if err := e.Repo.UpsertThread(ctx, tx, t); err != nil {
			return domain.Bid{}, domain.Load{}, err
		}
	}

	switch {
	case actor.Role == domain.RoleAdmin && l.Status == domain.LoadOpenForBid:
		l, err = e.transitionTx(ctx, tx, l, domain.LoadCounterReceived, actorID, "admin counter-offer", audit.Metadata{"bid_id": b.ID, "amount": amount})
	case actor.Role == domain.RoleCarrier && l.Status == domain.LoadCounterReceived:
		l, err = e.transitionTx(ctx, tx, l, domain.LoadOpenForBid, actorID, "carrier counter-offer", audit.Metadata{"bid_id": b.ID, "amount": amount})
	}
	if err != nil {
		return domain.Bid{}, domain.Load{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Bid{}, domain.Load{}, err
	}
	return b, l, nil
}

// AcceptBid atomically accepts one bid, rejects every sibling still open,
// updates the thread summary and moves the load to awarded. A concurrent
// second accept observes the awarded load and fails with ErrAlreadyAwarded.
func (e Engine) AcceptBid(ctx context.Context, bidID, actorID string) (domain.Bid, domain.Load, error) {
	actor, err := e.Repo.GetParty(ctx, actorID)
	if err != nil {
		return domain.Bid{}, domain.Load{}, fmt.Errorf("actor: %w", err)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bid{}, domain.Load{}, err
	}
	defer tx.Rollback()

	b, err := e.Repo.GetBidTx(ctx, tx, bidID)
	if err != nil {
		return domain.Bid{}, domain.Load{}, fmt.Errorf("bid: %w", err)
	}
	l, err := e.Repo.GetLoadTx(ctx, tx, b.LoadID)
	if err != nil {
		return domain.Bid{}, domain.Load{}, err
	}
	if l.Status.Terminal() {
		return domain.Bid{}, domain.Load{}, ErrLoadClosed
	}
	// The award check and the bid update share this transaction; a racing
	// accept cannot interleave between them.
	if l.Status == domain.LoadAwarded || l.AwardedBidID != nil {
		return domain.Bid{}, domain.Load{}, ErrAlreadyAwarded
	}
	if b.Status != domain.BidPending && b.Status != domain.BidCountered {
		return domain.Bid{}, domain.Load{}, ErrBidNotOpen
	}
	// Admins settle on behalf of the marketplace; a carrier may only
	// accept a counter on its own bid.
	switch actor.Role {
	case domain.RoleAdmin:
	case domain.RoleCarrier:
		if actor.ID != b.CarrierID {
			return domain.Bid{}, domain.Load{}, ForbiddenError{Role: string(actor.Role), Op: "accept another carrier's bid"}
		}
	default:
		return domain.Bid{}, domain.Load{}, ForbiddenError{Role: string(actor.Role), Op: "accept bid"}
	}

	now := e.nowStr()
	wasCountered := b.Status == domain.BidCountered
	b.Status = domain.BidAccepted
	b.UpdatedAt = now
	if err := e.Repo.UpdateBid(ctx, tx, b); err != nil {
		return domain.Bid{}, domain.Load{}, err
	}
	rejected, err := e.Repo.RejectOpenBids(ctx, tx, l.ID, b.ID, now)
	if err != nil {
		return domain.Bid{}, domain.Load{}, err
	}

	t, err := e.threadTx(ctx, tx, l.ID)
	if err != nil {
		return domain.Bid{}, domain.Load{}, err
	}
	if wasCountered && t.PendingCounters > 0 {
		t.PendingCounters--
	}
	for _, id := range rejected {
		sibling, err := e.Repo.GetBidTx(ctx, tx, id)
		if err != nil {
			return domain.Bid{}, domain.Load{}, err
		}
		// RejectOpenBids already flipped the row; the pre-update status is
		// in the ledger, so count counters from the sibling's amounts.
		if sibling.CounterAmount != nil && t.PendingCounters > 0 {
			t.PendingCounters--
		}
		if _, err := e.Repo.AppendMessage(ctx, tx, domain.NegotiationMessage{
			ID:         e.newMessageID(),
			LoadID:     l.ID,
			BidID:      &sibling.ID,
			SenderRole: domain.SenderSystem,
			SenderID:   actorID,
			Type:       domain.MsgBidRejected,
			Body:       "superseded by accepted bid",
			CreatedAt:  now,
		}); err != nil {
			return domain.Bid{}, domain.Load{}, err
		}
	}

	amount := b.EffectiveAmount()
	senderRole := domain.SenderAdmin
	if actor.Role == domain.RoleCarrier {
		senderRole = domain.SenderCarrier
	}
	if _, err := e.Repo.AppendMessage(ctx, tx, domain.NegotiationMessage{
		ID:         e.newMessageID(),
		LoadID:     l.ID,
		BidID:      &b.ID,
		SenderRole: senderRole,
		SenderID:   actorID,
		Type:       domain.MsgBidAccepted,
		Amount:     &amount,
		CreatedAt:  now,
	}); err != nil {
		return domain.Bid{}, domain.Load{}, err
	}

	t.AcceptedBidID = &b.ID
	t.AcceptedCarrierID = &b.CarrierID
	t.AcceptedAmount = &amount
	t.UpdatedAt = now
	if err := e.Repo.UpsertThread(ctx, tx, t); err != nil {
		return domain.Bid{}, domain.Load{}, err
	}

	l.AwardedBidID = &b.ID
	l.CarrierID = &b.CarrierID
	l, err = e.transitionTx(ctx, tx, l, domain.LoadAwarded, actorID, "bid accepted", audit.Metadata{"bid_id": b.ID, "amount": amount})
	if err != nil {
		return domain.Bid{}, domain.Load{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Bid{}, domain.Load{}, err
	}
	return b, l, nil
}

// RejectBid closes one bid without touching the load state. Returning the
// load to posted_to_carriers for re-solicitation is a separate, admin
// triggered transition.
func (e Engine) RejectBid(ctx context.Context, bidID, actorID, reason string) (domain.Bid, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bid{}, err
	}
	defer tx.Rollback()

	b, err := e.Repo.GetBidTx(ctx, tx, bidID)
	if err != nil {
		return domain.Bid{}, fmt.Errorf("bid: %w", err)
	}
	l, err := e.Repo.GetLoadTx(ctx, tx, b.LoadID)
	if err != nil {
		return domain.Bid{}, err
	}
	if l.Status.Terminal() {
		return domain.Bid{}, ErrLoadClosed
	}
	if b.Status != domain.BidPending && b.Status != domain.BidCountered {
		return domain.Bid{}, ErrBidNotOpen
	}
	now := e.nowStr()
	wasCountered := b.Status == domain.BidCountered
	b.Status = domain.BidRejected
	b.UpdatedAt = now
	if err := e.Repo.UpdateBid(ctx, tx, b); err != nil {
		return domain.Bid{}, err
	}
	if _, err := e.Repo.AppendMessage(ctx, tx, domain.NegotiationMessage{
		ID:         e.newMessageID(),
		LoadID:     b.LoadID,
		BidID:      &b.ID,
		SenderRole: domain.SenderAdmin,
		SenderID:   actorID,
		Type:       domain.MsgBidRejected,
		Body:       reason,
		CreatedAt:  now,
	}); err != nil {
		return domain.Bid{}, err
	}
	if wasCountered {
		t, err := e.threadTx(ctx, tx, b.LoadID)
		if err != nil {
			return domain.Bid{}, err
		}
		if t.PendingCounters > 0 {
			t.PendingCounters--
		}
		t.UpdatedAt = now
		if err := e.Repo.UpsertThread(ctx, tx, t); err != nil {
			return domain.Bid{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Bid{}, err
	}
	return b, nil
}

// ExpireBids sweeps pending bids older than the configured TTL. Admin
// housekeeping; expired bids leave the thread counters untouched.
func (e Engine) ExpireBids(ctx context.Context, loadID, actorID string) ([]domain.Bid, error) {
	if e.Config == nil {
		return nil, errors.New("config not loaded")
	}
	ttl := e.Config.Bidding.BidTTLHours
	if ttl <= 0 {
		return nil, nil
	}
	cutoff := e.now().UTC().Add(-time.Duration(ttl) * time.Hour).Format(time.RFC3339)
	now := e.nowStr()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	l, err := e.Repo.GetLoadTx(ctx, tx, loadID)
	if err != nil {
		return nil, err
	}
	if l.Status.Terminal() {
		return nil, ErrLoadClosed
	}
	stale, err := e.Repo.ExpireStaleBids(ctx, tx, loadID, cutoff, now)
	if err != nil {
		return nil, err
	}
	for _, b := range stale {
		bid := b
		if _, err := e.Repo.AppendMessage(ctx, tx, domain.NegotiationMessage{
			ID:         e.newMessageID(),
			LoadID:     loadID,
			BidID:      &bid.ID,
			SenderRole: domain.SenderSystem,
			SenderID:   actorID,
			Type:       domain.MsgSystemNote,
			Body:       "bid expired",
			CreatedAt:  now,
		}); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return stale, nil
}

// GetThread returns the derived summary; a load with no negotiation yet
// yields the zero summary rather than an error.
func (e Engine) GetThread(ctx context.Context, loadID string) (domain.NegotiationThread, error) {
	t, err := e.Repo.GetThread(ctx, loadID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.NegotiationThread{LoadID: loadID}, nil
	}
	return t, err
}

// RebuildThread recomputes the summary by replaying the message ledger and
// persists the result. The ledger, not the summary, is the source of truth.
func (e Engine) RebuildThread(ctx context.Context, loadID string) (domain.NegotiationThread, error) {
	msgs, err := e.Repo.ListMessages(ctx, loadID)
	if err != nil {
		return domain.NegotiationThread{}, err
	}
	t := domain.NegotiationThread{LoadID: loadID}
	bidStatus := map[string]domain.BidStatus{}
	for _, m := range msgs {
		switch m.Type {
		case domain.MsgCarrierBid:
			t.TotalBids++
			t.RealBids++
			if m.BidID != nil {
				bidStatus[*m.BidID] = domain.BidPending
			}
		case domain.MsgSimulatedBid:
			t.TotalBids++
			t.SimulatedBids++
			if m.BidID != nil {
				bidStatus[*m.BidID] = domain.BidPending
			}
		case domain.MsgCounterOffer, domain.MsgSimulatedCounter:
			if m.BidID != nil {
				bidStatus[*m.BidID] = domain.BidCountered
			}
		case domain.MsgBidAccepted:
			if m.BidID != nil {
				bidStatus[*m.BidID] = domain.BidAccepted
				t.AcceptedBidID = m.BidID
				t.AcceptedAmount = m.Amount
				if b, err := e.Repo.GetBid(ctx, *m.BidID); err == nil {
					carrierID := b.CarrierID
					t.AcceptedCarrierID = &carrierID
				}
			}
		case domain.MsgBidRejected:
			if m.BidID != nil {
				bidStatus[*m.BidID] = domain.BidRejected
				if t.AcceptedBidID != nil && *t.AcceptedBidID == *m.BidID {
					t.AcceptedBidID = nil
					t.AcceptedCarrierID = nil
					t.AcceptedAmount = nil
				}
			}
		}
	}
	for _, st := range bidStatus {
		if st == domain.BidCountered {
			t.PendingCounters++
		}
	}
	t.UpdatedAt = e.nowStr()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.NegotiationThread{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertThread(ctx, tx, t); err != nil {
		return domain.NegotiationThread{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.NegotiationThread{}, err
	}
	return t, nil
}

// voidAwardTx rolls back an award when bidding is reopened: the accepted
// bid returns to rejected and the thread forgets the acceptance.
func (e Engine) voidAwardTx(ctx context.Context, tx *sql.Tx, l *domain.Load, actorID string) error {
	if l.AwardedBidID == nil {
		return nil
	}
	b, err := e.Repo.GetBidTx(ctx, tx, *l.AwardedBidID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	now := e.nowStr()
	if err == nil && b.Status == domain.BidAccepted {
		b.Status = domain.BidRejected
		b.UpdatedAt = now
		if err := e.Repo.UpdateBid(ctx, tx, b); err != nil {
			return err
		}
		if _, err := e.Repo.AppendMessage(ctx, tx, domain.NegotiationMessage{
			ID:         e.newMessageID(),
			LoadID:     l.ID,
			BidID:      &b.ID,
			SenderRole: domain.SenderSystem,
			SenderID:   actorID,
			Type:       domain.MsgBidRejected,
			Body:       "award voided; bidding reopened",
			CreatedAt:  now,
		}); err != nil {
			return err
		}
	}
	t, err := e.threadTx(ctx, tx, l.ID)
	if err != nil {
		return err
	}
	t.AcceptedBidID = nil
	t.AcceptedCarrierID = nil
	t.AcceptedAmount = nil
	t.UpdatedAt = now
	if err := e.Repo.UpsertThread(ctx, tx, t); err != nil {
		return err
	}
	l.AwardedBidID = nil
	l.CarrierID = nil
	return nil
}

// threadTx reads the thread row inside the tx, defaulting to the zero
// summary for a load that has none yet.
func (e Engine) threadTx(ctx context.Context, tx *sql.Tx, loadID string) (domain.NegotiationThread, error) {
	var t domain.NegotiationThread
	err := tx.QueryRowContext(ctx, `SELECT load_id,total_bids,real_bids,simulated_bids,pending_counters,accepted_bid_id,accepted_carrier_id,accepted_amount,updated_at
FROM negotiation_threads WHERE load_id=?`, loadID).
		Scan(&t.LoadID, &t.TotalBids, &t.RealBids, &t.SimulatedBids, &t.PendingCounters,
			&t.AcceptedBidID, &t.AcceptedCarrierID, &t.AcceptedAmount, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.NegotiationThread{LoadID: loadID}, nil
	}
	return t, err
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
