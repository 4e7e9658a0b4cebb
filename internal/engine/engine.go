// Package engine implements the load lifecycle core: the state machine,
// the bid negotiation protocol and the invoice workflow. All mutations run
// inside a single transaction together with their audit rows, and every
// write to a load or invoice goes through an optimistic version check.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"freightline/internal/audit"
	"freightline/internal/config"
	"freightline/internal/domain"
	"freightline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Audit  audit.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Audit:  audit.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowStr() string {
	return e.now().UTC().Format(time.RFC3339)
}

// auditor binds the history writer to the engine clock so audit rows
// carry the same timestamps as the rows they describe.
func (e Engine) auditor() audit.Writer {
	w := e.Audit
	if w.Now == nil {
		w.Now = e.Now
	}
	return w
}

// newMessageID returns a ULID so message IDs sort by creation time, in
// line with the sequence column.
func (e Engine) newMessageID() string {
	return ulid.MustNew(ulid.Timestamp(e.now()), ulid.DefaultEntropy()).String()
}

// RegisterParty creates a marketplace account. Carriers start unverified.
func (e Engine) RegisterParty(ctx context.Context, id, name string, role domain.PartyRole, carrierType domain.CarrierType) (domain.Party, error) {
	if e.Config == nil {
		return domain.Party{}, errors.New("config not loaded")
	}
	if name == "" {
		return domain.Party{}, errors.New("name is required")
	}
	switch role {
	case domain.RoleShipper, domain.RoleCarrier, domain.RoleAdmin:
	default:
		return domain.Party{}, fmt.Errorf("unknown party role %q", role)
	}
	if role != domain.RoleCarrier {
		carrierType = ""
	}
	if id == "" {
		id = uuid.New().String()
	}
	p := domain.Party{
		ID:          id,
		Name:        name,
		Role:        role,
		CarrierType: carrierType,
		Verified:    role == domain.RoleAdmin,
		CreatedAt:   e.nowStr(),
	}
	if err := e.Repo.InsertParty(ctx, p); err != nil {
		return domain.Party{}, fmt.Errorf("insert party: %w", err)
	}
	return p, nil
}

// VerifyParty flips the verification flag; onboarding review itself happens
// outside the core.
func (e Engine) VerifyParty(ctx context.Context, id string) (domain.Party, error) {
	if err := e.Repo.SetPartyVerified(ctx, id, true); err != nil {
		return domain.Party{}, err
	}
	return e.Repo.GetParty(ctx, id)
}

// LoadSubmitOptions are parameters for creating a load.
type LoadSubmitOptions struct {
	ID                 string
	ShipperID          string
	Origin             string
	Destination        string
	Cargo              string
	WeightTons         float64
	ShipperPricePerTon *int64
}

// SubmitLoad creates a load in draft at version 1. The shipper must be a
// verified shipper account.
func (e Engine) SubmitLoad(ctx context.Context, opts LoadSubmitOptions) (domain.Load, error) {
	if e.Config == nil {
		return domain.Load{}, errors.New("config not loaded")
	}
	if opts.ShipperID == "" {
		return domain.Load{}, errors.New("shipper is required")
	}
	if opts.Origin == "" || opts.Destination == "" {
		return domain.Load{}, errors.New("origin and destination are required")
	}
	shipper, err := e.Repo.GetParty(ctx, opts.ShipperID)
	if err != nil {
		return domain.Load{}, fmt.Errorf("shipper: %w", err)
	}
	if shipper.Role != domain.RoleShipper {
		return domain.Load{}, ForbiddenError{Role: string(shipper.Role), Op: "submit load"}
	}
	if !shipper.Verified {
		return domain.Load{}, ErrNotVerified
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.nowStr()
	l := domain.Load{
		ID:                 id,
		ShipperID:          opts.ShipperID,
		Origin:             opts.Origin,
		Destination:        opts.Destination,
		Cargo:              opts.Cargo,
		WeightTons:         opts.WeightTons,
		Status:             domain.LoadDraft,
		Version:            1,
		ShipperPricePerTon: opts.ShipperPricePerTon,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Load{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertLoad(ctx, tx, l); err != nil {
		return domain.Load{}, fmt.Errorf("insert load: %w", err)
	}
	if err := e.auditor().LoadChange(ctx, tx, l.ID, opts.ShipperID, "", string(domain.LoadDraft), "load submitted", nil); err != nil {
		return domain.Load{}, err
	}
	if _, err := e.Repo.AppendMessage(ctx, tx, domain.NegotiationMessage{
		ID:         e.newMessageID(),
		LoadID:     l.ID,
		SenderRole: domain.SenderSystem,
		SenderID:   opts.ShipperID,
		Type:       domain.MsgSystemNote,
		Body:       "load submitted",
		CreatedAt:  now,
	}); err != nil {
		return domain.Load{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Load{}, err
	}
	return l, nil
}

// SubmitForPricing moves a draft load into the admin pricing queue.
func (e Engine) SubmitForPricing(ctx context.Context, loadID, actorID string, expectedVersion int) (domain.Load, error) {
	return e.Transition(ctx, loadID, domain.LoadPending, actorID, "submitted for pricing", expectedVersion)
}

// SuggestPrice records the admin's non-binding price indication while the
// load awaits final pricing.
func (e Engine) SuggestPrice(ctx context.Context, loadID string, amount int64, actorID string) (domain.Load, error) {
	if amount <= 0 {
		return domain.Load{}, errors.New("amount must be positive")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Load{}, err
	}
	defer tx.Rollback()

	l, err := e.Repo.GetLoadTx(ctx, tx, loadID)
	if err != nil {
		return domain.Load{}, err
	}
	if l.Status != domain.LoadPending {
		return domain.Load{}, IllegalTransitionError{Entity: "load", From: string(l.Status), To: string(domain.LoadPriced)}
	}
	if l.PriceLocked {
		return domain.Load{}, ErrPriceLocked
	}
	expected := l.Version
	l.AdminSuggestedPrice = &amount
	l.UpdatedAt = e.nowStr()
	if err := e.updateLoad(ctx, tx, l, expected); err != nil {
		return domain.Load{}, err
	}
	l.Version++
	if err := tx.Commit(); err != nil {
		return domain.Load{}, err
	}
	return l, nil
}

// PriceLoad fixes the admin final price, locks it and moves the load to
// priced. The lock is a prerequisite for invoicing.
func (e Engine) PriceLoad(ctx context.Context, loadID string, finalPrice int64, actorID string, expectedVersion int) (domain.Load, error) {
	if finalPrice <= 0 {
		return domain.Load{}, errors.New("final price must be positive")
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
	now := e.nowStr()
	l.AdminFinalPrice = &finalPrice
	l.PriceLocked = true
	l.PriceLockedBy = &actorID
	l.PriceLockedAt = &now
	l, err = e.transitionTx(ctx, tx, l, domain.LoadPriced, actorID, "price locked", audit.Metadata{"final_price": finalPrice})
	if err != nil {
		return domain.Load{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Load{}, err
	}
	return l, nil
}

// UnlockPrice releases a price lock. Illegal once an invoice exists; the
// unlock itself is audited.
func (e Engine) UnlockPrice(ctx context.Context, loadID, actorID, reason string) (domain.Load, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Load{}, err
	}
	defer tx.Rollback()

	l, err := e.Repo.GetLoadTx(ctx, tx, loadID)
	if err != nil {
		return domain.Load{}, err
	}
	if !l.PriceLocked {
		return domain.Load{}, ErrPriceNotLocked
	}
	if l.ActiveInvoiceID != nil {
		return domain.Load{}, ErrPriceLocked
	}
	expected := l.Version
	l.PriceLocked = false
	l.PriceLockedBy = nil
	l.PriceLockedAt = nil
	l.UpdatedAt = e.nowStr()
	if err := e.updateLoad(ctx, tx, l, expected); err != nil {
		return domain.Load{}, err
	}
	l.Version++
	if err := e.auditor().LoadChange(ctx, tx, l.ID, actorID, string(l.Status), string(l.Status), reason, audit.Metadata{"price_unlocked": true}); err != nil {
		return domain.Load{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Load{}, err
	}
	return l, nil
}

// PostToCarriers publishes a priced load for bidding, either openly or to
// an invited set of carriers.
func (e Engine) PostToCarriers(ctx context.Context, loadID string, mode domain.PostingMode, invitedIDs []string, actorID string, expectedVersion int) (domain.Load, error) {
	switch mode {
	case domain.PostOpen:
		invitedIDs = nil
	case domain.PostInvited:
		if len(invitedIDs) == 0 {
			return domain.Load{}, errors.New("invited posting requires carrier ids")
		}
	default:
		return domain.Load{}, fmt.Errorf("unknown posting mode %q", mode)
	}
	for _, cid := range invitedIDs {
		p, err := e.Repo.GetParty(ctx, cid)
		if err != nil {
			return domain.Load{}, fmt.Errorf("invited carrier %s: %w", cid, err)
		}
		if p.Role != domain.RoleCarrier {
			return domain.Load{}, fmt.Errorf("invited party %s is not a carrier", cid)
		}
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
	l.PostingMode = mode
	l.InvitedCarriers = invitedIDs
	l, err = e.transitionTx(ctx, tx, l, domain.LoadPostedToCarriers, actorID, "posted to carriers", audit.Metadata{
		"mode":    string(mode),
		"invited": invitedIDs,
	})
	if err != nil {
		return domain.Load{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Load{}, err
	}
	return l, nil
}

// loadForUpdate reads the load inside the tx and enforces the caller's
// expected version when one is supplied (>= 0).
func (e Engine) loadForUpdate(ctx context.Context, tx *sql.Tx, loadID string, expectedVersion int) (domain.Load, error) {
	l, err := e.Repo.GetLoadTx(ctx, tx, loadID)
	if err != nil {
		return domain.Load{}, err
	}
	if expectedVersion >= 0 && l.Version != expectedVersion {
		return domain.Load{}, ConcurrencyConflictError{Entity: "load", ID: l.ID, Expected: expectedVersion, Current: l.Version}
	}
	return l, nil
}

// updateLoad performs the CAS write and translates a stale-version miss
// into the typed conflict.
func (e Engine) updateLoad(ctx context.Context, tx *sql.Tx, l domain.Load, expectedVersion int) error {
	err := e.Repo.UpdateLoadCAS(ctx, tx, l, expectedVersion)
	if errors.Is(err, repo.ErrStaleVersion) {
		return ConcurrencyConflictError{Entity: "load", ID: l.ID, Expected: expectedVersion, Current: l.Version}
	}
	return err
}
