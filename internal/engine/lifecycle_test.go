package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"freightline/internal/config"
	"freightline/internal/db"
	"freightline/internal/domain"
	"freightline/internal/engine"
	"freightline/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("mkt-test")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	env := testEnv{Engine: eng, Ctx: ctx}
	env.registerVerified(t, "ship-1", domain.RoleShipper, "")
	env.registerVerified(t, "carrier-1", domain.RoleCarrier, domain.CarrierEnterprise)
	env.registerVerified(t, "carrier-2", domain.RoleCarrier, domain.CarrierSolo)
	if _, err := eng.RegisterParty(ctx, "admin-1", "dispatch admin", domain.RoleAdmin, ""); err != nil {
		t.Fatalf("register admin: %v", err)
	}
	return env
}

func (env testEnv) registerVerified(t *testing.T, id string, role domain.PartyRole, ct domain.CarrierType) {
	t.Helper()
	if _, err := env.Engine.RegisterParty(env.Ctx, id, id, role, ct); err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
	if _, err := env.Engine.VerifyParty(env.Ctx, id); err != nil {
		t.Fatalf("verify %s: %v", id, err)
	}
}

func (env testEnv) submitLoad(t *testing.T) domain.Load {
	t.Helper()
	l, err := env.Engine.SubmitLoad(env.Ctx, engine.LoadSubmitOptions{
		ShipperID:   "ship-1",
		Origin:      "Mumbai",
		Destination: "Delhi",
		Cargo:       "steel coils",
		WeightTons:  24,
	})
	if err != nil {
		t.Fatalf("submit load: %v", err)
	}
	return l
}

func (env testEnv) pricedLoad(t *testing.T, finalPrice int64) domain.Load {
	t.Helper()
	l := env.submitLoad(t)
	l, err := env.Engine.SubmitForPricing(env.Ctx, l.ID, "ship-1", -1)
	if err != nil {
		t.Fatalf("submit for pricing: %v", err)
	}
	l, err = env.Engine.PriceLoad(env.Ctx, l.ID, finalPrice, "admin-1", -1)
	if err != nil {
		t.Fatalf("price load: %v", err)
	}
	return l
}

func (env testEnv) postedLoad(t *testing.T, finalPrice int64) domain.Load {
	t.Helper()
	l := env.pricedLoad(t, finalPrice)
	l, err := env.Engine.PostToCarriers(env.Ctx, l.ID, domain.PostOpen, nil, "admin-1", -1)
	if err != nil {
		t.Fatalf("post to carriers: %v", err)
	}
	return l
}

func (env testEnv) awardedLoad(t *testing.T, finalPrice int64) (domain.Load, domain.Bid) {
	t.Helper()
	l := env.postedLoad(t, finalPrice)
	b, _, err := env.Engine.PlaceBid(env.Ctx, engine.PlaceBidOptions{
		LoadID: l.ID, CarrierID: "carrier-1", ActorID: "carrier-1", Amount: finalPrice,
	})
	if err != nil {
		t.Fatalf("place bid: %v", err)
	}
	b, l, err = env.Engine.AcceptBid(env.Ctx, b.ID, "admin-1")
	if err != nil {
		t.Fatalf("accept bid: %v", err)
	}
	return l, b
}

func TestLoadLifecycleHappyPathToPosted(t *testing.T) {
	env := newTestEnv(t)
	l := env.submitLoad(t)
	if l.Status != domain.LoadDraft || l.Version != 1 {
		t.Fatalf("expected draft v1, got %s v%d", l.Status, l.Version)
	}
	l, err := env.Engine.SubmitForPricing(env.Ctx, l.ID, "ship-1", 1)
	if err != nil || l.Status != domain.LoadPending || l.Version != 2 {
		t.Fatalf("to pending: %v (%s v%d)", err, l.Status, l.Version)
	}
	if l.PreviousStatus != domain.LoadDraft {
		t.Fatalf("expected previous draft, got %s", l.PreviousStatus)
	}
	l, err = env.Engine.PriceLoad(env.Ctx, l.ID, 50000, "admin-1", 2)
	if err != nil || l.Status != domain.LoadPriced || l.Version != 3 {
		t.Fatalf("to priced: %v (%s v%d)", err, l.Status, l.Version)
	}
	if !l.PriceLocked || l.AdminFinalPrice == nil || *l.AdminFinalPrice != 50000 {
		t.Fatalf("expected locked final price 50000, got %+v", l)
	}
	if l.PriceLockedBy == nil || *l.PriceLockedBy != "admin-1" {
		t.Fatalf("expected price locked by admin-1")
	}
	l, err = env.Engine.PostToCarriers(env.Ctx, l.ID, domain.PostOpen, nil, "admin-1", 3)
	if err != nil || l.Status != domain.LoadPostedToCarriers || l.Version != 4 {
		t.Fatalf("to posted: %v (%s v%d)", err, l.Status, l.Version)
	}
}

func TestTransitionTableShape(t *testing.T) {
	for _, s := range domain.AllLoadStatuses {
		require.True(t, s.Valid(), "status %s", s)
	}
	// terminals have no outgoing edges
	for _, s := range domain.AllLoadStatuses {
		if !s.Terminal() {
			continue
		}
		for _, target := range domain.AllLoadStatuses {
			require.False(t, engine.CanTransition(s, target), "%s -> %s", s, target)
		}
	}
	// every live state can cancel
	for _, s := range domain.AllLoadStatuses {
		if s.Terminal() {
			continue
		}
		require.True(t, engine.CanTransition(s, domain.LoadCancelled), "%s -> cancelled", s)
	}
	// in_transit is reachable only from invoice_paid
	for _, s := range domain.AllLoadStatuses {
		got := engine.CanTransition(s, domain.LoadInTransit)
		require.Equal(t, s == domain.LoadInvoicePaid, got, "%s -> in_transit", s)
	}
	// no skipping the invoice leg
	require.False(t, engine.CanTransition(domain.LoadAwarded, domain.LoadInTransit))
	require.False(t, engine.CanTransition(domain.LoadPriced, domain.LoadAwarded))
	require.False(t, engine.CanTransition(domain.LoadDraft, domain.LoadPriced))
	// reopen edges
	require.True(t, engine.CanTransition(domain.LoadAwarded, domain.LoadOpenForBid))
	require.True(t, engine.CanTransition(domain.LoadOpenForBid, domain.LoadPostedToCarriers))
}

func TestIllegalTransitionRejected(t *testing.T) {
	env := newTestEnv(t)
	l := env.submitLoad(t)
	_, err := env.Engine.Transition(env.Ctx, l.ID, domain.LoadDelivered, "admin-1", "", -1)
	var ite engine.IllegalTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected IllegalTransitionError, got %v", err)
	}
	if ite.From != "draft" || ite.To != "delivered" {
		t.Fatalf("unexpected error detail: %+v", ite)
	}
	// the load is untouched
	got, err := env.Engine.Repo.GetLoad(env.Ctx, l.ID)
	if err != nil || got.Status != domain.LoadDraft || got.Version != 1 {
		t.Fatalf("load mutated by rejected transition: %v %+v", err, got)
	}
}

func TestTerminalLoadRejectsEverything(t *testing.T) {
	env := newTestEnv(t)
	l := env.submitLoad(t)
	l, err := env.Engine.Transition(env.Ctx, l.ID, domain.LoadCancelled, "admin-1", "shipper withdrew", -1)
	if err != nil || l.Status != domain.LoadCancelled {
		t.Fatalf("cancel: %v", err)
	}
	_, err = env.Engine.Transition(env.Ctx, l.ID, domain.LoadPending, "admin-1", "", -1)
	if !errors.Is(err, engine.ErrLoadClosed) {
		t.Fatalf("expected ErrLoadClosed, got %v", err)
	}
}

func TestStaleVersionRejected(t *testing.T) {
	env := newTestEnv(t)
	l := env.submitLoad(t)
	if _, err := env.Engine.SubmitForPricing(env.Ctx, l.ID, "ship-1", 1); err != nil {
		t.Fatalf("to pending: %v", err)
	}
	// second writer still believes the load is at version 1
	_, err := env.Engine.PriceLoad(env.Ctx, l.ID, 50000, "admin-1", 1)
	var cce engine.ConcurrencyConflictError
	if !errors.As(err, &cce) {
		t.Fatalf("expected ConcurrencyConflictError, got %v", err)
	}
	if cce.Expected != 1 || cce.Current != 2 {
		t.Fatalf("unexpected versions: %+v", cce)
	}
}

func TestAwardedRequiresAcceptedBid(t *testing.T) {
	env := newTestEnv(t)
	l := env.postedLoad(t, 50000)
	_, _, err := env.Engine.PlaceBid(env.Ctx, engine.PlaceBidOptions{
		LoadID: l.ID, CarrierID: "carrier-1", ActorID: "carrier-1", Amount: 48000,
	})
	if err != nil {
		t.Fatalf("place bid: %v", err)
	}
	// pending bid is not enough to enter awarded
	_, err = env.Engine.Transition(env.Ctx, l.ID, domain.LoadAwarded, "admin-1", "", -1)
	if !errors.Is(err, engine.ErrNotAwarded) {
		t.Fatalf("expected ErrNotAwarded, got %v", err)
	}
}

func TestInvoiceCreatedRequiresPriceLock(t *testing.T) {
	env := newTestEnv(t)
	l, _ := env.awardedLoad(t, 50000)
	if _, err := env.Engine.UnlockPrice(env.Ctx, l.ID, "admin-1", "re-quote"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	_, err := env.Engine.Transition(env.Ctx, l.ID, domain.LoadInvoiceCreated, "admin-1", "", -1)
	if !errors.Is(err, engine.ErrPriceNotLocked) {
		t.Fatalf("expected ErrPriceNotLocked, got %v", err)
	}
}

func TestReopenAfterAwardVoidsAward(t *testing.T) {
	env := newTestEnv(t)
	l, b := env.awardedLoad(t, 50000)
	l, err := env.Engine.Transition(env.Ctx, l.ID, domain.LoadOpenForBid, "admin-1", "carrier backed out", -1)
	if err != nil || l.Status != domain.LoadOpenForBid {
		t.Fatalf("reopen: %v", err)
	}
	if l.AwardedBidID != nil || l.CarrierID != nil {
		t.Fatalf("award not voided: %+v", l)
	}
	got, err := env.Engine.Repo.GetBid(env.Ctx, b.ID)
	if err != nil || got.Status != domain.BidRejected {
		t.Fatalf("expected accepted bid rejected, got %v %s", err, got.Status)
	}
	th, err := env.Engine.GetThread(env.Ctx, l.ID)
	if err != nil || th.AcceptedBidID != nil || th.AcceptedAmount != nil {
		t.Fatalf("thread still records acceptance: %v %+v", err, th)
	}
}

func TestReopenAfterAwardDisabledByConfig(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Bidding.ReopenAfterAward = false
	l, _ := env.awardedLoad(t, 50000)
	_, err := env.Engine.Transition(env.Ctx, l.ID, domain.LoadOpenForBid, "admin-1", "", -1)
	var ite engine.IllegalTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected IllegalTransitionError, got %v", err)
	}
}

func TestSuggestPriceOnlyWhilePending(t *testing.T) {
	env := newTestEnv(t)
	l := env.submitLoad(t)
	if _, err := env.Engine.SuggestPrice(env.Ctx, l.ID, 45000, "admin-1"); err == nil {
		t.Fatalf("expected rejection on draft load")
	}
	l, err := env.Engine.SubmitForPricing(env.Ctx, l.ID, "ship-1", -1)
	if err != nil {
		t.Fatalf("to pending: %v", err)
	}
	l, err = env.Engine.SuggestPrice(env.Ctx, l.ID, 45000, "admin-1")
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if l.AdminSuggestedPrice == nil || *l.AdminSuggestedPrice != 45000 || l.Version != 3 {
		t.Fatalf("suggestion not recorded: %+v", l)
	}
	if l.Status != domain.LoadPending {
		t.Fatalf("suggestion must not change status, got %s", l.Status)
	}
}

func TestUnlockPriceReleasesLock(t *testing.T) {
	env := newTestEnv(t)
	l := env.pricedLoad(t, 50000)
	l, err := env.Engine.UnlockPrice(env.Ctx, l.ID, "admin-1", "rate changed")
	if err != nil || l.PriceLocked {
		t.Fatalf("unlock: %v %+v", err, l)
	}
	if l.PriceLockedBy != nil || l.PriceLockedAt != nil {
		t.Fatalf("lock fields not cleared: %+v", l)
	}
	_, err = env.Engine.UnlockPrice(env.Ctx, l.ID, "admin-1", "again")
	if !errors.Is(err, engine.ErrPriceNotLocked) {
		t.Fatalf("expected ErrPriceNotLocked, got %v", err)
	}
}

func TestUnverifiedShipperCannotSubmit(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.RegisterParty(env.Ctx, "ship-raw", "new shipper", domain.RoleShipper, ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := env.Engine.SubmitLoad(env.Ctx, engine.LoadSubmitOptions{
		ShipperID: "ship-raw", Origin: "Pune", Destination: "Surat", WeightTons: 10,
	})
	if !errors.Is(err, engine.ErrNotVerified) {
		t.Fatalf("expected ErrNotVerified, got %v", err)
	}
}

func TestInvitedPostingValidatesCarriers(t *testing.T) {
	env := newTestEnv(t)
	l := env.pricedLoad(t, 50000)
	if _, err := env.Engine.PostToCarriers(env.Ctx, l.ID, domain.PostInvited, nil, "admin-1", -1); err == nil {
		t.Fatalf("expected error for empty invite list")
	}
	if _, err := env.Engine.PostToCarriers(env.Ctx, l.ID, domain.PostInvited, []string{"ship-1"}, "admin-1", -1); err == nil {
		t.Fatalf("expected error for non-carrier invitee")
	}
	got, err := env.Engine.PostToCarriers(env.Ctx, l.ID, domain.PostInvited, []string{"carrier-1", "carrier-2"}, "admin-1", -1)
	if err != nil || got.PostingMode != domain.PostInvited || len(got.InvitedCarriers) != 2 {
		t.Fatalf("invited post: %v %+v", err, got)
	}
}

func TestAuditLogRecordsEveryTransition(t *testing.T) {
	env := newTestEnv(t)
	l := env.postedLoad(t, 50000)
	log, err := env.Engine.Repo.ListLoadStateLog(env.Ctx, l.ID)
	if err != nil {
		t.Fatalf("list log: %v", err)
	}
	wantFrom := []string{"", "draft", "pending", "priced"}
	wantTo := []string{"draft", "pending", "priced", "posted_to_carriers"}
	if len(log) != len(wantTo) {
		t.Fatalf("expected %d rows, got %d", len(wantTo), len(log))
	}
	for i, row := range log {
		if row.FromState != wantFrom[i] || row.ToState != wantTo[i] {
			t.Fatalf("row %d: %s -> %s", i, row.FromState, row.ToState)
		}
		if row.ActorID == "" || row.TS == "" {
			t.Fatalf("row %d missing actor or timestamp: %+v", i, row)
		}
		// audit rows are stamped by the engine clock, not the wall clock
		if row.TS != "2025-06-01T00:00:00Z" {
			t.Fatalf("row %d timestamp %q not from the engine clock", i, row.TS)
		}
	}
}
