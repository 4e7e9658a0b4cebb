package engine_test

import (
	"errors"
	"testing"
	"time"

	"freightline/internal/domain"
	"freightline/internal/engine"
)

func (env testEnv) draftInvoice(t *testing.T, loadID, key string) domain.Invoice {
	t.Helper()
	inv, _, err := env.Engine.CreateInvoice(env.Ctx, engine.InvoiceCreateOptions{
		LoadID: loadID, IdempotencyKey: key, ActorID: "admin-1",
	})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	return inv
}

func TestCreateInvoiceComputesTotals(t *testing.T) {
	env := newTestEnv(t)
	l, _ := env.awardedLoad(t, 50000)
	inv := env.draftInvoice(t, l.ID, "key-1")

	if inv.Status != domain.InvoiceDraft || inv.Revision != 1 || inv.Version != 1 {
		t.Fatalf("unexpected invoice: %+v", inv)
	}
	// base freight defaults to the locked admin price, GST to the
	// marketplace rate of 18%
	if inv.Breakdown.BaseFreight != 50000 {
		t.Fatalf("expected base 50000, got %d", inv.Breakdown.BaseFreight)
	}
	if inv.Breakdown.GSTAmount != 9000 || inv.Subtotal != 50000 || inv.Total != 59000 {
		t.Fatalf("wrong totals: %+v", inv)
	}
	if inv.DueAt == nil || *inv.DueAt != "2025-06-16T00:00:00Z" {
		t.Fatalf("expected due date 15 days out, got %v", inv.DueAt)
	}

	got, err := env.Engine.Repo.GetLoad(env.Ctx, l.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Status != domain.LoadInvoiceCreated {
		t.Fatalf("expected invoice_created, got %s", got.Status)
	}
	if got.ActiveInvoiceID == nil || *got.ActiveInvoiceID != inv.ID {
		t.Fatalf("invoice not linked: %+v", got)
	}
}

func TestCreateInvoiceExplicitBreakdown(t *testing.T) {
	env := newTestEnv(t)
	l, _ := env.awardedLoad(t, 50000)
	inv, _, err := env.Engine.CreateInvoice(env.Ctx, engine.InvoiceCreateOptions{
		LoadID: l.ID,
		Breakdown: domain.PriceBreakdown{
			BaseFreight:   50000,
			FuelSurcharge: 2000,
			Tolls:         1000,
			Discount:      500,
		},
		IdempotencyKey: "key-1",
		ActorID:        "admin-1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// subtotal 53000, GST 9540, minus discount
	if inv.Subtotal != 53000 || inv.Breakdown.GSTAmount != 9540 || inv.Total != 62040 {
		t.Fatalf("wrong totals: %+v", inv)
	}
}

func TestCreateInvoiceIdempotent(t *testing.T) {
	env := newTestEnv(t)
	l, _ := env.awardedLoad(t, 50000)
	first, created, err := env.Engine.CreateInvoice(env.Ctx, engine.InvoiceCreateOptions{
		LoadID: l.ID, IdempotencyKey: "key-1", ActorID: "admin-1",
	})
	if err != nil || !created {
		t.Fatalf("create: %v created=%v", err, created)
	}
	loadAfterFirst, _ := env.Engine.Repo.GetLoad(env.Ctx, l.ID)

	second, created, err := env.Engine.CreateInvoice(env.Ctx, engine.InvoiceCreateOptions{
		LoadID: l.ID, IdempotencyKey: "key-1", ActorID: "admin-1",
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if created {
		t.Fatalf("replay reported as a fresh invoice")
	}
	if second.ID != first.ID || second.Version != first.Version {
		t.Fatalf("replay created a new invoice: %s vs %s", first.ID, second.ID)
	}
	loadAfterSecond, _ := env.Engine.Repo.GetLoad(env.Ctx, l.ID)
	if loadAfterSecond.Version != loadAfterFirst.Version {
		t.Fatalf("replay moved the load: v%d -> v%d", loadAfterFirst.Version, loadAfterSecond.Version)
	}
}

func TestCreateInvoiceKeyBoundToLoad(t *testing.T) {
	env := newTestEnv(t)
	first, _ := env.awardedLoad(t, 50000)
	other, _ := env.awardedLoad(t, 40000)
	env.draftInvoice(t, first.ID, "key-1")

	_, _, err := env.Engine.CreateInvoice(env.Ctx, engine.InvoiceCreateOptions{
		LoadID: other.ID, IdempotencyKey: "key-1", ActorID: "admin-1",
	})
	if err == nil {
		t.Fatalf("expected rejection for a key already used by another load")
	}
	got, _ := env.Engine.Repo.GetLoad(env.Ctx, other.ID)
	if got.Status != domain.LoadAwarded || got.ActiveInvoiceID != nil {
		t.Fatalf("other load was touched: %+v", got)
	}
}

func TestCreateInvoiceAppliesFuelSurchargeDefault(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Pricing.FuelSurchargePercent = 10
	l, _ := env.awardedLoad(t, 50000)
	inv := env.draftInvoice(t, l.ID, "key-1")

	// fuel 10% of base, GST 18% on the 55000 subtotal
	if inv.Breakdown.FuelSurcharge != 5000 || inv.Subtotal != 55000 {
		t.Fatalf("fuel surcharge not applied: %+v", inv)
	}
	if inv.Breakdown.GSTAmount != 9900 || inv.Total != 64900 {
		t.Fatalf("wrong totals with fuel surcharge: %+v", inv)
	}
}

func TestCreateInvoiceRequiresAward(t *testing.T) {
	env := newTestEnv(t)
	l := env.pricedLoad(t, 50000)
	_, _, err := env.Engine.CreateInvoice(env.Ctx, engine.InvoiceCreateOptions{
		LoadID: l.ID, IdempotencyKey: "key-1", ActorID: "admin-1",
	})
	if !errors.Is(err, engine.ErrNotAwarded) {
		t.Fatalf("expected ErrNotAwarded, got %v", err)
	}
}

func TestCreateInvoiceRequiresPriceLock(t *testing.T) {
	env := newTestEnv(t)
	l, _ := env.awardedLoad(t, 50000)
	if _, err := env.Engine.UnlockPrice(env.Ctx, l.ID, "admin-1", "re-quote"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	_, _, err := env.Engine.CreateInvoice(env.Ctx, engine.InvoiceCreateOptions{
		LoadID: l.ID, IdempotencyKey: "key-1", ActorID: "admin-1",
	})
	if !errors.Is(err, engine.ErrPriceNotLocked) {
		t.Fatalf("expected ErrPriceNotLocked, got %v", err)
	}
}

func TestUnlockPriceBlockedByActiveInvoice(t *testing.T) {
	env := newTestEnv(t)
	l, _ := env.awardedLoad(t, 50000)
	env.draftInvoice(t, l.ID, "key-1")
	_, err := env.Engine.UnlockPrice(env.Ctx, l.ID, "admin-1", "too late")
	if !errors.Is(err, engine.ErrPriceLocked) {
		t.Fatalf("expected ErrPriceLocked, got %v", err)
	}
}

func TestSendAndViewInvoice(t *testing.T) {
	env := newTestEnv(t)
	l, _ := env.awardedLoad(t, 50000)
	inv := env.draftInvoice(t, l.ID, "key-1")

	inv, err := env.Engine.SendInvoice(env.Ctx, inv.ID, "admin-1")
	if err != nil || inv.Status != domain.InvoiceSent || inv.SentAt == nil {
		t.Fatalf("send: %v %+v", err, inv)
	}
	got, _ := env.Engine.Repo.GetLoad(env.Ctx, l.ID)
	if got.Status != domain.LoadInvoiceSent {
		t.Fatalf("expected invoice_sent load, got %s", got.Status)
	}

	inv, err = env.Engine.MarkInvoiceViewed(env.Ctx, inv.ID, "ship-1")
	if err != nil || inv.Status != domain.InvoiceViewed || inv.ViewedAt == nil {
		t.Fatalf("view: %v %+v", err, inv)
	}
}

func TestRespondOwnership(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "ship-2", domain.RoleShipper, "")
	l, _ := env.awardedLoad(t, 50000)
	inv := env.draftInvoice(t, l.ID, "key-1")
	inv, err := env.Engine.SendInvoice(env.Ctx, inv.ID, "admin-1")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	_, err = env.Engine.RespondToInvoice(env.Ctx, inv.ID, "ship-2", domain.RespondApprove, nil, "")
	var fe engine.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected ForbiddenError, got %v", err)
	}
}

func TestRespondQueryKeepsStatus(t *testing.T) {
	env := newTestEnv(t)
	l, _ := env.awardedLoad(t, 50000)
	inv := env.draftInvoice(t, l.ID, "key-1")
	inv, err := env.Engine.SendInvoice(env.Ctx, inv.ID, "admin-1")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	got, err := env.Engine.RespondToInvoice(env.Ctx, inv.ID, "ship-1", domain.RespondQuery, nil, "what are the tolls for?")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if got.Status != domain.InvoiceSent {
		t.Fatalf("query must not change status, got %s", got.Status)
	}
	if got.Version != inv.Version+1 {
		t.Fatalf("query must bump the version: %d -> %d", inv.Version, got.Version)
	}
}

func TestRespondQueryRequiresSentInvoice(t *testing.T) {
	env := newTestEnv(t)
	l, _ := env.awardedLoad(t, 50000)
	inv := env.draftInvoice(t, l.ID, "key-1")

	// the shipper has not been shown a draft
	_, err := env.Engine.RespondToInvoice(env.Ctx, inv.ID, "ship-1", domain.RespondQuery, nil, "is this final?")
	var ite engine.IllegalTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected IllegalTransitionError, got %v", err)
	}
	got, _ := env.Engine.Repo.GetInvoice(env.Ctx, inv.ID)
	if got.Status != domain.InvoiceDraft || got.Version != inv.Version {
		t.Fatalf("draft was touched: %+v", got)
	}
}

func TestRevisionChain(t *testing.T) {
	env := newTestEnv(t)
	l, _ := env.awardedLoad(t, 50000)
	first := env.draftInvoice(t, l.ID, "key-1")
	first, err := env.Engine.SendInvoice(env.Ctx, first.ID, "admin-1")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	counter := int64(45000)
	first, err = env.Engine.RespondToInvoice(env.Ctx, first.ID, "ship-1", domain.RespondNegotiate, &counter, "rate too high")
	if err != nil || first.Status != domain.InvoiceNegotiating {
		t.Fatalf("negotiate: %v %+v", err, first)
	}
	if first.CounterAmount == nil || *first.CounterAmount != 45000 {
		t.Fatalf("counter amount not recorded: %+v", first)
	}

	second, err := env.Engine.ReviseInvoice(env.Ctx, first.ID, domain.PriceBreakdown{BaseFreight: 47000}, "key-2", "admin-1")
	if err != nil {
		t.Fatalf("revise: %v", err)
	}
	if second.Revision != 2 || second.Status != domain.InvoiceDraft {
		t.Fatalf("unexpected revision: %+v", second)
	}
	if second.PreviousInvoiceID == nil || *second.PreviousInvoiceID != first.ID {
		t.Fatalf("revision chain broken: %+v", second)
	}
	if second.Total != 47000+8460 {
		t.Fatalf("revision totals wrong: %+v", second)
	}

	old, err := env.Engine.Repo.GetInvoice(env.Ctx, first.ID)
	if err != nil || old.Status != domain.InvoiceSuperseded {
		t.Fatalf("old invoice not superseded: %v %s", err, old.Status)
	}
	got, _ := env.Engine.Repo.GetLoad(env.Ctx, l.ID)
	if got.ActiveInvoiceID == nil || *got.ActiveInvoiceID != second.ID {
		t.Fatalf("load not repointed at revision: %+v", got)
	}

	// replaying the revise with the same key returns the same invoice
	again, err := env.Engine.ReviseInvoice(env.Ctx, first.ID, domain.PriceBreakdown{BaseFreight: 47000}, "key-2", "admin-1")
	if err != nil || again.ID != second.ID {
		t.Fatalf("revise replay: %v %s vs %s", err, again.ID, second.ID)
	}

	// a superseded invoice accepts no further workflow ops
	_, err = env.Engine.SendInvoice(env.Ctx, first.ID, "admin-1")
	if !errors.Is(err, engine.ErrInvoiceClosed) {
		t.Fatalf("expected ErrInvoiceClosed, got %v", err)
	}
}

func TestReviseRequiresNegotiating(t *testing.T) {
	env := newTestEnv(t)
	l, _ := env.awardedLoad(t, 50000)
	inv := env.draftInvoice(t, l.ID, "key-1")
	_, err := env.Engine.ReviseInvoice(env.Ctx, inv.ID, domain.PriceBreakdown{BaseFreight: 47000}, "key-2", "admin-1")
	var ite engine.IllegalTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected IllegalTransitionError, got %v", err)
	}
}

func TestConfirmPaymentRejectsPartial(t *testing.T) {
	env := newTestEnv(t)
	l, _ := env.awardedLoad(t, 50000)
	inv := env.draftInvoice(t, l.ID, "key-1")
	inv, err := env.Engine.SendInvoice(env.Ctx, inv.ID, "admin-1")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	inv, err = env.Engine.RespondToInvoice(env.Ctx, inv.ID, "ship-1", domain.RespondApprove, nil, "")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}

	_, err = env.Engine.ConfirmPayment(env.Ctx, inv.ID, inv.Total-1, "NEFT-1", "admin-1")
	var ipe engine.InsufficientPaymentError
	if !errors.As(err, &ipe) {
		t.Fatalf("expected InsufficientPaymentError, got %v", err)
	}
	if ipe.Want != inv.Total || ipe.Got != inv.Total-1 {
		t.Fatalf("unexpected amounts: %+v", ipe)
	}

	paid, err := env.Engine.ConfirmPayment(env.Ctx, inv.ID, inv.Total, "NEFT-2", "admin-1")
	if err != nil || paid.Status != domain.InvoicePaid {
		t.Fatalf("pay: %v %+v", err, paid)
	}
	if paid.PaidAmount == nil || *paid.PaidAmount != inv.Total || paid.PaidReference == nil || *paid.PaidReference != "NEFT-2" {
		t.Fatalf("payment fields missing: %+v", paid)
	}
	got, _ := env.Engine.Repo.GetLoad(env.Ctx, l.ID)
	if got.Status != domain.LoadInvoicePaid {
		t.Fatalf("expected invoice_paid load, got %s", got.Status)
	}

	// paying twice hits the terminal state
	_, err = env.Engine.ConfirmPayment(env.Ctx, inv.ID, inv.Total, "NEFT-3", "admin-1")
	if !errors.Is(err, engine.ErrInvoiceClosed) {
		t.Fatalf("expected ErrInvoiceClosed, got %v", err)
	}
}

func TestOverdueFlow(t *testing.T) {
	env := newTestEnv(t)
	l, _ := env.awardedLoad(t, 50000)
	inv := env.draftInvoice(t, l.ID, "key-1")
	inv, err := env.Engine.SendInvoice(env.Ctx, inv.ID, "admin-1")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	inv, err = env.Engine.RespondToInvoice(env.Ctx, inv.ID, "ship-1", domain.RespondApprove, nil, "")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}

	// still inside the due window
	if _, err := env.Engine.MarkInvoiceOverdue(env.Ctx, inv.ID, "admin-1"); err == nil {
		t.Fatalf("expected rejection before due date")
	}

	env.Engine.Now = func() time.Time { return time.Date(2025, 6, 17, 0, 0, 0, 0, time.UTC) }
	inv, err = env.Engine.MarkInvoiceOverdue(env.Ctx, inv.ID, "admin-1")
	if err != nil || inv.Status != domain.InvoiceOverdue {
		t.Fatalf("overdue: %v %+v", err, inv)
	}

	// an overdue invoice can still be settled
	inv, err = env.Engine.ConfirmPayment(env.Ctx, inv.ID, inv.Total, "NEFT-9", "admin-1")
	if err != nil || inv.Status != domain.InvoicePaid {
		t.Fatalf("pay overdue: %v %+v", err, inv)
	}
}

func TestPushFailedRetry(t *testing.T) {
	env := newTestEnv(t)
	l, _ := env.awardedLoad(t, 50000)
	inv := env.draftInvoice(t, l.ID, "key-1")
	inv, err := env.Engine.SendInvoice(env.Ctx, inv.ID, "admin-1")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	inv, err = env.Engine.MarkPushFailed(env.Ctx, inv.ID, "admin-1", "gateway timeout")
	if err != nil || inv.Status != domain.InvoicePushFailed {
		t.Fatalf("push failed: %v %+v", err, inv)
	}
	inv, err = env.Engine.SendInvoice(env.Ctx, inv.ID, "admin-1")
	if err != nil || inv.Status != domain.InvoiceSent {
		t.Fatalf("resend: %v %+v", err, inv)
	}
	// the load already recorded the send, the retry must not re-transition
	got, _ := env.Engine.Repo.GetLoad(env.Ctx, l.ID)
	if got.Status != domain.LoadInvoiceSent {
		t.Fatalf("expected invoice_sent load, got %s", got.Status)
	}
}

func TestCancelInvoiceDetachesFromLoad(t *testing.T) {
	env := newTestEnv(t)
	l, _ := env.awardedLoad(t, 50000)
	inv := env.draftInvoice(t, l.ID, "key-1")
	inv, err := env.Engine.CancelInvoice(env.Ctx, inv.ID, "admin-1", "wrong breakdown")
	if err != nil || inv.Status != domain.InvoiceCancelled {
		t.Fatalf("cancel: %v %+v", err, inv)
	}
	got, _ := env.Engine.Repo.GetLoad(env.Ctx, l.ID)
	if got.ActiveInvoiceID != nil {
		t.Fatalf("invoice still linked: %+v", got)
	}
}

func TestFullLifecycleFiftyThousand(t *testing.T) {
	env := newTestEnv(t)
	l := env.postedLoad(t, 50000)
	b, l, err := env.Engine.PlaceBid(env.Ctx, engine.PlaceBidOptions{
		LoadID: l.ID, CarrierID: "carrier-1", ActorID: "carrier-1", Amount: 50000,
	})
	if err != nil || l.Version != 5 {
		t.Fatalf("bid: %v v%d", err, l.Version)
	}
	b, l, err = env.Engine.AcceptBid(env.Ctx, b.ID, "admin-1")
	if err != nil || l.Status != domain.LoadAwarded || l.Version != 6 {
		t.Fatalf("accept: %v %s v%d", err, l.Status, l.Version)
	}

	inv := env.draftInvoice(t, l.ID, "key-1")
	if inv.Total != 59000 {
		t.Fatalf("expected total 59000 at 18%% GST, got %d", inv.Total)
	}
	inv, err = env.Engine.SendInvoice(env.Ctx, inv.ID, "admin-1")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	inv, err = env.Engine.MarkInvoiceViewed(env.Ctx, inv.ID, "ship-1")
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	inv, err = env.Engine.RespondToInvoice(env.Ctx, inv.ID, "ship-1", domain.RespondApprove, nil, "")
	if err != nil || inv.Status != domain.InvoiceApproved {
		t.Fatalf("approve: %v %+v", err, inv)
	}
	inv, err = env.Engine.ConfirmPayment(env.Ctx, inv.ID, 59000, "NEFT-42", "admin-1")
	if err != nil || inv.Status != domain.InvoicePaid {
		t.Fatalf("pay: %v %+v", err, inv)
	}

	for _, target := range []domain.LoadStatus{domain.LoadInTransit, domain.LoadDelivered, domain.LoadClosed} {
		l, err = env.Engine.Transition(env.Ctx, l.ID, target, "admin-1", "", -1)
		if err != nil || l.Status != target {
			t.Fatalf("to %s: %v", target, err)
		}
	}
	if l.Version != 13 {
		t.Fatalf("expected final version 13, got %d", l.Version)
	}

	log, err := env.Engine.Repo.ListLoadStateLog(env.Ctx, l.ID)
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	if len(log) != 13 {
		t.Fatalf("expected 13 audit rows, got %d", len(log))
	}
	if log[len(log)-1].ToState != "closed" {
		t.Fatalf("last audit row should close the load: %+v", log[len(log)-1])
	}

	hist, err := env.Engine.Repo.ListInvoiceHistory(env.Ctx, inv.ID)
	if err != nil {
		t.Fatalf("invoice history: %v", err)
	}
	if len(hist) != 5 {
		t.Fatalf("expected 5 invoice history rows, got %d", len(hist))
	}
}
