package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"freightline/internal/config"
	"freightline/internal/db"
	"freightline/internal/domain"
	"freightline/internal/engine"
	"freightline/internal/migrate"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("mkt-test")
	e := engine.New(conn, cfg)
	ctx := context.Background()

	seed := func(id string, role domain.PartyRole, ct domain.CarrierType) {
		if _, err := e.RegisterParty(ctx, id, id, role, ct); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
		if role != domain.RoleAdmin {
			if _, err := e.VerifyParty(ctx, id); err != nil {
				t.Fatalf("verify %s: %v", id, err)
			}
		}
	}
	seed("admin-1", domain.RoleAdmin, "")
	seed("ship-1", domain.RoleShipper, "")
	seed("carrier-1", domain.RoleCarrier, domain.CarrierEnterprise)
	seed("carrier-2", domain.RoleCarrier, domain.CarrierSolo)

	handler, err := New(Config{
		Engine: e,
		Auth: AuthConfig{
			JWTSecret:              testJWTSecret,
			AllowLegacyActorHeader: true,
			Logger:                 log.New(io.Discard, "", 0),
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asActor(id string) map[string]string {
	return map[string]string{"X-Actor-Id": id}
}

type errEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, data []byte) errEnvelope {
	t.Helper()
	var env errEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env
}

func TestLoadBidInvoiceFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/loads", map[string]any{
		"origin":      "Mumbai",
		"destination": "Delhi",
		"weight_tons": 24,
	}, asActor("ship-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit load: %d %s", res.StatusCode, string(data))
	}
	var load domain.Load
	if err := json.Unmarshal(data, &load); err != nil {
		t.Fatalf("unmarshal load: %v", err)
	}
	if load.Status != domain.LoadDraft || load.ShipperID != "ship-1" {
		t.Fatalf("unexpected load: %+v", load)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/loads/"+load.ID+"/submit", map[string]any{}, asActor("ship-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit for pricing: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/loads/"+load.ID+"/price", map[string]any{
		"final_price": 50000,
	}, asActor("admin-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("price load: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/loads/"+load.ID+"/post", map[string]any{
		"mode": "open",
	}, asActor("admin-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("post load: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/loads/"+load.ID+"/bids", map[string]any{
		"amount": 48000,
	}, asActor("carrier-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("place bid: %d %s", res.StatusCode, string(data))
	}
	var placed BidResult
	if err := json.Unmarshal(data, &placed); err != nil {
		t.Fatalf("unmarshal bid result: %v", err)
	}
	if placed.Load.Status != domain.LoadOpenForBid {
		t.Fatalf("expected open_for_bid, got %s", placed.Load.Status)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/bids/"+placed.Bid.ID+"/accept", nil, asActor("admin-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept bid: %d %s", res.StatusCode, string(data))
	}
	var accepted BidResult
	_ = json.Unmarshal(data, &accepted)
	if accepted.Load.Status != domain.LoadAwarded {
		t.Fatalf("expected awarded, got %s", accepted.Load.Status)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/loads/"+load.ID+"/invoices", map[string]any{
		"idempotency_key": "key-1",
		"breakdown":       map[string]any{},
	}, asActor("admin-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create invoice: %d %s", res.StatusCode, string(data))
	}
	var inv domain.Invoice
	if err := json.Unmarshal(data, &inv); err != nil {
		t.Fatalf("unmarshal invoice: %v", err)
	}
	if inv.Total != 59000 {
		t.Fatalf("expected total 59000, got %d", inv.Total)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/invoices/"+inv.ID+"/send", nil, asActor("admin-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("send invoice: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/invoices/"+inv.ID+"/respond", map[string]any{
		"response": "approve",
	}, asActor("ship-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve invoice: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/invoices/"+inv.ID+"/pay", map[string]any{
		"amount":    59000,
		"reference": "NEFT-42",
	}, asActor("admin-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("pay invoice: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/loads/"+load.ID, nil, asActor("admin-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get load: %d %s", res.StatusCode, string(data))
	}
	var final domain.Load
	_ = json.Unmarshal(data, &final)
	if final.Status != domain.LoadInvoicePaid {
		t.Fatalf("expected invoice_paid, got %s", final.Status)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/loads", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}
	env := decodeError(t, data)
	if env.Error.Code != "unauthorized" {
		t.Fatalf("expected unauthorized code, got %q", env.Error.Code)
	}

	// health stays open
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", res.StatusCode, string(data))
	}
}

func TestJWTAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "ship-1",
		"role": "shipper",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/loads", map[string]any{
		"origin":      "Pune",
		"destination": "Nagpur",
		"weight_tons": 12,
	}, map[string]string{"Authorization": "Bearer " + signed})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit with jwt: %d %s", res.StatusCode, string(data))
	}
	var load domain.Load
	_ = json.Unmarshal(data, &load)
	if load.ShipperID != "ship-1" {
		t.Fatalf("expected subject as shipper, got %q", load.ShipperID)
	}

	// wrong key is rejected
	bad := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "ship-1"})
	badSigned, _ := bad.SignedString([]byte("other-secret"))
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/loads", nil, map[string]string{"Authorization": "Bearer " + badSigned})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d %s", res.StatusCode, string(data))
	}
}

func TestDevLoginIssuesUsableToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	// no auth needed for the login endpoint itself
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"actor_id": "ship-1",
		"role":     "shipper",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	_ = json.Unmarshal(data, &login)
	if login.Token == "" {
		t.Fatalf("expected a token")
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/loads", map[string]any{
		"origin":      "Surat",
		"destination": "Indore",
		"weight_tons": 9,
	}, map[string]string{"Authorization": "Bearer " + login.Token})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit with dev token: %d %s", res.StatusCode, string(data))
	}
	var load domain.Load
	_ = json.Unmarshal(data, &load)
	if load.ShipperID != "ship-1" {
		t.Fatalf("expected ship-1 as shipper, got %q", load.ShipperID)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"actor_id": ""}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty actor, got %d %s", res.StatusCode, string(data))
	}
}

func TestRoleEnforcement(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/loads", map[string]any{
		"origin":      "Mumbai",
		"destination": "Delhi",
		"weight_tons": 24,
	}, asActor("ship-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit load: %d %s", res.StatusCode, string(data))
	}
	var load domain.Load
	_ = json.Unmarshal(data, &load)

	// shippers may not price
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/loads/"+load.ID+"/price", map[string]any{
		"final_price": 50000,
	}, asActor("ship-1"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, string(data))
	}
	env := decodeError(t, data)
	if env.Error.Code != "forbidden" {
		t.Fatalf("expected forbidden code, got %q", env.Error.Code)
	}

	// carriers may not bid on behalf of others
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/loads/"+load.ID+"/bids", map[string]any{
		"carrier_id": "carrier-2",
		"amount":     40000,
	}, asActor("carrier-1"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, string(data))
	}
}

func TestCarrierAcceptsCounterOverAPI(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	ctx := context.Background()

	l, err := srv.Engine.SubmitLoad(ctx, engine.LoadSubmitOptions{
		ShipperID: "ship-1", Origin: "Mumbai", Destination: "Delhi", WeightTons: 24,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := srv.Engine.SubmitForPricing(ctx, l.ID, "ship-1", -1); err != nil {
		t.Fatalf("pending: %v", err)
	}
	if _, err := srv.Engine.PriceLoad(ctx, l.ID, 50000, "admin-1", -1); err != nil {
		t.Fatalf("price: %v", err)
	}
	if _, err := srv.Engine.PostToCarriers(ctx, l.ID, domain.PostOpen, nil, "admin-1", -1); err != nil {
		t.Fatalf("post: %v", err)
	}
	b, _, err := srv.Engine.PlaceBid(ctx, engine.PlaceBidOptions{
		LoadID: l.ID, CarrierID: "carrier-1", ActorID: "carrier-1", Amount: 48000,
	})
	if err != nil {
		t.Fatalf("bid: %v", err)
	}
	if _, _, err := srv.Engine.CounterOffer(ctx, b.ID, "admin-1", 49000, "fuel adjustment"); err != nil {
		t.Fatalf("counter: %v", err)
	}

	// another carrier may not settle someone else's thread
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/bids/"+b.ID+"/accept", nil, asActor("carrier-2"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for other carrier, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/bids/"+b.ID+"/accept", nil, asActor("carrier-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("carrier accept: %d %s", res.StatusCode, string(data))
	}
	var accepted BidResult
	_ = json.Unmarshal(data, &accepted)
	if accepted.Load.Status != domain.LoadAwarded {
		t.Fatalf("expected awarded, got %s", accepted.Load.Status)
	}
	if accepted.Bid.EffectiveAmount() != 49000 {
		t.Fatalf("deal must settle at the counter, got %d", accepted.Bid.EffectiveAmount())
	}
}

func TestInvoiceReplayReturnsOK(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	ctx := context.Background()

	l, err := srv.Engine.SubmitLoad(ctx, engine.LoadSubmitOptions{
		ShipperID: "ship-1", Origin: "Mumbai", Destination: "Delhi", WeightTons: 24,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := srv.Engine.SubmitForPricing(ctx, l.ID, "ship-1", -1); err != nil {
		t.Fatalf("pending: %v", err)
	}
	if _, err := srv.Engine.PriceLoad(ctx, l.ID, 50000, "admin-1", -1); err != nil {
		t.Fatalf("price: %v", err)
	}
	if _, err := srv.Engine.PostToCarriers(ctx, l.ID, domain.PostOpen, nil, "admin-1", -1); err != nil {
		t.Fatalf("post: %v", err)
	}
	b, _, err := srv.Engine.PlaceBid(ctx, engine.PlaceBidOptions{
		LoadID: l.ID, CarrierID: "carrier-1", ActorID: "carrier-1", Amount: 48000,
	})
	if err != nil {
		t.Fatalf("bid: %v", err)
	}
	if _, _, err := srv.Engine.AcceptBid(ctx, b.ID, "admin-1"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	body := map[string]any{"idempotency_key": "key-1", "breakdown": map[string]any{}}
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/loads/"+l.ID+"/invoices", body, asActor("admin-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create invoice: %d %s", res.StatusCode, string(data))
	}
	var first domain.Invoice
	_ = json.Unmarshal(data, &first)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/loads/"+l.ID+"/invoices", body, asActor("admin-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("replay must return 200, got %d %s", res.StatusCode, string(data))
	}
	var replay domain.Invoice
	_ = json.Unmarshal(data, &replay)
	if replay.ID != first.ID || replay.Version != first.Version {
		t.Fatalf("replay returned a different invoice: %s vs %s", first.ID, replay.ID)
	}
}

func TestIllegalTransitionEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/loads", map[string]any{
		"origin":      "Mumbai",
		"destination": "Delhi",
		"weight_tons": 24,
	}, asActor("ship-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit load: %d %s", res.StatusCode, string(data))
	}
	var load domain.Load
	_ = json.Unmarshal(data, &load)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/loads/"+load.ID+"/transition", map[string]any{
		"target": "delivered",
	}, asActor("admin-1"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, string(data))
	}
	env := decodeError(t, data)
	if env.Error.Code != "illegal_transition" {
		t.Fatalf("expected illegal_transition code, got %q", env.Error.Code)
	}
	if env.Error.Details["from"] != "draft" || env.Error.Details["to"] != "delivered" {
		t.Fatalf("missing transition details: %+v", env.Error.Details)
	}

	// unknown target is a client error, not a conflict
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/loads/"+load.ID+"/transition", map[string]any{
		"target": "teleported",
	}, asActor("admin-1"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", res.StatusCode, string(data))
	}
}

func TestNotFoundEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/loads/no-such-load", nil, asActor("admin-1"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(data))
	}
	env := decodeError(t, data)
	if env.Error.Code != "not_found" {
		t.Fatalf("expected not_found code, got %q", env.Error.Code)
	}
}

func TestStaleVersionConflictOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/loads", map[string]any{
		"origin":      "Mumbai",
		"destination": "Delhi",
		"weight_tons": 24,
	}, asActor("ship-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit load: %d %s", res.StatusCode, string(data))
	}
	var load domain.Load
	_ = json.Unmarshal(data, &load)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/loads/"+load.ID+"/submit", map[string]any{
		"expected_version": 1,
	}, asActor("ship-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit for pricing: %d %s", res.StatusCode, string(data))
	}

	// replaying with the old version must conflict
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/loads/"+load.ID+"/submit", map[string]any{
		"expected_version": 1,
	}, asActor("ship-1"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, string(data))
	}
	env := decodeError(t, data)
	if env.Error.Code != "concurrency_conflict" {
		t.Fatalf("expected concurrency_conflict code, got %q", env.Error.Code)
	}
}

func TestThreadEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	ctx := context.Background()

	l, err := srv.Engine.SubmitLoad(ctx, engine.LoadSubmitOptions{
		ShipperID: "ship-1", Origin: "Mumbai", Destination: "Delhi", WeightTons: 24,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := srv.Engine.SubmitForPricing(ctx, l.ID, "ship-1", -1); err != nil {
		t.Fatalf("pending: %v", err)
	}
	if _, err := srv.Engine.PriceLoad(ctx, l.ID, 50000, "admin-1", -1); err != nil {
		t.Fatalf("price: %v", err)
	}
	if _, err := srv.Engine.PostToCarriers(ctx, l.ID, domain.PostOpen, nil, "admin-1", -1); err != nil {
		t.Fatalf("post: %v", err)
	}
	if _, _, err := srv.Engine.PlaceBid(ctx, engine.PlaceBidOptions{
		LoadID: l.ID, CarrierID: "carrier-1", ActorID: "carrier-1", Amount: 48000,
	}); err != nil {
		t.Fatalf("bid: %v", err)
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/loads/"+l.ID+"/thread?messages=true", nil, asActor("admin-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("thread: %d %s", res.StatusCode, string(data))
	}
	var resp ThreadResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("unmarshal thread: %v", err)
	}
	if resp.Thread.TotalBids != 1 || resp.Thread.RealBids != 1 {
		t.Fatalf("unexpected thread: %+v", resp.Thread)
	}
	if len(resp.Messages) == 0 {
		t.Fatalf("expected negotiation messages")
	}
}
