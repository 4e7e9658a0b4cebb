package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"freightline/internal/domain"
	"freightline/internal/engine"
	"freightline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"illegal_transition"`
	Message string         `json:"message" example:"illegal load transition draft -> awarded"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Freightline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Freightline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerDevAuth(group, cfg.Auth)
	registerParties(group, cfg.Engine)
	registerLoads(group, cfg.Engine)
	registerBids(group, cfg.Engine)
	registerThreads(group, cfg.Engine)
	registerInvoices(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps engine failures onto the HTTP envelope. Typed errors
// first, sentinels next, a generic split last.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var it engine.IllegalTransitionError
	if errors.As(err, &it) {
		return newAPIError(http.StatusConflict, "illegal_transition", err.Error(), map[string]any{
			"entity": it.Entity, "from": it.From, "to": it.To,
		})
	}
	var cc engine.ConcurrencyConflictError
	if errors.As(err, &cc) {
		return newAPIError(http.StatusConflict, "concurrency_conflict", err.Error(), map[string]any{
			"entity": cc.Entity, "id": cc.ID, "expected_version": cc.Expected,
		})
	}
	var ip engine.InsufficientPaymentError
	if errors.As(err, &ip) {
		return newAPIError(http.StatusUnprocessableEntity, "insufficient_payment", err.Error(), map[string]any{
			"invoice_id": ip.InvoiceID, "total": ip.Want, "paid": ip.Got,
		})
	}
	var fb engine.ForbiddenError
	if errors.As(err, &fb) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"role": fb.Role})
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrAlreadyAwarded):
		return newAPIError(http.StatusConflict, "already_awarded", err.Error(), nil)
	case errors.Is(err, engine.ErrLoadClosed):
		return newAPIError(http.StatusConflict, "load_closed", err.Error(), nil)
	case errors.Is(err, engine.ErrBidNotOpen):
		return newAPIError(http.StatusConflict, "bid_not_open", err.Error(), nil)
	case errors.Is(err, engine.ErrNotAwarded):
		return newAPIError(http.StatusUnprocessableEntity, "not_awarded", err.Error(), nil)
	case errors.Is(err, engine.ErrInvoiceClosed):
		return newAPIError(http.StatusUnprocessableEntity, "invoice_closed", err.Error(), nil)
	case errors.Is(err, engine.ErrPriceNotLocked), errors.Is(err, engine.ErrPriceLocked):
		return newAPIError(http.StatusUnprocessableEntity, "price_lock", err.Error(), nil)
	case errors.Is(err, engine.ErrNotVerified):
		return newAPIError(http.StatusForbidden, "not_verified", err.Error(), nil)
	case errors.Is(err, engine.ErrNotInvited):
		return newAPIError(http.StatusForbidden, "not_invited", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") || strings.Contains(lowered, "must be") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
}

// versionOrAny turns an optional expected version into the engine's
// sentinel for "no caller-side check".
func versionOrAny(v *int) int {
	if v == nil {
		return -1
	}
	return *v
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	devLoginPath := path.Join(basePath, "auth/dev/login")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	if !strings.HasPrefix(devLoginPath, "/") {
		devLoginPath = "/" + devLoginPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath || route == devLoginPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Freightline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, strings.TrimSpace(input.Body.Role))
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func registerParties(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-party",
		Method:        http.MethodPost,
		Path:          "/parties",
		Summary:       "Register party",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body RegisterPartyRequest `json:"body"`
	}) (*struct {
		Body domain.Party `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Name == "" || input.Body.Role == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name and role are required", nil)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		p, err := e.RegisterParty(ctx, input.Body.ID, input.Body.Name,
			domain.PartyRole(input.Body.Role), domain.CarrierType(input.Body.CarrierType))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Party `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-party",
		Method:      http.MethodPost,
		Path:        "/parties/{id}/verify",
		Summary:     "Verify party",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Party `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, e.Repo, "verify party", domain.RoleAdmin); authErr != nil {
			return nil, authErr
		}
		p, err := e.VerifyParty(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Party `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-party",
		Method:      http.MethodGet,
		Path:        "/parties/{id}",
		Summary:     "Get party",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Party `json:"body"`
	}, error) {
		p, err := e.Repo.GetParty(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Party `json:"body"`
		}{Body: p}, nil
	})
}

func registerLoads(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-load",
		Method:        http.MethodPost,
		Path:          "/loads",
		Summary:       "Submit load",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body SubmitLoadRequest `json:"body"`
	}) (*struct {
		Body domain.Load `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Origin == "" || input.Body.Destination == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "origin and destination are required", nil)
		}
		if input.Body.WeightTons <= 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "weight_tons must be positive", nil)
		}
		principal, authErr := requireRole(ctx, e.Repo, "submit load", domain.RoleShipper, domain.RoleAdmin)
		if authErr != nil {
			return nil, authErr
		}
		l, err := e.SubmitLoad(ctx, engine.LoadSubmitOptions{
			ID:                 input.Body.ID,
			ShipperID:          principal.ActorID,
			Origin:             input.Body.Origin,
			Destination:        input.Body.Destination,
			Cargo:              input.Body.Cargo,
			WeightTons:         input.Body.WeightTons,
			ShipperPricePerTon: input.Body.ShipperPricePerTon,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Load `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-load",
		Method:      http.MethodGet,
		Path:        "/loads/{id}",
		Summary:     "Get load",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Load `json:"body"`
	}, error) {
		l, err := e.Repo.GetLoad(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Load `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-loads",
		Method:      http.MethodGet,
		Path:        "/loads",
		Summary:     "List loads",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status    string `query:"status"`
		ShipperID string `query:"shipper_id"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body loadList `json:"body"`
	}, error) {
		status := domain.LoadStatus(input.Status)
		if input.Status != "" && !status.Valid() {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid status filter", map[string]any{"status": input.Status})
		}
		items, err := e.Repo.ListLoads(ctx, status, input.ShipperID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Load{}
		}
		return &struct {
			Body loadList `json:"body"`
		}{Body: loadList{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-for-pricing",
		Method:      http.MethodPost,
		Path:        "/loads/{id}/submit",
		Summary:     "Submit load for pricing",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body struct {
			ExpectedVersion *int `json:"expected_version,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.Load `json:"body"`
	}, error) {
		principal, authErr := requireRole(ctx, e.Repo, "submit for pricing", domain.RoleShipper, domain.RoleAdmin)
		if authErr != nil {
			return nil, authErr
		}
		l, err := e.SubmitForPricing(ctx, input.ID, principal.ActorID, versionOrAny(input.Body.ExpectedVersion))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Load `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "suggest-price",
		Method:      http.MethodPost,
		Path:        "/loads/{id}/suggest-price",
		Summary:     "Suggest price",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body SuggestPriceRequest `json:"body"`
	}) (*struct {
		Body domain.Load `json:"body"`
	}, error) {
		principal, authErr := requireRole(ctx, e.Repo, "suggest price", domain.RoleAdmin)
		if authErr != nil {
			return nil, authErr
		}
		l, err := e.SuggestPrice(ctx, input.ID, input.Body.Amount, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Load `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "price-load",
		Method:      http.MethodPost,
		Path:        "/loads/{id}/price",
		Summary:     "Lock final price",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body PriceLoadRequest `json:"body"`
	}) (*struct {
		Body domain.Load `json:"body"`
	}, error) {
		principal, authErr := requireRole(ctx, e.Repo, "price load", domain.RoleAdmin)
		if authErr != nil {
			return nil, authErr
		}
		l, err := e.PriceLoad(ctx, input.ID, input.Body.FinalPrice, principal.ActorID, versionOrAny(input.Body.ExpectedVersion))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Load `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unlock-price",
		Method:      http.MethodPost,
		Path:        "/loads/{id}/unlock-price",
		Summary:     "Unlock price",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body struct {
			Reason string `json:"reason,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.Load `json:"body"`
	}, error) {
		principal, authErr := requireRole(ctx, e.Repo, "unlock price", domain.RoleAdmin)
		if authErr != nil {
			return nil, authErr
		}
		l, err := e.UnlockPrice(ctx, input.ID, principal.ActorID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Load `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "post-load",
		Method:      http.MethodPost,
		Path:        "/loads/{id}/post",
		Summary:     "Post load to carriers",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body PostLoadRequest `json:"body"`
	}) (*struct {
		Body domain.Load `json:"body"`
	}, error) {
		principal, authErr := requireRole(ctx, e.Repo, "post load", domain.RoleAdmin)
		if authErr != nil {
			return nil, authErr
		}
		mode := domain.PostingMode(input.Body.Mode)
		if input.Body.Mode == "" {
			mode = domain.PostOpen
		}
		l, err := e.PostToCarriers(ctx, input.ID, mode, input.Body.InvitedCarriers, principal.ActorID, versionOrAny(input.Body.ExpectedVersion))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Load `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-load",
		Method:      http.MethodPost,
		Path:        "/loads/{id}/transition",
		Summary:     "Apply lifecycle transition",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body TransitionRequest `json:"body"`
	}) (*struct {
		Body domain.Load `json:"body"`
	}, error) {
		if input.Body.Target == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "target is required", nil)
		}
		target := domain.LoadStatus(input.Body.Target)
		if !target.Valid() {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown target status", map[string]any{"target": input.Body.Target})
		}
		principal, authErr := requireRole(ctx, e.Repo, "transition load", domain.RoleAdmin)
		if authErr != nil {
			return nil, authErr
		}
		l, err := e.Transition(ctx, input.ID, target, principal.ActorID, input.Body.Reason, versionOrAny(input.Body.ExpectedVersion))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Load `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "load-state-log",
		Method:      http.MethodGet,
		Path:        "/loads/{id}/log",
		Summary:     "Load state log",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body stateLogList `json:"body"`
	}, error) {
		if _, err := e.Repo.GetLoad(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListLoadStateLog(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.StateChange{}
		}
		return &struct {
			Body stateLogList `json:"body"`
		}{Body: stateLogList{Items: items}}, nil
	})
}

func registerBids(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "place-bid",
		Method:        http.MethodPost,
		Path:          "/loads/{id}/bids",
		Summary:       "Place bid",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body PlaceBidRequest `json:"body"`
	}) (*struct {
		Body BidResult `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		principal, authErr := requireRole(ctx, e.Repo, "place bid", domain.RoleCarrier, domain.RoleAdmin)
		if authErr != nil {
			return nil, authErr
		}
		carrierID := principal.ActorID
		if input.Body.CarrierID != "" {
			// Bidding on behalf of a carrier is an admin move.
			if principal.Role != string(domain.RoleAdmin) {
				return nil, newAPIError(http.StatusForbidden, "forbidden", "only admins may bid on behalf of a carrier", nil)
			}
			carrierID = input.Body.CarrierID
		}
		b, l, err := e.PlaceBid(ctx, engine.PlaceBidOptions{
			LoadID:    input.ID,
			CarrierID: carrierID,
			ActorID:   principal.ActorID,
			Amount:    input.Body.Amount,
			Notes:     input.Body.Notes,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BidResult `json:"body"`
		}{Body: BidResult{Bid: b, Load: l}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-bids",
		Method:      http.MethodGet,
		Path:        "/loads/{id}/bids",
		Summary:     "List bids",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body bidList `json:"body"`
	}, error) {
		if _, err := e.Repo.GetLoad(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListBids(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Bid{}
		}
		return &struct {
			Body bidList `json:"body"`
		}{Body: bidList{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "counter-bid",
		Method:      http.MethodPost,
		Path:        "/bids/{id}/counter",
		Summary:     "Counter offer",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body CounterOfferRequest `json:"body"`
	}) (*struct {
		Body BidResult `json:"body"`
	}, error) {
		principal, authErr := requireRole(ctx, e.Repo, "counter offer", domain.RoleCarrier, domain.RoleAdmin)
		if authErr != nil {
			return nil, authErr
		}
		b, l, err := e.CounterOffer(ctx, input.ID, principal.ActorID, input.Body.Amount, input.Body.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BidResult `json:"body"`
		}{Body: BidResult{Bid: b, Load: l}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "accept-bid",
		Method:      http.MethodPost,
		Path:        "/bids/{id}/accept",
		Summary:     "Accept bid",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body BidResult `json:"body"`
	}, error) {
		// Ownership (only the bid's carrier may accept) is enforced by
		// the engine; here only the role gate.
		principal, authErr := requireRole(ctx, e.Repo, "accept bid", domain.RoleAdmin, domain.RoleCarrier)
		if authErr != nil {
			return nil, authErr
		}
		b, l, err := e.AcceptBid(ctx, input.ID, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BidResult `json:"body"`
		}{Body: BidResult{Bid: b, Load: l}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-bid",
		Method:      http.MethodPost,
		Path:        "/bids/{id}/reject",
		Summary:     "Reject bid",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body RejectBidRequest `json:"body"`
	}) (*struct {
		Body domain.Bid `json:"body"`
	}, error) {
		principal, authErr := requireRole(ctx, e.Repo, "reject bid", domain.RoleAdmin)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.RejectBid(ctx, input.ID, principal.ActorID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Bid `json:"body"`
		}{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "expire-bids",
		Method:      http.MethodPost,
		Path:        "/loads/{id}/bids/expire",
		Summary:     "Expire stale bids",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body bidList `json:"body"`
	}, error) {
		principal, authErr := requireRole(ctx, e.Repo, "expire bids", domain.RoleAdmin)
		if authErr != nil {
			return nil, authErr
		}
		expired, err := e.ExpireBids(ctx, input.ID, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		if expired == nil {
			expired = []domain.Bid{}
		}
		return &struct {
			Body bidList `json:"body"`
		}{Body: bidList{Items: expired}}, nil
	})
}

func registerThreads(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-thread",
		Method:      http.MethodGet,
		Path:        "/loads/{id}/thread",
		Summary:     "Negotiation thread",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID       string `path:"id"`
		Messages bool   `query:"messages"`
	}) (*struct {
		Body ThreadResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetLoad(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		t, err := e.GetThread(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := ThreadResponse{Thread: t}
		if input.Messages {
			msgs, err := e.Repo.ListMessages(ctx, input.ID)
			if err != nil {
				return nil, handleError(err)
			}
			resp.Messages = msgs
		}
		return &struct {
			Body ThreadResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rebuild-thread",
		Method:      http.MethodPost,
		Path:        "/loads/{id}/thread/rebuild",
		Summary:     "Rebuild thread from messages",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.NegotiationThread `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, e.Repo, "rebuild thread", domain.RoleAdmin); authErr != nil {
			return nil, authErr
		}
		t, err := e.RebuildThread(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.NegotiationThread `json:"body"`
		}{Body: t}, nil
	})
}

func registerInvoices(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-invoice",
		Method:        http.MethodPost,
		Path:          "/loads/{id}/invoices",
		Summary:       "Create invoice",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body CreateInvoiceRequest `json:"body"`
	}) (*struct {
		Status int
		Body   domain.Invoice `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.IdempotencyKey == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "idempotency_key is required", nil)
		}
		principal, authErr := requireRole(ctx, e.Repo, "create invoice", domain.RoleAdmin)
		if authErr != nil {
			return nil, authErr
		}
		inv, created, err := e.CreateInvoice(ctx, engine.InvoiceCreateOptions{
			LoadID:         input.ID,
			Breakdown:      input.Body.Breakdown,
			IdempotencyKey: input.Body.IdempotencyKey,
			ActorID:        principal.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Status int
			Body   domain.Invoice `json:"body"`
		}{Status: http.StatusCreated, Body: inv}
		if !created {
			// Idempotent replay: the invoice already existed.
			out.Status = http.StatusOK
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-invoices",
		Method:      http.MethodGet,
		Path:        "/loads/{id}/invoices",
		Summary:     "List invoices for load",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body invoiceList `json:"body"`
	}, error) {
		if _, err := e.Repo.GetLoad(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListInvoices(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Invoice{}
		}
		return &struct {
			Body invoiceList `json:"body"`
		}{Body: invoiceList{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-invoice",
		Method:      http.MethodGet,
		Path:        "/invoices/{id}",
		Summary:     "Get invoice",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Invoice `json:"body"`
	}, error) {
		inv, err := e.Repo.GetInvoice(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Invoice `json:"body"`
		}{Body: inv}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "send-invoice",
		Method:      http.MethodPost,
		Path:        "/invoices/{id}/send",
		Summary:     "Send invoice",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Invoice `json:"body"`
	}, error) {
		principal, authErr := requireRole(ctx, e.Repo, "send invoice", domain.RoleAdmin)
		if authErr != nil {
			return nil, authErr
		}
		inv, err := e.SendInvoice(ctx, input.ID, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Invoice `json:"body"`
		}{Body: inv}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "view-invoice",
		Method:      http.MethodPost,
		Path:        "/invoices/{id}/view",
		Summary:     "Mark invoice viewed",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Invoice `json:"body"`
	}, error) {
		principal, authErr := requireRole(ctx, e.Repo, "view invoice", domain.RoleShipper, domain.RoleAdmin)
		if authErr != nil {
			return nil, authErr
		}
		inv, err := e.MarkInvoiceViewed(ctx, input.ID, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Invoice `json:"body"`
		}{Body: inv}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "respond-invoice",
		Method:      http.MethodPost,
		Path:        "/invoices/{id}/respond",
		Summary:     "Shipper response",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                 `path:"id"`
		Body InvoiceResponseRequest `json:"body"`
	}) (*struct {
		Body domain.Invoice `json:"body"`
	}, error) {
		if input.Body.Response == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "response is required", nil)
		}
		principal, authErr := requireRole(ctx, e.Repo, "respond to invoice", domain.RoleShipper)
		if authErr != nil {
			return nil, authErr
		}
		inv, err := e.RespondToInvoice(ctx, input.ID, principal.ActorID,
			domain.ShipperResponse(input.Body.Response), input.Body.CounterAmount, input.Body.Message)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Invoice `json:"body"`
		}{Body: inv}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revise-invoice",
		Method:        http.MethodPost,
		Path:          "/invoices/{id}/revise",
		Summary:       "Revise invoice",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body ReviseInvoiceRequest `json:"body"`
	}) (*struct {
		Body domain.Invoice `json:"body"`
	}, error) {
		if input.Body.IdempotencyKey == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "idempotency_key is required", nil)
		}
		principal, authErr := requireRole(ctx, e.Repo, "revise invoice", domain.RoleAdmin)
		if authErr != nil {
			return nil, authErr
		}
		inv, err := e.ReviseInvoice(ctx, input.ID, input.Body.Breakdown, input.Body.IdempotencyKey, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Invoice `json:"body"`
		}{Body: inv}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "pay-invoice",
		Method:      http.MethodPost,
		Path:        "/invoices/{id}/pay",
		Summary:     "Confirm payment",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body ConfirmPaymentRequest `json:"body"`
	}) (*struct {
		Body domain.Invoice `json:"body"`
	}, error) {
		principal, authErr := requireRole(ctx, e.Repo, "confirm payment", domain.RoleAdmin)
		if authErr != nil {
			return nil, authErr
		}
		inv, err := e.ConfirmPayment(ctx, input.ID, input.Body.Amount, input.Body.Reference, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Invoice `json:"body"`
		}{Body: inv}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "overdue-invoice",
		Method:      http.MethodPost,
		Path:        "/invoices/{id}/overdue",
		Summary:     "Mark invoice overdue",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Invoice `json:"body"`
	}, error) {
		principal, authErr := requireRole(ctx, e.Repo, "mark overdue", domain.RoleAdmin)
		if authErr != nil {
			return nil, authErr
		}
		inv, err := e.MarkInvoiceOverdue(ctx, input.ID, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Invoice `json:"body"`
		}{Body: inv}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "invoice-push-failed",
		Method:      http.MethodPost,
		Path:        "/invoices/{id}/push-failed",
		Summary:     "Record push failure",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body struct {
			Reason string `json:"reason,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.Invoice `json:"body"`
	}, error) {
		principal, authErr := requireRole(ctx, e.Repo, "record push failure", domain.RoleAdmin)
		if authErr != nil {
			return nil, authErr
		}
		reason := input.Body.Reason
		if reason == "" {
			reason = "delivery failed"
		}
		inv, err := e.MarkPushFailed(ctx, input.ID, principal.ActorID, reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Invoice `json:"body"`
		}{Body: inv}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-invoice",
		Method:      http.MethodPost,
		Path:        "/invoices/{id}/cancel",
		Summary:     "Cancel invoice",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body CancelInvoiceRequest `json:"body"`
	}) (*struct {
		Body domain.Invoice `json:"body"`
	}, error) {
		principal, authErr := requireRole(ctx, e.Repo, "cancel invoice", domain.RoleAdmin)
		if authErr != nil {
			return nil, authErr
		}
		inv, err := e.CancelInvoice(ctx, input.ID, principal.ActorID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Invoice `json:"body"`
		}{Body: inv}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "invoice-history",
		Method:      http.MethodGet,
		Path:        "/invoices/{id}/history",
		Summary:     "Invoice history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body stateLogList `json:"body"`
	}, error) {
		if _, err := e.Repo.GetInvoice(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListInvoiceHistory(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.StateChange{}
		}
		return &struct {
			Body stateLogList `json:"body"`
		}{Body: stateLogList{Items: items}}, nil
	})
}
