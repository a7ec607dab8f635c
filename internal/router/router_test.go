package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/finanspro/dbo/internal/audit"
	"github.com/finanspro/dbo/internal/catalog"
	"github.com/finanspro/dbo/internal/client"
	"github.com/finanspro/dbo/internal/config"
	"github.com/finanspro/dbo/internal/ledger"
	"github.com/finanspro/dbo/internal/middleware"
	"github.com/finanspro/dbo/internal/model"
	"github.com/finanspro/dbo/internal/redis"
	"github.com/finanspro/dbo/internal/server"
	"github.com/finanspro/dbo/internal/servicerequest"
	"github.com/finanspro/dbo/internal/store/memory"
	"github.com/finanspro/dbo/internal/subscription"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	handler http.Handler
	auth    *middleware.Auth
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	cfg := &config.Config{
		Primary: config.PrimaryConfig{Env: "test", Storage: "memory"},
		Auth:    config.AuthConfig{JWTSecret: "router-test-secret", Issuer: "dbo-test", TokenTTL: time.Hour},
		Workflow: config.WorkflowConfig{
			ReservedMarker:       "test-marker",
			FallbackCategory:     "Additional services",
			DefaultCurrency:      "RUB",
			DefaultCardBalance:   decimal.NewFromInt(10000),
			BillingPeriodDays:    30,
			RenewalBatchSize:     10,
			AutoRenewalByDefault: true,
		},
	}
	log := zerolog.Nop()
	srv := &server.Server{Config: cfg, Logger: &log, Store: memory.New()}

	emitter := audit.Nop{}
	auth := middleware.NewAuth(cfg.Auth)
	catalogService := catalog.NewCatalogService(srv.Store, cfg.Workflow)

	h := &Handlers{
		Client:         client.NewClientHandler(client.NewClientService(srv.Store, auth, emitter, cfg.Workflow)),
		Ledger:         ledger.NewLedgerHandler(ledger.NewLedgerService(srv.Store, redis.NopLocker{}, emitter)),
		Catalog:        catalog.NewCatalogHandler(catalogService),
		ServiceRequest: servicerequest.NewRequestHandler(servicerequest.NewRequestService(srv.Store, catalogService, emitter, cfg.Workflow)),
		Subscription:   subscription.NewSubscriptionHandler(subscription.NewSubscriptionService(srv.Store, redis.NopLocker{}, emitter, cfg.Workflow)),
	}

	return &testAPI{handler: NewRouter(srv, h), auth: auth}
}

func (a *testAPI) token(t *testing.T, sess model.Session) string {
	t.Helper()
	tok, err := a.auth.IssueToken(sess, time.Now())
	require.NoError(t, err)
	return tok
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	if out != nil && rec.Code < http.StatusBadRequest {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t)

	var body map[string]string
	code := api.do(t, http.MethodGet, "/healthz", "", nil, &body)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["database"])
}

func TestAPIRequiresToken(t *testing.T) {
	api := newTestAPI(t)

	assert.Equal(t, http.StatusUnauthorized, api.do(t, http.MethodGet, "/api/v1/services", "", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, api.do(t, http.MethodGet, "/api/v1/services", "garbage", nil, nil))
}

func TestRequestToSubscriptionFlow(t *testing.T) {
	api := newTestAPI(t)

	admin := api.token(t, model.OperatorSession(uuid.New(), model.RoleAdmin))
	security := api.token(t, model.OperatorSession(uuid.New(), model.RoleOperatorSecurity))

	// Onboard a client; the response carries the client's own token.
	var created struct {
		Client model.Client `json:"client"`
		Card   model.Card   `json:"card"`
		Token  string       `json:"token"`
	}
	code := api.do(t, http.MethodPost, "/api/v1/clients", admin, map[string]any{
		"name":  "Ivan Petrov",
		"email": "ivan@example.com",
	}, &created)
	require.Equal(t, http.StatusCreated, code)
	require.NotEmpty(t, created.Token)
	assert.True(t, created.Card.Balance.Equal(decimal.NewFromInt(10000)))
	clientToken := created.Token

	// Submit a request for a new service.
	var submitted struct {
		RequestID uuid.UUID           `json:"request_id"`
		Status    model.RequestStatus `json:"status"`
	}
	code = api.do(t, http.MethodPost, "/api/v1/service-requests", clientToken, map[string]any{
		"name":        "Travel Insurance",
		"description": "Annual cover",
		"price":       "500",
	}, &submitted)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, model.RequestPending, submitted.Status)

	// Clients cannot see the operator queue or review.
	assert.Equal(t, http.StatusForbidden, api.do(t, http.MethodGet, "/api/v1/service-requests/pending", clientToken, nil, nil))
	assert.Equal(t, http.StatusForbidden, api.do(t, http.MethodPost,
		"/api/v1/service-requests/"+submitted.RequestID.String()+"/review", admin,
		map[string]string{"decision": "approve"}, nil))

	var pending struct {
		Items []model.ServiceRequest `json:"items"`
		Count int                    `json:"count"`
	}
	code = api.do(t, http.MethodGet, "/api/v1/service-requests/pending", security, nil, &pending)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, 1, pending.Count)

	var reviewed struct {
		Request model.ServiceRequest `json:"request"`
		Service *model.Service       `json:"service"`
	}
	code = api.do(t, http.MethodPost,
		"/api/v1/service-requests/"+submitted.RequestID.String()+"/review", security,
		map[string]string{"decision": "approve"}, &reviewed)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, reviewed.Service)
	assert.Equal(t, model.RequestApproved, reviewed.Request.Status)

	// A second review of the same request is a state conflict.
	assert.Equal(t, http.StatusConflict, api.do(t, http.MethodPost,
		"/api/v1/service-requests/"+submitted.RequestID.String()+"/review", security,
		map[string]string{"decision": "reject"}, nil))

	// The new service is in the catalog and can be connected.
	var services struct {
		Items []model.Service `json:"items"`
	}
	code = api.do(t, http.MethodGet, "/api/v1/services?q=travel", clientToken, nil, &services)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, services.Items, 1)
	assert.Equal(t, reviewed.Service.ID, services.Items[0].ID)

	var connected struct {
		Subscription model.ClientService `json:"subscription"`
		Transaction  *model.Transaction  `json:"transaction"`
	}
	code = api.do(t, http.MethodPost, "/api/v1/services/"+reviewed.Service.ID.String()+"/connect", clientToken, nil, &connected)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, model.SubscriptionActive, connected.Subscription.Status)
	require.NotNil(t, connected.Transaction)
	assert.True(t, connected.Transaction.Amount.Equal(decimal.NewFromInt(500)))

	// Connecting again is a no-op.
	code = api.do(t, http.MethodPost, "/api/v1/services/"+reviewed.Service.ID.String()+"/connect", clientToken, nil, &connected)
	assert.Equal(t, http.StatusOK, code)

	var cards struct {
		Items []model.Card `json:"items"`
	}
	code = api.do(t, http.MethodGet, "/api/v1/cards", clientToken, nil, &cards)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, cards.Items, 1)
	assert.True(t, cards.Items[0].Balance.Equal(decimal.NewFromInt(9500)))

	code = api.do(t, http.MethodPost, "/api/v1/services/"+reviewed.Service.ID.String()+"/disconnect", clientToken, nil, &connected.Subscription)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, model.SubscriptionCancelled, connected.Subscription.Status)
}
