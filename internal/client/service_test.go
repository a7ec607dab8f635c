package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/finanspro/dbo/internal/apperror"
	"github.com/finanspro/dbo/internal/audit"
	"github.com/finanspro/dbo/internal/config"
	"github.com/finanspro/dbo/internal/middleware"
	"github.com/finanspro/dbo/internal/model"
	"github.com/finanspro/dbo/internal/store"
	"github.com/finanspro/dbo/internal/store/memory"
	"github.com/finanspro/dbo/pkg/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testWorkflow = config.WorkflowConfig{
	DefaultCurrency:    "RUB",
	DefaultCardBalance: decimal.NewFromInt(10000),
}

func newTestService(st *memory.Store) (*ClientService, *middleware.Auth, *audit.Recorder) {
	auth := middleware.NewAuth(config.AuthConfig{JWTSecret: "test-secret", Issuer: "dbo-test", TokenTTL: time.Hour})
	rec := &audit.Recorder{}
	return NewClientService(st, auth, rec, testWorkflow), auth, rec
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	svc, auth, rec := newTestService(st)
	operator := model.OperatorSession(uuid.New(), model.RoleOperatorClientService)

	result, err := svc.Create(ctx, operator, CreateInput{
		Name:         " Anna Smirnova ",
		Email:        "Anna@Example.com",
		IsPrivileged: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "Anna Smirnova", result.Client.Name)
	assert.Equal(t, "anna@example.com", result.Client.Email)
	assert.True(t, result.Client.IsActive)
	assert.True(t, result.Client.IsPrivileged)
	require.NotNil(t, result.Client.PrimaryCardID)
	assert.Equal(t, result.Card.ID, *result.Client.PrimaryCardID)
	assert.Equal(t, "RUB", result.Card.Currency)
	assert.True(t, result.Card.Balance.Equal(decimal.NewFromInt(10000)))

	sess, err := auth.ParseToken(result.Token)
	require.NoError(t, err)
	assert.Equal(t, model.RoleClient, sess.Role)
	assert.Equal(t, result.Client.ID, *sess.ClientID)

	txns := st.Transactions()
	require.Len(t, txns, 1)
	assert.Equal(t, model.TransactionDeposit, txns[0].Type)
	assert.Equal(t, []string{audit.EventClientCreated}, rec.Types())

	require.NoError(t, st.InTx(ctx, func(tx store.Tx) error {
		cards, err := tx.ListCards(ctx, result.Client.ID)
		require.NoError(t, err)
		assert.Len(t, cards, 1)
		return nil
	}))
}

func TestCreateRejects(t *testing.T) {
	st := memory.New()
	svc, _, rec := newTestService(st)

	tests := []struct {
		name string
		sess model.Session
		in   CreateInput
		want apperror.Kind
	}{
		{name: "client cannot onboard", sess: model.ClientSession(uuid.New()), in: CreateInput{Name: "Oleg"}, want: apperror.KindForbidden},
		{name: "blank name", sess: model.OperatorSession(uuid.New(), model.RoleAdmin), in: CreateInput{Name: "  ", Email: "x@example.com"}, want: apperror.KindValidation},
		{name: "blank email", sess: model.OperatorSession(uuid.New(), model.RoleAdmin), in: CreateInput{Name: "Oleg", Email: " "}, want: apperror.KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.sess, tt.in)
			assert.Equal(t, tt.want, apperror.KindOf(err))
		})
	}
	assert.Empty(t, rec.Types())
	assert.Empty(t, st.Transactions())
}

func TestCreateDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	svc, _, rec := newTestService(st)
	operator := model.OperatorSession(uuid.New(), model.RoleAdmin)

	_, err := svc.Create(ctx, operator, CreateInput{Name: "Anna", Email: "anna@example.com"})
	require.NoError(t, err)

	// Emails are normalized before the uniqueness check.
	_, err = svc.Create(ctx, operator, CreateInput{Name: "Anna Two", Email: " ANNA@example.com "})
	assert.True(t, apperror.Is(err, apperror.KindInvalidState), "got %v", err)

	assert.Len(t, st.Transactions(), 1)
	assert.Equal(t, []string{audit.EventClientCreated}, rec.Types())
}

func TestGet(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	svc, _, _ := newTestService(st)

	result, err := svc.Create(ctx, model.OperatorSession(uuid.New(), model.RoleOperatorSecurity), CreateInput{Name: "Oleg", Email: "oleg@example.com"})
	require.NoError(t, err)

	got, err := svc.Get(ctx, model.ClientSession(result.Client.ID), result.Client.ID)
	require.NoError(t, err)
	assert.Equal(t, "Oleg", got.Name)

	_, err = svc.Get(ctx, model.ClientSession(uuid.New()), result.Client.ID)
	assert.True(t, apperror.Is(err, apperror.KindForbidden))
}

func TestCreateHandler(t *testing.T) {
	st := memory.New()
	svc, _, _ := newTestService(st)
	handler := NewClientHandler(svc)

	tests := []struct {
		name       string
		sess       *model.Session
		body       string
		wantStatus int
	}{
		{name: "created", sess: &model.Session{UserID: uuid.New(), Role: model.RoleAdmin}, body: `{"name":"Irina","email":"irina@example.com"}`, wantStatus: http.StatusCreated},
		{name: "invalid email", sess: &model.Session{UserID: uuid.New(), Role: model.RoleAdmin}, body: `{"name":"Irina","email":"nope"}`, wantStatus: http.StatusBadRequest},
		{name: "unknown field", sess: &model.Session{UserID: uuid.New(), Role: model.RoleAdmin}, body: `{"name":"Irina","email":"irina@example.com","role":"admin"}`, wantStatus: http.StatusBadRequest},
		{name: "client session", sess: func() *model.Session { s := model.ClientSession(uuid.New()); return &s }(), body: `{"name":"Irina","email":"irina@example.com"}`, wantStatus: http.StatusForbidden},
		{name: "no session", body: `{"name":"Irina","email":"irina@example.com"}`, wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/clients", strings.NewReader(tt.body))
			if tt.sess != nil {
				req = req.WithContext(middleware.WithSession(req.Context(), *tt.sess))
			}
			rec := httptest.NewRecorder()

			handler.Create(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusCreated {
				var body types.CreateClientResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, "Irina", body.Client.Name)
				assert.NotEmpty(t, body.Token)
			}
		})
	}
}
