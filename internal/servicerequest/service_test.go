package servicerequest

import (
	"context"
	"sync"
	"testing"

	"github.com/finanspro/dbo/internal/apperror"
	"github.com/finanspro/dbo/internal/audit"
	"github.com/finanspro/dbo/internal/catalog"
	"github.com/finanspro/dbo/internal/config"
	"github.com/finanspro/dbo/internal/model"
	"github.com/finanspro/dbo/internal/store"
	"github.com/finanspro/dbo/internal/store/memory"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testWorkflow = config.WorkflowConfig{
	ReservedMarker:   "test-marker",
	FallbackCategory: "Additional services",
	DefaultCurrency:  "RUB",
}

type fixture struct {
	st       *memory.Store
	catalog  *catalog.CatalogService
	svc      *RequestService
	recorder *audit.Recorder
	client   model.Session
	security model.Session
}

func newFixture(t *testing.T, cfg config.WorkflowConfig) *fixture {
	t.Helper()
	st := memory.New()
	clientID := uuid.New()
	require.NoError(t, st.InTx(context.Background(), func(tx store.Tx) error {
		return tx.CreateClient(context.Background(), &model.Client{ID: clientID, Name: "Ivan Petrov", Email: "ivan@example.com", IsActive: true})
	}))

	cat := catalog.NewCatalogService(st, cfg)
	recorder := &audit.Recorder{}
	return &fixture{
		st:       st,
		catalog:  cat,
		svc:      NewRequestService(st, cat, recorder, cfg),
		recorder: recorder,
		client:   model.ClientSession(clientID),
		security: model.OperatorSession(uuid.New(), model.RoleOperatorSecurity),
	}
}

func (f *fixture) submit(t *testing.T, name, price string) *model.ServiceRequest {
	t.Helper()
	req, err := f.svc.Submit(context.Background(), f.client, SubmitInput{
		Name:        name,
		Description: name + " for premium clients",
		Price:       price,
	})
	require.NoError(t, err)
	return req
}

func (f *fixture) catalogNames(t *testing.T) []string {
	t.Helper()
	services, err := f.catalog.List(context.Background(), f.client, catalog.ListInput{})
	require.NoError(t, err)
	var out []string
	for _, s := range services {
		out = append(out, s.Name)
	}
	return out
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		lenient bool
		want    string
		wantErr bool
	}{
		{name: "empty is free", raw: "", want: "0"},
		{name: "integer", raw: "5000", want: "5000"},
		{name: "decimal comma", raw: "99,90", want: "99.9"},
		{name: "rounded to kopecks", raw: "10.005", want: "10.01"},
		{name: "strict rejects text", raw: "a lot", wantErr: true},
		{name: "strict rejects negative", raw: "-5", wantErr: true},
		{name: "lenient coerces text", raw: "a lot", lenient: true, want: "0"},
		{name: "lenient coerces negative", raw: "-5", lenient: true, want: "0"},
		{name: "largest price", raw: "9999999999999.99", want: "9999999999999.99"},
		{name: "too many integer digits", raw: "123456789012345678", wantErr: true},
		{name: "exponent past column", raw: "1e14", wantErr: true},
		{name: "huge exponent", raw: "1e200000000", wantErr: true},
		{name: "tiny exponent", raw: "1e-200000000", wantErr: true},
		{name: "just past the column", raw: "9999999999999.995", wantErr: true},
		{name: "small exponent accepted", raw: "1.5e3", want: "1500"},
		{name: "lenient coerces huge", raw: "1e200000000", lenient: true, want: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePrice(tt.raw, tt.lenient)
			if tt.wantErr {
				assert.True(t, apperror.Is(err, apperror.KindValidation))
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}
}

func TestSubmit(t *testing.T) {
	f := newFixture(t, testWorkflow)
	ctx := context.Background()

	tests := []struct {
		name     string
		sess     model.Session
		in       SubmitInput
		wantKind apperror.Kind
	}{
		{
			name:     "empty name",
			sess:     f.client,
			in:       SubmitInput{Name: "  ", Description: "desc", Price: "10"},
			wantKind: apperror.KindValidation,
		},
		{
			name:     "empty description",
			sess:     f.client,
			in:       SubmitInput{Name: "Cashback", Description: "", Price: "10"},
			wantKind: apperror.KindValidation,
		},
		{
			name:     "malformed price",
			sess:     f.client,
			in:       SubmitInput{Name: "Cashback", Description: "desc", Price: "ten"},
			wantKind: apperror.KindValidation,
		},
		{
			name:     "operators cannot submit",
			sess:     f.security,
			in:       SubmitInput{Name: "Cashback", Description: "desc", Price: "10"},
			wantKind: apperror.KindForbidden,
		},
		{
			name:     "unknown client",
			sess:     model.ClientSession(uuid.New()),
			in:       SubmitInput{Name: "Cashback", Description: "desc", Price: "10"},
			wantKind: apperror.KindNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Submit(ctx, tt.sess, tt.in)
			assert.Equal(t, tt.wantKind, apperror.KindOf(err))
		})
	}

	req, err := f.svc.Submit(ctx, f.client, SubmitInput{Name: " Cashback ", Description: " 5% back ", Price: "250"})
	require.NoError(t, err)
	assert.Equal(t, model.RequestPending, req.Status)
	assert.Equal(t, "Cashback", req.Name)
	assert.Equal(t, "5% back", req.Description)
	assert.Nil(t, req.ReviewedBy)
	assert.Equal(t, []string{audit.EventServiceRequestSubmitted}, f.recorder.Types())
}

func TestSubmitLenientPrice(t *testing.T) {
	cfg := testWorkflow
	cfg.LenientPriceParse = true
	f := newFixture(t, cfg)

	req := f.submit(t, "Cashback", "ten roubles")
	assert.True(t, req.Price.IsZero())
}

func TestApproveMaterializesExactlyOnce(t *testing.T) {
	f := newFixture(t, testWorkflow)
	ctx := context.Background()
	req := f.submit(t, "Premium concierge", "7500")

	result, err := f.svc.Approve(ctx, f.security, req.ID)
	require.NoError(t, err)
	require.NotNil(t, result.Service)
	assert.Equal(t, model.RequestApproved, result.Request.Status)
	assert.Equal(t, f.security.UserID, *result.Request.ReviewedBy)
	assert.NotNil(t, result.Request.ReviewedAt)
	assert.Equal(t, result.Service.ID, *result.Request.ServiceID)
	assert.Equal(t, "Premium concierge", result.Service.Name)
	assert.Equal(t, "Premium concierge for premium clients", result.Service.Description)
	assert.True(t, result.Service.Price.Equal(decimal.NewFromInt(7500)))
	assert.True(t, result.Service.Rating.IsZero())

	_, err = f.svc.Approve(ctx, f.security, req.ID)
	assert.True(t, apperror.Is(err, apperror.KindInvalidState))

	_, err = f.svc.Reject(ctx, f.security, req.ID)
	assert.True(t, apperror.Is(err, apperror.KindInvalidState))

	assert.Equal(t, []string{"Premium concierge"}, f.catalogNames(t))

	stored, err := f.svc.Get(ctx, f.client, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestApproved, stored.Status)
}

func TestConcurrentApprovals(t *testing.T) {
	f := newFixture(t, testWorkflow)
	req := f.submit(t, "Safe deposit box", "1200")

	const reviewers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		invalid   int
	)
	for i := 0; i < reviewers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			operator := model.OperatorSession(uuid.New(), model.RoleOperatorSecurity)
			_, err := f.svc.Approve(context.Background(), operator, req.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case apperror.Is(err, apperror.KindInvalidState):
				invalid++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, reviewers-1, invalid)
	assert.Equal(t, []string{"Safe deposit box"}, f.catalogNames(t))
}

func TestRejectedRequestNeverReachesCatalog(t *testing.T) {
	f := newFixture(t, testWorkflow)
	ctx := context.Background()
	req := f.submit(t, "Extra Support", "5000")

	result, err := f.svc.Reject(ctx, f.security, req.ID)
	require.NoError(t, err)
	assert.Nil(t, result.Service)
	assert.Equal(t, model.RequestRejected, result.Request.Status)
	assert.NotNil(t, result.Request.ReviewedAt)

	assert.NotContains(t, f.catalogNames(t), "Extra Support")
	services, err := f.catalog.List(ctx, f.security, catalog.ListInput{Search: "extra support"})
	require.NoError(t, err)
	assert.Empty(t, services)
	assert.Equal(t, []string{audit.EventServiceRequestSubmitted, audit.EventServiceRequestRejected}, f.recorder.Types())
}

func TestReviewRequiresSecurityRole(t *testing.T) {
	f := newFixture(t, testWorkflow)
	ctx := context.Background()
	req := f.submit(t, "Cashback", "100")

	for _, sess := range []model.Session{
		f.client,
		model.OperatorSession(uuid.New(), model.RoleOperatorClientService),
		model.OperatorSession(uuid.New(), model.RoleAdmin),
	} {
		_, err := f.svc.Approve(ctx, sess, req.ID)
		assert.True(t, apperror.Is(err, apperror.KindForbidden), "role %s", sess.Role)
	}

	_, err := f.svc.Approve(ctx, f.security, uuid.New())
	assert.True(t, apperror.Is(err, apperror.KindNotFound))

	_, err = f.svc.Review(ctx, f.security, req.ID, "escalate")
	assert.True(t, apperror.Is(err, apperror.KindValidation))

	stored, err := f.svc.Get(ctx, f.security, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestPending, stored.Status)
}

func TestPendingQueueFilter(t *testing.T) {
	f := newFixture(t, testWorkflow)
	ctx := context.Background()

	f.submit(t, "Registration of new client", "0")
	f.submit(t, "test-marker smoke", "0")
	f.submit(t, "TEST-MARKER uppercase", "0")
	first := f.submit(t, "Travel insurance", "900")
	second := f.submit(t, "Card cashback, test-marker inside", "50")
	reviewed := f.submit(t, "Already handled", "10")
	_, err := f.svc.Reject(ctx, f.security, reviewed.ID)
	require.NoError(t, err)

	queue, err := f.svc.PendingQueue(ctx, f.security)
	require.NoError(t, err)
	require.Len(t, queue, 2)
	assert.Equal(t, first.ID, queue[0].ID)
	assert.Equal(t, second.ID, queue[1].ID)

	_, err = f.svc.PendingQueue(ctx, f.client)
	assert.True(t, apperror.Is(err, apperror.KindForbidden))

	mine, err := f.svc.ListMine(ctx, f.client)
	require.NoError(t, err)
	assert.Len(t, mine, 6)
}

func TestGetHidesOtherClientsRequests(t *testing.T) {
	f := newFixture(t, testWorkflow)
	req := f.submit(t, "Cashback", "100")

	_, err := f.svc.Get(context.Background(), model.ClientSession(uuid.New()), req.ID)
	assert.True(t, apperror.Is(err, apperror.KindNotFound))
}
