package subscription

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/finanspro/dbo/internal/apperror"
	"github.com/finanspro/dbo/internal/audit"
	"github.com/finanspro/dbo/internal/config"
	"github.com/finanspro/dbo/internal/ledger"
	"github.com/finanspro/dbo/internal/model"
	"github.com/finanspro/dbo/internal/redis"
	"github.com/finanspro/dbo/internal/store"
	"github.com/finanspro/dbo/internal/store/memory"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0           = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	testWorkflow = config.WorkflowConfig{
		DefaultCurrency:      "RUB",
		BillingPeriodDays:    30,
		RenewalBatchSize:     2,
		AutoRenewalByDefault: true,
	}
)

type fixture struct {
	st       *memory.Store
	svc      *SubscriptionService
	recorder *audit.Recorder
	services map[string]*model.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	f := &fixture{st: st, services: make(map[string]*model.Service)}
	f.svc, f.recorder = f.newService(nil, testWorkflow)

	ctx := context.Background()
	require.NoError(t, st.InTx(ctx, func(tx store.Tx) error {
		category := &model.ServiceCategory{Name: "Everyday", IsPublic: true}
		if err := tx.EnsureCategory(ctx, category); err != nil {
			return err
		}
		for _, s := range []*model.Service{
			{Name: "Statement", Price: decimal.Zero, IsActive: true, IsPublic: true},
			{Name: "SMS", Price: decimal.NewFromInt(100), IsActive: true, IsPublic: true},
			{Name: "Insurance", Price: decimal.NewFromInt(500), IsActive: true, IsPublic: true},
			{Name: "Concierge", Price: decimal.NewFromInt(300), IsActive: true, IsPublic: true, IsPrivileged: true},
			{Name: "Retired", Price: decimal.NewFromInt(50), IsActive: false, IsPublic: true},
		} {
			s.CategoryID = category.ID
			s.Currency = "RUB"
			if err := tx.CreateService(ctx, s); err != nil {
				return err
			}
			f.services[s.Name] = s
		}
		return nil
	}))
	return f
}

func (f *fixture) newService(locker redis.Locker, cfg config.WorkflowConfig) (*SubscriptionService, *audit.Recorder) {
	rec := &audit.Recorder{}
	svc := NewSubscriptionService(f.st, locker, rec, cfg)
	svc.now = func() time.Time { return t0 }
	return svc, rec
}

// seedClient creates a client; a non-empty balance also opens a funded card.
func (f *fixture) seedClient(t *testing.T, balance string, privileged bool) (model.Session, *model.Card) {
	t.Helper()
	ctx := context.Background()
	client := &model.Client{ID: uuid.New(), Name: "Client", Email: uuid.NewString() + "@example.com", IsActive: true, IsPrivileged: privileged}
	var card *model.Card
	require.NoError(t, f.st.InTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateClient(ctx, client); err != nil {
			return err
		}
		if balance == "" {
			return nil
		}
		var err error
		card, _, err = ledger.OpenCardTx(ctx, tx, client, "RUB", decimal.RequireFromString(balance), t0)
		return err
	}))
	return model.ClientSession(client.ID), card
}

func (f *fixture) balance(t *testing.T, cardID uuid.UUID) decimal.Decimal {
	t.Helper()
	var balance decimal.Decimal
	require.NoError(t, f.st.InTx(context.Background(), func(tx store.Tx) error {
		card, err := tx.GetCard(context.Background(), cardID)
		if err != nil {
			return err
		}
		balance = card.Balance
		return nil
	}))
	return balance
}

func (f *fixture) payments() []model.Transaction {
	var out []model.Transaction
	for _, txn := range f.st.Transactions() {
		if txn.Type == model.TransactionPayment {
			out = append(out, txn)
		}
	}
	return out
}

func (f *fixture) subscriptions(t *testing.T, sess model.Session) []*model.ClientService {
	t.Helper()
	subs, err := f.svc.List(context.Background(), sess, *sess.ClientID)
	require.NoError(t, err)
	return subs
}

func TestConnectChargesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, card := f.seedClient(t, "1000", false)
	sms := f.services["SMS"]

	first, err := f.svc.Connect(ctx, sess, *sess.ClientID, sms.ID)
	require.NoError(t, err)
	assert.False(t, first.AlreadyActive)
	require.NotNil(t, first.Transaction)
	assert.Equal(t, model.SubscriptionActive, first.Subscription.Status)
	assert.True(t, first.Subscription.IsActive())
	assert.True(t, first.Subscription.MonthlyFee.Equal(decimal.NewFromInt(100)))
	require.NotNil(t, first.Subscription.NextPaymentDate)
	assert.Equal(t, t0.AddDate(0, 0, 30), *first.Subscription.NextPaymentDate)

	second, err := f.svc.Connect(ctx, sess, *sess.ClientID, sms.ID)
	require.NoError(t, err)
	assert.True(t, second.AlreadyActive)
	assert.Nil(t, second.Transaction)
	assert.Equal(t, first.Subscription.ID, second.Subscription.ID)

	assert.Len(t, f.subscriptions(t, sess), 1)
	payments := f.payments()
	require.Len(t, payments, 1)
	assert.Equal(t, "Subscription: SMS", payments[0].Description)
	assert.Equal(t, card.ID, *payments[0].FromCardID)
	assert.True(t, f.balance(t, card.ID).Equal(decimal.NewFromInt(900)))
	assert.Equal(t, []string{audit.EventSubscriptionConnected}, f.recorder.Types())
}

func TestConnectInsufficientFundsCancels(t *testing.T) {
	f := newFixture(t)
	sess, card := f.seedClient(t, "100", false)

	result, err := f.svc.Connect(context.Background(), sess, *sess.ClientID, f.services["Insurance"].ID)
	assert.Nil(t, result)
	assert.True(t, apperror.Is(err, apperror.KindInsufficientFunds))

	subs := f.subscriptions(t, sess)
	require.Len(t, subs, 1)
	assert.Equal(t, model.SubscriptionCancelled, subs[0].Status)
	assert.False(t, subs[0].IsActive())
	assert.Nil(t, subs[0].NextPaymentDate)
	assert.Empty(t, f.payments())
	assert.True(t, f.balance(t, card.ID).Equal(decimal.NewFromInt(100)))
	assert.Empty(t, f.recorder.Types())
}

func TestConnectWithoutCardStaysActive(t *testing.T) {
	f := newFixture(t)
	sess, _ := f.seedClient(t, "", false)

	result, err := f.svc.Connect(context.Background(), sess, *sess.ClientID, f.services["SMS"].ID)
	assert.True(t, apperror.Is(err, apperror.KindNoFundingSource))
	require.NotNil(t, result)
	assert.Equal(t, model.SubscriptionActive, result.Subscription.Status)
	assert.Nil(t, result.Transaction)
	assert.Empty(t, f.payments())
	assert.Equal(t, model.SubscriptionActive, f.subscriptions(t, sess)[0].Status)
}

func TestFreeConnectDisconnectRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, _ := f.seedClient(t, "50", false)
	statement := f.services["Statement"]

	result, err := f.svc.Connect(ctx, sess, *sess.ClientID, statement.ID)
	require.NoError(t, err)
	assert.Nil(t, result.Subscription.NextPaymentDate)

	sub, err := f.svc.Disconnect(ctx, sess, *sess.ClientID, statement.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionCancelled, sub.Status)
	require.NotNil(t, sub.CancelledAt)
	require.NotNil(t, sub.CancelledBy)
	assert.Equal(t, sess.UserID, *sub.CancelledBy)

	assert.Empty(t, f.payments())
	subs := f.subscriptions(t, sess)
	require.Len(t, subs, 1, "disconnect keeps the row")
	assert.Equal(t, model.SubscriptionCancelled, subs[0].Status)
	assert.Equal(t, []string{audit.EventSubscriptionConnected, audit.EventSubscriptionDisconnect}, f.recorder.Types())
}

func TestReconnectReusesRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, card := f.seedClient(t, "1000", false)
	sms := f.services["SMS"]

	first, err := f.svc.Connect(ctx, sess, *sess.ClientID, sms.ID)
	require.NoError(t, err)
	_, err = f.svc.Disconnect(ctx, sess, *sess.ClientID, sms.ID)
	require.NoError(t, err)

	again, err := f.svc.Connect(ctx, sess, *sess.ClientID, sms.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Subscription.ID, again.Subscription.ID)
	assert.Equal(t, model.SubscriptionActive, again.Subscription.Status)
	assert.Nil(t, again.Subscription.CancelledAt)
	assert.Nil(t, again.Subscription.CancelledBy)

	assert.Len(t, f.subscriptions(t, sess), 1)
	assert.Len(t, f.payments(), 2)
	assert.True(t, f.balance(t, card.ID).Equal(decimal.NewFromInt(800)))
}

func TestConnectErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	regular, _ := f.seedClient(t, "1000", false)
	vip, _ := f.seedClient(t, "1000", true)

	tests := []struct {
		name      string
		sess      model.Session
		clientID  uuid.UUID
		serviceID uuid.UUID
		want      apperror.Kind
	}{
		{name: "missing service", sess: regular, clientID: *regular.ClientID, serviceID: uuid.New(), want: apperror.KindNotFound},
		{name: "inactive service", sess: regular, clientID: *regular.ClientID, serviceID: f.services["Retired"].ID, want: apperror.KindNotFound},
		{name: "privileged service for regular client", sess: regular, clientID: *regular.ClientID, serviceID: f.services["Concierge"].ID, want: apperror.KindNotFound},
		{name: "someone else's client", sess: regular, clientID: *vip.ClientID, serviceID: f.services["SMS"].ID, want: apperror.KindForbidden},
		{name: "unknown client via operator", sess: model.OperatorSession(uuid.New(), model.RoleOperatorClientService), clientID: uuid.New(), serviceID: f.services["SMS"].ID, want: apperror.KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Connect(ctx, tt.sess, tt.clientID, tt.serviceID)
			assert.Equal(t, tt.want, apperror.KindOf(err))
		})
	}

	_, err := f.svc.Connect(ctx, vip, *vip.ClientID, f.services["Concierge"].ID)
	assert.NoError(t, err)

	_, err = f.svc.Disconnect(ctx, regular, *regular.ClientID, f.services["SMS"].ID)
	assert.True(t, apperror.Is(err, apperror.KindNotFound))
}

func TestConcurrentConnect(t *testing.T) {
	f := newFixture(t)
	sess, card := f.seedClient(t, "1000", false)
	sms := f.services["SMS"]

	const callers = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		noop    int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.svc.Connect(context.Background(), sess, *sess.ClientID, sms.ID)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if result.AlreadyActive {
				noop++
			} else {
				created++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, callers-1, noop)
	assert.Len(t, f.subscriptions(t, sess), 1)
	assert.Len(t, f.payments(), 1)
	assert.True(t, f.balance(t, card.ID).Equal(decimal.NewFromInt(900)))
}

type heldLocker struct{}

func (heldLocker) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, redis.ErrLockHeld
}

func TestConnectWhileDebitLockHeld(t *testing.T) {
	f := newFixture(t)
	sess, card := f.seedClient(t, "1000", false)
	svc, _ := f.newService(heldLocker{}, testWorkflow)

	_, err := svc.Connect(context.Background(), sess, *sess.ClientID, f.services["SMS"].ID)
	assert.True(t, apperror.Is(err, apperror.KindInvalidState))
	assert.Empty(t, f.subscriptions(t, sess))
	assert.True(t, f.balance(t, card.ID).Equal(decimal.NewFromInt(1000)))
}

func TestRenewDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payer, payerCard := f.seedClient(t, "1000", false)
	broke, brokeCard := f.seedClient(t, "150", false)
	manual, manualCard := f.seedClient(t, "1000", false)
	free, _ := f.seedClient(t, "0", false)

	manualCfg := testWorkflow
	manualCfg.AutoRenewalByDefault = false
	manualSvc, _ := f.newService(nil, manualCfg)

	_, err := f.svc.Connect(ctx, payer, *payer.ClientID, f.services["SMS"].ID)
	require.NoError(t, err)
	_, err = f.svc.Connect(ctx, broke, *broke.ClientID, f.services["SMS"].ID)
	require.NoError(t, err)
	_, err = manualSvc.Connect(ctx, manual, *manual.ClientID, f.services["SMS"].ID)
	require.NoError(t, err)
	_, err = f.svc.Connect(ctx, free, *free.ClientID, f.services["Statement"].ID)
	require.NoError(t, err)

	summary, err := f.svc.RenewDue(ctx, t0.AddDate(0, 0, 29))
	require.NoError(t, err)
	assert.Zero(t, summary.Total(), "nothing is due before the period ends")

	// Broke client spends down to below the fee before the renewal.
	require.NoError(t, f.st.InTx(ctx, func(tx store.Tx) error {
		card, err := tx.GetCardForUpdate(ctx, brokeCard.ID)
		if err != nil {
			return err
		}
		_, err = ledger.Charge(ctx, tx, card, model.TransactionWithdrawal, decimal.NewFromInt(20), "RUB", "ATM", t0)
		return err
	}))

	due := t0.AddDate(0, 0, 30)
	summary, err = f.svc.RenewDue(ctx, due)
	require.NoError(t, err)
	assert.Equal(t, RenewalSummary{Renewed: 1, Suspended: 1, Expired: 1}, summary)

	paid := f.subscriptions(t, payer)[0]
	assert.Equal(t, model.SubscriptionActive, paid.Status)
	require.NotNil(t, paid.NextPaymentDate)
	assert.Equal(t, t0.AddDate(0, 0, 60), *paid.NextPaymentDate)
	assert.True(t, f.balance(t, payerCard.ID).Equal(decimal.NewFromInt(800)))

	suspended := f.subscriptions(t, broke)[0]
	assert.Equal(t, model.SubscriptionSuspended, suspended.Status)
	assert.True(t, f.balance(t, brokeCard.ID).Equal(decimal.NewFromInt(30)))

	expired := f.subscriptions(t, manual)[0]
	assert.Equal(t, model.SubscriptionExpired, expired.Status)
	assert.True(t, f.balance(t, manualCard.ID).Equal(decimal.NewFromInt(900)))

	assert.Equal(t, model.SubscriptionActive, f.subscriptions(t, free)[0].Status)

	var renewals int
	for _, p := range f.payments() {
		if p.Description == "Subscription renewal: SMS" {
			renewals++
		}
	}
	assert.Equal(t, 1, renewals)

	summary, err = f.svc.RenewDue(ctx, due)
	require.NoError(t, err)
	assert.Zero(t, summary.Total(), "settled rows are not billed twice")

	again, err := manualSvc.Connect(ctx, manual, *manual.ClientID, f.services["SMS"].ID)
	require.NoError(t, err)
	assert.Equal(t, expired.ID, again.Subscription.ID)
	assert.Equal(t, model.SubscriptionActive, again.Subscription.Status)
}
