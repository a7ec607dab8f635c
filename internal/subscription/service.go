// Package subscription connects clients to catalog services and bills them.
// Every change to a (client, service) pair runs as one unit of work under the
// client's debit lock, so a subscription is never left active with a failed
// charge behind it.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/finanspro/dbo/internal/apperror"
	"github.com/finanspro/dbo/internal/audit"
	"github.com/finanspro/dbo/internal/config"
	"github.com/finanspro/dbo/internal/ledger"
	"github.com/finanspro/dbo/internal/metrics"
	"github.com/finanspro/dbo/internal/middleware"
	"github.com/finanspro/dbo/internal/model"
	"github.com/finanspro/dbo/internal/redis"
	"github.com/finanspro/dbo/internal/store"
	"github.com/finanspro/dbo/pkg/constants"
	"github.com/google/uuid"
)

const debitLockTTL = 10 * time.Second

type SubscriptionService struct {
	store              store.Store
	locker             redis.Locker
	audit              audit.Emitter
	periodDays         int
	autoRenewalDefault bool
	batchSize          int
	now                func() time.Time
}

func NewSubscriptionService(st store.Store, locker redis.Locker, emitter audit.Emitter, cfg config.WorkflowConfig) *SubscriptionService {
	if locker == nil {
		locker = redis.NopLocker{}
	}
	if emitter == nil {
		emitter = audit.Nop{}
	}
	batch := cfg.RenewalBatchSize
	if batch <= 0 {
		batch = 200
	}
	return &SubscriptionService{
		store:              st,
		locker:             locker,
		audit:              emitter,
		periodDays:         cfg.BillingPeriodDays,
		autoRenewalDefault: cfg.AutoRenewalByDefault,
		batchSize:          batch,
		now:                time.Now,
	}
}

func authorize(sess model.Session, clientID uuid.UUID) error {
	if sess.CanManageClients() {
		return nil
	}
	if sess.ClientID != nil && *sess.ClientID == clientID {
		return nil
	}
	return apperror.Forbidden("access to client %s denied", clientID)
}

func (ss *SubscriptionService) lock(ctx context.Context, clientID uuid.UUID) (func(), error) {
	release, err := ss.locker.Acquire(ctx, redis.DebitLockKey(clientID), debitLockTTL)
	if err != nil {
		if errors.Is(err, redis.ErrLockHeld) {
			return nil, apperror.InvalidState("another payment for this client is in progress")
		}
		return nil, apperror.Internal(err, "failed to acquire debit lock")
	}
	return release, nil
}

type ConnectResult struct {
	Subscription *model.ClientService
	// Transaction is the initial charge; nil for free services, repeated
	// connects and unfunded connects.
	Transaction *model.Transaction
	// AlreadyActive is set when the subscription was active before the call.
	AlreadyActive bool

	// billing is a charge failure committed as subscription state.
	billing error
}

// Connect subscribes the client to a service and charges the first period.
//
// When the client has no usable card the subscription stays active and
// Connect returns both the result and a NoFundingSource error. When the card
// does not cover the fee the subscription is stored as cancelled, nothing is
// charged, and InsufficientFunds is returned.
func (ss *SubscriptionService) Connect(ctx context.Context, sess model.Session, clientID, serviceID uuid.UUID) (*ConnectResult, error) {
	logger := middleware.GetLogger(ctx).With().
		Str("client_id", clientID.String()).
		Str("service_id", serviceID.String()).
		Logger()

	if err := authorize(sess, clientID); err != nil {
		return nil, err
	}

	release, err := ss.lock(ctx, clientID)
	if err != nil {
		return nil, err
	}
	defer release()

	var result *ConnectResult
	for attempt := 0; ; attempt++ {
		result, err = ss.connectOnce(ctx, clientID, serviceID)
		// A concurrent connect inserted the row first; the retry sees it.
		if errors.Is(err, store.ErrConflict) && attempt == 0 {
			logger.Debug().Msg("Subscription row created concurrently, retrying")
			continue
		}
		break
	}
	if err != nil {
		err = store.Classify(err, "subscription", serviceID)
		metrics.RecordSubscriptionChange("connect", string(apperror.KindOf(err)))
		logger.Warn().Err(err).Msg("Failed to connect service")
		return nil, apperror.Ensure(err, "failed to connect service")
	}
	ledger.ReportPostings(result.Transaction)

	outcome := result.billing
	switch {
	case result.AlreadyActive:
		metrics.RecordSubscriptionChange("connect", "noop")
		logger.Debug().Msg("Service already connected")
		return result, nil
	case outcome != nil:
		metrics.RecordSubscriptionChange("connect", string(apperror.KindOf(outcome)))
		logger.Warn().Err(outcome).Str("status", string(result.Subscription.Status)).Msg("Subscription not billed")
		if apperror.Is(outcome, apperror.KindInsufficientFunds) {
			return nil, outcome
		}
	default:
		metrics.RecordSubscriptionChange("connect", "ok")
	}

	attrs := map[string]string{
		"service_id":  serviceID.String(),
		"monthly_fee": result.Subscription.MonthlyFee.String(),
	}
	if result.Transaction != nil {
		attrs["transaction_id"] = result.Transaction.ID.String()
	}
	ss.audit.Emit(ctx, audit.Event{
		Type:       audit.EventSubscriptionConnected,
		ActorID:    sess.UserID,
		ActorRole:  sess.Role,
		SubjectID:  clientID.String(),
		Attributes: attrs,
	})

	logger.Info().Str("subscription_id", result.Subscription.ID.String()).Msg("Service connected")
	return result, outcome
}

func (ss *SubscriptionService) connectOnce(ctx context.Context, clientID, serviceID uuid.UUID) (*ConnectResult, error) {
	result := &ConnectResult{}

	err := ss.store.InTx(ctx, func(tx store.Tx) error {
		client, err := tx.GetClient(ctx, clientID)
		if err != nil {
			return store.Classify(err, "client", clientID)
		}
		if !client.IsActive {
			return apperror.InvalidState("client %s is not active", clientID)
		}

		service, err := tx.GetService(ctx, serviceID)
		if err != nil {
			return store.Classify(err, "service", serviceID)
		}
		if !service.IsActive || (service.IsPrivileged && !client.IsPrivileged) {
			return apperror.NotFound("service %s not found", serviceID)
		}

		sub, err := tx.GetSubscriptionForUpdate(ctx, clientID, serviceID)
		switch {
		case err == nil && sub.IsActive():
			result.Subscription = sub
			result.AlreadyActive = true
			return nil
		case err == nil:
		case errors.Is(err, store.ErrNotFound):
			sub = nil
		default:
			return store.Classify(err, "subscription", serviceID)
		}

		now := ss.now().UTC()
		fresh := sub == nil
		if fresh {
			sub = &model.ClientService{
				ID:          uuid.New(),
				ClientID:    clientID,
				ServiceID:   serviceID,
				AutoRenewal: ss.autoRenewalDefault,
			}
		}
		sub.Status = model.SubscriptionActive
		sub.MonthlyFee = service.Price
		sub.Currency = service.Currency
		sub.CancelledAt = nil
		sub.CancelledBy = nil
		sub.NextPaymentDate = nil
		if service.Price.IsPositive() {
			next := now.AddDate(0, 0, ss.periodDays)
			sub.NextPaymentDate = &next
		}

		if fresh {
			if err := tx.CreateSubscription(ctx, sub); err != nil {
				// Returned unclassified so Connect can retry a lost insert race.
				return err
			}
		} else if err := tx.UpdateSubscription(ctx, sub); err != nil {
			return store.Classify(err, "subscription", sub.ID)
		}
		result.Subscription = sub

		if !service.Price.IsPositive() {
			return nil
		}

		card, err := ledger.SelectChargeCard(ctx, tx, client)
		if err != nil {
			return err
		}
		if card == nil {
			result.billing = apperror.NoFundingSource("client %s has no active card", clientID)
			return nil
		}

		txn, err := ledger.Charge(ctx, tx, card, model.TransactionPayment, service.Price, service.Currency,
			fmt.Sprintf(constants.SubscriptionDescription, service.Name), now)
		if apperror.Is(err, apperror.KindInsufficientFunds) {
			sub.Status = model.SubscriptionCancelled
			sub.CancelledAt = &now
			sub.NextPaymentDate = nil
			if err := tx.UpdateSubscription(ctx, sub); err != nil {
				return store.Classify(err, "subscription", sub.ID)
			}
			result.billing = err
			return nil
		}
		if err != nil {
			return err
		}
		result.Transaction = txn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Disconnect cancels the subscription and keeps the row. No refund is made
// for the rest of the period.
func (ss *SubscriptionService) Disconnect(ctx context.Context, sess model.Session, clientID, serviceID uuid.UUID) (*model.ClientService, error) {
	logger := middleware.GetLogger(ctx).With().
		Str("client_id", clientID.String()).
		Str("service_id", serviceID.String()).
		Logger()

	if err := authorize(sess, clientID); err != nil {
		return nil, err
	}

	var (
		sub     *model.ClientService
		changed bool
	)
	err := ss.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		sub, err = tx.GetSubscriptionForUpdate(ctx, clientID, serviceID)
		if err != nil {
			return store.Classify(err, "subscription for service", serviceID)
		}
		if sub.Status == model.SubscriptionCancelled {
			return nil
		}

		now := ss.now().UTC()
		actor := sess.UserID
		sub.Status = model.SubscriptionCancelled
		sub.CancelledAt = &now
		sub.CancelledBy = &actor
		sub.NextPaymentDate = nil
		changed = true
		return store.Classify(tx.UpdateSubscription(ctx, sub), "subscription", sub.ID)
	})
	if err != nil {
		metrics.RecordSubscriptionChange("disconnect", string(apperror.KindOf(err)))
		logger.Warn().Err(err).Msg("Failed to disconnect service")
		return nil, apperror.Ensure(err, "failed to disconnect service")
	}
	if !changed {
		metrics.RecordSubscriptionChange("disconnect", "noop")
		return sub, nil
	}
	metrics.RecordSubscriptionChange("disconnect", "ok")

	ss.audit.Emit(ctx, audit.Event{
		Type:       audit.EventSubscriptionDisconnect,
		ActorID:    sess.UserID,
		ActorRole:  sess.Role,
		SubjectID:  clientID.String(),
		Attributes: map[string]string{"service_id": serviceID.String()},
	})
	logger.Info().Str("subscription_id", sub.ID.String()).Msg("Service disconnected")
	return sub, nil
}

func (ss *SubscriptionService) List(ctx context.Context, sess model.Session, clientID uuid.UUID) ([]*model.ClientService, error) {
	if err := authorize(sess, clientID); err != nil {
		return nil, err
	}

	var subs []*model.ClientService
	err := ss.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		subs, err = tx.ListSubscriptions(ctx, clientID)
		return store.Classify(err, "subscriptions of client", clientID)
	})
	if err != nil {
		return nil, apperror.Ensure(err, "failed to list subscriptions")
	}
	return subs, nil
}
