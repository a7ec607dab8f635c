package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/finanspro/dbo/internal/apperror"
	"github.com/finanspro/dbo/internal/audit"
	"github.com/finanspro/dbo/internal/ledger"
	"github.com/finanspro/dbo/internal/metrics"
	"github.com/finanspro/dbo/internal/middleware"
	"github.com/finanspro/dbo/internal/model"
	"github.com/finanspro/dbo/internal/store"
	"github.com/finanspro/dbo/pkg/constants"
	"github.com/google/uuid"
)

// systemRole marks audit events raised by the renewal job rather than a user.
const systemRole model.Role = "system"

type RenewalSummary struct {
	Renewed   int `json:"renewed"`
	Suspended int `json:"suspended"`
	Expired   int `json:"expired"`
}

func (s RenewalSummary) Total() int {
	return s.Renewed + s.Suspended + s.Expired
}

// billable reports whether a failed renewal charge is a funding problem of
// the client rather than a fault of the system.
func billable(err error) bool {
	switch apperror.KindOf(err) {
	case apperror.KindInsufficientFunds, apperror.KindInvalidState, apperror.KindValidation:
		return true
	}
	return false
}

// RenewDue bills every active subscription whose payment date is not after
// now. Auto-renewing subscriptions are charged and moved one period ahead,
// or suspended when the client cannot pay; the others expire. Rows are
// processed in batches, each batch in one unit of work.
func (ss *SubscriptionService) RenewDue(ctx context.Context, now time.Time) (RenewalSummary, error) {
	logger := middleware.GetLogger(ctx)
	now = now.UTC()

	var summary RenewalSummary
	for {
		var (
			batch  RenewalSummary
			events []audit.Event
			count  int
		)
		err := ss.store.InTx(ctx, func(tx store.Tx) error {
			due, err := tx.ListDueSubscriptions(ctx, now, ss.batchSize)
			if err != nil {
				return store.Classify(err, "due subscriptions", now.Format(time.RFC3339))
			}
			count = len(due)

			batch = RenewalSummary{}
			events = events[:0]
			for _, sub := range due {
				event, err := ss.renew(ctx, tx, sub, now)
				if err != nil {
					return err
				}
				switch event.Type {
				case audit.EventSubscriptionRenewed:
					batch.Renewed++
				case audit.EventSubscriptionSuspended:
					batch.Suspended++
				case audit.EventSubscriptionExpired:
					batch.Expired++
				}
				events = append(events, event)
			}
			return nil
		})
		if err != nil {
			metrics.RecordSubscriptionChange("renew", string(apperror.KindOf(err)))
			logger.Error().Err(err).Int("processed", summary.Total()).Msg("Renewal batch failed")
			return summary, apperror.Ensure(err, "failed to renew subscriptions")
		}

		for _, e := range events {
			ss.audit.Emit(ctx, e)
			metrics.RecordSubscriptionChange("renew", e.Attributes["outcome"])
			if e.Attributes["transaction_id"] != "" {
				metrics.RecordPosting(string(model.TransactionPayment))
			}
		}
		summary.Renewed += batch.Renewed
		summary.Suspended += batch.Suspended
		summary.Expired += batch.Expired

		if count < ss.batchSize {
			break
		}
	}

	logger.Info().
		Int("renewed", summary.Renewed).
		Int("suspended", summary.Suspended).
		Int("expired", summary.Expired).
		Msg("Subscription renewal finished")
	return summary, nil
}

// renew settles one due subscription inside tx and returns the audit event
// describing what happened to it.
func (ss *SubscriptionService) renew(ctx context.Context, tx store.Tx, sub *model.ClientService, now time.Time) (audit.Event, error) {
	event := audit.Event{
		ActorID:    uuid.Nil,
		ActorRole:  systemRole,
		SubjectID:  sub.ClientID.String(),
		OccurredAt: now,
		Attributes: map[string]string{"service_id": sub.ServiceID.String()},
	}

	settle := func(status model.SubscriptionStatus, eventType, outcome string) (audit.Event, error) {
		sub.Status = status
		sub.NextPaymentDate = nil
		if err := tx.UpdateSubscription(ctx, sub); err != nil {
			return event, store.Classify(err, "subscription", sub.ID)
		}
		event.Type = eventType
		event.Attributes["outcome"] = outcome
		return event, nil
	}

	if !sub.AutoRenewal {
		return settle(model.SubscriptionExpired, audit.EventSubscriptionExpired, "expired")
	}

	next := sub.NextPaymentDate.AddDate(0, 0, ss.periodDays)
	if !next.After(now) {
		next = now.AddDate(0, 0, ss.periodDays)
	}

	if sub.MonthlyFee.IsPositive() {
		client, err := tx.GetClient(ctx, sub.ClientID)
		if err != nil {
			return event, store.Classify(err, "client", sub.ClientID)
		}
		card, err := ledger.SelectChargeCard(ctx, tx, client)
		if err != nil {
			return event, err
		}
		if card == nil {
			return settle(model.SubscriptionSuspended, audit.EventSubscriptionSuspended, string(apperror.KindNoFundingSource))
		}

		name := sub.ServiceID.String()
		if service, err := tx.GetService(ctx, sub.ServiceID); err == nil {
			name = service.Name
		}
		txn, err := ledger.Charge(ctx, tx, card, model.TransactionPayment, sub.MonthlyFee, sub.Currency,
			fmt.Sprintf(constants.RenewalDescription, name), now)
		if billable(err) {
			return settle(model.SubscriptionSuspended, audit.EventSubscriptionSuspended, string(apperror.KindOf(err)))
		}
		if err != nil {
			return event, err
		}
		event.Attributes["transaction_id"] = txn.ID.String()
	}

	sub.NextPaymentDate = &next
	if err := tx.UpdateSubscription(ctx, sub); err != nil {
		return event, store.Classify(err, "subscription", sub.ID)
	}
	event.Type = audit.EventSubscriptionRenewed
	event.Attributes["outcome"] = "renewed"
	event.Attributes["next_payment_date"] = next.Format(time.RFC3339)
	return event, nil
}
