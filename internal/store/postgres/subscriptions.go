package postgres

import (
	"context"
	"time"

	"github.com/finanspro/dbo/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const subscriptionColumns = `id, client_id, service_id, status, monthly_fee, currency, next_payment_date, auto_renewal, cancelled_at, cancelled_by, created_at, updated_at`

func scanSubscription(row pgx.Row) (*model.ClientService, error) {
	var s model.ClientService
	err := row.Scan(&s.ID, &s.ClientID, &s.ServiceID, &s.Status, &s.MonthlyFee, &s.Currency,
		&s.NextPaymentDate, &s.AutoRenewal, &s.CancelledAt, &s.CancelledBy, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (t *tx) GetSubscriptionForUpdate(ctx context.Context, clientID, serviceID uuid.UUID) (*model.ClientService, error) {
	s, err := scanSubscription(t.q.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM client_services
		WHERE client_id = $1 AND service_id = $2
		FOR UPDATE`, clientID, serviceID))
	return s, mapErr(err, "lock subscription")
}

func (t *tx) CreateSubscription(ctx context.Context, s *model.ClientService) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	err := t.q.QueryRow(ctx, `
		INSERT INTO client_services (id, client_id, service_id, status, monthly_fee, currency, next_payment_date, auto_renewal, cancelled_at, cancelled_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		s.ID, s.ClientID, s.ServiceID, s.Status, s.MonthlyFee, s.Currency,
		s.NextPaymentDate, s.AutoRenewal, s.CancelledAt, s.CancelledBy,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	return mapErr(err, "insert subscription")
}

func (t *tx) UpdateSubscription(ctx context.Context, s *model.ClientService) error {
	err := t.q.QueryRow(ctx, `
		UPDATE client_services
		SET status = $2, monthly_fee = $3, currency = $4, next_payment_date = $5,
		    auto_renewal = $6, cancelled_at = $7, cancelled_by = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		s.ID, s.Status, s.MonthlyFee, s.Currency, s.NextPaymentDate,
		s.AutoRenewal, s.CancelledAt, s.CancelledBy,
	).Scan(&s.UpdatedAt)
	return mapErr(err, "update subscription")
}

func (t *tx) ListSubscriptions(ctx context.Context, clientID uuid.UUID) ([]*model.ClientService, error) {
	return t.listSubscriptions(ctx, "list subscriptions", `
		SELECT `+subscriptionColumns+`
		FROM client_services
		WHERE client_id = $1
		ORDER BY created_at, id`, clientID)
}

// ListDueSubscriptions locks the returned rows and skips rows another
// billing run already holds.
func (t *tx) ListDueSubscriptions(ctx context.Context, dueBy time.Time, limit int) ([]*model.ClientService, error) {
	if limit <= 0 {
		limit = 1000
	}
	return t.listSubscriptions(ctx, "list due subscriptions", `
		SELECT `+subscriptionColumns+`
		FROM client_services
		WHERE status = 'active' AND next_payment_date IS NOT NULL AND next_payment_date <= $1
		ORDER BY next_payment_date, id
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, dueBy, limit)
}

func (t *tx) listSubscriptions(ctx context.Context, op, sql string, args ...any) ([]*model.ClientService, error) {
	rows, err := t.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapErr(err, op)
	}
	defer rows.Close()

	var out []*model.ClientService
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, mapErr(err, op)
		}
		out = append(out, s)
	}
	return out, mapErr(rows.Err(), op)
}

func (t *tx) InsertAuditEvent(ctx context.Context, e *model.AuditOutbox) error {
	if e.Status == "" {
		e.Status = "pending"
	}
	err := t.q.QueryRow(ctx, `
		INSERT INTO audit_outbox (event_type, payload, partition_key, status, correlation_id)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		RETURNING id, created_at`,
		e.EventType, e.Payload, e.PartitionKey, e.Status, e.CorrelationID,
	).Scan(&e.ID, &e.CreatedAt)
	e.UpdatedAt = e.CreatedAt
	return mapErr(err, "insert audit event")
}
