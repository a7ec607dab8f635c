// Package outbox moves audit events from the audit_outbox table to Kafka.
package outbox

import (
	"context"
	"time"

	"github.com/finanspro/dbo/internal/kafka"
	"github.com/finanspro/dbo/internal/model"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Publisher is the part of kafka.Producer the relay needs.
type Publisher interface {
	PublishWithHeaders(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

type Relay struct {
	db        *pgxpool.Pool
	publisher Publisher
	logger    *zerolog.Logger
	batchSize int
	interval  time.Duration
}

func NewRelay(db *pgxpool.Pool, publisher Publisher, logger *zerolog.Logger) *Relay {
	return &Relay{
		db:        db,
		publisher: publisher,
		logger:    logger,
		batchSize: 100,
		interval:  2 * time.Second,
	}
}

func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info().Dur("interval", r.interval).Msg("Starting Outbox Relay")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Stopping Outbox Relay")
			return nil
		case <-ticker.C:
			if err := r.processBatch(ctx); err != nil {
				r.logger.Error().Err(err).Msg("Failed to process batch")
			}
		}
	}
}

func (r *Relay) processBatch(ctx context.Context) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin outbox batch")
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, event_type, payload, partition_key, COALESCE(correlation_id, '')
		FROM audit_outbox
		WHERE status = 'pending'
		ORDER BY id ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, r.batchSize)
	if err != nil {
		return errors.Wrap(err, "select pending audit events")
	}

	var events []model.AuditOutbox
	for rows.Next() {
		var e model.AuditOutbox
		if err := rows.Scan(&e.ID, &e.EventType, &e.Payload, &e.PartitionKey, &e.CorrelationID); err != nil {
			rows.Close()
			return errors.Wrap(err, "scan audit event")
		}
		events = append(events, e)
	}
	rows.Close()

	if len(events) == 0 {
		return nil
	}

	r.logger.Debug().Int("count", len(events)).Msg("Fetched outbox events")

	published := r.publish(ctx, events)
	if len(published) == 0 {
		return nil
	}

	if _, err := tx.Exec(ctx, `
		UPDATE audit_outbox
		SET status = 'published', published_at = NOW()
		WHERE id = ANY($1)
	`, published); err != nil {
		return errors.Wrap(err, "mark audit events published")
	}

	return tx.Commit(ctx)
}

// publish sends events in order and returns the ids that made it. Failed
// events stay pending and are retried on the next tick.
func (r *Relay) publish(ctx context.Context, events []model.AuditOutbox) []int64 {
	var published []int64
	for _, e := range events {
		var headers map[string]string
		if e.CorrelationID != "" {
			headers = map[string]string{"request_id": e.CorrelationID}
		}

		topic := kafka.TopicForEvent(e.EventType)
		if err := r.publisher.PublishWithHeaders(ctx, topic, []byte(e.PartitionKey), e.Payload, headers); err != nil {
			r.logger.Error().Err(err).
				Int64("event_id", e.ID).
				Str("event_type", e.EventType).
				Str("topic", topic).
				Msg("Failed to publish event to Kafka")
			continue
		}
		published = append(published, e.ID)
	}
	return published
}
