package main

import (
	"context"
	"encoding/json"

	"github.com/finanspro/dbo/internal/audit"
	"github.com/finanspro/dbo/internal/kafka"
	"github.com/rs/zerolog"
)

// auditHandler writes every audit event to the security log. Malformed
// records are logged and skipped; retrying them cannot succeed.
func auditHandler(log *zerolog.Logger) kafka.Handler {
	return func(ctx context.Context, msg *kafka.Message) error {
		var event audit.Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			log.Error().Err(err).
				Str("topic", msg.Topic).
				Int64("offset", msg.Offset).
				Msg("Audit: skipping malformed event")
			return nil
		}

		entry := log.Info().
			Str("event_type", event.Type).
			Str("actor_id", event.ActorID.String()).
			Str("actor_role", string(event.ActorRole)).
			Str("subject_id", event.SubjectID).
			Time("occurred_at", event.OccurredAt).
			Str("topic", msg.Topic)
		if requestID := msg.Headers["request_id"]; requestID != "" {
			entry = entry.Str("request_id", requestID)
		}
		for k, v := range event.Attributes {
			entry = entry.Str(k, v)
		}
		entry.Msg("Security event")
		return nil
	}
}
