package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/finanspro/dbo/internal/audit"
	"github.com/finanspro/dbo/internal/kafka"
	"github.com/finanspro/dbo/internal/model"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditHandler(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	handler := auditHandler(&log)

	actor := uuid.New()
	payload, err := json.Marshal(audit.Event{
		Type:       audit.EventServiceRequestApproved,
		ActorID:    actor,
		ActorRole:  model.RoleOperatorSecurity,
		SubjectID:  "req-1",
		Attributes: map[string]string{"service_id": "svc-1"},
		OccurredAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	require.NoError(t, err)

	err = handler(context.Background(), &kafka.Message{
		Topic:   kafka.TopicAuditWorkflow,
		Value:   payload,
		Headers: map[string]string{"request_id": "abc"},
	})
	require.NoError(t, err)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "Security event", line["message"])
	assert.Equal(t, audit.EventServiceRequestApproved, line["event_type"])
	assert.Equal(t, actor.String(), line["actor_id"])
	assert.Equal(t, "svc-1", line["service_id"])
	assert.Equal(t, "abc", line["request_id"])
}

func TestAuditHandlerSkipsMalformed(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	err := auditHandler(&log)(context.Background(), &kafka.Message{Topic: kafka.TopicAuditLedger, Value: []byte("{not json")})
	assert.NoError(t, err)
	assert.Contains(t, buf.String(), "skipping malformed event")
}
