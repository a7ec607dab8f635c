// Package audit records security-relevant events (reviews, onboarding,
// subscription changes) next to the operations that cause them. Emitting is
// best effort: a failure is logged and counted but never reaches the caller,
// so it cannot block or roll back the primary operation.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/finanspro/dbo/internal/metrics"
	"github.com/finanspro/dbo/internal/middleware"
	"github.com/finanspro/dbo/internal/model"
	"github.com/finanspro/dbo/internal/store"
	"github.com/google/uuid"
)

const (
	EventServiceRequestSubmitted = "service_request.submitted"
	EventServiceRequestApproved  = "service_request.approved"
	EventServiceRequestRejected  = "service_request.rejected"
	EventClientCreated           = "client.created"
	EventCardBlocked             = "card.blocked"
	EventTransferCompleted       = "transfer.completed"
	EventSubscriptionConnected   = "subscription.connected"
	EventSubscriptionDisconnect  = "subscription.disconnected"
	EventSubscriptionRenewed     = "subscription.renewed"
	EventSubscriptionSuspended   = "subscription.suspended"
	EventSubscriptionExpired     = "subscription.expired"
)

type Event struct {
	Type       string            `json:"type"`
	ActorID    uuid.UUID         `json:"actor_id"`
	ActorRole  model.Role        `json:"actor_role"`
	SubjectID  string            `json:"subject_id"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	RequestID  string            `json:"request_id,omitempty"`
}

type Emitter interface {
	Emit(ctx context.Context, event Event)
}

type Nop struct{}

func (Nop) Emit(context.Context, Event) {}

// OutboxEmitter appends events to the audit outbox in their own unit of
// work; the outbox relay forwards them to kafka.
type OutboxEmitter struct {
	store store.Store
}

func NewOutboxEmitter(st store.Store) *OutboxEmitter {
	return &OutboxEmitter{store: st}
}

func (e *OutboxEmitter) Emit(ctx context.Context, event Event) {
	logger := middleware.GetLogger(ctx)

	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if event.RequestID == "" {
		event.RequestID = middleware.GetRequestIDFromContext(ctx)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		logger.Error().Err(err).Str("event_type", event.Type).Msg("Audit: failed to marshal event")
		metrics.RecordAuditDropped()
		return
	}

	row := &model.AuditOutbox{
		EventType:     event.Type,
		Payload:       payload,
		PartitionKey:  event.SubjectID,
		Status:        "pending",
		CorrelationID: event.RequestID,
	}
	// The caller's context may already be cancelled once its work has
	// committed; the event still belongs in the trail.
	writeCtx := context.WithoutCancel(ctx)
	err = e.store.InTx(writeCtx, func(tx store.Tx) error {
		return tx.InsertAuditEvent(writeCtx, row)
	})
	if err != nil {
		logger.Error().Err(err).Str("event_type", event.Type).Str("subject_id", event.SubjectID).Msg("Audit: failed to store event in outbox")
		metrics.RecordAuditDropped()
		return
	}

	logger.Debug().Str("event_type", event.Type).Str("subject_id", event.SubjectID).Msg("Audit event stored in outbox")
}

// Recorder collects events in memory. Tests use it to assert what was emitted.
type Recorder struct {
	mu     sync.Mutex
	Events []Event
}

func (r *Recorder) Emit(_ context.Context, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, event)
}

func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.Events))
	for _, e := range r.Events {
		out = append(out, e.Type)
	}
	return out
}
