package kafka

import (
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Topics carrying the audit trail, one per business area.
const (
	TopicAuditWorkflow      = "dbo.audit.workflow"
	TopicAuditSubscriptions = "dbo.audit.subscriptions"
	TopicAuditLedger        = "dbo.audit.ledger"
	TopicAuditClients       = "dbo.audit.clients"

	TopicDLQ = "dbo.dlq"
)

// AuditTopics lists every topic the audit worker subscribes to.
var AuditTopics = []string{
	TopicAuditWorkflow,
	TopicAuditSubscriptions,
	TopicAuditLedger,
	TopicAuditClients,
}

// ConsumerGroup names for different Kafka consumers
const (
	GroupAuditWorker = "dbo.audit.worker"
)

// TopicForEvent routes an audit event type ("service_request.approved",
// "subscription.connected", ...) to its topic. Unknown types go to the DLQ.
func TopicForEvent(eventType string) string {
	prefix, _, _ := strings.Cut(eventType, ".")
	switch prefix {
	case "service_request":
		return TopicAuditWorkflow
	case "subscription":
		return TopicAuditSubscriptions
	case "card", "transfer":
		return TopicAuditLedger
	case "client":
		return TopicAuditClients
	default:
		return TopicDLQ
	}
}

type Config struct {
	Brokers           []string
	ProducerTimeout   time.Duration
	RequiredAcks      kgo.Acks
	SessionTimeout    time.Duration
	HeartbeatInterval time.Duration
	MaxPollRecords    int
	MaxRetries        int
	RetryBackoff      time.Duration
}

func DefaultConfig(brokers []string) *Config {
	return &Config{
		Brokers:           brokers,
		ProducerTimeout:   10 * time.Second,
		RequiredAcks:      kgo.AllISRAcks(),
		SessionTimeout:    10 * time.Second,
		HeartbeatInterval: 3 * time.Second,
		MaxPollRecords:    100,
		MaxRetries:        5,
		RetryBackoff:      1 * time.Second,
	}
}
