package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dbo",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dbo",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "route"},
	)

	serviceRequestReviews = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dbo",
			Subsystem: "workflow",
			Name:      "service_request_reviews_total",
			Help:      "Service request reviews by decision and outcome.",
		},
		[]string{"decision", "outcome"},
	)

	subscriptionChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dbo",
			Subsystem: "subscriptions",
			Name:      "changes_total",
			Help:      "Subscription connects, disconnects and renewals by outcome.",
		},
		[]string{"operation", "outcome"},
	)

	ledgerPostings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dbo",
			Subsystem: "ledger",
			Name:      "postings_total",
			Help:      "Completed ledger transactions by type.",
		},
		[]string{"type"},
	)

	auditDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dbo",
			Subsystem: "audit",
			Name:      "dropped_events_total",
			Help:      "Audit events that could not be written to the outbox.",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpRequests,
		httpDuration,
		serviceRequestReviews,
		subscriptionChanges,
		ledgerPostings,
		auditDropped,
	)
}

// Handler exposes the registry for scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func RecordReview(decision, outcome string) {
	serviceRequestReviews.WithLabelValues(decision, outcome).Inc()
}

func RecordSubscriptionChange(operation, outcome string) {
	subscriptionChanges.WithLabelValues(operation, outcome).Inc()
}

func RecordPosting(txType string) {
	ledgerPostings.WithLabelValues(txType).Inc()
}

// Postings returns the postings counter for txType.
func Postings(txType string) prometheus.Counter {
	return ledgerPostings.WithLabelValues(txType)
}

func RecordAuditDropped() {
	auditDropped.Inc()
}
