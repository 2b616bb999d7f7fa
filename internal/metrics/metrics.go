package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// singleton instance
	instance *Metrics
	once     sync.Once
)

// Metrics holds Prometheus metrics for the notification service
type Metrics struct {
	// API metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
	APIErrorsTotal     *prometheus.CounterVec

	// Subscription metrics
	SubscriptionsCreated  prometheus.Counter
	SubscriptionConflicts prometheus.Counter
	ChangeFeedsActive     prometheus.Gauge
	ChangeSignalsDropped  prometheus.Counter

	// Event metrics
	EventsPublished prometheus.Counter
	EventReadsTotal prometheus.Counter

	// Session metrics
	SessionsActive         prometheus.Gauge
	SessionEventsForwarded prometheus.Counter
	SessionEventsDropped   prometheus.Counter
	SessionErrorsTotal     *prometheus.CounterVec

	// Store metrics
	StoreOperations *prometheus.CounterVec
	StoreErrors     *prometheus.CounterVec
}

// GetMetrics returns the metrics singleton
func GetMetrics() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

// newMetrics initializes and registers all metrics
func newMetrics() *Metrics {
	m := &Metrics{}

	// API metrics
	m.APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifhub_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	m.APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notifhub_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	m.APIErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifhub_api_errors_total",
			Help: "Total number of API errors",
		},
		[]string{"type"},
	)

	// Subscription metrics
	m.SubscriptionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifhub_subscriptions_created_total",
			Help: "Total number of subscriptions created",
		},
	)

	m.SubscriptionConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifhub_subscription_conflicts_total",
			Help: "Total number of rejected duplicate subscriptions",
		},
	)

	m.ChangeFeedsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notifhub_change_feeds_active",
			Help: "Number of per-user change feeds currently registered",
		},
	)

	m.ChangeSignalsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifhub_change_signals_dropped_total",
			Help: "Change notifications dropped because no receiver could take them",
		},
	)

	// Event metrics
	m.EventsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifhub_events_published_total",
			Help: "Total number of events recorded and published",
		},
	)

	m.EventReadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifhub_event_reads_total",
			Help: "Total number of event history reads",
		},
	)

	// Session metrics
	m.SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notifhub_sessions_active",
			Help: "Number of live notification sessions",
		},
	)

	m.SessionEventsForwarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifhub_session_events_forwarded_total",
			Help: "Events forwarded to connected clients",
		},
	)

	m.SessionEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifhub_session_events_dropped_total",
			Help: "Events dropped because a client could not keep up",
		},
	)

	m.SessionErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifhub_session_errors_total",
			Help: "Session teardown causes",
		},
		[]string{"cause"},
	)

	// Store metrics
	m.StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifhub_store_operations_total",
			Help: "Total number of store operations",
		},
		[]string{"operation"},
	)

	m.StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifhub_store_errors_total",
			Help: "Total number of failed store operations",
		},
		[]string{"operation"},
	)

	return m
}
