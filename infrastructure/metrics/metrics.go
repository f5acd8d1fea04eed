// Package metrics provides Prometheus metrics collection for Loom services.
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics shared across Loom's HTTP surface and
// its query bridge, audit pipeline, and LLM pool components.
type Metrics struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Database metrics (component E)
	DatabaseQueriesTotal    *prometheus.CounterVec
	DatabaseQueryDuration   *prometheus.HistogramVec
	DatabaseConnectionsOpen prometheus.Gauge

	// Server-query bridge metrics
	QueriesSentTotal      *prometheus.CounterVec
	QueriesSucceededTotal *prometheus.CounterVec
	QueriesFailedTotal    *prometheus.CounterVec
	QueriesTimeoutsTotal  *prometheus.CounterVec
	QueriesPending        prometheus.Gauge
	QueryLatencySeconds   *prometheus.HistogramVec

	// Audit pipeline sink health (component H)
	AuditSinkHealthy *prometheus.GaugeVec

	// LLM pool account status (component K)
	LLMPoolAccountStatus *prometheus.GaugeVec

	// Service health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a new Metrics instance registered against the default
// registerer.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance registered against a
// caller-supplied registry, used by tests that want an isolated registry.
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errors_total",
				Help: "Total number of errors",
			},
			[]string{"service", "type", "operation"},
		),

		DatabaseQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "database_queries_total",
				Help: "Total number of database queries",
			},
			[]string{"service", "operation", "status"},
		),
		DatabaseQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "database_query_duration_seconds",
				Help:    "Database query duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"service", "operation"},
		),
		DatabaseConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "database_connections_open",
				Help: "Current number of open database connections",
			},
		),

		QueriesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_queries_sent_total",
				Help: "Total number of server-initiated queries sent",
			},
			[]string{"query_type", "session_id"},
		),
		QueriesSucceededTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_queries_succeeded_total",
				Help: "Total number of server-initiated queries that received a matching response",
			},
			[]string{"query_type", "session_id"},
		),
		QueriesFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_queries_failed_total",
				Help: "Total number of server-initiated queries that failed",
			},
			[]string{"query_type", "error_type", "session_id"},
		),
		QueriesTimeoutsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_queries_timeouts_total",
				Help: "Total number of server-initiated queries that timed out",
			},
			[]string{"query_type"},
		),
		QueriesPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "loom_queries_pending",
				Help: "Current number of in-flight server-initiated queries",
			},
		),
		QueryLatencySeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loom_query_latency_seconds",
				Help:    "Latency of server-initiated queries from send to matching response",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"query_type"},
		),

		AuditSinkHealthy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "loom_audit_sink_healthy",
				Help: "Whether an audit sink's last health check passed (1) or failed (0)",
			},
			[]string{"sink"},
		),

		LLMPoolAccountStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "loom_llm_pool_account_status",
				Help: "LLM pool account status; 0=Available, 1=CoolingDown, 2=Disabled",
			},
			[]string{"account_id"},
		),

		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "service_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_info",
				Help: "Service information",
			},
			[]string{"service", "version", "environment"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.ErrorsTotal,
			m.DatabaseQueriesTotal,
			m.DatabaseQueryDuration,
			m.DatabaseConnectionsOpen,
			m.QueriesSentTotal,
			m.QueriesSucceededTotal,
			m.QueriesFailedTotal,
			m.QueriesTimeoutsTotal,
			m.QueriesPending,
			m.QueryLatencySeconds,
			m.AuditSinkHealthy,
			m.LLMPoolAccountStatus,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0", currentEnvironment()).Set(1)

	return m
}

// RecordHTTPRequest records an HTTP request's outcome and duration.
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(service, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordError records an error against service/type/operation labels.
func (m *Metrics) RecordError(service, errorType, operation string) {
	m.ErrorsTotal.WithLabelValues(service, errorType, operation).Inc()
}

// RecordDatabaseQuery records a database query's outcome and duration.
func (m *Metrics) RecordDatabaseQuery(service, operation, status string, duration time.Duration) {
	m.DatabaseQueriesTotal.WithLabelValues(service, operation, status).Inc()
	m.DatabaseQueryDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// SetDatabaseConnections sets the current number of open database connections.
func (m *Metrics) SetDatabaseConnections(count int) {
	m.DatabaseConnectionsOpen.Set(float64(count))
}

// UpdateUptime sets ServiceUptime relative to startTime.
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

// IncrementInFlight increments the in-flight HTTP requests gauge.
func (m *Metrics) IncrementInFlight() {
	m.RequestsInFlight.Inc()
}

// DecrementInFlight decrements the in-flight HTTP requests gauge.
func (m *Metrics) DecrementInFlight() {
	m.RequestsInFlight.Dec()
}

// ForgetSession removes all query-bridge series carrying the given
// session_id label, bounding cardinality growth once a session's trace
// window has been evicted.
func (m *Metrics) ForgetSession(sessionID string) {
	m.QueriesSentTotal.DeletePartialMatch(prometheus.Labels{"session_id": sessionID})
	m.QueriesSucceededTotal.DeletePartialMatch(prometheus.Labels{"session_id": sessionID})
	m.QueriesFailedTotal.DeletePartialMatch(prometheus.Labels{"session_id": sessionID})
}

func currentEnvironment() string {
	if env := strings.TrimSpace(os.Getenv("LOOM_ENV")); env != "" {
		return env
	}
	return "development"
}

// IsProduction reports whether LOOM_ENV is set to "production".
func IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv("LOOM_ENV")), "production")
}

// Enabled returns whether Prometheus metrics should be exposed.
//
// Defaults: production disabled unless explicitly enabled via
// METRICS_ENABLED; non-production enabled unless explicitly disabled.
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return !IsProduction()
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes (once) and returns the global metrics instance.
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance, initializing it with a
// placeholder service name if Init was never called.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("unknown")
	}
	return globalMetrics
}
