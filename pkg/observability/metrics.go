package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the audit trail service
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Audit trail metrics
	EventsRecorded    *prometheus.CounterVec
	RecordFailures    prometheus.Counter
	ExportRowsTotal   prometheus.Counter
	ExportsTruncated  prometheus.Counter

	// Retention metrics
	DocumentsPurged    prometheus.Counter
	PurgeFailures      prometheus.Counter
	DocumentsRestored  prometheus.Counter
	SweepDuration      prometheus.Histogram
	SoftDeletedPending prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics on the given
// registry. A nil registry gets a fresh one (useful in tests).
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audittrail_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "audittrail_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		EventsRecorded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audittrail_events_recorded_total",
				Help: "Audit events recorded, by action and entity type",
			},
			[]string{"action", "entity_type"},
		),
		RecordFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "audittrail_record_failures_total",
				Help: "Audit recording attempts that failed at the store",
			},
		),
		ExportRowsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "audittrail_export_rows_total",
				Help: "Rows written to CSV exports",
			},
		),
		ExportsTruncated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "audittrail_exports_truncated_total",
				Help: "CSV exports that hit the row cap",
			},
		),

		DocumentsPurged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "audittrail_documents_purged_total",
				Help: "Soft-deleted documents permanently purged",
			},
		),
		PurgeFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "audittrail_purge_failures_total",
				Help: "Purge attempts that failed and will be retried",
			},
		),
		DocumentsRestored: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "audittrail_documents_restored_total",
				Help: "Soft-deleted documents restored to active",
			},
		),
		SweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "audittrail_sweep_duration_seconds",
				Help:    "Duration of retention sweep runs",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
			},
		),
		SoftDeletedPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "audittrail_soft_deleted_pending",
				Help: "Documents currently soft-deleted and awaiting purge",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.EventsRecorded,
		m.RecordFailures,
		m.ExportRowsTotal,
		m.ExportsTruncated,
		m.DocumentsPurged,
		m.PurgeFailures,
		m.DocumentsRestored,
		m.SweepDuration,
		m.SoftDeletedPending,
	)

	return m
}

// Handler returns the /metrics endpoint handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// statusRecorder captures the response status for metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware instruments an HTTP handler with request count and duration.
// The path label uses the route template, not the raw URL, to keep
// cardinality bounded; callers pass it per-route.
func (m *Metrics) Middleware(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
