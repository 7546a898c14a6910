package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pitabwire/hibah/model"
)

var (
	httpDurationBuckets    = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	backendDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets        = []float64{100, 1024, 10240, 102400, 1048576, 10485760}
	rowCountBuckets        = []float64{0, 1, 5, 10, 25, 50, 100, 250, 1000}
)

// Metrics holds all Prometheus metric instruments for the BFF. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	SubmissionsTotal     *prometheus.CounterVec
	EditsTotal           *prometheus.CounterVec
	IngestionsTotal      *prometheus.CounterVec
	IngestedRows         *prometheus.HistogramVec
	ReviewDecisionsTotal *prometheus.CounterVec
	DraftsExpiredTotal   prometheus.Counter

	BackendRequestsTotal       *prometheus.CounterVec
	BackendRequestDuration     *prometheus.HistogramVec
	BackendCircuitBreakerState prometheus.Gauge
	BackendRetriesTotal        prometheus.Counter

	CapabilityCacheHitsTotal   prometheus.Counter
	CapabilityCacheMissesTotal prometheus.Counter
	OpenAPIOperationsIndexed   prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hibah_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hibah_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hibah_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hibah_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		SubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hibah_proposal_submissions_total",
			Help: "Total number of proposal submissions by stage and outcome.",
		}, []string{"step", "mode", "outcome"}),
		EditsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hibah_draft_edits_total",
			Help: "Total number of draft edits by stage and operation.",
		}, []string{"step", "op", "outcome"}),
		IngestionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hibah_ingestions_total",
			Help: "Total number of spreadsheet ingestions by table and outcome.",
		}, []string{"table", "outcome"}),
		IngestedRows: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hibah_ingested_rows",
			Help:    "Rows produced per successful ingestion.",
			Buckets: rowCountBuckets,
		}, []string{"table"}),
		ReviewDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hibah_review_decisions_total",
			Help: "Total number of reviewer decisions by resulting status.",
		}, []string{"step", "status"}),
		DraftsExpiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hibah_drafts_expired_total",
			Help: "Total number of drafts purged after expiry.",
		}),

		BackendRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hibah_backend_requests_total",
			Help: "Total number of portal backend requests.",
		}, []string{"operation_id", "status"}),
		BackendRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hibah_backend_request_duration_seconds",
			Help:    "Portal backend request duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"operation_id"}),
		BackendCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hibah_backend_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
		BackendRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hibah_backend_retries_total",
			Help: "Total number of portal backend request retries.",
		}),

		CapabilityCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hibah_capability_cache_hits_total",
			Help: "Total capability cache hits.",
		}),
		CapabilityCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hibah_capability_cache_misses_total",
			Help: "Total capability cache misses.",
		}),
		OpenAPIOperationsIndexed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hibah_openapi_operations_indexed",
			Help: "Number of indexed portal backend operations.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		m.SubmissionsTotal,
		m.EditsTotal,
		m.IngestionsTotal,
		m.IngestedRows,
		m.ReviewDecisionsTotal,
		m.DraftsExpiredTotal,
		m.BackendRequestsTotal,
		m.BackendRequestDuration,
		m.BackendCircuitBreakerState,
		m.BackendRetriesTotal,
		m.CapabilityCacheHitsTotal,
		m.CapabilityCacheMissesTotal,
		m.OpenAPIOperationsIndexed,
	)

	return m
}

// Outcome labels.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
	OutcomeStale = "stale"
)

// OutcomeOf maps an error to an outcome label.
func OutcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case model.IsCode(err, model.ErrStaleIngestion):
		return OutcomeStale
	}
	return OutcomeError
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordSubmission records a proposal submission. mode is "create" or "update".
func (m *Metrics) RecordSubmission(step, mode, outcome string) {
	if m == nil {
		return
	}
	m.SubmissionsTotal.WithLabelValues(step, mode, outcome).Inc()
}

// RecordEdit records a draft edit.
func (m *Metrics) RecordEdit(step, op, outcome string) {
	if m == nil {
		return
	}
	m.EditsTotal.WithLabelValues(step, op, outcome).Inc()
}

// RecordIngestion records a spreadsheet ingestion and, on success, its row count.
func (m *Metrics) RecordIngestion(table, outcome string, rows int) {
	if m == nil {
		return
	}
	m.IngestionsTotal.WithLabelValues(table, outcome).Inc()
	if outcome == OutcomeOK {
		m.IngestedRows.WithLabelValues(table).Observe(float64(rows))
	}
}

// RecordReviewDecision records a reviewer decision.
func (m *Metrics) RecordReviewDecision(step, status string) {
	if m == nil {
		return
	}
	m.ReviewDecisionsTotal.WithLabelValues(step, status).Inc()
}

// RecordDraftsExpired records drafts purged by the janitor.
func (m *Metrics) RecordDraftsExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.DraftsExpiredTotal.Add(float64(n))
}

// RecordBackendRequest records a portal backend request.
func (m *Metrics) RecordBackendRequest(operationID string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.BackendRequestsTotal.WithLabelValues(operationID, strconv.Itoa(status)).Inc()
	m.BackendRequestDuration.WithLabelValues(operationID).Observe(duration.Seconds())
}

// SetBackendCircuitBreakerState sets the breaker state: 0=closed, 1=half-open, 2=open.
func (m *Metrics) SetBackendCircuitBreakerState(state float64) {
	if m == nil {
		return
	}
	m.BackendCircuitBreakerState.Set(state)
}

// RecordBackendRetry records a portal backend retry.
func (m *Metrics) RecordBackendRetry() {
	if m == nil {
		return
	}
	m.BackendRetriesTotal.Inc()
}

// RecordCapabilityCacheHit records a capability cache hit.
func (m *Metrics) RecordCapabilityCacheHit() {
	if m == nil {
		return
	}
	m.CapabilityCacheHitsTotal.Inc()
}

// RecordCapabilityCacheMiss records a capability cache miss.
func (m *Metrics) RecordCapabilityCacheMiss() {
	if m == nil {
		return
	}
	m.CapabilityCacheMissesTotal.Inc()
}

// SetOpenAPIOperationsIndexed sets the number of indexed portal operations.
func (m *Metrics) SetOpenAPIOperationsIndexed(count int) {
	if m == nil {
		return
	}
	m.OpenAPIOperationsIndexed.Set(float64(count))
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &recordingWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}
		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start), reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := rctx.RoutePattern()
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// recordingWriter captures the status and body size of a response.
type recordingWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *recordingWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	w.written = true
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
