package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Admission stages and outcomes used as metric labels.
const (
	StageAuth      = "auth"
	StageRateLimit = "rate_limit"
	StageBypass    = "bypass"

	OutcomeAdmitted    = "admitted"
	OutcomeDenied      = "denied"
	OutcomePassThrough = "pass_through"
)

// Metrics holds all Prometheus metrics exported by the gateway.
// All record methods are safe to call on a nil *Metrics.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	AdmissionDecisionsTotal *prometheus.CounterVec
	AuthFailuresTotal       *prometheus.CounterVec
	StoreErrorsTotal        *prometheus.CounterVec
	PermitDuration          prometheus.Histogram
	RateLimitActiveKeys     prometheus.Gauge
}

// NewMetrics creates and registers the gateway metrics on registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_http_requests_total",
				Help: "Total number of HTTP requests handled by the gateway",
			},
			[]string{"method", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "turnstile_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds, including upstream time",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "turnstile_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 7),
			},
			[]string{"method"},
		),
		AdmissionDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_admission_decisions_total",
				Help: "Admission decisions taken by the pipeline stages",
			},
			[]string{"stage", "outcome"},
		),
		AuthFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_auth_failures_total",
				Help: "Rejected bearer tokens by reason",
			},
			[]string{"reason"},
		),
		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_store_errors_total",
				Help: "Remote store failures that caused a fail-closed denial",
			},
			[]string{"operation"},
		),
		PermitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "turnstile_permit_acquire_duration_seconds",
				Help:    "Latency of a single permit acquisition against the store",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
			},
		),
		RateLimitActiveKeys: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "turnstile_rate_limit_active_keys",
				Help: "Number of live sliding-window keys in the store at the last sample",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.AdmissionDecisionsTotal,
		m.AuthFailuresTotal,
		m.StoreErrorsTotal,
		m.PermitDuration,
		m.RateLimitActiveKeys,
	)
	return m
}

// RecordDecision counts an admission decision.
func (m *Metrics) RecordDecision(stage, outcome string) {
	if m == nil {
		return
	}
	m.AdmissionDecisionsTotal.WithLabelValues(stage, outcome).Inc()
}

// RecordAuthFailure counts a rejected token.
func (m *Metrics) RecordAuthFailure(reason string) {
	if m == nil {
		return
	}
	m.AuthFailuresTotal.WithLabelValues(reason).Inc()
}

// RecordStoreError counts a store failure.
func (m *Metrics) RecordStoreError(operation string) {
	if m == nil {
		return
	}
	m.StoreErrorsTotal.WithLabelValues(operation).Inc()
}

// ObservePermit records how long a permit acquisition took.
func (m *Metrics) ObservePermit(d time.Duration) {
	if m == nil {
		return
	}
	m.PermitDuration.Observe(d.Seconds())
}

// SetActiveKeys updates the sampled key gauge.
func (m *Metrics) SetActiveKeys(n int) {
	if m == nil {
		return
	}
	m.RateLimitActiveKeys.Set(float64(n))
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// Flush lets streamed upstream responses through the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
			metrics.HTTPResponseSize.WithLabelValues(r.Method).Observe(float64(rw.bytesWritten))
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format.
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
