package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	jobmetrics "github.com/odyssey-erp/authmatrix/internal/jobs"
)

// Metrics collects the Prometheus metrics exposed by the console.
type Metrics struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	mutationsTotal   *prometheus.CounterVec
	gateDenialsTotal *prometheus.CounterVec
	snapshotLoads    *prometheus.CounterVec
	jobs             *jobmetrics.Metrics
}

// NewMetrics initialises the registry and the console metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authmatrix_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "authmatrix_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	mutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authmatrix_permission_mutations_total",
		Help: "Confirmed permission writes by resulting status.",
	}, []string{"status"})
	denials := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authmatrix_gate_denials_total",
		Help: "Requests rejected by the access gate by required capability.",
	}, []string{"capability"})
	loads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authmatrix_matrix_snapshot_loads_total",
		Help: "Matrix snapshot loads by source (cache or store).",
	}, []string{"source"})
	registry.MustRegister(requests, duration, mutations, denials, loads)
	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:    requests,
		requestDuration:  duration,
		mutationsTotal:   mutations,
		gateDenialsTotal: denials,
		snapshotLoads:    loads,
		jobs:             jobmetrics.NewMetrics(registry),
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// PermissionMutated counts a committed permission write.
func (m *Metrics) PermissionMutated(status string) {
	if m == nil {
		return
	}
	m.mutationsTotal.WithLabelValues(status).Inc()
}

// GateDenied counts a request rejected for lacking the named capability.
func (m *Metrics) GateDenied(capability string) {
	if m == nil {
		return
	}
	m.gateDenialsTotal.WithLabelValues(capability).Inc()
}

// SnapshotLoaded counts a matrix snapshot load from source.
func (m *Metrics) SnapshotLoaded(source string) {
	if m == nil {
		return
	}
	m.snapshotLoads.WithLabelValues(source).Inc()
}

// Jobs exposes the background job collectors registered on this registry.
func (m *Metrics) Jobs() *jobmetrics.Metrics {
	if m == nil {
		return nil
	}
	return m.jobs
}

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
