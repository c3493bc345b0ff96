package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	journalsPosted      prometheus.Counter
	journalsReversed    prometheus.Counter
	allocationFailures  prometheus.Counter
	documentTransitions *prometheus.CounterVec
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meridian_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	posted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meridian_journals_posted_total",
		Help: "Journal entries posted.",
	})
	reversed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meridian_journals_reversed_total",
		Help: "Journal entries reversed.",
	})
	allocFail := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meridian_allocation_failures_total",
		Help: "Batch allocations rejected for insufficient stock.",
	})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_document_transitions_total",
		Help: "Document status transitions by target status.",
	}, []string{"status"})
	registry.MustRegister(requests, duration, posted, reversed, allocFail, transitions)
	return &Metrics{
		registry:            registry,
		handler:             promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:       requests,
		requestDuration:     duration,
		journalsPosted:      posted,
		journalsReversed:    reversed,
		allocationFailures:  allocFail,
		documentTransitions: transitions,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request metrics for every HTTP request.
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

// JournalPosted increments the posted-journal counter.
func (m *Metrics) JournalPosted() {
	if m != nil {
		m.journalsPosted.Inc()
	}
}

// JournalReversed increments the reversed-journal counter.
func (m *Metrics) JournalReversed() {
	if m != nil {
		m.journalsReversed.Inc()
	}
}

// AllocationFailed increments the allocation failure counter.
func (m *Metrics) AllocationFailed() {
	if m != nil {
		m.allocationFailures.Inc()
	}
}

// DocumentTransition counts a document status change.
func (m *Metrics) DocumentTransition(status string) {
	if m != nil {
		m.documentTransitions.WithLabelValues(status).Inc()
	}
}

// Gatherer exposes the registry for reading metric values.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.DefaultGatherer
	}
	return m.registry
}

// Registerer exposes the registry for custom metric registration.
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
