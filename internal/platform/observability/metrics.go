package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the Prometheus registry for one process.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	cartAdds        *prometheus.CounterVec
	submissions     *prometheus.CounterVec
	casRetries      prometheus.Counter
}

// NewMetrics registers the storefront collectors on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route and status code.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "storefront",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		cartAdds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Name:      "cart_items_added_total",
			Help:      "Cart additions by outcome (merged into an existing line or appended).",
		}, []string{"outcome"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Name:      "form_submissions_total",
			Help:      "Form submissions by form and settled outcome.",
		}, []string{"form", "outcome"}),
		casRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storefront",
			Name:      "cart_write_conflicts_total",
			Help:      "Optimistic cart writes that lost the race and were retried.",
		}),
	}
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.requestDuration,
		m.cartAdds,
		m.submissions,
		m.casRetries,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry is exposed for tests that gather collected values.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// CartItemAdded records one merge-or-append outcome.
func (m *Metrics) CartItemAdded(merged bool) {
	if m == nil {
		return
	}
	outcome := "appended"
	if merged {
		outcome = "merged"
	}
	m.cartAdds.WithLabelValues(outcome).Inc()
}

// CartWriteConflict records one optimistic write retry.
func (m *Metrics) CartWriteConflict() {
	if m == nil {
		return
	}
	m.casRetries.Inc()
}

// FormSubmission records a submission outcome such as rejected, success or error.
func (m *Metrics) FormSubmission(form, outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(form, outcome).Inc()
}

// HTTPMiddleware records request counts and latency keyed by the chi route pattern.
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := newResponseRecorder(w)
		start := time.Now()
		next.ServeHTTP(recorder, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		method := SanitizeMethod(r.Method)
		m.requests.WithLabelValues(method, route, strconv.Itoa(recorder.Status())).Inc()
		m.requestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}
