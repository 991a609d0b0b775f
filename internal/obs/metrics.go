package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors exported by the gateway.
type Metrics struct {
	gatherer prometheus.Gatherer

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	SignatureFailures *prometheus.CounterVec
	Interactions      *prometheus.CounterVec
	Reconciles        *prometheus.CounterVec
}

// NewMetrics registers all collectors on reg. A nil reg uses a private
// registry, which is what tests want.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		gatherer: reg,
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latencies in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		SignatureFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slack_signature_failures_total",
				Help: "Inbound Slack requests rejected by signature verification.",
			},
			[]string{"reason"},
		),
		Interactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slack_interactions_total",
				Help: "Dispatched Slack interactions by envelope type and outcome.",
			},
			[]string{"type", "outcome"},
		),
		Reconciles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "identity_reconcile_total",
				Help: "Identity reconciliations by entity and outcome (found, created, conflict).",
			},
			[]string{"entity", "outcome"},
		),
	}
	reg.MustRegister(
		m.httpInFlight,
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.SignatureFailures,
		m.Interactions,
		m.Reconciles,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Instrument records RPS, latency and in-flight requests.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		m.httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath collapses identifiers in known routes so label cardinality
// stays bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	// /v1/tickets/{id}/comments
	if len(parts) == 4 && parts[0] == "v1" && parts[1] == "tickets" && parts[3] == "comments" {
		return "/v1/tickets/:id/comments"
	}
	return p
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
