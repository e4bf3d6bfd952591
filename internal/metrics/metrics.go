// Package metrics exports relay and HTTP metrics in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tokligence/tokligence-relay/internal/relay"
	"github.com/tokligence/tokligence-relay/internal/version"
)

const namespace = "relay"

// PoolStats is the view of the backend pool exported as gauges.
type PoolStats interface {
	Size() int
	InUse() int
}

// Collector owns a private registry so tests and embedders never collide on
// the global one.
type Collector struct {
	registry *prometheus.Registry

	// Session metrics
	sessions        *prometheus.CounterVec
	sessionDuration *prometheus.HistogramVec
	chunksForwarded prometheus.Counter
	chunksSkipped   prometheus.Counter
	backendPulls    prometheus.Counter

	// HTTP metrics
	requests           *prometheus.CounterVec
	requestErrors      *prometheus.CounterVec
	requestsInProgress *prometheus.GaugeVec
	requestDuration    *prometheus.HistogramVec

	rateLimitHits prometheus.Counter

	startTime time.Time
}

// NewCollector creates a collector. A nil registry gets a fresh one.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	c := &Collector{
		registry:  registry,
		startTime: time.Now(),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Relay sessions by mode and outcome",
		}, []string{"mode", "outcome"}),
		sessionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall time of relay sessions",
			// local generation ranges from sub-second to minutes
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"mode"}),
		chunksForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_forwarded_total",
			Help:      "Non-empty chunks written to clients",
		}),
		chunksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_skipped_total",
			Help:      "Empty chunks dropped by the relay",
		}),
		backendPulls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_pulls_total",
			Help:      "Reads issued against backend chunk sequences",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint",
		}, []string{"endpoint"}),
		requestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_request_errors_total",
			Help:      "HTTP requests answered with a 4xx or 5xx status",
		}, []string{"endpoint"}),
		requestsInProgress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_progress",
			Help:      "Requests currently being served",
		}, []string{"endpoint"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		rateLimitHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Requests rejected by the rate limiter",
		}),
	}
	registry.MustRegister(
		c.sessions, c.sessionDuration, c.chunksForwarded, c.chunksSkipped, c.backendPulls,
		c.requests, c.requestErrors, c.requestsInProgress, c.requestDuration, c.rateLimitHits,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the relay started",
		}, func() float64 { return time.Since(c.startTime).Seconds() }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "build_info",
			Help:        "Build information",
			ConstLabels: prometheus.Labels{"version": version.Version, "commit": version.Commit},
		}, func() float64 { return 1 }),
	)
	return c
}

// RegisterPool exports pool size and in-use handles.
func (c *Collector) RegisterPool(p PoolStats) {
	c.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_pool_size",
			Help:      "Backend handles in the pool",
		}, func() float64 { return float64(p.Size()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_pool_in_use",
			Help:      "Backend handles currently leased",
		}, func() float64 { return float64(p.InUse()) }),
	)
}

// ObserveSession records one finished relay session.
func (c *Collector) ObserveSession(out relay.Outcome) {
	c.sessions.WithLabelValues(out.Mode, out.Kind.String()).Inc()
	c.sessionDuration.WithLabelValues(out.Mode).Observe(out.Elapsed.Seconds())
	c.chunksForwarded.Add(float64(out.Forwarded))
	c.chunksSkipped.Add(float64(out.Skipped))
	c.backendPulls.Add(float64(out.Pulls))
}

// RecordRequestStart increments in-progress requests.
func (c *Collector) RecordRequestStart(endpoint string) {
	c.requestsInProgress.WithLabelValues(endpoint).Inc()
}

// RecordRequestEnd decrements in-progress requests and records the result.
func (c *Collector) RecordRequestEnd(endpoint string, status int, duration time.Duration) {
	c.requestsInProgress.WithLabelValues(endpoint).Dec()
	c.requests.WithLabelValues(endpoint).Inc()
	c.requestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
	if status >= http.StatusBadRequest {
		c.requestErrors.WithLabelValues(endpoint).Inc()
	}
}

// RecordRateLimitHit records a rate limit rejection.
func (c *Collector) RecordRateLimitHit() {
	c.rateLimitHits.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}
