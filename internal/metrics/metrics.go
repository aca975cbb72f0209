// Package metrics exposes Prometheus collectors for the capture workflow and
// the measurement API.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/example/measulor/internal/capture"
)

const namespace = "measulor"

// Metrics holds every collector. It implements capture.Recorder.
type Metrics struct {
	transitions *prometheus.CounterVec
	failures    *prometheus.CounterVec
	rejected    *prometheus.CounterVec
	inFlight    prometheus.Gauge
	roundTrip   prometheus.Histogram

	requests        *prometheus.CounterVec
	requestLatency  *prometheus.HistogramVec
	estimateLatency prometheus.Histogram
	estimateErrors  prometheus.Counter
	cacheLookups    *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_transitions_total",
			Help:      "Capture state transitions by source and target state.",
		}, []string{"from", "to"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_failures_total",
			Help:      "Captures that ended in the error state, by failure kind.",
		}, []string{"kind"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_rejected_total",
			Help:      "Submissions ignored by a controller, by reason.",
		}, []string{"reason"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "capture_in_flight",
			Help:      "Captures currently uploading or processing.",
		}),
		roundTrip: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "capture_round_trip_seconds",
			Help:      "Time from submission to a successful measurement response.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		estimateLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "estimate_duration_seconds",
			Help:      "Latency of the measurement estimator.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		estimateErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "estimate_errors_total",
			Help:      "Estimator calls that returned an error.",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "result_cache_lookups_total",
			Help:      "Result cache lookups by outcome (hit, miss, error).",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.transitions, m.failures, m.rejected, m.inFlight, m.roundTrip,
		m.requests, m.requestLatency, m.estimateLatency, m.estimateErrors, m.cacheLookups,
	)
	return m
}

// Transition implements capture.Recorder.
func (m *Metrics) Transition(from, to capture.State) {
	m.transitions.WithLabelValues(from.String(), to.String()).Inc()
	switch {
	case !from.InFlight() && to.InFlight():
		m.inFlight.Inc()
	case from.InFlight() && !to.InFlight():
		m.inFlight.Dec()
	}
}

// Failure implements capture.Recorder.
func (m *Metrics) Failure(kind capture.FailureKind) {
	m.failures.WithLabelValues(string(kind)).Inc()
}

// RoundTrip implements capture.Recorder.
func (m *Metrics) RoundTrip(d time.Duration) {
	m.roundTrip.Observe(d.Seconds())
}

// Rejected implements capture.Recorder.
func (m *Metrics) Rejected(reason string) {
	m.rejected.WithLabelValues(reason).Inc()
}

// ObserveEstimate records one estimator call.
func (m *Metrics) ObserveEstimate(d time.Duration, err error) {
	m.estimateLatency.Observe(d.Seconds())
	if err != nil {
		m.estimateErrors.Inc()
	}
}

// CacheLookup records a result cache outcome: "hit", "miss" or "error".
func (m *Metrics) CacheLookup(outcome string) {
	m.cacheLookups.WithLabelValues(outcome).Inc()
}

// Middleware counts requests by matched route, so path parameters do not
// explode label cardinality.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		m.requests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.requestLatency.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

var _ capture.Recorder = (*Metrics)(nil)
