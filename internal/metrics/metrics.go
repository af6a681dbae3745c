// Package metrics exposes Prometheus collectors for diffing, edits and conflicts.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	diffsTotal         *prometheus.CounterVec
	diffDuration       *prometheus.HistogramVec
	editsTotal         *prometheus.CounterVec
	conflictsDetected  prometheus.Counter
	resolutionsTotal   *prometheus.CounterVec
	wsSubscribers      prometheus.Gauge
	httpRequestsTotal  *prometheus.CounterVec
	httpRequestSeconds *prometheus.HistogramVec
}

// New registers the collectors on reg. Use prometheus.NewRegistry in tests to avoid
// clashing with the default registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		diffsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reconcile_diffs_total",
			Help: "Diffs computed, by granularity.",
		}, []string{"granularity"}),
		diffDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reconcile_diff_duration_seconds",
			Help:    "Time spent computing diffs.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"granularity"}),
		editsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reconcile_edits_total",
			Help: "Submitted edits, by outcome.",
		}, []string{"outcome"}),
		conflictsDetected: f.NewCounter(prometheus.CounterOpts{
			Name: "reconcile_conflicts_detected_total",
			Help: "Conflicts detected between concurrent edits.",
		}),
		resolutionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reconcile_resolutions_total",
			Help: "Conflict resolutions, by strategy.",
		}, []string{"strategy"}),
		wsSubscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "reconcile_ws_subscribers",
			Help: "Open document event subscriptions.",
		}),
		httpRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reconcile_http_requests_total",
			Help: "HTTP requests, by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpRequestSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reconcile_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) ObserveDiff(granularity string, d time.Duration) {
	if m == nil {
		return
	}
	m.diffsTotal.WithLabelValues(granularity).Inc()
	m.diffDuration.WithLabelValues(granularity).Observe(d.Seconds())
}

func (m *Metrics) EditOutcome(outcome string) {
	if m == nil {
		return
	}
	m.editsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ConflictDetected() {
	if m == nil {
		return
	}
	m.conflictsDetected.Inc()
}

func (m *Metrics) Resolution(strategy string) {
	if m == nil {
		return
	}
	m.resolutionsTotal.WithLabelValues(strategy).Inc()
}

// SubscriberDelta adjusts the open subscription gauge by n.
func (m *Metrics) SubscriberDelta(n int) {
	if m == nil {
		return
	}
	m.wsSubscribers.Add(float64(n))
}

func (m *Metrics) HTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpRequestSeconds.WithLabelValues(method, route).Observe(d.Seconds())
}
