// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the agent runtime.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the runtime's Prometheus instruments. It satisfies the
// transport metrics hook and adds server-level gauges and counters.
type Metrics struct {
	registry *prometheus.Registry

	outboundRequests *prometheus.HistogramVec
	inboundRequests  *prometheus.HistogramVec
	notifications    *prometheus.CounterVec
	pendingRequests  prometheus.Gauge
	framesDropped    *prometheus.CounterVec

	connections prometheus.Gauge
	sessions    prometheus.Gauge
	discoveries *prometheus.CounterVec
	turns       *prometheus.CounterVec
}

// MetricsConfig tunes metric identity and histogram resolution.
type MetricsConfig struct {
	Namespace   string
	ConstLabels prometheus.Labels
	// LatencyBuckets override the request duration buckets.
	LatencyBuckets []float64
}

// NewMetrics builds the instrument set on a fresh registry.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if cfg.Namespace == "" {
		cfg.Namespace = "acp"
	}
	if cfg.LatencyBuckets == nil {
		cfg.LatencyBuckets = []float64{.005, .025, .1, .5, 1, 5, 30, 120}
	}

	m := &Metrics{registry: prometheus.NewRegistry()}

	m.outboundRequests = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   cfg.Namespace,
		Name:        "outbound_request_duration_seconds",
		Help:        "Back-channel requests issued to clients.",
		Buckets:     cfg.LatencyBuckets,
		ConstLabels: cfg.ConstLabels,
	}, []string{"method", "status"})

	m.inboundRequests = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   cfg.Namespace,
		Name:        "inbound_request_duration_seconds",
		Help:        "Requests handled for clients.",
		Buckets:     cfg.LatencyBuckets,
		ConstLabels: cfg.ConstLabels,
	}, []string{"method", "status"})

	m.notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   cfg.Namespace,
		Name:        "notifications_total",
		Help:        "Notifications by method and direction.",
		ConstLabels: cfg.ConstLabels,
	}, []string{"method", "direction"})

	m.pendingRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   cfg.Namespace,
		Name:        "pending_requests",
		Help:        "Outbound requests awaiting correlation.",
		ConstLabels: cfg.ConstLabels,
	})

	m.framesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   cfg.Namespace,
		Name:        "frames_dropped_total",
		Help:        "Undecodable inbound frames dropped.",
		ConstLabels: cfg.ConstLabels,
	}, []string{"transport"})

	m.connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   cfg.Namespace,
		Name:        "connections",
		Help:        "Live client connections.",
		ConstLabels: cfg.ConstLabels,
	})

	m.sessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   cfg.Namespace,
		Name:        "sessions",
		Help:        "Live sessions.",
		ConstLabels: cfg.ConstLabels,
	})

	m.discoveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   cfg.Namespace,
		Name:        "tool_discoveries_total",
		Help:        "Tool discovery runs by resulting tier.",
		ConstLabels: cfg.ConstLabels,
	}, []string{"tier"})

	m.turns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   cfg.Namespace,
		Name:        "turns_total",
		Help:        "Prompt turns by stop reason.",
		ConstLabels: cfg.ConstLabels,
	}, []string{"stop_reason"})

	m.registry.MustRegister(
		m.outboundRequests, m.inboundRequests, m.notifications,
		m.pendingRequests, m.framesDropped,
		m.connections, m.sessions, m.discoveries, m.turns,
	)
	return m
}

// Registry exposes the underlying registry for embedding.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordOutboundRequest(method, status string, duration time.Duration) {
	m.outboundRequests.WithLabelValues(method, status).Observe(duration.Seconds())
}

func (m *Metrics) RecordInboundRequest(method, status string, duration time.Duration) {
	m.inboundRequests.WithLabelValues(method, status).Observe(duration.Seconds())
}

func (m *Metrics) RecordNotification(method, direction string) {
	m.notifications.WithLabelValues(method, direction).Inc()
}

func (m *Metrics) RecordPendingRequests(delta int) {
	m.pendingRequests.Add(float64(delta))
}

func (m *Metrics) RecordFrameDropped(transport string) {
	m.framesDropped.WithLabelValues(transport).Inc()
}

func (m *Metrics) ConnectionOpened() { m.connections.Inc() }
func (m *Metrics) ConnectionClosed() { m.connections.Dec() }

func (m *Metrics) SessionRegistered() { m.sessions.Inc() }
func (m *Metrics) SessionReleased()   { m.sessions.Dec() }

func (m *Metrics) RecordDiscovery(tier string) {
	m.discoveries.WithLabelValues(tier).Inc()
}

func (m *Metrics) RecordTurn(stopReason string) {
	m.turns.WithLabelValues(stopReason).Inc()
}
