// Package metrics provides Prometheus metrics for Cloudflyer.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "cloudflyer"
)

// Metrics contains all Prometheus metrics for the provider.
type Metrics struct {
	// Relay connection metrics
	RelayConnected    prometheus.Gauge
	RelayConnects     prometheus.Counter
	RelayDisconnects  *prometheus.CounterVec
	ReconnectAttempts prometheus.Counter
	AuthFailures      prometheus.Counter
	PartnersCount     prometheus.Gauge

	// Channel metrics
	ChannelsActive      prometheus.Gauge
	ChannelsOpened      *prometheus.CounterVec
	ChannelsClosed      prometheus.Counter
	ChannelOpenFailures *prometheus.CounterVec
	ChannelOpenLatency  prometheus.Histogram

	// Data transfer metrics
	BytesSent      *prometheus.CounterVec
	BytesReceived  *prometheus.CounterVec
	FramesSent     *prometheus.CounterVec
	FramesReceived *prometheus.CounterVec

	// Connector token metrics
	ConnectorTokens prometheus.Gauge
	ConnectorOps    *prometheus.CounterVec

	// Solver metrics
	SolverTasks       *prometheus.CounterVec
	SolverTaskLatency prometheus.Histogram
	SolverCacheHits   prometheus.Counter

	// Runtime metrics
	PanicsRecovered prometheus.Counter
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the default metrics instance.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		// Relay connection metrics
		RelayConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_connected",
			Help:      "Whether the relay connection is currently ready (0 or 1)",
		}),
		RelayConnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_connects_total",
			Help:      "Total relay connections established",
		}),
		RelayDisconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_disconnects_total",
			Help:      "Total relay disconnections by reason",
		}, []string{"reason"}),
		ReconnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Total reconnect attempts",
		}),
		AuthFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Total authentication rejections from the relay",
		}),
		PartnersCount: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "partners_count",
			Help:      "Number of partners reported by the relay",
		}),

		// Channel metrics
		ChannelsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channels_active",
			Help:      "Number of currently open channels",
		}),
		ChannelsOpened: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channels_opened_total",
			Help:      "Total channels opened by protocol",
		}, []string{"protocol"}),
		ChannelsClosed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channels_closed_total",
			Help:      "Total channels closed",
		}),
		ChannelOpenFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_open_failures_total",
			Help:      "Total channel open failures by reason",
		}, []string{"reason"}),
		ChannelOpenLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "channel_open_latency_seconds",
			Help:      "Histogram of channel open latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),

		// Data transfer metrics
		BytesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Total payload bytes sent to the relay by protocol",
		}, []string{"protocol"}),
		BytesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total payload bytes received from the relay by protocol",
		}, []string{"protocol"}),
		FramesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Total frames sent by type",
		}, []string{"frame_type"}),
		FramesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total frames received by type",
		}, []string{"frame_type"}),

		// Connector token metrics
		ConnectorTokens: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connector_tokens",
			Help:      "Number of locally registered connector tokens",
		}),
		ConnectorOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connector_ops_total",
			Help:      "Total connector operations by op and result",
		}, []string{"op", "result"}),

		// Solver metrics
		SolverTasks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "solver_tasks_total",
			Help:      "Total solver tasks by type and status",
		}, []string{"type", "status"}),
		SolverTaskLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "solver_task_latency_seconds",
			Help:      "Histogram of solver task completion latency",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		}),
		SolverCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "solver_cache_hits_total",
			Help:      "Total clearance cache hits",
		}),

		// Runtime metrics
		PanicsRecovered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "panics_recovered_total",
			Help:      "Total panics recovered in background goroutines",
		}),
	}

	return m
}

// RecordRelayConnect records an established relay connection.
func (m *Metrics) RecordRelayConnect() {
	m.RelayConnected.Set(1)
	m.RelayConnects.Inc()
}

// RecordRelayDisconnect records a relay disconnection.
func (m *Metrics) RecordRelayDisconnect(reason string) {
	m.RelayConnected.Set(0)
	m.RelayDisconnects.WithLabelValues(reason).Inc()
}

// RecordReconnectAttempt records a reconnect attempt.
func (m *Metrics) RecordReconnectAttempt() {
	m.ReconnectAttempts.Inc()
}

// RecordAuthFailure records a rejected authentication.
func (m *Metrics) RecordAuthFailure() {
	m.AuthFailures.Inc()
}

// SetPartners sets the partner count reported by the relay.
func (m *Metrics) SetPartners(count int) {
	m.PartnersCount.Set(float64(count))
}

// RecordChannelOpen records a channel being opened.
func (m *Metrics) RecordChannelOpen(protocol string, latencySeconds float64) {
	m.ChannelsActive.Inc()
	m.ChannelsOpened.WithLabelValues(protocol).Inc()
	m.ChannelOpenLatency.Observe(latencySeconds)
}

// RecordChannelClose records a channel being closed.
func (m *Metrics) RecordChannelClose() {
	m.ChannelsActive.Dec()
	m.ChannelsClosed.Inc()
}

// RecordChannelOpenFailure records a failed channel open.
func (m *Metrics) RecordChannelOpenFailure(reason string) {
	m.ChannelOpenFailures.WithLabelValues(reason).Inc()
}

// RecordBytesSent records payload bytes sent to the relay.
func (m *Metrics) RecordBytesSent(protocol string, bytes int) {
	m.BytesSent.WithLabelValues(protocol).Add(float64(bytes))
}

// RecordBytesReceived records payload bytes received from the relay.
func (m *Metrics) RecordBytesReceived(protocol string, bytes int) {
	m.BytesReceived.WithLabelValues(protocol).Add(float64(bytes))
}

// RecordFrameSent records a frame being sent.
func (m *Metrics) RecordFrameSent(frameType string) {
	m.FramesSent.WithLabelValues(frameType).Inc()
}

// RecordFrameReceived records a frame being received.
func (m *Metrics) RecordFrameReceived(frameType string) {
	m.FramesReceived.WithLabelValues(frameType).Inc()
}

// SetConnectorTokens sets the number of registered connector tokens.
func (m *Metrics) SetConnectorTokens(count int) {
	m.ConnectorTokens.Set(float64(count))
}

// RecordConnectorOp records a connector operation outcome.
func (m *Metrics) RecordConnectorOp(op string, success bool) {
	result := "ok"
	if !success {
		result = "error"
	}
	m.ConnectorOps.WithLabelValues(op, result).Inc()
}

// RecordSolverTask records a completed solver task.
func (m *Metrics) RecordSolverTask(taskType, status string, latencySeconds float64) {
	m.SolverTasks.WithLabelValues(taskType, status).Inc()
	m.SolverTaskLatency.Observe(latencySeconds)
}

// RecordSolverCacheHit records a clearance served from cache.
func (m *Metrics) RecordSolverCacheHit() {
	m.SolverCacheHits.Inc()
}

// RecordPanic records a recovered panic.
func (m *Metrics) RecordPanic() {
	m.PanicsRecovered.Inc()
}
