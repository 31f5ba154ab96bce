// Package metrics exposes Prometheus metrics for the call bridge. It
// implements the session Observer so call sessions report through it
// without knowing about Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the bridge.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP surface
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Call metrics
	CallsActive     prometheus.Gauge
	CallsTotal      *prometheus.CounterVec
	CallDuration    prometheus.Histogram
	AudioBytesTotal *prometheus.CounterVec
	BargeInsTotal   prometheus.Counter
	Reconnects      prometheus.Counter
	DroppedFrames   *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance with everything registered on
// a private registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "callbridge"
	}

	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"route", "status"},
	)

	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"route"},
	)

	callsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Number of calls currently bridged",
		},
	)

	callsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Total number of calls by terminal status",
		},
		[]string{"status"},
	)

	callDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Call duration in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	audioBytes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Total companded audio bytes bridged",
		},
		[]string{"direction"},
	)

	bargeInsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barge_ins_total",
			Help:      "Total caller interruptions that canceled an agent response",
		},
	)

	reconnects := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_reconnects_total",
			Help:      "Total speech session reconnects after transient disconnects",
		},
	)

	droppedFrames := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_frames_total",
			Help:      "Total audio frames dropped instead of bridged",
		},
		[]string{"direction"},
	)

	registry.MustRegister(
		requestsTotal,
		requestDuration,
		callsActive,
		callsTotal,
		callDuration,
		audioBytes,
		bargeInsTotal,
		reconnects,
		droppedFrames,
	)

	return &Metrics{
		registry:        registry,
		RequestsTotal:   requestsTotal,
		RequestDuration: requestDuration,
		CallsActive:     callsActive,
		CallsTotal:      callsTotal,
		CallDuration:    callDuration,
		AudioBytesTotal: audioBytes,
		BargeInsTotal:   bargeInsTotal,
		Reconnects:      reconnects,
		DroppedFrames:   droppedFrames,
	}
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest records a completed HTTP request.
func (m *Metrics) RecordRequest(route, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(route, status).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// CallStarted implements session.Observer.
func (m *Metrics) CallStarted() {
	m.CallsActive.Inc()
}

// CallEnded implements session.Observer.
func (m *Metrics) CallEnded(status string, d time.Duration) {
	m.CallsActive.Dec()
	m.CallsTotal.WithLabelValues(status).Inc()
	m.CallDuration.Observe(d.Seconds())
}

// AudioBytes implements session.Observer.
func (m *Metrics) AudioBytes(direction string, n int) {
	m.AudioBytesTotal.WithLabelValues(direction).Add(float64(n))
}

// BargeIn implements session.Observer.
func (m *Metrics) BargeIn() {
	m.BargeInsTotal.Inc()
}

// Reconnect implements session.Observer.
func (m *Metrics) Reconnect() {
	m.Reconnects.Inc()
}

// FrameDropped implements session.Observer.
func (m *Metrics) FrameDropped(direction string) {
	m.DroppedFrames.WithLabelValues(direction).Inc()
}
