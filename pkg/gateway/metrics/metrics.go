// Package metrics holds the gateway's Prometheus instrumentation. One
// Metrics value implements the counter interfaces of the pipeline
// stages (sampler, shield, bridge, sessions) so a single instance wires
// everything.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	registry *prometheus.Registry

	// Privacy shield
	VerdictsTotal *prometheus.CounterVec

	// Frame sampler
	StillsSampledTotal prometheus.Counter
	StillsDroppedTotal prometheus.Counter

	// Upstream bridge
	ReconnectsTotal        prometheus.Counter
	AudioDroppedBytesTotal prometheus.Counter
	ImagesDroppedTotal     prometheus.Counter

	// Sessions
	SessionsActive prometheus.Gauge
	SessionsTotal  prometheus.Counter
	BargeInsTotal  prometheus.Counter

	// HTTP surface
	RequestsTotal *prometheus.CounterVec
}

// New creates a Metrics instance with all metrics registered on its own
// registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "atelier"
	}

	registry := prometheus.NewRegistry()

	verdictsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "privacy_verdicts_total",
			Help:      "Privacy shield verdicts by kind",
		},
		[]string{"kind"},
	)

	stillsSampledTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stills_sampled_total",
			Help:      "Video stills selected by the frame sampler",
		},
	)

	stillsDroppedTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stills_dropped_total",
			Help:      "Video stills dropped because downstream was busy",
		},
	)

	reconnectsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_reconnects_total",
			Help:      "Reconnect attempts against the live service",
		},
	)

	audioDroppedBytesTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_audio_dropped_bytes_total",
			Help:      "Buffered audio bytes dropped during upstream outages",
		},
	)

	imagesDroppedTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_images_dropped_total",
			Help:      "Stills dropped before reaching the live service",
		},
	)

	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live client sessions",
		},
	)

	sessionsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total client sessions created",
		},
	)

	bargeInsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barge_ins_total",
			Help:      "User interruptions detected while the model was speaking",
		},
	)

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "HTTP requests by path and status",
		},
		[]string{"path", "status"},
	)

	registry.MustRegister(
		verdictsTotal,
		stillsSampledTotal,
		stillsDroppedTotal,
		reconnectsTotal,
		audioDroppedBytesTotal,
		imagesDroppedTotal,
		sessionsActive,
		sessionsTotal,
		bargeInsTotal,
		requestsTotal,
	)

	return &Metrics{
		registry:               registry,
		VerdictsTotal:          verdictsTotal,
		StillsSampledTotal:     stillsSampledTotal,
		StillsDroppedTotal:     stillsDroppedTotal,
		ReconnectsTotal:        reconnectsTotal,
		AudioDroppedBytesTotal: audioDroppedBytesTotal,
		ImagesDroppedTotal:     imagesDroppedTotal,
		SessionsActive:         sessionsActive,
		SessionsTotal:          sessionsTotal,
		BargeInsTotal:          bargeInsTotal,
		RequestsTotal:          requestsTotal,
	}
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Verdict implements the privacy shield counter.
func (m *Metrics) Verdict(kind string) {
	m.VerdictsTotal.WithLabelValues(kind).Inc()
}

// StillSampled implements the sampler counter.
func (m *Metrics) StillSampled() {
	m.StillsSampledTotal.Inc()
}

// StillDropped implements the sampler counter.
func (m *Metrics) StillDropped() {
	m.StillsDroppedTotal.Inc()
}

// Reconnect implements the bridge counter.
func (m *Metrics) Reconnect() {
	m.ReconnectsTotal.Inc()
}

// AudioDropped implements the bridge counter.
func (m *Metrics) AudioDropped(bytes int) {
	m.AudioDroppedBytesTotal.Add(float64(bytes))
}

// ImageDropped implements the bridge counter.
func (m *Metrics) ImageDropped() {
	m.ImagesDroppedTotal.Inc()
}

// SessionOpened implements the session counter.
func (m *Metrics) SessionOpened() {
	m.SessionsActive.Inc()
	m.SessionsTotal.Inc()
}

// SessionClosed implements the session counter.
func (m *Metrics) SessionClosed() {
	m.SessionsActive.Dec()
}

// BargeIn implements the session counter.
func (m *Metrics) BargeIn() {
	m.BargeInsTotal.Inc()
}

// RecordRequest counts one completed HTTP request.
func (m *Metrics) RecordRequest(path, status string) {
	m.RequestsTotal.WithLabelValues(path, status).Inc()
}
