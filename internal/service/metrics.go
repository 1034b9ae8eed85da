package service

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "splinter_service_processor"

// Metrics holds the processor counters. A nil *Metrics records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	received       *prometheus.CounterVec
	routed         *prometheus.CounterVec
	dropped        *prometheus.CounterVec
	sent           prometheus.Counter
	errors         *prometheus.CounterVec
	services       prometheus.Gauge
	pendingReplies prometheus.Gauge
}

// NewMetrics creates the processor collectors on a private registry so
// several processors can live in one binary.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_received_total",
			Help:      "Circuit messages received from the node, by message type.",
		}, []string{"type"}),
		routed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_routed_total",
			Help:      "Messages routed to an awaiting caller (matched) or to dispatch (unmatched).",
		}, []string{"route"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_dropped_total",
			Help:      "Messages dropped, by reason.",
		}, []string{"reason"}),
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_sent_total",
			Help:      "Frames handed to the mesh for the node.",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "errors_total",
			Help:      "Errors observed by the processor, by category.",
		}, []string{"category"}),
		services: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "services",
			Help:      "Services registered with the processor.",
		}),
		pendingReplies: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "pending_replies",
			Help:      "Correlation ids currently awaited.",
		}),
	}
	m.registry.MustRegister(m.received, m.routed, m.dropped, m.sent, m.errors, m.services, m.pendingReplies)
	return m
}

// Gatherer exposes the registry for the /metrics endpoint.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

func (m *Metrics) RecordReceived(msgType string) {
	if m == nil {
		return
	}
	m.received.WithLabelValues(msgType).Inc()
}

func (m *Metrics) RecordRouted(matched bool) {
	if m == nil {
		return
	}
	route := "unmatched"
	if matched {
		route = "matched"
	}
	m.routed.WithLabelValues(route).Inc()
}

func (m *Metrics) RecordDropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordSent() {
	if m == nil {
		return
	}
	m.sent.Inc()
}

func (m *Metrics) RecordError(category string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(normalizeErrorCategory(category)).Inc()
}

func (m *Metrics) SetServices(n int) {
	if m == nil {
		return
	}
	m.services.Set(float64(n))
}

func (m *Metrics) SetPendingReplies(n int) {
	if m == nil {
		return
	}
	m.pendingReplies.Set(float64(n))
}

func normalizeErrorCategory(category string) string {
	switch strings.ToLower(strings.TrimSpace(category)) {
	case ErrorCategoryNetwork:
		return ErrorCategoryNetwork
	case ErrorCategoryProtocol:
		return ErrorCategoryProtocol
	default:
		return ErrorCategoryService
	}
}
