// Package metrics exposes Prometheus collectors for the session layer.
// A nil *Metrics is valid and records nothing, so tests and tools that do not
// care about metrics can pass nil.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "commlink"

type Metrics struct {
	activeSessions  prometheus.Gauge
	sessionsTotal   prometheus.Counter
	framesReceived  *prometheus.CounterVec
	framesSent      *prometheus.CounterVec
	protocolErrors  *prometheus.CounterVec
	handlerFailures *prometheus.CounterVec
	unknownTypes    prometheus.Counter
}

// New registers the collectors on reg. Passing a fresh prometheus.NewRegistry
// keeps tests isolated from the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of peer sessions currently registered",
		}),
		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of peer sessions accepted",
		}),
		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Frames decoded, by message type",
		}, []string{"type"}),
		framesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Frames written, by message type",
		}, []string{"type"}),
		protocolErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Receive failures, by kind",
		}, []string{"kind"}),
		handlerFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_failures_total",
			Help:      "Handlers that returned an error or panicked, by message type",
		}, []string{"type"}),
		unknownTypes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unknown_message_types_total",
			Help:      "Messages dropped because no handler was registered for their type",
		}),
	}
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsTotal.Inc()
	m.activeSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

func (m *Metrics) FrameReceived(msgType string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(msgType).Inc()
}

func (m *Metrics) FrameSent(msgType string) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(msgType).Inc()
}

// ProtocolError counts a receive failure. kind is a short stable label such
// as "truncated" or "malformed".
func (m *Metrics) ProtocolError(kind string) {
	if m == nil {
		return
	}
	m.protocolErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) HandlerFailure(msgType string) {
	if m == nil {
		return
	}
	m.handlerFailures.WithLabelValues(msgType).Inc()
}

func (m *Metrics) UnknownType() {
	if m == nil {
		return
	}
	m.unknownTypes.Inc()
}
