package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the push-channel Prometheus collectors.
type Metrics struct {
	// State is 1 for the current connection state, 0 for the others.
	// Labels: state
	State *prometheus.GaugeVec

	// ReconnectAttempts counts scheduled reconnection attempts.
	ReconnectAttempts prometheus.Counter

	// Frames counts frames by direction and type.
	// Labels: direction (inbound|outbound), type
	Frames *prometheus.CounterVec

	// QueueDepth is the number of frames waiting for a connection.
	QueueDepth prometheus.Gauge

	// QueueDropped counts frames discarded because the queue was full.
	QueueDropped prometheus.Counter

	// Errors counts reported errors by code.
	// Labels: code
	Errors *prometheus.CounterVec
}

// NewMetrics registers transport metrics on reg. A nil reg uses a private
// registry so tests and multiple clients never collide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		State: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chatlink_connection_state",
				Help: "Current push channel state (1 for the active state)",
			},
			[]string{"state"},
		),
		ReconnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatlink_reconnect_attempts_total",
			Help: "Total number of scheduled reconnection attempts",
		}),
		Frames: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatlink_frames_total",
				Help: "Total number of frames by direction and type",
			},
			[]string{"direction", "type"},
		),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chatlink_outbound_queue_depth",
			Help: "Frames buffered while disconnected",
		}),
		QueueDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatlink_outbound_queue_dropped_total",
			Help: "Frames dropped because the outbound queue was full",
		}),
		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatlink_transport_errors_total",
				Help: "Total number of reported transport errors by code",
			},
			[]string{"code"},
		),
	}
}

func (m *Metrics) setState(s State) {
	if m == nil {
		return
	}
	for _, candidate := range allStates {
		v := 0.0
		if candidate == s {
			v = 1
		}
		m.State.WithLabelValues(string(candidate)).Set(v)
	}
}

func (m *Metrics) frame(direction, frameType string) {
	if m == nil {
		return
	}
	if frameType == "" {
		frameType = "unknown"
	}
	m.Frames.WithLabelValues(direction, frameType).Inc()
}

func (m *Metrics) reconnect() {
	if m == nil {
		return
	}
	m.ReconnectAttempts.Inc()
}

func (m *Metrics) queue(depth int, dropped bool) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
	if dropped {
		m.QueueDropped.Inc()
	}
}

func (m *Metrics) recordError(code ErrorCode) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(string(code)).Inc()
}
