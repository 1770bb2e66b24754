package fallback

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the degradation controller's Prometheus collectors.
type Metrics struct {
	// Mode is 1 for the current mode.
	// Labels: mode
	Mode *prometheus.GaugeVec

	// Polls counts poll fetches by result (ok|error|unauthorized).
	Polls *prometheus.CounterVec

	// Delivered counts messages forwarded from polling.
	Delivered prometheus.Counter

	// Resyncs counts recovery snapshots by result (ok|error).
	Resyncs *prometheus.CounterVec
}

// NewMetrics registers controller metrics on reg; nil uses a private registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		Mode: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chatlink_fallback_mode",
				Help: "Current degradation mode (1 for the active mode)",
			},
			[]string{"mode"},
		),
		Polls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatlink_fallback_polls_total",
				Help: "Total number of fallback poll fetches by result",
			},
			[]string{"result"},
		),
		Delivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatlink_fallback_delivered_total",
			Help: "Messages delivered from fallback polling",
		}),
		Resyncs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatlink_fallback_resyncs_total",
				Help: "Total number of recovery resyncs by result",
			},
			[]string{"result"},
		),
	}
}

func (m *Metrics) setMode(mode Mode) {
	if m == nil {
		return
	}
	for _, candidate := range allModes {
		v := 0.0
		if candidate == mode {
			v = 1
		}
		m.Mode.WithLabelValues(string(candidate)).Set(v)
	}
}

func (m *Metrics) poll(result string) {
	if m == nil {
		return
	}
	m.Polls.WithLabelValues(result).Inc()
}

func (m *Metrics) delivered(n int) {
	if m == nil || n == 0 {
		return
	}
	m.Delivered.Add(float64(n))
}

func (m *Metrics) resync(result string) {
	if m == nil {
		return
	}
	m.Resyncs.WithLabelValues(result).Inc()
}
