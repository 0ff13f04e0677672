package actor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics carries the host's instrumentation. Registration is left to the
// caller so tests can use a private registry.
type Metrics struct {
	Activations prometheus.Counter
	Invocations *prometheus.CounterVec
	TimerFires  prometheus.Counter
	Live        prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Activations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "actor_activations_total",
			Help: "Total actor activations.",
		}),
		Invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "actor_invocations_total",
			Help: "Total actor method invocations.",
		}, []string{"kind"}),
		TimerFires: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "actor_timer_fires_total",
			Help: "Total actor timer fires.",
		}),
		Live: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "actor_live",
			Help: "Number of live actor activations.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Activations, m.Invocations, m.TimerFires, m.Live)
	}
	return m
}

// NopMetrics returns unregistered metrics, for tests and embedded use.
func NopMetrics() *Metrics {
	return NewMetrics(nil)
}
