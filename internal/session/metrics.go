package session

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the session layer.
type Metrics struct {
	DroppedEvents prometheus.Counter
	Exports       *prometheus.CounterVec
	Attaches      *prometheus.CounterVec
	Subscribers   prometheus.Gauge
}

// NewMetrics creates and registers session metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}
	m := &Metrics{
		DroppedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "procward",
			Subsystem: "session",
			Name:      "dropped_events_total",
			Help:      "Events not delivered because a subscriber buffer was full.",
		}),
		Exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "procward",
			Subsystem: "session",
			Name:      "exports_total",
			Help:      "Report exports by result.",
		}, []string{"result"}),
		Attaches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "procward",
			Subsystem: "session",
			Name:      "attaches_total",
			Help:      "Attach attempts by result.",
		}, []string{"result"}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "procward",
			Subsystem: "session",
			Name:      "subscribers",
			Help:      "Live event subscriptions.",
		}),
	}
	reg.MustRegister(m.DroppedEvents, m.Exports, m.Attaches, m.Subscribers)
	return m
}

func (m *Metrics) drop() {
	if m != nil {
		m.DroppedEvents.Inc()
	}
}

func (m *Metrics) export(err error) {
	if m != nil {
		m.Exports.WithLabelValues(result(err)).Inc()
	}
}

func (m *Metrics) attach(err error) {
	if m != nil {
		m.Attaches.WithLabelValues(result(err)).Inc()
	}
}

func (m *Metrics) subscribers(n int) {
	if m != nil {
		m.Subscribers.Set(float64(n))
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
