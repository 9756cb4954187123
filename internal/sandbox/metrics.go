package sandbox

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the command launcher.
type Metrics struct {
	Runs  *prometheus.CounterVec
	Lines *prometheus.CounterVec
}

// NewMetrics creates and registers launcher metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "procward",
			Subsystem: "launcher",
			Name:      "runs_total",
			Help:      "Launcher runs by result (started, exited, failed).",
		}, []string{"result"}),
		Lines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "procward",
			Subsystem: "launcher",
			Name:      "lines_total",
			Help:      "Transcript lines captured, by stream.",
		}, []string{"stream"}),
	}

	reg.MustRegister(m.Runs, m.Lines)
	return m
}

func (m *Metrics) run(result string) {
	if m != nil {
		m.Runs.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) line(stream string) {
	if m != nil {
		m.Lines.WithLabelValues(stream).Inc()
	}
}
