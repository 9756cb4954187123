package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for scheduled jobs.
type Metrics struct {
	ExportsRun     *prometheus.CounterVec
	ExportDuration prometheus.Histogram
	SessionsPruned prometheus.Counter
}

// NewMetrics creates and registers scheduler metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		ExportsRun: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "procward",
			Subsystem: "scheduler",
			Name:      "exports_total",
			Help:      "Scheduled report exports, by status.",
		}, []string{"status"}),
		ExportDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "procward",
			Subsystem: "scheduler",
			Name:      "export_duration_seconds",
			Help:      "Duration of each scheduled export.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),
		SessionsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "procward",
			Subsystem: "scheduler",
			Name:      "sessions_pruned_total",
			Help:      "Archived sessions deleted by retention.",
		}),
	}

	reg.MustRegister(m.ExportsRun, m.ExportDuration, m.SessionsPruned)
	return m
}

func (m *Metrics) observeExport(d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ExportsRun.WithLabelValues(status).Inc()
	m.ExportDuration.Observe(d.Seconds())
}

func (m *Metrics) pruned(n int64) {
	if m == nil {
		return
	}
	m.SessionsPruned.Add(float64(n))
}
