package monitor

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jkaninda/procward/internal/domain"
)

// Metrics holds Prometheus metrics for the resource poller.
type Metrics struct {
	Ticks         prometheus.Counter
	SampleFaults  *prometheus.CounterVec
	TickDuration  prometheus.Histogram
	SystemCPU     prometheus.Gauge
	SystemMemory  prometheus.Gauge
	ProcessCPU    prometheus.Gauge
	ProcessMemory prometheus.Gauge
	ProcessRSS    prometheus.Gauge
	ProcessLiving prometheus.Gauge
}

// NewMetrics creates and registers poller metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "procward",
			Subsystem: "poller",
			Name:      name,
			Help:      help,
		})
	}

	m := &Metrics{
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "procward",
			Subsystem: "poller",
			Name:      "ticks_total",
			Help:      "Total poll iterations.",
		}),
		SampleFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "procward",
			Subsystem: "poller",
			Name:      "sample_faults_total",
			Help:      "Sampling faults replaced by zero samples, by kind.",
		}, []string{"kind"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "procward",
			Subsystem: "poller",
			Name:      "tick_duration_seconds",
			Help:      "Duration of each poll iteration.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.15, 0.25, 0.5, 1},
		}),
		SystemCPU:     gauge("system_cpu_percent", "Host CPU utilization."),
		SystemMemory:  gauge("system_memory_percent", "Host memory utilization."),
		ProcessCPU:    gauge("process_cpu_percent", "Attached process CPU utilization."),
		ProcessMemory: gauge("process_memory_percent", "Attached process share of physical memory."),
		ProcessRSS:    gauge("process_rss_bytes", "Attached process resident set size."),
		ProcessLiving: gauge("process_living", "1 while the attached process is alive."),
	}

	reg.MustRegister(
		m.Ticks,
		m.SampleFaults,
		m.TickDuration,
		m.SystemCPU,
		m.SystemMemory,
		m.ProcessCPU,
		m.ProcessMemory,
		m.ProcessRSS,
		m.ProcessLiving,
	)

	return m
}

func (m *Metrics) observeSystem(s domain.SystemSample) {
	if m == nil {
		return
	}
	m.SystemCPU.Set(s.CPUPercent)
	m.SystemMemory.Set(s.MemPercent)
}

func (m *Metrics) observeProcess(s domain.ProcessSample) {
	if m == nil {
		return
	}
	m.ProcessCPU.Set(s.CPUPercent)
	m.ProcessMemory.Set(s.MemPercent)
	m.ProcessRSS.Set(float64(s.RSSBytes))
	if s.Living {
		m.ProcessLiving.Set(1)
	} else {
		m.ProcessLiving.Set(0)
	}
}
