package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// MetricsCollector holds the process-wide Prometheus metrics for procward.
// Uses a custom registry. Per-package metrics (poller, launcher, session)
// register on the same Registry.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Control operations (priority, affinity, terminate).
	ControlOpsTotal  *prometheus.CounterVec
	ControlOpLatency *prometheus.HistogramVec

	// Report rendering.
	ReportsTotal   *prometheus.CounterVec
	ReportDuration *prometheus.HistogramVec

	// HTTP gateway metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	ActiveRequests      prometheus.Gauge
	EventStreams        prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry, along with the Go runtime and process
// collectors.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		ControlOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "procward",
			Subsystem: "control",
			Name:      "operations_total",
			Help:      "Control operations applied to the attached process.",
		}, []string{"op", "status"}),

		ControlOpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "procward",
			Subsystem: "control",
			Name:      "operation_duration_seconds",
			Help:      "Control operation duration in seconds.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"op"}),

		ReportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "procward",
			Subsystem: "report",
			Name:      "generated_total",
			Help:      "Reports rendered, by status.",
		}, []string{"status"}),

		ReportDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "procward",
			Subsystem: "report",
			Name:      "duration_seconds",
			Help:      "Report rendering duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}, []string{"status"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "procward",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "procward",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "procward",
			Name:      "active_requests",
			Help:      "Number of in-flight HTTP requests.",
		}),

		EventStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "procward",
			Subsystem: "http",
			Name:      "event_streams",
			Help:      "Open WebSocket event streams.",
		}),
	}

	reg.MustRegister(
		m.ControlOpsTotal,
		m.ControlOpLatency,
		m.ReportsTotal,
		m.ReportDuration,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
		m.EventStreams,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// RegistryOrNil returns the registry, or nil when metrics are disabled.
func (m *MetricsCollector) RegistryOrNil() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.Registry
}
