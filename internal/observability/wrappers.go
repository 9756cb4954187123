package observability

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/procward/internal/control"
	"github.com/jkaninda/procward/internal/domain"
	"github.com/jkaninda/procward/internal/report"
)

// --- InstrumentedController ---

// InstrumentedController wraps a control.Controller with metrics, tracing, and anomaly detection.
type InstrumentedController struct {
	inner   control.Controller
	metrics *MetricsCollector
	tracer  trace.Tracer
	anomaly *AnomalyDetector
}

// NewInstrumentedController wraps a controller with observability.
func NewInstrumentedController(inner control.Controller, metrics *MetricsCollector, ts *TracerSetup, anomaly *AnomalyDetector) *InstrumentedController {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedController{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
		anomaly: anomaly,
	}
}

func (c *InstrumentedController) SetPriority(ctx context.Context, level domain.PriorityLevel) error {
	return c.observe(ctx, "priority", []attribute.KeyValue{attribute.String("control.priority", level.String())},
		func(ctx context.Context) error { return c.inner.SetPriority(ctx, level) })
}

func (c *InstrumentedController) SetAffinity(ctx context.Context, cores domain.AffinityMask) error {
	return c.observe(ctx, "affinity", []attribute.KeyValue{attribute.IntSlice("control.cores", []int(cores))},
		func(ctx context.Context) error { return c.inner.SetAffinity(ctx, cores) })
}

func (c *InstrumentedController) Terminate(ctx context.Context) error {
	return c.observe(ctx, "terminate", nil, c.inner.Terminate)
}

func (c *InstrumentedController) observe(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(context.Context) error) error {
	var span trace.Span
	if c.tracer != nil {
		ctx, span = c.tracer.Start(ctx, "control."+op, trace.WithAttributes(attrs...))
		defer span.End()
	}

	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}

	if c.metrics != nil {
		c.metrics.ControlOpsTotal.WithLabelValues(op, status).Inc()
		c.metrics.ControlOpLatency.WithLabelValues(op).Observe(duration)
	}

	if c.anomaly != nil {
		if err != nil {
			c.anomaly.RecordError("control_" + op)
		} else {
			c.anomaly.RecordSuccess("control_" + op)
		}
	}

	return err
}

// --- InstrumentedReporter ---

// InstrumentedReporter wraps a report.Generator with metrics and tracing.
type InstrumentedReporter struct {
	inner   report.Generator
	metrics *MetricsCollector
	tracer  trace.Tracer
	anomaly *AnomalyDetector
}

// NewInstrumentedReporter wraps a report generator with observability.
func NewInstrumentedReporter(inner report.Generator, metrics *MetricsCollector, ts *TracerSetup, anomaly *AnomalyDetector) *InstrumentedReporter {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedReporter{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
		anomaly: anomaly,
	}
}

func (r *InstrumentedReporter) Generate(ctx context.Context, in report.Input) (string, error) {
	if r.tracer != nil {
		var span trace.Span
		ctx, span = r.tracer.Start(ctx, "report.generate",
			trace.WithAttributes(
				attribute.Int("report.transcript_bytes", len(in.Transcript)),
				attribute.Bool("report.chart", in.ChartPath != ""),
			))
		defer span.End()
	}

	start := time.Now()
	path, err := r.inner.Generate(ctx, in)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
		if r.tracer != nil {
			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}

	if r.metrics != nil {
		r.metrics.ReportsTotal.WithLabelValues(status).Inc()
		r.metrics.ReportDuration.WithLabelValues(status).Observe(duration)
	}

	if r.anomaly != nil {
		if err != nil {
			r.anomaly.RecordError("report")
		} else {
			r.anomaly.RecordSuccess("report")
		}
	}

	return path, err
}

// statusCode returns the HTTP status code as a string for metric labels.
func statusCode(code int) string {
	return strconv.Itoa(code)
}
