// Package observability provides Prometheus metrics, OpenTelemetry tracing,
// health probes and failure-rate anomaly detection for a supervisor.
//
// Every component is optional. A nil *Observability, or a nil field on it,
// means that feature is off; wrappers and helpers check for nil once per
// operation.
package observability

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jkaninda/procward/internal/config"
)

// Observability bundles the enabled components.
type Observability struct {
	Metrics *MetricsCollector
	Tracer  *TracerSetup
	Anomaly *AnomalyDetector
	Health  *HealthChecker // always set

	logger *slog.Logger
}

// New builds the components enabled in cfg. It returns nil for a nil cfg.
func New(cfg *config.ObservabilityConfig, logger *slog.Logger) (*Observability, error) {
	if cfg == nil {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	obs := &Observability{
		Health: NewHealthChecker(logger),
		logger: logger,
	}
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		obs.Metrics = NewMetricsCollector()
	}
	if cfg.Tracing != nil && cfg.Tracing.Enabled {
		ts, err := NewTracerSetup(cfg.Tracing)
		if err != nil {
			return nil, fmt.Errorf("initializing tracing: %w", err)
		}
		obs.Tracer = ts
	}
	if cfg.Anomaly != nil && cfg.Anomaly.Enabled {
		obs.Anomaly = NewAnomalyDetector(cfg.Anomaly, logger)
	}
	return obs, nil
}

// Shutdown flushes the tracer. Errors are logged.
func (o *Observability) Shutdown(ctx context.Context) {
	if o == nil || o.Tracer == nil {
		return
	}
	if err := o.Tracer.Shutdown(ctx); err != nil {
		o.logger.Warn("tracer shutdown", slog.String("error", err.Error()))
	}
}

// TracerOrNil returns the tracer setup, or nil when tracing is off.
func (o *Observability) TracerOrNil() *TracerSetup {
	if o == nil {
		return nil
	}
	return o.Tracer
}
