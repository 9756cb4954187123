package observability

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jkaninda/procward/internal/config"
)

const (
	defaultAnomalyWindow = 5 * time.Minute
	minAnomalySamples    = 5
	anomalyWarnCooldown  = time.Minute
)

// AnomalyDetector tracks the failure rate of each operation over a sliding
// window. Operation keys look like "control_priority", "sample_process" or
// "report". Crossing the threshold logs a warning, at most once per
// cooldown for each operation, since a dead process faults every tick.
type AnomalyDetector struct {
	threshold float64
	window    time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu  sync.Mutex
	ops map[string]*outcomeWindow
}

type outcome struct {
	at     time.Time
	failed bool
}

type outcomeWindow struct {
	outcomes []outcome
	lastWarn time.Time
}

// NewAnomalyDetector creates a detector from config. A nil cfg gives a
// five-minute window and no threshold, so rates are tracked but never
// reported.
func NewAnomalyDetector(cfg *config.AnomalyConfig, logger *slog.Logger) *AnomalyDetector {
	if logger == nil {
		logger = slog.Default()
	}
	a := &AnomalyDetector{
		window: defaultAnomalyWindow,
		logger: logger,
		now:    time.Now,
		ops:    make(map[string]*outcomeWindow),
	}
	if cfg != nil {
		a.threshold = cfg.ErrorRateThreshold
		if cfg.WindowSeconds > 0 {
			a.window = time.Duration(cfg.WindowSeconds) * time.Second
		}
	}
	return a
}

// RecordError records a failed operation.
func (a *AnomalyDetector) RecordError(operation string) { a.record(operation, true) }

// RecordSuccess records a successful operation.
func (a *AnomalyDetector) RecordSuccess(operation string) { a.record(operation, false) }

// ErrorRate returns the failure ratio of operation inside the window and
// the number of outcomes it is based on.
func (a *AnomalyDetector) ErrorRate(operation string) (float64, int) {
	if a == nil {
		return 0, 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	w, ok := a.ops[operation]
	if !ok {
		return 0, 0
	}
	w.prune(a.now().Add(-a.window))
	return w.rate()
}

// Anomalous lists the operations currently above the threshold, sorted.
func (a *AnomalyDetector) Anomalous() []string {
	if a == nil || a.threshold <= 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := a.now().Add(-a.window)
	var out []string
	for op, w := range a.ops {
		w.prune(cutoff)
		if rate, n := w.rate(); n >= minAnomalySamples && rate > a.threshold {
			out = append(out, op)
		}
	}
	sort.Strings(out)
	return out
}

func (a *AnomalyDetector) record(operation string, failed bool) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	w, ok := a.ops[operation]
	if !ok {
		w = &outcomeWindow{}
		a.ops[operation] = w
	}
	w.outcomes = append(w.outcomes, outcome{at: now, failed: failed})
	w.prune(now.Add(-a.window))

	if !failed || a.threshold <= 0 {
		return
	}
	rate, n := w.rate()
	if n < minAnomalySamples || rate <= a.threshold {
		return
	}
	if !w.lastWarn.IsZero() && now.Sub(w.lastWarn) < anomalyWarnCooldown {
		return
	}
	w.lastWarn = now
	a.logger.Warn("anomaly detected: high error rate",
		slog.String("operation", operation),
		slog.Float64("error_rate", rate),
		slog.Float64("threshold", a.threshold),
		slog.Int("samples", n),
		slog.Duration("window", a.window),
	)
}

// prune drops outcomes recorded before cutoff.
func (w *outcomeWindow) prune(cutoff time.Time) {
	i := 0
	for i < len(w.outcomes) && w.outcomes[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.outcomes = append(w.outcomes[:0], w.outcomes[i:]...)
	}
}

func (w *outcomeWindow) rate() (float64, int) {
	n := len(w.outcomes)
	if n == 0 {
		return 0, 0
	}
	failed := 0
	for _, o := range w.outcomes {
		if o.failed {
			failed++
		}
	}
	return float64(failed) / float64(n), n
}
