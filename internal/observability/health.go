package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultCheckTimeout = 3 * time.Second

// HealthChecker answers liveness and readiness probes. Readiness checks
// run concurrently, each under its own timeout, so one slow dependency
// cannot hide the state of the others.
type HealthChecker struct {
	logger  *slog.Logger
	started time.Time
	timeout time.Duration

	mu     sync.RWMutex
	checks []HealthCheck
}

// HealthCheck is a named dependency check.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthStatus is the JSON body of /healthz and /readyz.
type HealthStatus struct {
	Status string                 `json:"status"` // "ok" or "degraded"
	Uptime string                 `json:"uptime,omitempty"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of one readiness check.
type CheckResult struct {
	Status    string `json:"status"` // "ok" or "fail"
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// NewHealthChecker creates a checker with no checks registered.
func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthChecker{
		logger:  logger,
		started: time.Now(),
		timeout: defaultCheckTimeout,
	}
}

// AddCheck registers a readiness check. Safe to call while probes run.
func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error) {
	h.mu.Lock()
	h.checks = append(h.checks, HealthCheck{Name: name, Check: check})
	h.mu.Unlock()
}

// CheckHealth is the liveness answer: the supervisor is up if it can
// respond at all.
func (h *HealthChecker) CheckHealth() HealthStatus {
	return HealthStatus{
		Status: "ok",
		Uptime: time.Since(h.started).Round(time.Second).String(),
	}
}

// CheckReady runs every check and reports "degraded" if any fails.
func (h *HealthChecker) CheckReady(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	status := HealthStatus{Status: "ok"}
	if len(checks) == 0 {
		return status
	}
	status.Checks = make(map[string]CheckResult, len(checks))

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, c := range checks {
		wg.Add(1)
		go func(c HealthCheck) {
			defer wg.Done()
			res := h.run(ctx, c)

			mu.Lock()
			defer mu.Unlock()
			status.Checks[c.Name] = res
			if res.Status != "ok" {
				status.Status = "degraded"
			}
		}(c)
	}
	wg.Wait()
	return status
}

func (h *HealthChecker) run(ctx context.Context, c HealthCheck) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	err := c.Check(ctx)
	res := CheckResult{Status: "ok", LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = "fail"
		res.Message = err.Error()
		h.logger.Warn("readiness check failed",
			slog.String("check", c.Name),
			slog.String("error", err.Error()),
		)
	}
	return res
}
