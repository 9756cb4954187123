package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/jkaninda/procward/internal/config"
	"github.com/jkaninda/procward/internal/domain"
	"github.com/jkaninda/procward/internal/report"
)

// --- No-op Path ---

func TestNew_NilConfig(t *testing.T) {
	obs, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New(nil) error: %v", err)
	}
	if obs != nil {
		t.Fatal("expected nil Observability for nil config")
	}
}

func TestNew_AllDisabled(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if obs == nil {
		t.Fatal("expected non-nil Observability")
	}
	if obs.Metrics != nil {
		t.Error("metrics should be nil when not enabled")
	}
	if obs.Tracer != nil {
		t.Error("tracer should be nil when not enabled")
	}
	if obs.Anomaly != nil {
		t.Error("anomaly should be nil when not enabled")
	}
	if obs.Health == nil {
		t.Error("health checker should always be created")
	}
}

func TestNew_MetricsAndAnomaly(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{
		Metrics: &config.MetricsConfig{Enabled: true},
		Anomaly: &config.AnomalyConfig{Enabled: true, ErrorRateThreshold: 0.5},
	}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if obs.Metrics == nil || obs.Metrics.Registry == nil {
		t.Fatal("metrics should be enabled")
	}
	if obs.Anomaly == nil {
		t.Fatal("anomaly should be enabled")
	}
}

func TestObservability_ShutdownNil(t *testing.T) {
	var obs *Observability
	obs.Shutdown(context.Background())
}

func TestTracerOrNil_Nil(t *testing.T) {
	var obs *Observability
	if obs.TracerOrNil() != nil {
		t.Error("expected nil tracer from nil Observability")
	}
}

func TestTracerSetup_NilIsNoop(t *testing.T) {
	var ts *TracerSetup
	if ts.Tracer() == nil {
		t.Fatal("nil TracerSetup should hand out a no-op tracer")
	}
	if err := ts.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown on nil: %v", err)
	}
}

// --- MetricsCollector ---

func TestMetricsCollector_Registered(t *testing.T) {
	m := NewMetricsCollector()
	m.ControlOpsTotal.WithLabelValues("priority", "success").Inc()
	m.ReportsTotal.WithLabelValues("success").Inc()
	m.HTTPRequestsTotal.WithLabelValues("GET", "/v1/session", "200").Inc()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, expected := range []string{
		"procward_control_operations_total",
		"procward_report_generated_total",
		"procward_http_requests_total",
		"procward_active_requests",
		"go_goroutines",
	} {
		if !names[expected] {
			t.Errorf("metric %q not found in registry", expected)
		}
	}
}

func TestRegistryOrNil(t *testing.T) {
	var m *MetricsCollector
	if m.RegistryOrNil() != nil {
		t.Error("nil collector should yield nil registry")
	}
}

// --- InstrumentedController ---

type stubController struct {
	err   error
	calls []string
}

func (s *stubController) SetPriority(context.Context, domain.PriorityLevel) error {
	s.calls = append(s.calls, "priority")
	return s.err
}

func (s *stubController) SetAffinity(context.Context, domain.AffinityMask) error {
	s.calls = append(s.calls, "affinity")
	return s.err
}

func (s *stubController) Terminate(context.Context) error {
	s.calls = append(s.calls, "terminate")
	return s.err
}

func TestInstrumentedController_Success(t *testing.T) {
	metrics := NewMetricsCollector()
	inner := &stubController{}
	c := NewInstrumentedController(inner, metrics, nil, nil)

	if err := c.SetPriority(context.Background(), domain.PriorityHigh); err != nil {
		t.Fatalf("SetPriority: %v", err)
	}
	if err := c.SetAffinity(context.Background(), domain.NewAffinityMask(0)); err != nil {
		t.Fatalf("SetAffinity: %v", err)
	}
	if err := c.Terminate(context.Background()); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if len(inner.calls) != 3 {
		t.Fatalf("inner calls = %v", inner.calls)
	}

	for _, op := range []string{"priority", "affinity", "terminate"} {
		val := counterValue(t, metrics.Registry, "procward_control_operations_total", prometheus.Labels{"op": op, "status": "success"})
		if val != 1 {
			t.Errorf("%s success count = %v, want 1", op, val)
		}
	}
}

func TestInstrumentedController_ErrorPassesThrough(t *testing.T) {
	metrics := NewMetricsCollector()
	c := NewInstrumentedController(&stubController{err: domain.ErrNoProcess}, metrics, nil, NewAnomalyDetector(nil, nil))

	err := c.SetPriority(context.Background(), domain.PriorityNormal)
	if !errors.Is(err, domain.ErrNoProcess) {
		t.Fatalf("err = %v, want ErrNoProcess", err)
	}
	val := counterValue(t, metrics.Registry, "procward_control_operations_total", prometheus.Labels{"op": "priority", "status": "error"})
	if val != 1 {
		t.Errorf("error count = %v, want 1", val)
	}
}

func TestInstrumentedController_NilMetrics(t *testing.T) {
	c := NewInstrumentedController(&stubController{}, nil, nil, nil)
	if err := c.Terminate(context.Background()); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
}

// --- InstrumentedReporter ---

type stubReporter struct {
	path string
	err  error
}

func (s stubReporter) Generate(context.Context, report.Input) (string, error) {
	return s.path, s.err
}

func TestInstrumentedReporter(t *testing.T) {
	metrics := NewMetricsCollector()

	ok := NewInstrumentedReporter(stubReporter{path: "/tmp/r.md"}, metrics, nil, nil)
	path, err := ok.Generate(context.Background(), report.Input{Transcript: "x"})
	if err != nil || path != "/tmp/r.md" {
		t.Fatalf("Generate = %q, %v", path, err)
	}

	bad := NewInstrumentedReporter(stubReporter{err: errors.New("disk full")}, metrics, nil, nil)
	if _, err := bad.Generate(context.Background(), report.Input{}); err == nil {
		t.Fatal("expected error")
	}

	if v := counterValue(t, metrics.Registry, "procward_report_generated_total", prometheus.Labels{"status": "success"}); v != 1 {
		t.Errorf("success = %v, want 1", v)
	}
	if v := counterValue(t, metrics.Registry, "procward_report_generated_total", prometheus.Labels{"status": "error"}); v != 1 {
		t.Errorf("error = %v, want 1", v)
	}
}

// --- Anomaly ---

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestAnomalyDetector_ErrorRate(t *testing.T) {
	a := NewAnomalyDetector(&config.AnomalyConfig{ErrorRateThreshold: 0.5, WindowSeconds: 60}, nil)
	for i := 0; i < 4; i++ {
		a.RecordError("control_priority")
	}
	a.RecordSuccess("control_priority")

	rate, n := a.ErrorRate("control_priority")
	if n != 5 || rate != 0.8 {
		t.Errorf("ErrorRate = %v over %d, want 0.8 over 5", rate, n)
	}
	if got := a.Anomalous(); len(got) != 1 || got[0] != "control_priority" {
		t.Errorf("Anomalous = %v", got)
	}
	if _, n := a.ErrorRate("unknown"); n != 0 {
		t.Errorf("unknown operation has %d samples", n)
	}
}

func TestAnomalyDetector_NeedsMinimumSamples(t *testing.T) {
	a := NewAnomalyDetector(&config.AnomalyConfig{ErrorRateThreshold: 0.1}, nil)
	for i := 0; i < minAnomalySamples-1; i++ {
		a.RecordError("sample_process")
	}
	if got := a.Anomalous(); len(got) != 0 {
		t.Errorf("Anomalous = %v with too few samples", got)
	}
}

func TestAnomalyDetector_WindowExpires(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	a := NewAnomalyDetector(&config.AnomalyConfig{ErrorRateThreshold: 0.5, WindowSeconds: 60}, nil)
	a.now = clock.now

	for i := 0; i < 6; i++ {
		a.RecordError("sample_system")
	}
	clock.t = clock.t.Add(2 * time.Minute)
	a.RecordSuccess("sample_system")

	rate, n := a.ErrorRate("sample_system")
	if n != 1 || rate != 0 {
		t.Errorf("ErrorRate = %v over %d, want 0 over 1 after expiry", rate, n)
	}
	if got := a.Anomalous(); len(got) != 0 {
		t.Errorf("Anomalous = %v after expiry", got)
	}
}

func TestAnomalyDetector_NoThreshold(t *testing.T) {
	a := NewAnomalyDetector(nil, nil)
	for i := 0; i < 10; i++ {
		a.RecordError("report")
	}
	if got := a.Anomalous(); got != nil {
		t.Errorf("Anomalous = %v without a threshold", got)
	}
	if rate, _ := a.ErrorRate("report"); rate != 1 {
		t.Errorf("rate = %v, want 1", rate)
	}
}

func TestAnomalyDetector_NilSafe(t *testing.T) {
	var a *AnomalyDetector
	a.RecordError("x")
	a.RecordSuccess("x")
	if rate, n := a.ErrorRate("x"); rate != 0 || n != 0 {
		t.Error("nil detector should report nothing")
	}
	if a.Anomalous() != nil {
		t.Error("nil detector should report nothing")
	}
}

// --- Health ---

func TestHealthChecker_Ready(t *testing.T) {
	h := NewHealthChecker(nil)
	if got := h.CheckReady(context.Background()); got.Status != "ok" || got.Checks != nil {
		t.Errorf("no checks: %+v", got)
	}

	h.AddCheck("storage", func(context.Context) error { return nil })
	if got := h.CheckReady(context.Background()); got.Status != "ok" {
		t.Errorf("status = %q, want ok", got.Status)
	}

	h.AddCheck("sampler", func(context.Context) error { return errors.New("procfs unavailable") })
	got := h.CheckReady(context.Background())
	if got.Status != "degraded" {
		t.Errorf("status = %q, want degraded", got.Status)
	}
	if got.Checks["sampler"].Status != "fail" || got.Checks["sampler"].Message != "procfs unavailable" {
		t.Errorf("sampler check = %+v", got.Checks["sampler"])
	}
	if got.Checks["storage"].Status != "ok" {
		t.Errorf("storage check = %+v", got.Checks["storage"])
	}
}

func TestHealthChecker_Timeout(t *testing.T) {
	h := NewHealthChecker(nil)
	h.timeout = 20 * time.Millisecond
	h.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	h.AddCheck("fast", func(context.Context) error { return nil })

	start := time.Now()
	got := h.CheckReady(context.Background())
	if time.Since(start) > time.Second {
		t.Fatal("readiness should not wait past the check timeout")
	}
	if got.Checks["slow"].Status != "fail" || got.Checks["fast"].Status != "ok" {
		t.Errorf("checks = %+v", got.Checks)
	}
}

func TestHealthChecker_Liveness(t *testing.T) {
	h := NewHealthChecker(nil)
	if got := h.CheckHealth(); got.Status != "ok" || got.Uptime == "" {
		t.Errorf("CheckHealth = %+v", got)
	}
}

// --- HTTP Middleware ---

func TestHTTPMetricsMiddleware(t *testing.T) {
	metrics := NewMetricsCollector()

	handler := HTTPMetricsMiddleware(metrics, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	req := httptest.NewRequest("POST", "/v1/priority", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
	val := counterValue(t, metrics.Registry, "procward_http_requests_total", prometheus.Labels{"method": "POST", "path": "/v1/priority", "status_code": "409"})
	if val != 1 {
		t.Errorf("http requests = %v, want 1", val)
	}
}

func TestHTTPMetricsMiddleware_ImplicitOK(t *testing.T) {
	metrics := NewMetricsCollector()
	handler := HTTPMetricsMiddleware(metrics, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/healthz", nil))

	val := counterValue(t, metrics.Registry, "procward_http_requests_total", prometheus.Labels{"method": "GET", "path": "/healthz", "status_code": "200"})
	if val != 1 {
		t.Errorf("http requests = %v, want 1", val)
	}
}

func TestHTTPMetricsMiddleware_NilMetrics(t *testing.T) {
	handler := HTTPMetricsMiddleware(nil, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/test", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

// --- Helpers ---

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels prometheus.Labels) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			lm := labelMap(metric.GetLabel())
			match := true
			for k, v := range labels {
				if lm[k] != v {
					match = false
					break
				}
			}
			if match {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelMap(pairs []*dto.LabelPair) map[string]string {
	m := make(map[string]string, len(pairs))
	for _, p := range pairs {
		m[p.GetName()] = p.GetValue()
	}
	return m
}
