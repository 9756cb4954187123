package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeExporter struct {
	calls atomic.Int32
	chart atomic.Value
	err   error
}

func (f *fakeExporter) Export(_ context.Context, chartPath string) (string, error) {
	f.calls.Add(1)
	f.chart.Store(chartPath)
	if f.err != nil {
		return "", f.err
	}
	return "reports/sandbox_report_1.html", nil
}

type fakeArchive struct {
	mu     sync.Mutex
	cutoff time.Time
	n      int64
	err    error
}

func (f *fakeArchive) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoff = cutoff
	return f.n, f.err
}

func TestNewValidatesSchedules(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		exp     Exporter
		wantErr bool
	}{
		{"nothing scheduled", Config{}, nil, false},
		{"five-field cron", Config{ExportSchedule: "*/5 * * * *"}, &fakeExporter{}, false},
		{"descriptor", Config{ExportSchedule: "@every 15m"}, &fakeExporter{}, false},
		{"garbage", Config{ExportSchedule: "every tuesday"}, &fakeExporter{}, true},
		{"seconds field rejected", Config{ExportSchedule: "0 */5 * * * *"}, &fakeExporter{}, true},
		{"missing exporter", Config{ExportSchedule: "@hourly"}, nil, true},
		{"bad prune schedule", Config{ArchiveDays: 7, PruneSchedule: "soon"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, tt.exp, &fakeArchive{}, nil, quietLogger())
			if (err != nil) != tt.wantErr {
				t.Errorf("New() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnabled(t *testing.T) {
	s, err := New(Config{}, nil, nil, nil, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if s.Enabled() {
		t.Error("no jobs should be registered")
	}
	if !s.NextExport().IsZero() {
		t.Error("NextExport should be zero without an export schedule")
	}

	s, err = New(Config{ArchiveDays: 30}, nil, &fakeArchive{}, nil, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if !s.Enabled() {
		t.Error("prune job should be registered")
	}
}

func TestRunExportMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	ok := &fakeExporter{}
	s, err := New(Config{ExportSchedule: "@hourly", ChartPath: "reports/chart.png"}, ok, nil, metrics, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.RunExport(context.Background()); err != nil {
		t.Fatalf("RunExport: %v", err)
	}
	if got := ok.chart.Load(); got != "reports/chart.png" {
		t.Errorf("chart path = %v", got)
	}

	s.exporter = &fakeExporter{err: errors.New("disk full")}
	if _, err := s.RunExport(context.Background()); err == nil {
		t.Fatal("expected export error")
	}

	for status, want := range map[string]float64{"success": 1, "error": 1} {
		var m dto.Metric
		if err := metrics.ExportsRun.WithLabelValues(status).Write(&m); err != nil {
			t.Fatal(err)
		}
		if got := m.GetCounter().GetValue(); got != want {
			t.Errorf("%s = %v, want %v", status, got, want)
		}
	}
}

func TestPruneCutoff(t *testing.T) {
	archive := &fakeArchive{n: 3}
	metrics := NewMetrics(prometheus.NewRegistry())
	s, err := New(Config{ArchiveDays: 7}, nil, archive, metrics, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	n, err := s.Prune(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("Prune = %d, %v", n, err)
	}
	if want := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC); !archive.cutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", archive.cutoff, want)
	}

	var m dto.Metric
	if err := metrics.SessionsPruned.Write(&m); err != nil {
		t.Fatal(err)
	}
	if m.GetCounter().GetValue() != 3 {
		t.Errorf("pruned counter = %v", m.GetCounter().GetValue())
	}
}

func TestPruneDisabled(t *testing.T) {
	archive := &fakeArchive{n: 5}
	s, err := New(Config{}, nil, archive, nil, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if n, err := s.Prune(context.Background()); n != 0 || err != nil {
		t.Errorf("Prune = %d, %v; retention off should be a no-op", n, err)
	}
	if !archive.cutoff.IsZero() {
		t.Error("archive should not be touched")
	}
}

func TestPruneError(t *testing.T) {
	s, err := New(Config{ArchiveDays: 1}, nil, &fakeArchive{err: errors.New("locked")}, nil, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Prune(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestStartFiresExport(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a cron tick")
	}
	exp := &fakeExporter{}
	s, err := New(Config{ExportSchedule: "@every 1s"}, exp, nil, nil, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	stop := s.Start(context.Background())

	deadline := time.Now().Add(5 * time.Second)
	for exp.calls.Load() == 0 {
		if time.Now().After(deadline) {
			stop()
			t.Fatal("export never fired")
		}
		time.Sleep(50 * time.Millisecond)
	}
	if s.NextExport().IsZero() {
		t.Error("NextExport should be set while running")
	}
	stop()
}
