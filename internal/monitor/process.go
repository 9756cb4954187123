package monitor

import (
	"context"
	"time"

	"github.com/jkaninda/procward/internal/domain"
	"github.com/jkaninda/procward/internal/process"
)

// DefaultProcessWindow is the interval between the two CPU readings of one
// process sample. The very first reading after attach is meaningless on its
// own, so each sample measures its own window.
const DefaultProcessWindow = 100 * time.Millisecond

// UsageReader reads raw counters for a handle.
type UsageReader interface {
	Usage(h *process.Handle) (process.Usage, error)
}

// MemTotaler reports physical memory size.
type MemTotaler interface {
	MemTotalBytes() (uint64, error)
}

// ProcessSampler computes CPU and memory percentages for one process.
type ProcessSampler struct {
	usage  UsageReader
	mem    MemTotaler
	window time.Duration
}

// NewProcessSampler creates a sampler. A non-positive window uses
// DefaultProcessWindow.
func NewProcessSampler(usage UsageReader, mem MemTotaler, window time.Duration) *ProcessSampler {
	if window <= 0 {
		window = DefaultProcessWindow
	}
	return &ProcessSampler{usage: usage, mem: mem, window: window}
}

// Sample blocks for one window and returns the process's usage over it.
func (s *ProcessSampler) Sample(ctx context.Context, h *process.Handle) (domain.ProcessSample, error) {
	zero := domain.ZeroProcessSample(h.PID(), time.Now())

	before, err := s.usage.Usage(h)
	if err != nil {
		return zero, err
	}
	start := time.Now()

	timer := time.NewTimer(s.window)
	select {
	case <-ctx.Done():
		timer.Stop()
		return zero, ctx.Err()
	case <-timer.C:
	}

	after, err := s.usage.Usage(h)
	if err != nil {
		return zero, err
	}
	elapsed := time.Since(start).Seconds()

	out := domain.ProcessSample{
		Time:     time.Now(),
		PID:      h.PID(),
		Living:   true,
		RSSBytes: after.RSSBytes,
	}
	if elapsed > 0 && after.CPUSeconds > before.CPUSeconds {
		out.CPUPercent = (after.CPUSeconds - before.CPUSeconds) / elapsed * 100
	}
	total, err := s.mem.MemTotalBytes()
	if err != nil {
		return zero, err
	}
	if total > 0 {
		out.MemPercent = clampPercent(float64(after.RSSBytes) / float64(total) * 100)
	}
	return out, nil
}
