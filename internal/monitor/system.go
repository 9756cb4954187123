package monitor

import (
	"sync"
	"time"

	"github.com/jkaninda/procward/internal/domain"
)

// cpuTimes holds cumulative CPU time counters, in seconds.
type cpuTimes struct {
	Busy float64
	Idle float64
}

// memInfo holds host memory figures in bytes.
type memInfo struct {
	Total     uint64
	Available uint64
}

// systemSource is the platform reader behind a SystemSampler.
type systemSource interface {
	cpu() (cpuTimes, error)
	memory() (memInfo, error)
}

// SystemSampler measures host CPU and memory usage. CPU percent is the
// busy share between two consecutive calls, so it never blocks; the first
// call reports 0.
type SystemSampler struct {
	source systemSource
	now    func() time.Time

	mu   sync.Mutex
	prev *cpuTimes
}

// Sample returns the host CPU and memory percentages.
func (s *SystemSampler) Sample() (domain.SystemSample, error) {
	out := domain.SystemSample{Time: s.now()}

	cur, err := s.source.cpu()
	if err != nil {
		return out, err
	}
	s.mu.Lock()
	out.CPUPercent = cpuPercent(s.prev, cur)
	s.prev = &cur
	s.mu.Unlock()

	mem, err := s.source.memory()
	if err != nil {
		return out, err
	}
	out.MemPercent = memPercent(mem)
	return out, nil
}

// MemTotalBytes returns physical memory size.
func (s *SystemSampler) MemTotalBytes() (uint64, error) {
	mem, err := s.source.memory()
	if err != nil {
		return 0, err
	}
	return mem.Total, nil
}

// cpuPercent computes utilization from the busy/idle delta.
// Returns 0 if prev is nil (first sample) or no time elapsed.
func cpuPercent(prev *cpuTimes, cur cpuTimes) float64 {
	if prev == nil {
		return 0
	}
	busy := cur.Busy - prev.Busy
	total := busy + (cur.Idle - prev.Idle)
	if total <= 0 {
		return 0
	}
	return clampPercent(busy / total * 100)
}

func memPercent(m memInfo) float64 {
	if m.Total == 0 || m.Available > m.Total {
		return 0
	}
	return clampPercent(float64(m.Total-m.Available) / float64(m.Total) * 100)
}

func clampPercent(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
