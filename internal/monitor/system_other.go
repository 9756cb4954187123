//go:build !linux && !windows

package monitor

import (
	"fmt"
	"runtime"
	"time"

	"github.com/jkaninda/procward/internal/domain"
)

// NewSystemSampler returns a sampler whose reads fail with
// domain.ErrUnsupportedOperation. The poller reports zeroed host samples
// while process sampling keeps working.
func NewSystemSampler() (*SystemSampler, error) {
	return &SystemSampler{source: unsupportedSystem{}, now: time.Now}, nil
}

type unsupportedSystem struct{}

func (unsupportedSystem) cpu() (cpuTimes, error) {
	return cpuTimes{}, fmt.Errorf("host cpu on %s: %w", runtime.GOOS, domain.ErrUnsupportedOperation)
}

func (unsupportedSystem) memory() (memInfo, error) {
	return memInfo{}, fmt.Errorf("host memory on %s: %w", runtime.GOOS, domain.ErrUnsupportedOperation)
}
