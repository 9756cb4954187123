//go:build unix && !linux

package control

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/jkaninda/procward/internal/domain"
)

type nativeControl struct{}

func (nativeControl) setPriority(pid, nice int) error {
	return unix.Setpriority(unix.PRIO_PROCESS, pid, nice)
}

func (nativeControl) priority(pid int) (int, error) {
	return unix.Getpriority(unix.PRIO_PROCESS, pid)
}

func (nativeControl) setAffinity(int, domain.AffinityMask) error {
	return fmt.Errorf("cpu affinity on %s: %w", runtime.GOOS, domain.ErrUnsupportedOperation)
}

func (nativeControl) affinity(int) (domain.AffinityMask, error) {
	return nil, fmt.Errorf("cpu affinity on %s: %w", runtime.GOOS, domain.ErrUnsupportedOperation)
}
