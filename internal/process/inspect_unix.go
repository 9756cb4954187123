//go:build unix && !linux

package process

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/jkaninda/procward/internal/domain"
)

// NewInspector creates an Inspector that checks pids with signal 0 and
// reads usage from ps(1), since there is no /proc to parse.
func NewInspector(logger *slog.Logger) (*Inspector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := exec.LookPath("ps"); err != nil {
		return nil, fmt.Errorf("process inspection needs ps: %w", err)
	}
	return &Inspector{source: psSource{}, logger: logger}, nil
}

type psSource struct{}

// alive checks pid without delivering a signal. EPERM means the process
// exists but belongs to someone else.
func (psSource) alive(pid int, absent error) error {
	if pid <= 0 {
		return fmt.Errorf("pid %d: %w", pid, absent)
	}
	return domain.MapOSError("signal", pid, unix.Kill(pid, 0), absent)
}

func (s psSource) read(pid int, absent error) (float64, uint64, string, error) {
	if err := s.alive(pid, absent); err != nil {
		return 0, 0, "", err
	}
	out, err := exec.Command("ps", "-o", "time=,rss=,comm=", "-p", strconv.Itoa(pid)).Output()
	line := strings.TrimSpace(string(out))
	if err != nil || line == "" {
		// ps exits 1 when the pid vanished between the check and the read.
		return 0, 0, "", fmt.Errorf("pid %d: %w", pid, absent)
	}
	return parsePS(line)
}

func (s psSource) lookup(pid int) (procInfo, error) {
	_, _, name, err := s.read(pid, domain.ErrNotFound)
	if err != nil {
		return procInfo{}, err
	}
	return procInfo{name: name}, nil
}

func (s psSource) usage(h *Handle) (Usage, error) {
	cpu, rssKB, _, err := s.read(h.pid, domain.ErrNoProcess)
	if err != nil {
		return Usage{}, err
	}
	return Usage{CPUSeconds: cpu, RSSBytes: rssKB * 1024}, nil
}
