package process

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/procfs"

	"github.com/jkaninda/procward/internal/domain"
)

// NewInspector creates an Inspector reading the default /proc mount.
func NewInspector(logger *slog.Logger) (*Inspector, error) {
	return NewInspectorAt(procfs.DefaultMountPoint, logger)
}

// NewInspectorAt creates an Inspector reading the proc filesystem at mount.
func NewInspectorAt(mount string, logger *slog.Logger) (*Inspector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fs, err := procfs.NewFS(mount)
	if err != nil {
		return nil, fmt.Errorf("opening procfs at %s: %w", mount, err)
	}
	return &Inspector{source: procfsSource{fs: fs}, logger: logger}, nil
}

type procfsSource struct {
	fs procfs.FS
}

func (s procfsSource) stat(pid int, absent error) (procfs.ProcStat, error) {
	if pid <= 0 {
		return procfs.ProcStat{}, fmt.Errorf("pid %d: %w", pid, absent)
	}
	p, err := s.fs.Proc(pid)
	if err != nil {
		return procfs.ProcStat{}, domain.MapOSError("read", pid, err, absent)
	}
	st, err := p.Stat()
	if err != nil {
		return procfs.ProcStat{}, domain.MapOSError("read", pid, err, absent)
	}
	if defunct(st.State) {
		return procfs.ProcStat{}, fmt.Errorf("pid %d is defunct: %w", pid, absent)
	}
	return st, nil
}

func (s procfsSource) lookup(pid int) (procInfo, error) {
	st, err := s.stat(pid, domain.ErrNotFound)
	if err != nil {
		return procInfo{}, err
	}
	return procInfo{name: st.Comm, start: st.Starttime}, nil
}

func (s procfsSource) usage(h *Handle) (Usage, error) {
	st, err := s.stat(h.pid, domain.ErrNoProcess)
	if err != nil {
		return Usage{}, err
	}
	if st.Starttime != h.start {
		return Usage{}, fmt.Errorf("pid %d was reused: %w", h.pid, domain.ErrNoProcess)
	}
	return Usage{CPUSeconds: st.CPUTime(), RSSBytes: uint64(st.ResidentMemory())}, nil
}

// defunct reports zombie and dead states from /proc/<pid>/stat.
func defunct(state string) bool {
	return state == "Z" || state == "X" || state == "x"
}
