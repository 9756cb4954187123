package process

import "log/slog"

// Usage is a raw resource reading for one process.
type Usage struct {
	CPUSeconds float64 // user+system time consumed so far
	RSSBytes   uint64
}

// Inspector resolves pids into handles and reads their resource usage.
type Inspector struct {
	source procSource
	logger *slog.Logger
}

// Attach looks up pid and returns an attached handle. It fails with
// domain.ErrNotFound when the pid does not exist and domain.ErrPermission
// when the caller may not query it.
func (i *Inspector) Attach(pid int) (*Handle, error) {
	h := newHandle(pid)
	info, err := i.source.lookup(pid)
	if err != nil {
		return nil, err
	}
	h.name = info.name
	h.start = info.start
	h.state.Store(int32(StateAttached))
	i.logger.Debug("process attached", slog.Int("pid", pid), slog.String("name", h.name))
	return h, nil
}

// Usage reads the current counters of h. A vanished or reused pid marks
// the handle terminated and returns domain.ErrNoProcess.
func (i *Inspector) Usage(h *Handle) (Usage, error) {
	if !h.Living() {
		return Usage{}, errNoProcess(h)
	}
	u, err := i.source.usage(h)
	if err != nil {
		if isGone(err) && h.MarkTerminated() {
			i.logger.Info("process exited", slog.Int("pid", h.pid))
		}
		return Usage{}, err
	}
	return u, nil
}

type procInfo struct {
	name  string
	start uint64
}

// procSource is the platform-specific reader behind an Inspector.
type procSource interface {
	lookup(pid int) (procInfo, error)
	usage(h *Handle) (Usage, error)
}
