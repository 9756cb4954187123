// Package process tracks the single OS process a session supervises.
//
// A Handle moves through Unattached -> Attaching -> Attached and ends in
// either Terminated or Detached. Any operation that finds the process gone
// downgrades the handle to Terminated instead of failing its caller.
package process

import (
	"fmt"
	"sync/atomic"

	"github.com/jkaninda/procward/internal/domain"
)

// State is the lifecycle position of a Handle.
type State int32

const (
	StateUnattached State = iota
	StateAttaching
	StateAttached
	StateTerminated
	StateDetached
)

func (s State) String() string {
	switch s {
	case StateUnattached:
		return "unattached"
	case StateAttaching:
		return "attaching"
	case StateAttached:
		return "attached"
	case StateTerminated:
		return "terminated"
	case StateDetached:
		return "detached"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Handle identifies one OS process by pid. It is shared by the poller and
// the control layer; neither assumes exclusive access.
type Handle struct {
	pid   int
	name  string
	start uint64 // kernel start time, used to detect pid reuse
	state atomic.Int32
}

func newHandle(pid int) *Handle {
	h := &Handle{pid: pid}
	h.state.Store(int32(StateAttaching))
	return h
}

// PID returns the process id, or 0 for a nil handle.
func (h *Handle) PID() int {
	if h == nil {
		return 0
	}
	return h.pid
}

// Name returns the resolved process name.
func (h *Handle) Name() string {
	if h == nil {
		return ""
	}
	return h.name
}

// State returns the current lifecycle state. A nil handle is unattached.
func (h *Handle) State() State {
	if h == nil {
		return StateUnattached
	}
	return State(h.state.Load())
}

// Living reports whether the handle is attached to a running process.
func (h *Handle) Living() bool {
	return h.State() == StateAttached
}

// Info returns a snapshot suitable for presentation.
func (h *Handle) Info() domain.ProcessInfo {
	return domain.ProcessInfo{PID: h.PID(), Name: h.Name(), Living: h.Living()}
}

// MarkTerminated downgrades an attached handle. It reports whether the
// state changed.
func (h *Handle) MarkTerminated() bool {
	if h == nil {
		return false
	}
	return h.state.CompareAndSwap(int32(StateAttached), int32(StateTerminated))
}

// MarkDetached releases an attached handle without touching the process.
func (h *Handle) MarkDetached() bool {
	if h == nil {
		return false
	}
	return h.state.CompareAndSwap(int32(StateAttached), int32(StateDetached))
}

// Terminate sends the platform termination signal.
func (h *Handle) Terminate() error {
	if !h.Living() {
		return domain.ErrNoProcess
	}
	if err := signalTerminate(h.pid); err != nil {
		mapped := domain.MapOSError("terminate", h.pid, err, domain.ErrNoProcess)
		if domain.IsProcessGone(mapped) {
			h.MarkTerminated()
		}
		return mapped
	}
	h.MarkTerminated()
	return nil
}
