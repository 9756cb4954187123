package domain

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

var (
	// ErrNoProcess is returned when an operation needs an attached, living
	// process and none is attached.
	ErrNoProcess = errors.New("no process attached")
	// ErrNotFound is returned when the attach target pid does not exist.
	ErrNotFound = errors.New("process not found")
	// ErrPermission is returned when the OS denies a query or control call.
	ErrPermission = errors.New("permission denied")
	// ErrUnsupportedOperation is returned when the host lacks a capability,
	// such as affinity control.
	ErrUnsupportedOperation = errors.New("operation not supported on this platform")
	// ErrUnsupportedValue is returned for invalid enumeration or mask values.
	ErrUnsupportedValue = errors.New("unsupported value")
	// ErrNetworkBlocked is returned by the network gate while blocking.
	ErrNetworkBlocked = errors.New("network access blocked by sandbox")
	// ErrLaunch is returned when a command fails to start.
	ErrLaunch = errors.New("launch failed")
)

// OpError wraps a platform error raised by an OS operation on a process.
type OpError struct {
	Op  string
	PID int
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s pid %d: %v", e.Op, e.PID, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// MapOSError classifies a platform error. Missing processes map to absent,
// which callers pass as ErrNotFound during lookup and ErrNoProcess during
// control. Permission failures map to ErrPermission. Everything else is
// wrapped in an OpError.
func MapOSError(op string, pid int, err error, absent error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, syscall.ESRCH), errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%s pid %d: %w", op, pid, absent)
	case errors.Is(err, syscall.EPERM), errors.Is(err, syscall.EACCES), errors.Is(err, fs.ErrPermission):
		return &OpError{Op: op, PID: pid, Err: errors.Join(ErrPermission, err)}
	default:
		return &OpError{Op: op, PID: pid, Err: err}
	}
}

// IsProcessGone reports whether err means the target process disappeared.
func IsProcessGone(err error) bool {
	return errors.Is(err, ErrNoProcess) || errors.Is(err, ErrNotFound)
}
