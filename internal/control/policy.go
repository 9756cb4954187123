// Package control applies scheduling priority and CPU affinity to the
// attached process.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/jkaninda/procward/internal/domain"
	"github.com/jkaninda/procward/internal/process"
)

// Platform selects how a PriorityLevel is expressed to the OS.
type Platform int

const (
	// PlatformPOSIX maps levels onto nice values.
	PlatformPOSIX Platform = iota
	// PlatformWindows maps levels onto priority classes.
	PlatformWindows
)

func (p Platform) String() string {
	switch p {
	case PlatformPOSIX:
		return "posix-nice"
	case PlatformWindows:
		return "windows-class"
	default:
		return fmt.Sprintf("Platform(%d)", int(p))
	}
}

// DetectPlatform returns the variant matching the running OS.
func DetectPlatform() Platform {
	if runtime.GOOS == "windows" {
		return PlatformWindows
	}
	return PlatformPOSIX
}

// Windows priority class values.
const (
	classIdle        = 0x00000040
	classBelowNormal = 0x00004000
	classNormal      = 0x00000020
	classAboveNormal = 0x00008000
	classHigh        = 0x00000080
	classRealtime    = 0x00000100
)

var mechanisms = map[Platform]map[domain.PriorityLevel]int{
	PlatformPOSIX: {
		domain.PriorityIdle:        19,
		domain.PriorityBelowNormal: 10,
		domain.PriorityNormal:      0,
		domain.PriorityAboveNormal: -5,
		domain.PriorityHigh:        -10,
		domain.PriorityRealtime:    -20,
	},
	PlatformWindows: {
		domain.PriorityIdle:        classIdle,
		domain.PriorityBelowNormal: classBelowNormal,
		domain.PriorityNormal:      classNormal,
		domain.PriorityAboveNormal: classAboveNormal,
		domain.PriorityHigh:        classHigh,
		domain.PriorityRealtime:    classRealtime,
	},
}

// Mechanism returns the OS value for level on platform p.
func (p Platform) Mechanism(level domain.PriorityLevel) (int, error) {
	table, ok := mechanisms[p]
	if !ok {
		return 0, fmt.Errorf("platform %s: %w", p, domain.ErrUnsupportedOperation)
	}
	v, ok := table[level]
	if !ok {
		return 0, fmt.Errorf("priority %s: %w", level, domain.ErrUnsupportedValue)
	}
	return v, nil
}

// Level maps an OS value back to the closest level at or below its
// scheduling favor. POSIX nice values between table entries round toward
// the less favored level.
func (p Platform) Level(value int) (domain.PriorityLevel, error) {
	table, ok := mechanisms[p]
	if !ok {
		return 0, fmt.Errorf("platform %s: %w", p, domain.ErrUnsupportedOperation)
	}
	if p == PlatformWindows {
		for level, v := range table {
			if v == value {
				return level, nil
			}
		}
		return 0, fmt.Errorf("priority class %#x: %w", value, domain.ErrUnsupportedValue)
	}
	best := domain.PriorityIdle
	for _, level := range domain.PriorityLevels() {
		if value <= table[level] {
			best = level
		}
	}
	return best, nil
}

// Controller is the set of operator-initiated control actions.
type Controller interface {
	SetPriority(ctx context.Context, level domain.PriorityLevel) error
	SetAffinity(ctx context.Context, cores domain.AffinityMask) error
	Terminate(ctx context.Context) error
}

// HandleSource yields the currently attached handle, or nil.
type HandleSource interface {
	Current() *process.Handle
}

// Policy applies priority and affinity through the platform variant chosen
// at construction.
type Policy struct {
	platform Platform
	os       osControl
	handles  HandleSource
	cores    int
	logger   *slog.Logger
}

// NewPolicy creates a Policy for the running OS.
func NewPolicy(handles HandleSource, logger *slog.Logger) *Policy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{
		platform: DetectPlatform(),
		os:       nativeControl{},
		handles:  handles,
		cores:    LogicalCores(),
		logger:   logger,
	}
}

// Platform returns the selected variant.
func (p *Policy) Platform() Platform { return p.platform }

// Cores returns the logical core count used to validate masks.
func (p *Policy) Cores() int { return p.cores }

func (p *Policy) attached() (*process.Handle, error) {
	h := p.handles.Current()
	if !h.Living() {
		return nil, domain.ErrNoProcess
	}
	return h, nil
}

// SetPriority applies level to the attached process in one OS call.
func (p *Policy) SetPriority(_ context.Context, level domain.PriorityLevel) error {
	h, err := p.attached()
	if err != nil {
		return err
	}
	if !level.Valid() {
		return fmt.Errorf("priority %d: %w", int(level), domain.ErrUnsupportedValue)
	}
	value, err := p.platform.Mechanism(level)
	if err != nil {
		return err
	}
	if err := p.os.setPriority(h.PID(), value); err != nil {
		return p.fail("setpriority", h, err)
	}
	p.logger.Info("priority applied",
		slog.Int("pid", h.PID()),
		slog.String("level", level.String()),
		slog.Int("value", value),
	)
	return nil
}

// Priority queries the attached process's current level and raw OS value.
func (p *Policy) Priority(_ context.Context) (domain.PriorityLevel, int, error) {
	h, err := p.attached()
	if err != nil {
		return 0, 0, err
	}
	value, err := p.os.priority(h.PID())
	if err != nil {
		return 0, 0, p.fail("getpriority", h, err)
	}
	level, err := p.platform.Level(value)
	return level, value, err
}

// SetAffinity restricts the attached process to exactly cores. An empty
// mask fails with domain.ErrUnsupportedValue without reaching the OS.
func (p *Policy) SetAffinity(_ context.Context, cores domain.AffinityMask) error {
	h, err := p.attached()
	if err != nil {
		return err
	}
	if len(cores) == 0 {
		return fmt.Errorf("empty core set: %w", domain.ErrUnsupportedValue)
	}
	if err := cores.Validate(p.cores); err != nil {
		return err
	}
	if err := p.os.setAffinity(h.PID(), cores); err != nil {
		return p.fail("setaffinity", h, err)
	}
	p.logger.Info("affinity applied", slog.Int("pid", h.PID()), slog.String("cores", cores.String()))
	return nil
}

// Affinity queries the attached process's current core set.
func (p *Policy) Affinity(_ context.Context) (domain.AffinityMask, error) {
	h, err := p.attached()
	if err != nil {
		return nil, err
	}
	mask, err := p.os.affinity(h.PID())
	if err != nil {
		return nil, p.fail("getaffinity", h, err)
	}
	return mask, nil
}

// Terminate signals the attached process. The handle is downgraded to
// terminated on success and when the process turns out to be gone.
func (p *Policy) Terminate(_ context.Context) error {
	h, err := p.attached()
	if err != nil {
		return err
	}
	if err := h.Terminate(); err != nil {
		if !domain.IsProcessGone(err) {
			p.logger.Warn("control operation failed",
				slog.String("op", "terminate"),
				slog.Int("pid", h.PID()),
				slog.String("error", err.Error()),
			)
		}
		return err
	}
	p.logger.Info("process terminated", slog.Int("pid", h.PID()))
	return nil
}

func (p *Policy) fail(op string, h *process.Handle, err error) error {
	if errors.Is(err, domain.ErrUnsupportedOperation) {
		return err
	}
	mapped := domain.MapOSError(op, h.PID(), err, domain.ErrNoProcess)
	if domain.IsProcessGone(mapped) {
		h.MarkTerminated()
	}
	p.logger.Warn("control operation failed",
		slog.String("op", op),
		slog.Int("pid", h.PID()),
		slog.String("error", mapped.Error()),
	)
	return mapped
}

// osControl is the platform layer behind a Policy.
type osControl interface {
	setPriority(pid, value int) error
	priority(pid int) (int, error)
	setAffinity(pid int, cores domain.AffinityMask) error
	affinity(pid int) (domain.AffinityMask, error)
}
