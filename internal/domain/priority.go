package domain

import (
	"fmt"
	"strings"
)

// PriorityLevel is a logical scheduling priority, ordered from lowest to
// highest scheduling favor.
type PriorityLevel int

const (
	PriorityIdle PriorityLevel = iota
	PriorityBelowNormal
	PriorityNormal
	PriorityAboveNormal
	PriorityHigh
	PriorityRealtime
)

// DefaultPriority is the operator's initial selection.
const DefaultPriority = PriorityBelowNormal

var priorityNames = [...]string{
	PriorityIdle:        "Idle",
	PriorityBelowNormal: "Below Normal",
	PriorityNormal:      "Normal",
	PriorityAboveNormal: "Above Normal",
	PriorityHigh:        "High",
	PriorityRealtime:    "Realtime",
}

// PriorityLevels lists every level in ascending order.
func PriorityLevels() []PriorityLevel {
	return []PriorityLevel{
		PriorityIdle,
		PriorityBelowNormal,
		PriorityNormal,
		PriorityAboveNormal,
		PriorityHigh,
		PriorityRealtime,
	}
}

// Valid reports whether p is inside the enumeration.
func (p PriorityLevel) Valid() bool {
	return p >= PriorityIdle && p <= PriorityRealtime
}

func (p PriorityLevel) String() string {
	if !p.Valid() {
		return fmt.Sprintf("PriorityLevel(%d)", int(p))
	}
	return priorityNames[p]
}

// ParsePriority accepts display names ("Below Normal"), snake case
// ("below_normal") and compact forms ("belownormal"), case-insensitively.
func ParsePriority(s string) (PriorityLevel, error) {
	key := normalizePriority(s)
	for _, p := range PriorityLevels() {
		if normalizePriority(priorityNames[p]) == key {
			return p, nil
		}
	}
	return 0, fmt.Errorf("priority %q: %w", s, ErrUnsupportedValue)
}

func normalizePriority(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s)
}

// MarshalText implements encoding.TextMarshaler.
func (p PriorityLevel) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("priority %d: %w", int(p), ErrUnsupportedValue)
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *PriorityLevel) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
