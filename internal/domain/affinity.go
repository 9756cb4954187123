package domain

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// MaxCores bounds the core indices a mask may name.
const MaxCores = 1024

// AffinityMask is a set of logical core indices, kept sorted and unique.
// An empty mask is a valid value while editing but cannot be applied.
type AffinityMask []int

// NewAffinityMask normalizes cores into a sorted, de-duplicated mask.
func NewAffinityMask(cores ...int) AffinityMask {
	m := slices.Clone(cores)
	slices.Sort(m)
	return AffinityMask(slices.Compact(m))
}

// ParseAffinity parses "0,2,5" and ranges like "0-3" or "0-1,4". Indices
// at or above MaxCores are rejected.
func ParseAffinity(s string) (AffinityMask, error) {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return AffinityMask{}, nil
	}
	var cores []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		start, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil || start < 0 || start >= MaxCores {
			return nil, fmt.Errorf("core %q: %w", part, ErrUnsupportedValue)
		}
		end := start
		if isRange {
			end, err = strconv.Atoi(strings.TrimSpace(hi))
			if err != nil || end < start || end >= MaxCores {
				return nil, fmt.Errorf("core range %q: %w", part, ErrUnsupportedValue)
			}
		}
		for c := start; c <= end; c++ {
			cores = append(cores, c)
		}
	}
	return NewAffinityMask(cores...), nil
}

// Validate checks every core against the logical core count.
// Emptiness is not checked here.
func (m AffinityMask) Validate(coreCount int) error {
	for _, c := range m {
		if c < 0 || c >= coreCount {
			return fmt.Errorf("core %d outside [0,%d): %w", c, coreCount, ErrUnsupportedValue)
		}
	}
	return nil
}

// Contains reports whether core is in the mask.
func (m AffinityMask) Contains(core int) bool {
	_, ok := slices.BinarySearch(m, core)
	return ok
}

// String renders the mask as "[0, 1, 3]".
func (m AffinityMask) String() string {
	parts := make([]string, len(m))
	for i, c := range m {
		parts[i] = strconv.Itoa(c)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// AllCores returns the mask covering [0, n).
func AllCores(n int) AffinityMask {
	m := make(AffinityMask, n)
	for i := range m {
		m[i] = i
	}
	return m
}
