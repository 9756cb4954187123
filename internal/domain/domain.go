// Package domain defines the value types shared by the supervisor's components.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// SystemSample is one host-wide observation produced per poll tick.
type SystemSample struct {
	Time       time.Time `json:"time"`
	CPUPercent float64   `json:"cpu_percent"`
	MemPercent float64   `json:"mem_percent"`
}

// ProcessSample is one observation of the attached process.
// A zero sample with Living=false is reported when the process vanished
// or could not be read.
type ProcessSample struct {
	Time       time.Time `json:"time"`
	PID        int       `json:"pid"`
	Living     bool      `json:"living"`
	CPUPercent float64   `json:"cpu_percent"` // May exceed 100 on multi-core saturation.
	MemPercent float64   `json:"mem_percent"`
	RSSBytes   uint64    `json:"rss_bytes"`
}

// RSSKilobytes returns the resident set size in KB, as shown to operators.
func (s ProcessSample) RSSKilobytes() uint64 {
	return s.RSSBytes / 1024
}

// ZeroProcessSample returns the sample substituted for a failed read.
func ZeroProcessSample(pid int, at time.Time) ProcessSample {
	return ProcessSample{Time: at, PID: pid}
}

// ProcessInfo describes an attached process.
type ProcessInfo struct {
	PID    int    `json:"pid"`
	Name   string `json:"name"`
	Living bool   `json:"living"`
}

// SessionRecord is the archived summary of one supervision session.
// Metric history is never archived.
type SessionRecord struct {
	ID             uuid.UUID
	Command        string
	PID            int
	ProcessName    string
	Priority       PriorityLevel
	Affinity       AffinityMask
	NetworkBlocked bool
	LogPath        string
	ReportPath     string
	State          string
	StartedAt      time.Time
	EndedAt        *time.Time
	UpdatedAt      time.Time
}
