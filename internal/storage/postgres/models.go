package postgres

import (
	"time"

	"github.com/google/uuid"
)

// SessionModel maps to the "sessions" table.
type SessionModel struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	Command        string
	PID            int    `gorm:"column:pid;index"`
	ProcessName    string `gorm:"column:process_name"`
	Priority       string `gorm:"not null;default:'Normal'"`
	Affinity       string // comma-separated core indices
	NetworkBlocked bool   `gorm:"not null;default:false"`
	LogPath        string
	ReportPath     string
	State          string    `gorm:"not null;default:'unattached'"`
	StartedAt      time.Time `gorm:"not null;index"`
	EndedAt        *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (SessionModel) TableName() string { return "sessions" }
