// Package storage defines the session archive interface.
// Two backends are provided: SQLite (default, zero-config) and PostgreSQL.
//
// Only one summary row per session is stored; metric history never leaves
// the running process.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/procward/internal/domain"
)

// ErrNotFound is returned when a session record does not exist.
var ErrNotFound = errors.New("session record not found")

// SessionStore persists session summaries.
type SessionStore interface {
	// Save inserts or replaces the record with rec.ID.
	Save(ctx context.Context, rec *domain.SessionRecord) error
	// Get returns one record or ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*domain.SessionRecord, error)
	// List returns the most recently started sessions first.
	List(ctx context.Context, limit int) ([]domain.SessionRecord, error)
	// DeleteBefore removes sessions started before t and returns the count.
	DeleteBefore(ctx context.Context, t time.Time) (int64, error)
}

// Store is an opened archive backend.
type Store interface {
	Sessions() SessionStore

	// Lifecycle.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	// Driver returns the storage driver name ("sqlite" or "postgres").
	Driver() string
}

// Config holds storage configuration for driver selection.
type Config struct {
	Driver   string         `json:"driver" yaml:"driver"` // "sqlite" (default), "postgres" or "none"
	SQLite   SQLiteConfig   `json:"sqlite" yaml:"sqlite"`
	Postgres PostgresConfig `json:"postgres" yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Default: derived from workspace.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"`
}

// DefaultDriver is the default storage driver.
const DefaultDriver = "sqlite"

// DriverSQLite is the SQLite driver name.
const DriverSQLite = "sqlite"

// DriverPostgres is the PostgreSQL driver name.
const DriverPostgres = "postgres"

// DriverNone disables the archive.
const DriverNone = "none"
