// Package sqlite is the default session archive: one file under the
// workspace data directory, opened through the glebarez/sqlite GORM driver
// (modernc.org/sqlite, no CGO).
//
// The schema and repository come from the postgres package; GORM's SQLite
// dialect covers the differences.
package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/jkaninda/procward/internal/storage"
	pgstore "github.com/jkaninda/procward/internal/storage/postgres"
)

const (
	defaultJournalMode = "wal"
	busyTimeoutMS      = 5000
)

var journalModes = map[string]bool{
	"delete": true, "truncate": true, "persist": true,
	"memory": true, "wal": true, "off": true,
}

// Config holds SQLite-specific configuration.
type Config struct {
	Path        string // Database file path.
	JournalMode string // Default: wal.
}

// Store implements storage.Store backed by one SQLite file.
type Store struct {
	db       *gorm.DB
	path     string
	sessions storage.SessionStore
}

// Open opens (creating if needed) the database at cfg.Path. Writes go
// through a single connection so concurrent archive calls queue instead
// of failing with SQLITE_BUSY.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	mode := strings.ToLower(cfg.JournalMode)
	if mode == "" {
		mode = defaultJournalMode
	}
	if !journalModes[mode] {
		return nil, fmt.Errorf("unsupported sqlite journal mode %q", cfg.JournalMode)
	}

	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(%s)&_pragma=busy_timeout(%d)", cfg.Path, mode, busyTimeoutMS)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  pgstore.NewGormLogger(logger),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	logger.Debug("sqlite archive opened",
		slog.String("path", cfg.Path),
		slog.String("journal_mode", mode),
	)
	return &Store{
		db:       db,
		path:     cfg.Path,
		sessions: pgstore.NewSessionRepository(db),
	}, nil
}

// Migrate creates or updates the sessions table.
func (s *Store) Migrate(ctx context.Context) error {
	return pgstore.AutoMigrate(s.db.WithContext(ctx))
}

// Sessions returns the session repository.
func (s *Store) Sessions() storage.SessionStore {
	return s.sessions
}

// Ping checks the database file is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Driver returns "sqlite".
func (s *Store) Driver() string {
	return storage.DriverSQLite
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

var _ storage.Store = (*Store)(nil)
