// Package postgres implements the PostgreSQL-backed session archive using GORM.
// All GORM usage is confined to the storage packages; domain types remain ORM-free.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jkaninda/procward/internal/storage"
)

// Config configures the PostgreSQL connection and pool.
type Config struct {
	DSN             string
	MaxOpenConns    int           // Default: 10
	MaxIdleConns    int           // Default: 2
	ConnMaxLifetime time.Duration // Default: 30m
	ConnMaxIdleTime time.Duration // Default: 10m
}

func (c Config) maxOpen() int {
	if c.MaxOpenConns > 0 {
		return c.MaxOpenConns
	}
	return 10
}

func (c Config) maxIdle() int {
	if c.MaxIdleConns > 0 {
		return c.MaxIdleConns
	}
	return 2
}

func (c Config) maxLifetime() time.Duration {
	if c.ConnMaxLifetime > 0 {
		return c.ConnMaxLifetime
	}
	return 30 * time.Minute
}

func (c Config) maxIdleTime() time.Duration {
	if c.ConnMaxIdleTime > 0 {
		return c.ConnMaxIdleTime
	}
	return 10 * time.Minute
}

// Store implements storage.Store backed by PostgreSQL.
type Store struct {
	gormDB   *gorm.DB
	logger   *slog.Logger
	sessions *SessionRepository
}

// Open connects to PostgreSQL and configures the connection pool.
// Call Migrate before first use.
func Open(cfg Config, slogger *slog.Logger) (*Store, error) {
	// Parse up front so a malformed DSN fails with a clear message and the
	// log line never carries the password.
	pgCfg, err := pgx.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger:      NewGormLogger(slogger),
		NowFunc:     func() time.Time { return time.Now().UTC() },
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.maxOpen())
	sqlDB.SetMaxIdleConns(cfg.maxIdle())
	sqlDB.SetConnMaxLifetime(cfg.maxLifetime())
	sqlDB.SetConnMaxIdleTime(cfg.maxIdleTime())

	slogger.Info("postgres connected",
		slog.String("host", pgCfg.Host),
		slog.String("database", pgCfg.Database),
		slog.Int("max_open_conns", cfg.maxOpen()),
	)

	return &Store{gormDB: db, logger: slogger, sessions: NewSessionRepository(db)}, nil
}

// NewGormLogger routes GORM warnings and slow queries to slogger.
func NewGormLogger(slogger *slog.Logger) logger.Interface {
	return logger.New(
		slogAdapter{slogger},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
}

// Migrate creates or updates the archive tables.
func (s *Store) Migrate(_ context.Context) error {
	return AutoMigrate(s.gormDB)
}

// AutoMigrate creates/updates the archive tables on db.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&SessionModel{})
}

// Sessions returns the session repository.
func (s *Store) Sessions() storage.SessionStore {
	return s.sessions
}

// Ping checks the database connection for health/readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.gormDB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.gormDB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Driver returns "postgres".
func (s *Store) Driver() string {
	return storage.DriverPostgres
}

// slogAdapter wraps *slog.Logger for GORM's logger.Writer interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (s slogAdapter) Printf(format string, args ...any) {
	s.logger.Info(fmt.Sprintf(format, args...))
}

var _ storage.Store = (*Store)(nil)
