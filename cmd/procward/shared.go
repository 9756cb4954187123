package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/procward/internal/config"
	"github.com/jkaninda/procward/internal/notification"
	"github.com/jkaninda/procward/internal/observability"
	"github.com/jkaninda/procward/internal/storage"
	pgstore "github.com/jkaninda/procward/internal/storage/postgres"
	sqlitestore "github.com/jkaninda/procward/internal/storage/sqlite"
	"github.com/jkaninda/procward/internal/workspace"
)

var (
	configPath string
	debug      bool
)

// SharedComponents holds the subsystems every command that touches a
// workspace needs. Built once by initShared, torn down by Cleanup.
type SharedComponents struct {
	Config    *config.Config
	Logger    *slog.Logger
	Workspace *workspace.Workspace
	Store     storage.Store // nil when storage.driver=none.
	Obs       *observability.Observability

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// Archive returns the session store, or nil when archiving is off.
func (sc *SharedComponents) Archive() storage.SessionStore {
	if sc.Store == nil {
		return nil
	}
	return sc.Store.Sessions()
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loadConfig resolves the config path (flag, then PROCWARD_CONFIG, then the
// default location) and falls back to defaults when the file is absent.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = goutils.Env("PROCWARD_CONFIG", config.DefaultConfigPath())
	}
	return config.LoadOrDefault(path)
}

// initShared opens the workspace, observability and the archive.
// Callers must call sc.Cleanup() when done.
func initShared(cfg *config.Config, logger *slog.Logger, withObservability bool) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	ws, err := initWorkspace(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing workspace: %w", err)
	}
	sc.Workspace = ws
	logger.Debug("workspace initialized",
		slog.String("root", ws.Root),
		slog.String("sandbox", ws.SandboxDir()),
	)

	if withObservability {
		obs, err := observability.New(cfg.Observability, logger)
		if err != nil {
			return nil, fmt.Errorf("initializing observability: %w", err)
		}
		sc.Obs = obs
		if obs != nil {
			sc.addCleanup(func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				obs.Shutdown(ctx)
			})
			logger.Debug("observability initialized",
				slog.Bool("metrics", obs.Metrics != nil),
				slog.Bool("tracing", obs.Tracer != nil),
				slog.Bool("anomaly", obs.Anomaly != nil),
			)
		}
	}

	store, err := initStore(cfg, ws, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	if store != nil {
		if err := store.Migrate(context.Background()); err != nil {
			_ = store.Close()
			sc.Cleanup()
			return nil, fmt.Errorf("migrating storage: %w", err)
		}
		sc.Store = store
		sc.addCleanup(func() { _ = store.Close() })
		if sc.Obs != nil && sc.Obs.Health != nil {
			sc.Obs.Health.AddCheck("storage", store.Ping)
		}
		logger.Debug("storage initialized", slog.String("driver", store.Driver()))
	}

	return sc, nil
}

func initWorkspace(cfg *config.Config) (*workspace.Workspace, error) {
	root := cfg.Workspace
	if root == "" {
		root = "~/.procward"
	}
	ws, err := workspace.New(root, cfg.Sandbox.Dir)
	if err != nil {
		return nil, err
	}
	if err := ws.EnsureAll(); err != nil {
		return nil, err
	}
	return ws, nil
}

// initStore opens the archive selected by storage.driver. It returns a nil
// store for the "none" driver.
func initStore(cfg *config.Config, ws *workspace.Workspace, logger *slog.Logger) (storage.Store, error) {
	switch cfg.StorageDriverName() {
	case storage.DriverNone:
		return nil, nil
	case storage.DriverPostgres:
		return initPostgresStore(cfg, logger)
	default:
		return initSQLiteStore(cfg, ws, logger)
	}
}

func initSQLiteStore(cfg *config.Config, ws *workspace.Workspace, logger *slog.Logger) (storage.Store, error) {
	dbPath := ws.DatabasePath()
	journalMode := "wal"

	if cfg.Storage != nil && cfg.Storage.SQLite != nil {
		if cfg.Storage.SQLite.Path != "" {
			dbPath = cfg.Storage.SQLite.Path
		}
		if cfg.Storage.SQLite.JournalMode != "" {
			journalMode = cfg.Storage.SQLite.JournalMode
		}
	}

	return sqlitestore.Open(sqlitestore.Config{
		Path:        dbPath,
		JournalMode: journalMode,
	}, logger)
}

func initPostgresStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	if cfg.Storage == nil || cfg.Storage.Postgres == nil || cfg.Storage.Postgres.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required (set storage.postgres.dsn or PROCWARD_DB_DSN)")
	}
	pg := cfg.Storage.Postgres
	store, err := pgstore.Open(pgstore.Config{
		DSN:             pg.DSN,
		MaxOpenConns:    pg.MaxOpenConns,
		MaxIdleConns:    pg.MaxIdleConns,
		ConnMaxLifetime: time.Duration(pg.ConnMaxLifetimeS) * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	return store, nil
}

// initNotifier registers the configured export notification senders.
// Returns nil when notifications are disabled.
func initNotifier(cfg *config.Config, client *http.Client, logger *slog.Logger) *notification.Dispatcher {
	n := cfg.Notification
	if n == nil || !n.Enabled {
		return nil
	}
	d := notification.NewDispatcher(logger)
	if n.Webhook != nil && n.Webhook.URL != "" {
		d.Register(notification.NewWebhookSender(n.Webhook.URL, n.Webhook.AllowPrivate, client))
	}
	if n.Slack != nil && n.Slack.WebhookURL != "" {
		d.Register(notification.NewSlackSender(n.Slack.WebhookURL, client))
	}
	logger.Debug("notifications initialized", slog.Int("senders", d.Len()))
	return d
}
