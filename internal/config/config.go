// Package config handles loading and validating procward configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	goutils "github.com/jkaninda/go-utils"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jkaninda/procward/internal/domain"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for procward.
type Config struct {
	Workspace     string               `json:"workspace,omitempty" yaml:"workspace,omitempty"` // Workspace root. Default: ~/.procward. Override: PROCWARD_WORKSPACE env var.
	Sandbox       SandboxConfig        `json:"sandbox" yaml:"sandbox"`
	Poller        PollerConfig         `json:"poller" yaml:"poller"`
	Control       ControlConfig        `json:"control" yaml:"control"`
	Network       NetworkConfig        `json:"network" yaml:"network"`
	Session       SessionConfig        `json:"session" yaml:"session"`
	Report        ReportConfig         `json:"report" yaml:"report"`
	Notification  *NotificationConfig  `json:"notification,omitempty" yaml:"notification,omitempty"`   // nil = notifications disabled
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`             // nil = SQLite default (derived from workspace)
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	Gateways      GatewaysConfig       `json:"gateways" yaml:"gateways"`
}

// SandboxConfig configures the command launcher.
type SandboxConfig struct {
	Dir        string            `json:"dir,omitempty" yaml:"dir,omitempty"`     // Default: <tempdir>/sandbox_env.
	Shell      string            `json:"shell,omitempty" yaml:"shell,omitempty"` // Default: /bin/sh (cmd.exe on Windows).
	MinimalEnv bool              `json:"minimal_env" yaml:"minimal_env"`         // Give children only PATH, HOME, TMPDIR, LANG and TERM. Default: inherit.
	Env        map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// PollerConfig configures the resource poller.
type PollerConfig struct {
	IntervalMS      int `json:"interval_ms" yaml:"interval_ms"`             // Default: 1000.
	ProcessWindowMS int `json:"process_window_ms" yaml:"process_window_ms"` // Default: 100.
	HistorySize     int `json:"history_size" yaml:"history_size"`           // Default: 60.
}

// Interval returns the poll interval with a default of 1s.
func (p PollerConfig) Interval() time.Duration {
	if p.IntervalMS > 0 {
		return time.Duration(p.IntervalMS) * time.Millisecond
	}
	return time.Second
}

// ProcessWindow returns the process CPU sampling window with a default of 100ms.
func (p PollerConfig) ProcessWindow() time.Duration {
	if p.ProcessWindowMS > 0 {
		return time.Duration(p.ProcessWindowMS) * time.Millisecond
	}
	return 100 * time.Millisecond
}

// History returns the metric history capacity with a default of 60.
func (p PollerConfig) History() int {
	if p.HistorySize > 0 {
		return p.HistorySize
	}
	return 60
}

// ControlConfig configures the control policy.
type ControlConfig struct {
	DefaultPriority string `json:"default_priority" yaml:"default_priority"` // Default: "Below Normal".
}

// Priority returns the parsed default priority level.
func (c ControlConfig) Priority() (domain.PriorityLevel, error) {
	if c.DefaultPriority == "" {
		return domain.DefaultPriority, nil
	}
	return domain.ParsePriority(c.DefaultPriority)
}

// NetworkConfig configures the network gate.
type NetworkConfig struct {
	Blocked *bool `json:"blocked,omitempty" yaml:"blocked,omitempty"` // Default: true.
}

// InitiallyBlocked returns the gate state at startup.
func (n NetworkConfig) InitiallyBlocked() bool {
	if n.Blocked != nil {
		return *n.Blocked
	}
	return true
}

// SessionConfig configures session behaviour.
type SessionConfig struct {
	AutoAttach      bool `json:"auto_attach" yaml:"auto_attach"`           // Attach to launched children. Default: false.
	TranscriptLimit int  `json:"transcript_limit" yaml:"transcript_limit"` // In-memory lines. Default: 10000.
}

// ReportConfig configures report export.
type ReportConfig struct {
	Format       string `json:"format" yaml:"format"`                                 // "html" (default) or "markdown".
	Dir          string `json:"dir,omitempty" yaml:"dir,omitempty"`                   // Default: <workspace>/reports.
	ChartPath    string `json:"chart_path,omitempty" yaml:"chart_path,omitempty"`     // Default: reports/chart.png.
	LinesPerPage int    `json:"lines_per_page" yaml:"lines_per_page"`                 // Default: 50.
	MaxPages     int    `json:"max_pages" yaml:"max_pages"`                           // Default: 20.
	Schedule     string `json:"schedule,omitempty" yaml:"schedule,omitempty"`         // Cron expression for periodic export. Empty = disabled.
	ArchiveDays  int    `json:"archive_days,omitempty" yaml:"archive_days,omitempty"` // Prune archived sessions older than this. 0 = keep.
}

// OutputFormat returns the report format with a default of "html".
func (r ReportConfig) OutputFormat() string {
	if r.Format != "" {
		return strings.ToLower(r.Format)
	}
	return "html"
}

// NotificationConfig configures export notifications.
type NotificationConfig struct {
	Enabled        bool           `json:"enabled" yaml:"enabled"`
	TimeoutSeconds int            `json:"timeout_seconds" yaml:"timeout_seconds"` // Default: 10.
	Webhook        *WebhookConfig `json:"webhook,omitempty" yaml:"webhook,omitempty"`
	Slack          *SlackConfig   `json:"slack,omitempty" yaml:"slack,omitempty"`
}

// Timeout returns the HTTP timeout for notification senders.
func (n *NotificationConfig) Timeout() time.Duration {
	if n != nil && n.TimeoutSeconds > 0 {
		return time.Duration(n.TimeoutSeconds) * time.Second
	}
	return 10 * time.Second
}

// WebhookConfig configures the generic JSON webhook sender.
type WebhookConfig struct {
	URL          string `json:"url" yaml:"url"`
	AllowPrivate bool   `json:"allow_private" yaml:"allow_private"` // Permit loopback and private targets.
}

// SlackConfig configures the Slack incoming-webhook sender.
type SlackConfig struct {
	WebhookURL string `json:"webhook_url" yaml:"webhook_url"`
}

// StorageConfig configures the session archive.
// When nil, defaults to SQLite with the database path derived from the workspace.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default), "postgres" or "none".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from workspace.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`                                 // Override: PROCWARD_DB_DSN env var.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 10
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 2
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// ObservabilityConfig configures metrics, tracing, health checks, and anomaly detection.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Anomaly *AnomalyConfig `json:"anomaly,omitempty" yaml:"anomaly,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// MetricsPath returns the exposition path with a default of "/metrics".
func (m *MetricsConfig) MetricsPath() string {
	if m != nil && m.Path != "" {
		return m.Path
	}
	return "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "procward"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0 to 1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// AnomalyConfig configures threshold-based anomaly detection.
type AnomalyConfig struct {
	Enabled            bool    `json:"enabled" yaml:"enabled"`
	ErrorRateThreshold float64 `json:"error_rate_threshold" yaml:"error_rate_threshold"` // e.g. 0.5 = 50% errors
	WindowSeconds      int     `json:"window_seconds" yaml:"window_seconds"`             // Sliding window. Default: 300
}

// GatewaysConfig defines which gateways are enabled and their settings.
// Nil pointers mean the gateway is not configured. If the entire section
// is absent, the CLI gateway is enabled by default.
type GatewaysConfig struct {
	CLI  *CLIGatewayConfig  `json:"cli,omitempty" yaml:"cli,omitempty"`
	HTTP *HTTPGatewayConfig `json:"http,omitempty" yaml:"http,omitempty"`
}

// CLIGatewayConfig configures the interactive REPL.
type CLIGatewayConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// HTTPGatewayConfig configures the HTTP control API.
type HTTPGatewayConfig struct {
	Enabled             bool            `json:"enabled" yaml:"enabled"`
	EnableDocs          bool            `json:"enable_docs" yaml:"enable_docs"`
	ListenAddr          string          `json:"listen_addr" yaml:"listen_addr"`             // Default: 127.0.0.1:8090. Override: PROCWARD_HTTP_ADDR env var.
	APIKey              string          `json:"api_key,omitempty" yaml:"api_key,omitempty"` // Empty = no auth. Override: PROCWARD_API_KEY env var.
	MaxRequestSizeBytes int64           `json:"max_request_size_bytes" yaml:"max_request_size_bytes"`
	EventBuffer         int             `json:"event_buffer" yaml:"event_buffer"` // Per-subscriber buffer. Default: 256.
	RateLimit           RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
}

// Addr returns the listen address with a default of 127.0.0.1:8090.
func (h *HTTPGatewayConfig) Addr() string {
	if h != nil && h.ListenAddr != "" {
		return h.ListenAddr
	}
	return "127.0.0.1:8090"
}

// RateLimitConfig configures per-client rate limiting for a gateway.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	BurstSize         int `json:"burst_size" yaml:"burst_size"`
}

// DefaultConfigPath returns the default config file path (~/.procward/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/procward.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".procward", "config.yaml")
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{
		Gateways: GatewaysConfig{CLI: &CLIGatewayConfig{Enabled: true}},
	}
	cfg.applyEnv()
	return cfg
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything else for JSON.
// Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	// An absent gateways section keeps the REPL available.
	if cfg.Gateways.CLI == nil && cfg.Gateways.HTTP == nil {
		cfg.Gateways.CLI = &CLIGatewayConfig{Enabled: true}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads path, falling back to Default when the file does not
// exist. Any other read or parse error is returned.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// applyEnv applies environment overrides. Env vars take precedence over config values.
func (c *Config) applyEnv() {
	c.Workspace = goutils.Env("PROCWARD_WORKSPACE", c.Workspace)

	if key := goutils.Env("PROCWARD_API_KEY", ""); key != "" {
		if c.Gateways.HTTP == nil {
			c.Gateways.HTTP = &HTTPGatewayConfig{}
		}
		c.Gateways.HTTP.APIKey = key
	}
	if addr := goutils.Env("PROCWARD_HTTP_ADDR", ""); addr != "" {
		if c.Gateways.HTTP == nil {
			c.Gateways.HTTP = &HTTPGatewayConfig{}
		}
		c.Gateways.HTTP.ListenAddr = addr
		c.Gateways.HTTP.Enabled = true
	}
	if dsn := goutils.Env("PROCWARD_DB_DSN", ""); dsn != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{}
		}
		if c.Storage.Postgres == nil {
			c.Storage.Postgres = &PostgresStorageConfig{}
		}
		c.Storage.Driver = "postgres"
		c.Storage.Postgres.DSN = dsn
	}
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// StorageDriverName returns the effective storage driver name.
func (c *Config) StorageDriverName() string {
	return c.Storage.StorageDriver()
}

// MetricsEnabled reports whether Prometheus metrics are enabled.
func (c *Config) MetricsEnabled() bool {
	return c.Observability != nil && c.Observability.Metrics != nil && c.Observability.Metrics.Enabled
}

func (c *Config) validate() error {
	if c.Poller.IntervalMS < 0 {
		return fmt.Errorf("poller.interval_ms must not be negative")
	}
	if c.Poller.ProcessWindowMS < 0 {
		return fmt.Errorf("poller.process_window_ms must not be negative")
	}
	if c.Poller.HistorySize < 0 {
		return fmt.Errorf("poller.history_size must not be negative")
	}
	if c.Poller.ProcessWindow() >= c.Poller.Interval() {
		return fmt.Errorf("poller.process_window_ms (%s) must be shorter than poller.interval_ms (%s)",
			c.Poller.ProcessWindow(), c.Poller.Interval())
	}
	if _, err := c.Control.Priority(); err != nil {
		return fmt.Errorf("control.default_priority: %w", err)
	}
	switch c.Report.OutputFormat() {
	case "html", "markdown", "md":
	default:
		return fmt.Errorf("report.format %q is not supported (use html or markdown)", c.Report.Format)
	}
	if c.Report.ArchiveDays < 0 {
		return fmt.Errorf("report.archive_days must not be negative")
	}
	if c.Storage != nil && c.Storage.Driver != "" {
		switch c.Storage.Driver {
		case "sqlite", "none":
		case "postgres":
			if c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
				return fmt.Errorf("storage.postgres.dsn is required for the postgres driver (set PROCWARD_DB_DSN env var)")
			}
		default:
			return fmt.Errorf("storage.driver %q is not supported (use sqlite, postgres or none)", c.Storage.Driver)
		}
	}
	if n := c.Notification; n != nil && n.Enabled {
		if n.Webhook == nil && n.Slack == nil {
			return fmt.Errorf("notification requires a webhook or slack sender when enabled")
		}
		if n.Webhook != nil && n.Webhook.URL == "" {
			return fmt.Errorf("notification.webhook.url is required")
		}
		if n.Slack != nil && n.Slack.WebhookURL == "" {
			return fmt.Errorf("notification.slack.webhook_url is required")
		}
	}
	if h := c.Gateways.HTTP; h != nil {
		if h.RateLimit.RequestsPerMinute < 0 || h.RateLimit.BurstSize < 0 {
			return fmt.Errorf("gateways.http.rate_limit values must not be negative")
		}
	}
	return nil
}

const redactedValue = "********"

// Redacted returns a copy safe to print: the API key, database DSN and
// webhook URLs are masked.
func (c *Config) Redacted() *Config {
	out := *c
	if h := c.Gateways.HTTP; h != nil {
		cp := *h
		if cp.APIKey != "" {
			cp.APIKey = redactedValue
		}
		out.Gateways.HTTP = &cp
	}
	if s := c.Storage; s != nil && s.Postgres != nil && s.Postgres.DSN != "" {
		st, pg := *s, *s.Postgres
		pg.DSN = redactedValue
		st.Postgres = &pg
		out.Storage = &st
	}
	if n := c.Notification; n != nil {
		cp := *n
		if n.Webhook != nil {
			wh := *n.Webhook
			wh.URL = redactedValue
			cp.Webhook = &wh
		}
		if n.Slack != nil {
			sl := *n.Slack
			sl.WebhookURL = redactedValue
			cp.Slack = &sl
		}
		out.Notification = &cp
	}
	return &out
}
