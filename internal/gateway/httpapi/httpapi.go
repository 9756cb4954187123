// Package httpapi implements the HTTP control API for a supervisor session.
//
// Security:
//   - Optional bearer API key on every /v1 route (constant-time comparison)
//   - Request body size limit (default 1 MB)
//   - Per-client rate limiting via token bucket on mutating routes
//   - Loopback listen address by default; TLS expected via reverse proxy
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jkaninda/okapi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/procward/internal/domain"
	"github.com/jkaninda/procward/internal/observability"
	"github.com/jkaninda/procward/internal/ratelimit"
	"github.com/jkaninda/procward/internal/session"
	"github.com/jkaninda/procward/internal/storage"
)

const (
	defaultMaxRequestSize = 1 << 20 // 1 MB
	defaultEventBuffer    = 256
)

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string // e.g. "127.0.0.1:8090"
	EnableDocs     bool
	APIKey         string // Empty = authentication disabled.
	MaxRequestSize int64  // 0 = 1 MB.
	EventBuffer    int    // Per-stream event buffer. 0 = 256.

	// Observability
	MetricsRegistry *prometheus.Registry
	MetricsPath     string // Default: "/metrics".
	HealthChecker   *observability.HealthChecker
	Metrics         *observability.MetricsCollector
	Tracer          trace.Tracer
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config  Config
	sess    *session.Session
	archive storage.SessionStore // nil = /v1/sessions disabled.
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	server  *http.Server
	okapi   *okapi.Okapi
	group   *okapi.Group
}

// NewGateway creates an HTTP API gateway over sess.
func NewGateway(cfg Config, sess *session.Session, archive storage.SessionStore, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	maxSize := cfg.MaxRequestSize
	if maxSize <= 0 {
		maxSize = defaultMaxRequestSize
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	return &Gateway{
		config:  cfg,
		sess:    sess,
		archive: archive,
		limiter: rl,
		logger:  logger.With(slog.String("gateway", "http")),
		okapi:   okapi.New(okapi.WithMaxMultipartMemory(maxSize)),
	}
}

// WithOpenAPIDocs serves the generated OpenAPI document.
func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "procward",
			Version: "v1",
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits.
func (g *Gateway) Start(ctx context.Context) error {
	maxSize := g.config.MaxRequestSize
	if maxSize <= 0 {
		maxSize = defaultMaxRequestSize
	}
	g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxSize)
			next.ServeHTTP(w, r)
		})
	})
	if g.config.Metrics != nil || g.config.Tracer != nil {
		g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(g.config.Metrics, g.config.Tracer, next)
		})
	}

	g.group = g.okapi.Group("/v1", g.authenticate)
	g.registerRoutes()

	// The event stream authenticates inside the handler so the upgrade
	// response stays untouched by okapi.
	g.okapi.HandleStd("GET", "/v1/events", g.handleEvents)

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting",
		slog.String("addr", g.config.ListenAddr),
		slog.Bool("auth", g.config.APIKey != ""),
	)
	err := g.okapi.StartServer(g.server)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(_ context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

func (g *Gateway) registerRoutes() {
	g.group.Get("/session", g.handleSession,
		okapi.DocSummary("Current session state"),
		okapi.DocTags("Session"),
		okapi.DocResponse(session.Status{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
	)
	g.group.Get("/samples", g.handleSamples,
		okapi.DocSummary("Retained system and process samples"),
		okapi.DocTags("Session"),
		okapi.DocResponse(SamplesResponse{}),
	)
	g.group.Get("/transcript", g.handleTranscript,
		okapi.DocSummary("Session transcript"),
		okapi.DocTags("Session"),
		okapi.DocResponse(TranscriptResponse{}),
	)

	g.group.Post("/launch", g.limited(g.handleLaunch),
		okapi.DocSummary("Run a command in the sandbox directory"),
		okapi.DocTags("Process"),
		okapi.DocRequestBody(LaunchRequest{}),
		okapi.DocResponse(http.StatusAccepted, LaunchResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)
	g.group.Post("/stop", g.limited(g.handleStop),
		okapi.DocSummary("Stop the launched command"),
		okapi.DocTags("Process"),
		okapi.DocResponse(StatusMessage{}),
		okapi.DocResponse(http.StatusConflict, ErrorBody{}),
	)
	g.group.Post("/attach", g.limited(g.handleAttach),
		okapi.DocSummary("Supervise an existing process"),
		okapi.DocTags("Process"),
		okapi.DocRequestBody(AttachRequest{}),
		okapi.DocResponse(domain.ProcessInfo{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		okapi.DocResponse(http.StatusForbidden, ErrorBody{}),
	)
	g.group.Post("/detach", g.limited(g.handleDetach),
		okapi.DocSummary("Release the attached process"),
		okapi.DocTags("Process"),
		okapi.DocResponse(StatusMessage{}),
		okapi.DocResponse(http.StatusConflict, ErrorBody{}),
	)
	g.group.Post("/priority", g.limited(g.handlePriority),
		okapi.DocSummary("Set the scheduling priority"),
		okapi.DocTags("Control"),
		okapi.DocRequestBody(PriorityRequest{}),
		okapi.DocResponse(StatusMessage{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusConflict, ErrorBody{}),
		okapi.DocResponse(http.StatusForbidden, ErrorBody{}),
		okapi.DocResponse(http.StatusNotImplemented, ErrorBody{}),
	)
	g.group.Post("/affinity", g.limited(g.handleAffinity),
		okapi.DocSummary("Pin the process to CPU cores"),
		okapi.DocTags("Control"),
		okapi.DocRequestBody(AffinityRequest{}),
		okapi.DocResponse(StatusMessage{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusConflict, ErrorBody{}),
		okapi.DocResponse(http.StatusNotImplemented, ErrorBody{}),
	)
	g.group.Post("/terminate", g.limited(g.handleTerminate),
		okapi.DocSummary("Terminate the attached process"),
		okapi.DocTags("Control"),
		okapi.DocResponse(StatusMessage{}),
		okapi.DocResponse(http.StatusConflict, ErrorBody{}),
	)
	g.group.Post("/network/toggle", g.limited(g.handleNetworkToggle),
		okapi.DocSummary("Flip outbound network access"),
		okapi.DocTags("Control"),
		okapi.DocResponse(NetworkResponse{}),
	)
	g.group.Post("/export", g.limited(g.handleExport),
		okapi.DocSummary("Write the session report"),
		okapi.DocTags("Report"),
		okapi.DocRequestBody(ExportRequest{}),
		okapi.DocResponse(ExportResponse{}),
		okapi.DocResponse(http.StatusInternalServerError, ErrorBody{}),
	)

	if g.archive != nil {
		g.group.Get("/sessions", g.handleSessionList,
			okapi.DocSummary("List archived sessions"),
			okapi.DocTags("Archive"),
			okapi.DocResponse([]SessionSummary{}),
		)
		g.group.Get("/sessions/{id}", g.handleSessionGet,
			okapi.DocSummary("Get an archived session"),
			okapi.DocTags("Archive"),
			okapi.DocPathParam("id", "string", "Session ID"),
			okapi.DocResponse(SessionSummary{}),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		)
	}
}

// --- Authentication ---

// authenticate validates the bearer API key when one is configured.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		if g.config.APIKey == "" {
			return next(c)
		}
		if !g.validKey(bearerToken(c.Header("Authorization"))) {
			return c.AbortUnauthorized("missing or invalid API key")
		}
		return next(c)
	}
}

func (g *Gateway) validKey(key string) bool {
	if g.config.APIKey == "" {
		return true
	}
	return key != "" && subtle.ConstantTimeCompare([]byte(key), []byte(g.config.APIKey)) == 1
}

func bearerToken(header string) string {
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// limited applies the per-client token bucket.
func (g *Gateway) limited(h okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		if g.limiter != nil {
			if err := g.limiter.Allow(clientKey(c.Request())); err != nil {
				return c.AbortTooManyRequests("rate limit exceeded")
			}
		}
		return h(c)
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// --- Errors ---

// statusFor maps the domain error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNoProcess):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrPermission), errors.Is(err, domain.ErrNetworkBlocked):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrUnsupportedOperation):
		return http.StatusNotImplemented
	case errors.Is(err, domain.ErrUnsupportedValue):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Internal errors are logged and
// replaced by a generic message.
func (g *Gateway) fail(c *okapi.Context, op string, err error) error {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		g.logger.Error("request failed", slog.String("op", op), slog.String("error", err.Error()))
		return c.JSON(code, ErrorBody{Error: op + " failed"})
	}
	return c.JSON(code, ErrorBody{Error: err.Error()})
}
