package httpapi

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jkaninda/okapi"

	"github.com/jkaninda/procward/internal/domain"
	"github.com/jkaninda/procward/internal/session"
)

// StatusMessage is returned by control routes without a richer result.
type StatusMessage struct {
	Status string `json:"status"`
}

// LaunchRequest is the JSON body for POST /v1/launch.
type LaunchRequest struct {
	Command string `json:"command"`
}

// LaunchResponse is returned with 202; output arrives on the transcript.
type LaunchResponse struct {
	Status  string `json:"status"`
	Command string `json:"command"`
}

// AttachRequest is the JSON body for POST /v1/attach.
type AttachRequest struct {
	PID int `json:"pid"`
}

// PriorityRequest is the JSON body for POST /v1/priority.
type PriorityRequest struct {
	Level string `json:"level"` // e.g. "Below Normal", "below_normal"
}

// AffinityRequest is the JSON body for POST /v1/affinity.
type AffinityRequest struct {
	Cores string `json:"cores"` // "0,2" or "0-3"
}

// NetworkResponse reports the gate state after a toggle.
type NetworkResponse struct {
	NetworkBlocked bool `json:"network_blocked"`
}

// ExportRequest is the optional JSON body for POST /v1/export.
type ExportRequest struct {
	ChartPath string `json:"chart_path,omitempty"`
}

// ExportResponse carries the written report path.
type ExportResponse struct {
	Path string `json:"path"`
}

// SamplesResponse is the retained metric history.
type SamplesResponse struct {
	System  []domain.SystemSample  `json:"system"`
	Process []domain.ProcessSample `json:"process"`
}

// TranscriptResponse is the session transcript.
type TranscriptResponse struct {
	Entries []session.Entry `json:"entries"`
}

// SessionSummary is the JSON form of an archived session.
type SessionSummary struct {
	ID             string     `json:"id"`
	Command        string     `json:"command,omitempty"`
	PID            int        `json:"pid,omitempty"`
	ProcessName    string     `json:"process_name,omitempty"`
	Priority       string     `json:"priority"`
	Affinity       []int      `json:"affinity,omitempty"`
	NetworkBlocked bool       `json:"network_blocked"`
	LogPath        string     `json:"log_path,omitempty"`
	ReportPath     string     `json:"report_path,omitempty"`
	State          string     `json:"state"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
}

// HealthResponse is the JSON response for GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

func (g *Gateway) handleSession(c *okapi.Context) error {
	return c.OK(g.sess.Status())
}

func (g *Gateway) handleSamples(c *okapi.Context) error {
	return c.OK(SamplesResponse{
		System:  g.sess.SystemHistory(),
		Process: g.sess.ProcessHistory(),
	})
}

func (g *Gateway) handleTranscript(c *okapi.Context) error {
	return c.OK(TranscriptResponse{Entries: g.sess.Transcript().Entries()})
}

func (g *Gateway) handleLaunch(c *okapi.Context) error {
	var req LaunchRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	req.Command = strings.TrimSpace(req.Command)
	if req.Command == "" {
		return c.AbortBadRequest("command is required")
	}

	g.logger.Info("http launch", slog.String("command", req.Command))
	g.sess.Launch(req.Command)
	return c.JSON(http.StatusAccepted, LaunchResponse{Status: "launched", Command: req.Command})
}

func (g *Gateway) handleStop(c *okapi.Context) error {
	if err := g.sess.StopLaunched(); err != nil {
		return g.fail(c, "stop", err)
	}
	return c.OK(StatusMessage{Status: "stopped"})
}

func (g *Gateway) handleAttach(c *okapi.Context) error {
	var req AttachRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.PID <= 0 {
		return c.AbortBadRequest("pid must be positive")
	}
	info, err := g.sess.Attach(req.PID)
	if err != nil {
		return g.fail(c, "attach", err)
	}
	return c.OK(info)
}

func (g *Gateway) handleDetach(c *okapi.Context) error {
	if err := g.sess.Detach(); err != nil {
		return g.fail(c, "detach", err)
	}
	return c.OK(StatusMessage{Status: "detached"})
}

func (g *Gateway) handlePriority(c *okapi.Context) error {
	var req PriorityRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	level, err := domain.ParsePriority(req.Level)
	if err != nil {
		return g.fail(c, "priority", err)
	}
	if err := g.sess.SetPriority(c.Context(), level); err != nil {
		return g.fail(c, "priority", err)
	}
	return c.OK(StatusMessage{Status: level.String()})
}

func (g *Gateway) handleAffinity(c *okapi.Context) error {
	var req AffinityRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	mask, err := domain.ParseAffinity(req.Cores)
	if err != nil {
		return g.fail(c, "affinity", err)
	}
	if err := g.sess.SetAffinity(c.Context(), mask); err != nil {
		return g.fail(c, "affinity", err)
	}
	return c.OK(StatusMessage{Status: mask.String()})
}

func (g *Gateway) handleTerminate(c *okapi.Context) error {
	if err := g.sess.Terminate(c.Context()); err != nil {
		return g.fail(c, "terminate", err)
	}
	return c.OK(StatusMessage{Status: "terminated"})
}

func (g *Gateway) handleNetworkToggle(c *okapi.Context) error {
	return c.OK(NetworkResponse{NetworkBlocked: g.sess.ToggleNetwork()})
}

func (g *Gateway) handleExport(c *okapi.Context) error {
	var req ExportRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return c.AbortBadRequest("invalid request body")
		}
	}
	path, err := g.sess.Export(c.Context(), req.ChartPath)
	if err != nil {
		return g.fail(c, "export", err)
	}
	return c.OK(ExportResponse{Path: path})
}

func (g *Gateway) handleSessionList(c *okapi.Context) error {
	limit := 50
	if v := c.Request().URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return c.AbortBadRequest("limit must be a positive integer")
		}
		limit = n
	}
	recs, err := g.archive.List(c.Context(), limit)
	if err != nil {
		return g.fail(c, "list sessions", err)
	}
	out := make([]SessionSummary, len(recs))
	for i := range recs {
		out[i] = toSummary(&recs[i])
	}
	return c.OK(out)
}

func (g *Gateway) handleSessionGet(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid session ID")
	}
	rec, err := g.archive.Get(c.Context(), id)
	if err != nil {
		return g.fail(c, "get session", err)
	}
	return c.OK(toSummary(rec))
}

// handleLiveness is the liveness probe.
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	if g.config.HealthChecker != nil {
		return c.OK(g.config.HealthChecker.CheckHealth())
	}
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}
	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

func toSummary(rec *domain.SessionRecord) SessionSummary {
	return SessionSummary{
		ID:             rec.ID.String(),
		Command:        rec.Command,
		PID:            rec.PID,
		ProcessName:    rec.ProcessName,
		Priority:       rec.Priority.String(),
		Affinity:       rec.Affinity,
		NetworkBlocked: rec.NetworkBlocked,
		LogPath:        rec.LogPath,
		ReportPath:     rec.ReportPath,
		State:          rec.State,
		StartedAt:      rec.StartedAt,
		EndedAt:        rec.EndedAt,
	}
}
