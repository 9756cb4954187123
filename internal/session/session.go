// Package session owns one supervised process and everything recorded
// about it: the attached handle, the launcher, the poller, the control
// policy, the network gate, the transcript and the metric histories.
//
// Presentation layers talk only to a Session. Samples and output lines
// reach them as events; control actions return typed errors.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jkaninda/procward/internal/control"
	"github.com/jkaninda/procward/internal/domain"
	"github.com/jkaninda/procward/internal/monitor"
	"github.com/jkaninda/procward/internal/netgate"
	"github.com/jkaninda/procward/internal/notification"
	"github.com/jkaninda/procward/internal/process"
	"github.com/jkaninda/procward/internal/report"
	"github.com/jkaninda/procward/internal/sandbox"
	"github.com/jkaninda/procward/internal/storage"
)

// DefaultChartPath is passed to the report generator when the caller
// names no chart.
const DefaultChartPath = "reports/chart.png"

const notAvailable = "N/A"

// Options tunes a Session. Zero values select defaults.
type Options struct {
	Sandbox         sandbox.Config
	PollInterval    time.Duration
	ProcessWindow   time.Duration
	HistorySize     int
	TranscriptLimit int
	DefaultPriority *domain.PriorityLevel // nil = domain.DefaultPriority
	ChartPath       string

	// AutoAttach attaches to each launched child as soon as its pid is
	// known. Off by default: launch and attach are separate operator steps.
	AutoAttach bool
}

// Deps are the collaborators of a Session. Only Reporter is required.
type Deps struct {
	Inspector *process.Inspector     // default: process.NewInspector
	System    *monitor.SystemSampler // default: monitor.NewSystemSampler
	Gate      *netgate.Gate          // default: blocked gate
	Reporter  report.Generator
	Archive   storage.SessionStore     // optional
	Notifier  *notification.Dispatcher // optional
	Registry  *prometheus.Registry     // optional
	Logger    *slog.Logger

	// WrapController decorates the control policy, e.g. with tracing.
	WrapController func(control.Controller) control.Controller

	// ObserveSample is told the outcome of every poll sample.
	ObserveSample func(kind string, err error)
}

// Status is a point-in-time view of the session.
type Status struct {
	ID             uuid.UUID             `json:"id"`
	Command        string                `json:"command,omitempty"`
	Process        domain.ProcessInfo    `json:"process"`
	State          string                `json:"state"`
	Priority       domain.PriorityLevel  `json:"priority"`
	Affinity       domain.AffinityMask   `json:"affinity"`
	NetworkBlocked bool                  `json:"network_blocked"`
	Platform       string                `json:"platform"`
	Cores          int                   `json:"cores"`
	PollerRunning  bool                  `json:"poller_running"`
	StartedAt      *time.Time            `json:"started_at,omitempty"`
	LastLogPath    string                `json:"last_log_path,omitempty"`
	ReportPath     string                `json:"report_path,omitempty"`
	LastSystem     *domain.SystemSample  `json:"last_system,omitempty"`
	LastProcess    *domain.ProcessSample `json:"last_process,omitempty"`
}

// Session supervises at most one attached process at a time.
type Session struct {
	id         uuid.UUID
	opts       Options
	slot       process.Slot
	inspector  *process.Inspector
	policy     *control.Policy
	controller control.Controller
	launcher   *sandbox.Launcher
	poller     *monitor.Poller
	gate       *netgate.Gate
	reporter   report.Generator
	archive    storage.SessionStore
	notifier   *notification.Dispatcher
	bus        *Bus
	transcript *Transcript
	systemHist *monitor.History[domain.SystemSample]
	procHist   *monitor.History[domain.ProcessSample]
	metrics    *Metrics
	logger     *slog.Logger
	now        func() time.Time

	// attachMu orders handle swaps against process history writes.
	attachMu sync.Mutex

	mu         sync.Mutex
	command    string
	startedAt  time.Time
	endedAt    *time.Time
	priority   domain.PriorityLevel
	affinity   domain.AffinityMask
	lastPID    int
	lastName   string
	reportPath string
	closed     bool
}

// New wires a session. The poller is not started until Start.
func New(opts Options, deps Deps) (*Session, error) {
	if deps.Reporter == nil {
		return nil, errors.New("session: report generator is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	priority := domain.DefaultPriority
	if opts.DefaultPriority != nil && opts.DefaultPriority.Valid() {
		priority = *opts.DefaultPriority
	}
	if opts.ChartPath == "" {
		opts.ChartPath = DefaultChartPath
	}

	inspector := deps.Inspector
	if inspector == nil {
		var err error
		if inspector, err = process.NewInspector(logger); err != nil {
			return nil, fmt.Errorf("creating process inspector: %w", err)
		}
	}
	system := deps.System
	if system == nil {
		var err error
		if system, err = monitor.NewSystemSampler(); err != nil {
			return nil, fmt.Errorf("creating system sampler: %w", err)
		}
	}
	gate := deps.Gate
	if gate == nil {
		gate = netgate.New(true, logger)
	}

	metrics := NewMetrics(deps.Registry)
	s := &Session{
		id:         uuid.New(),
		opts:       opts,
		inspector:  inspector,
		gate:       gate,
		reporter:   deps.Reporter,
		archive:    deps.Archive,
		notifier:   deps.Notifier,
		transcript: NewTranscript(opts.TranscriptLimit),
		systemHist: monitor.NewHistory[domain.SystemSample](opts.HistorySize),
		procHist:   monitor.NewHistory[domain.ProcessSample](opts.HistorySize),
		metrics:    metrics,
		logger:     logger.With(slog.String("component", "session")),
		now:        time.Now,
		priority:   priority,
	}
	s.bus = NewBus(metrics.drop)

	s.policy = control.NewPolicy(&s.slot, s.logger)
	s.controller = s.policy
	if deps.WrapController != nil {
		s.controller = deps.WrapController(s.policy)
	}

	s.launcher = sandbox.NewLauncher(opts.Sandbox, s.output, sandbox.NewMetrics(deps.Registry), s.logger)
	s.poller = monitor.NewPoller(
		monitor.PollerConfig{Interval: opts.PollInterval, Observe: deps.ObserveSample},
		system,
		monitor.NewProcessSampler(inspector, system, opts.ProcessWindow),
		&s.slot,
		pollSink{s},
		monitor.NewMetrics(deps.Registry),
		s.logger,
	)
	return s, nil
}

// ID returns the session identifier used by the archive.
func (s *Session) ID() uuid.UUID { return s.id }

// Start begins polling. Calling it again while running is a no-op.
func (s *Session) Start(ctx context.Context) {
	s.poller.Start(ctx)
}

// Launch runs commandLine in the sandbox directory. Failures surface only
// as transcript lines.
func (s *Session) Launch(commandLine string) {
	commandLine = strings.TrimSpace(commandLine)
	if commandLine == "" {
		return
	}
	s.mu.Lock()
	s.command = commandLine
	s.startedAt = s.now()
	s.mu.Unlock()

	s.output("[Running] " + commandLine)
	s.launcher.Run(commandLine)
}

// WaitLaunched blocks until every launched command has finished.
func (s *Session) WaitLaunched() {
	s.launcher.Wait()
}

// StopLaunched terminates the most recently launched child.
func (s *Session) StopLaunched() error {
	if err := s.launcher.Stop(); err != nil {
		if errors.Is(err, domain.ErrNoProcess) {
			s.output("[Error] No process running.")
		} else {
			s.output("[Error] stop: " + err.Error())
		}
		return err
	}
	s.output("[Killed] launched process stopped.")
	return nil
}

// Attach makes pid the supervised process, replacing any previous handle.
func (s *Session) Attach(pid int) (domain.ProcessInfo, error) {
	h, err := s.inspector.Attach(pid)
	s.metrics.attach(err)
	if err != nil {
		s.output(fmt.Sprintf("[Error] attach %d: %v", pid, err))
		return domain.ProcessInfo{}, err
	}

	s.attachMu.Lock()
	defer s.attachMu.Unlock()
	if prev := s.slot.Swap(h); prev != nil && prev != h {
		prev.MarkDetached()
	}
	s.procHist.Reset()

	s.mu.Lock()
	s.lastPID = h.PID()
	s.lastName = h.Name()
	if s.startedAt.IsZero() {
		s.startedAt = s.now()
	}
	s.mu.Unlock()

	s.output(fmt.Sprintf("[Attached] PID %d (%s)", h.PID(), h.Name()))
	return h.Info(), nil
}

// Detach releases the handle without touching the process.
func (s *Session) Detach() error {
	s.attachMu.Lock()
	defer s.attachMu.Unlock()
	h := s.slot.Current()
	if h == nil || !s.slot.Release(h) {
		s.output("[Error] detach: " + domain.ErrNoProcess.Error())
		return domain.ErrNoProcess
	}
	h.MarkDetached()
	s.output(fmt.Sprintf("[Detached] PID %d", h.PID()))
	return nil
}

// SetPriority applies level to the attached process.
func (s *Session) SetPriority(ctx context.Context, level domain.PriorityLevel) error {
	if err := s.controller.SetPriority(ctx, level); err != nil {
		s.output("[Error] priority: " + err.Error())
		return err
	}
	s.mu.Lock()
	s.priority = level
	s.mu.Unlock()
	s.output("[Priority] set to " + level.String())
	return nil
}

// SetAffinity restricts the attached process to cores.
func (s *Session) SetAffinity(ctx context.Context, cores domain.AffinityMask) error {
	if err := s.controller.SetAffinity(ctx, cores); err != nil {
		s.output("[Error] affinity: " + err.Error())
		return err
	}
	s.mu.Lock()
	s.affinity = cores
	s.mu.Unlock()
	s.output("[Affinity] set to " + cores.String())
	return nil
}

// Terminate signals the attached process. The handle stays in place so the
// poller keeps reporting it as not living.
func (s *Session) Terminate(ctx context.Context) error {
	if err := s.controller.Terminate(ctx); err != nil {
		s.output("[Error] terminate: " + err.Error())
		return err
	}
	s.output("[Killed] process terminated.")
	return nil
}

// ToggleNetwork flips the gate and returns the new blocked state.
func (s *Session) ToggleNetwork() bool {
	blocked := s.gate.Toggle()
	if blocked {
		s.output("[Network] Blocked")
	} else {
		s.output("[Network] Allowed")
	}
	return blocked
}

// NetworkBlocked reports the gate state.
func (s *Session) NetworkBlocked() bool {
	return s.gate.Blocked()
}

// Gate returns the network gate shared with outbound clients.
func (s *Session) Gate() *netgate.Gate {
	return s.gate
}

// Cores returns the logical core count.
func (s *Session) Cores() int {
	return s.policy.Cores()
}

// Export renders the session report and returns its path. chartPath may be
// empty; a missing chart is omitted from the report.
func (s *Session) Export(ctx context.Context, chartPath string) (string, error) {
	if chartPath == "" {
		chartPath = s.opts.ChartPath
	}
	meta := s.metadata()

	path, err := s.reporter.Generate(ctx, report.Input{
		Metadata:   meta,
		Transcript: s.transcript.Text(),
		ChartPath:  chartPath,
	})
	s.metrics.export(err)
	if err != nil {
		s.output("[Error] export: " + err.Error())
		return "", fmt.Errorf("exporting report: %w", err)
	}

	s.mu.Lock()
	s.reportPath = path
	s.mu.Unlock()
	s.output("[Export] report saved to " + path)
	s.logger.Info("report exported", slog.String("path", path))

	s.archiveRecord(ctx)
	s.notify(ctx, path, meta)
	return path, nil
}

func (s *Session) metadata() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta := map[string]string{
		report.KeyPID:      notAvailable,
		report.KeyCommand:  notAvailable,
		report.KeyPriority: s.priority.String(),
		report.KeyAffinity: s.effectiveAffinity().String(),
		report.KeyStarted:  notAvailable,
		"Network":          "Allowed",
	}
	if s.lastPID > 0 {
		meta[report.KeyPID] = strconv.Itoa(s.lastPID)
		meta["Process"] = s.lastName
	}
	if s.command != "" {
		meta[report.KeyCommand] = s.command
	}
	if !s.startedAt.IsZero() {
		meta[report.KeyStarted] = s.startedAt.Format(time.RFC3339)
	}
	if s.gate.Blocked() {
		meta["Network"] = "Blocked"
	}
	return meta
}

// effectiveAffinity returns the applied mask, or every core when none was
// applied. Callers hold s.mu.
func (s *Session) effectiveAffinity() domain.AffinityMask {
	if len(s.affinity) > 0 {
		return s.affinity
	}
	return domain.AllCores(s.policy.Cores())
}

func (s *Session) notify(ctx context.Context, path string, meta map[string]string) {
	if s.notifier == nil || s.notifier.Len() == 0 {
		return
	}
	msg := &notification.Message{
		Subject:  "procward: session report exported",
		Body:     fmt.Sprintf("Report for %s (PID %s) saved to %s", meta[report.KeyCommand], meta[report.KeyPID], path),
		Metadata: meta,
	}
	if err := s.notifier.Notify(ctx, msg); err != nil {
		s.logger.Warn("export notification failed", slog.String("error", err.Error()))
		s.output("[Error] notification: " + err.Error())
	}
}

// Record returns the archive summary of the session.
func (s *Session) Record() *domain.SessionRecord {
	h := s.slot.Current()
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := &domain.SessionRecord{
		ID:             s.id,
		Command:        s.command,
		PID:            s.lastPID,
		ProcessName:    s.lastName,
		Priority:       s.priority,
		Affinity:       s.affinity,
		NetworkBlocked: s.gate.Blocked(),
		LogPath:        s.launcher.LastLogPath(),
		ReportPath:     s.reportPath,
		State:          h.State().String(),
		StartedAt:      s.startedAt,
		EndedAt:        s.endedAt,
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = s.now()
	}
	return rec
}

func (s *Session) archiveRecord(ctx context.Context) {
	if s.archive == nil {
		return
	}
	if err := s.archive.Save(ctx, s.Record()); err != nil {
		s.logger.Warn("archiving session failed", slog.String("error", err.Error()))
	}
}

// Status returns a snapshot for presentation.
func (s *Session) Status() Status {
	h := s.slot.Current()
	st := Status{
		ID:             s.id,
		Process:        h.Info(),
		State:          h.State().String(),
		NetworkBlocked: s.gate.Blocked(),
		Platform:       s.policy.Platform().String(),
		Cores:          s.policy.Cores(),
		PollerRunning:  s.poller.Running(),
		LastLogPath:    s.launcher.LastLogPath(),
	}
	if sys, ok := s.systemHist.Last(); ok {
		st.LastSystem = &sys
	}
	if ps, ok := s.procHist.Last(); ok {
		st.LastProcess = &ps
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st.Command = s.command
	st.Priority = s.priority
	st.Affinity = s.effectiveAffinity()
	st.ReportPath = s.reportPath
	if !s.startedAt.IsZero() {
		started := s.startedAt
		st.StartedAt = &started
	}
	return st
}

// SystemHistory returns the retained system samples, oldest first.
func (s *Session) SystemHistory() []domain.SystemSample {
	return s.systemHist.Snapshot()
}

// ProcessHistory returns the retained samples of the current process.
func (s *Session) ProcessHistory() []domain.ProcessSample {
	return s.procHist.Snapshot()
}

// Transcript returns the session transcript.
func (s *Session) Transcript() *Transcript {
	return s.transcript
}

// Subscribe streams events in order. A consumer slower than the poller
// misses sample events once buffer of them are pending; output lines are
// always delivered. The cancel function must be called when the consumer
// is done.
func (s *Session) Subscribe(buffer int) (<-chan Event, func()) {
	ch, cancel := s.bus.Subscribe(buffer)
	s.metrics.subscribers(s.bus.Len())
	return ch, func() {
		cancel()
		s.metrics.subscribers(s.bus.Len())
	}
}

// Close stops polling, archives the session and closes every subscription.
// A launched child is left running.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ended := s.now()
	s.endedAt = &ended
	s.mu.Unlock()

	s.poller.Stop()
	select {
	case <-s.poller.Done():
	case <-ctx.Done():
	}

	s.archiveRecord(ctx)
	s.bus.Close()
	s.logger.Info("session closed", slog.String("id", s.id.String()))
	return ctx.Err()
}

// output records a transcript line and publishes it.
func (s *Session) output(line string) {
	e := s.transcript.Append(s.now(), line)
	ev := newEvent(EventOutputLine, e.Time)
	ev.Line = line
	s.bus.Publish(ev)

	if s.opts.AutoAttach && strings.HasPrefix(line, sandbox.MarkerLaunched) {
		pid, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, sandbox.MarkerLaunched)))
		if err == nil {
			_, _ = s.Attach(pid)
		}
	}
}

// pollSink feeds poller output into the histories and the bus.
type pollSink struct{ s *Session }

func (p pollSink) SystemSample(v domain.SystemSample) {
	p.s.systemHist.Push(v)
	ev := newEvent(EventSystemSample, v.Time)
	ev.System = &v
	p.s.bus.Publish(ev)
}

// ProcessSample drops samples taken from a handle that was replaced or
// released while the tick ran.
func (p pollSink) ProcessSample(v domain.ProcessSample) {
	p.s.attachMu.Lock()
	if cur := p.s.slot.Current(); cur == nil || cur.PID() != v.PID {
		p.s.attachMu.Unlock()
		return
	}
	p.s.procHist.Push(v)
	p.s.attachMu.Unlock()

	ev := newEvent(EventProcessSample, v.Time)
	ev.Process = &v
	p.s.bus.Publish(ev)
}
