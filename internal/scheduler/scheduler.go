// Package scheduler runs the cron-driven housekeeping of a supervisor
// session: periodic report export and pruning of the session archive.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultPruneSchedule runs archive pruning once a day at midnight.
const DefaultPruneSchedule = "@daily"

// Exporter renders a session report. *session.Session satisfies it.
type Exporter interface {
	Export(ctx context.Context, chartPath string) (string, error)
}

// Pruner deletes archived sessions started before a cutoff.
// storage.SessionStore satisfies it.
type Pruner interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config selects what runs and when. Schedules accept five-field cron
// expressions and descriptors such as "@hourly" or "@every 15m".
type Config struct {
	ExportSchedule string // Empty = no periodic export.
	ChartPath      string
	PruneSchedule  string // Default: DefaultPruneSchedule.
	ArchiveDays    int    // 0 = never prune.
}

// Scheduler owns one cron runner. Jobs that are still running when their
// next slot comes up are skipped.
type Scheduler struct {
	cfg      Config
	exporter Exporter
	archive  Pruner
	metrics  *Metrics
	logger   *slog.Logger
	parser   cron.Parser
	cron     *cron.Cron
	now      func() time.Time

	exportID cron.EntryID
	pruneID  cron.EntryID

	ctxMu  sync.Mutex
	jobCtx context.Context // canceled when Start's context ends
}

// New validates the schedules and registers the jobs. exporter is needed
// only when ExportSchedule is set, archive only when ArchiveDays > 0.
func New(cfg Config, exporter Exporter, archive Pruner, metrics *Metrics, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PruneSchedule == "" {
		cfg.PruneSchedule = DefaultPruneSchedule
	}

	s := &Scheduler{
		cfg:      cfg,
		exporter: exporter,
		archive:  archive,
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "scheduler")),
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		now:      time.Now,
		jobCtx:   context.Background(),
	}
	s.cron = cron.New(
		cron.WithParser(s.parser),
		cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	if cfg.ExportSchedule != "" {
		if exporter == nil {
			return nil, errors.New("scheduler: export schedule set without an exporter")
		}
		id, err := s.add(cfg.ExportSchedule, func(ctx context.Context) { _, _ = s.RunExport(ctx) })
		if err != nil {
			return nil, fmt.Errorf("export schedule %q: %w", cfg.ExportSchedule, err)
		}
		s.exportID = id
	}
	if cfg.ArchiveDays > 0 && archive != nil {
		id, err := s.add(cfg.PruneSchedule, func(ctx context.Context) { _, _ = s.Prune(ctx) })
		if err != nil {
			return nil, fmt.Errorf("prune schedule %q: %w", cfg.PruneSchedule, err)
		}
		s.pruneID = id
	}
	return s, nil
}

type jobFunc func(ctx context.Context)

func (s *Scheduler) add(spec string, fn jobFunc) (cron.EntryID, error) {
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return 0, err
	}
	return s.cron.Schedule(sched, cron.FuncJob(func() { fn(s.jobContext()) })), nil
}

// Enabled reports whether any job is registered.
func (s *Scheduler) Enabled() bool {
	return len(s.cron.Entries()) > 0
}

// NextExport returns the next export time, or the zero time when periodic
// export is off or the scheduler is not running.
func (s *Scheduler) NextExport() time.Time {
	if s.exportID == 0 {
		return time.Time{}
	}
	return s.cron.Entry(s.exportID).Next
}

// Start runs the cron loop until ctx is canceled or the returned function
// is called. The stop function waits for running jobs.
func (s *Scheduler) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)
	s.setJobContext(ctx)
	s.cron.Start()

	s.logger.InfoContext(ctx, "scheduler started",
		slog.String("export_schedule", s.cfg.ExportSchedule),
		slog.Int("archive_days", s.cfg.ArchiveDays),
	)

	stopped := make(chan struct{})
	go func() {
		<-ctx.Done()
		<-s.cron.Stop().Done()
		s.logger.Info("scheduler stopped")
		close(stopped)
	}()

	return func() {
		cancel()
		<-stopped
	}
}

// RunExport performs one export and records the outcome.
func (s *Scheduler) RunExport(ctx context.Context) (string, error) {
	start := s.now()
	path, err := s.exporter.Export(ctx, s.cfg.ChartPath)
	s.metrics.observeExport(s.now().Sub(start), err)
	if err != nil {
		s.logger.ErrorContext(ctx, "scheduled export failed", slog.String("error", err.Error()))
		return "", err
	}
	s.logger.InfoContext(ctx, "scheduled export written", slog.String("path", path))
	return path, nil
}

// Prune deletes archived sessions older than ArchiveDays.
func (s *Scheduler) Prune(ctx context.Context) (int64, error) {
	if s.archive == nil || s.cfg.ArchiveDays <= 0 {
		return 0, nil
	}
	cutoff := s.now().AddDate(0, 0, -s.cfg.ArchiveDays)
	n, err := s.archive.DeleteBefore(ctx, cutoff)
	if err != nil {
		s.logger.WarnContext(ctx, "archive pruning failed", slog.String("error", err.Error()))
		return 0, fmt.Errorf("pruning archive: %w", err)
	}
	s.metrics.pruned(n)
	if n > 0 {
		s.logger.InfoContext(ctx, "archive pruned",
			slog.Int64("deleted", n),
			slog.Time("cutoff", cutoff),
		)
	}
	return n, nil
}

func (s *Scheduler) jobContext() context.Context {
	s.ctxMu.Lock()
	defer s.ctxMu.Unlock()
	return s.jobCtx
}

func (s *Scheduler) setJobContext(ctx context.Context) {
	s.ctxMu.Lock()
	s.jobCtx = ctx
	s.ctxMu.Unlock()
}
