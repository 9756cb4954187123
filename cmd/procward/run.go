package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jkaninda/procward/internal/config"
	"github.com/jkaninda/procward/internal/control"
	"github.com/jkaninda/procward/internal/gateway"
	"github.com/jkaninda/procward/internal/gateway/cli"
	"github.com/jkaninda/procward/internal/gateway/httpapi"
	"github.com/jkaninda/procward/internal/netgate"
	"github.com/jkaninda/procward/internal/observability"
	"github.com/jkaninda/procward/internal/ratelimit"
	"github.com/jkaninda/procward/internal/report"
	"github.com/jkaninda/procward/internal/sandbox"
	"github.com/jkaninda/procward/internal/scheduler"
	"github.com/jkaninda/procward/internal/session"
)

var (
	_ gateway.Gateway = (*cli.Gateway)(nil)
	_ gateway.Gateway = (*httpapi.Gateway)(nil)
)

// limiterIdle is how long a client bucket may sit unused before pruning.
const limiterIdle = 10 * time.Minute

var (
	listenAddr string
	noCLI      bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the supervisor (interactive console and optional HTTP API)",
	RunE:  runSupervisor,
}

func init() {
	// Register flags on both root and run so that
	// `procward --listen addr` and `procward run --listen addr` both work.
	for _, cmd := range []*cobra.Command{rootCmd, runCmd} {
		cmd.Flags().StringVar(&listenAddr, "listen", "", "enable the HTTP API on this address (e.g. 127.0.0.1:8090)")
		cmd.Flags().BoolVar(&noCLI, "no-cli", false, "disable the interactive console")
	}
}

// runSupervisor builds one session and serves it until a signal arrives or
// a gateway exits.
func runSupervisor(_ *cobra.Command, _ []string) error {
	logger := newLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Apply CLI overrides.
	if listenAddr != "" {
		if cfg.Gateways.HTTP == nil {
			cfg.Gateways.HTTP = &config.HTTPGatewayConfig{}
		}
		cfg.Gateways.HTTP.Enabled = true
		cfg.Gateways.HTTP.ListenAddr = listenAddr
	}
	if noCLI && cfg.Gateways.CLI != nil {
		cfg.Gateways.CLI.Enabled = false
	}

	sc, err := initShared(cfg, logger, true)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	sess, err := buildSession(sc)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sess.Start(ctx)
	addSessionChecks(sc, sess)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sess.Close(closeCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("closing session", slog.String("error", err.Error()))
		}
	}()

	sched, err := scheduler.New(scheduler.Config{
		ExportSchedule: cfg.Report.Schedule,
		ChartPath:      chartPath(sc),
		ArchiveDays:    cfg.Report.ArchiveDays,
	}, sess, sc.Archive(), scheduler.NewMetrics(registry(sc)), logger)
	if err != nil {
		return fmt.Errorf("initializing scheduler: %w", err)
	}
	if sched.Enabled() {
		stopScheduler := sched.Start(ctx)
		defer stopScheduler()
	}

	gateways := buildGateways(ctx, sc, sess)
	if len(gateways) == 0 {
		return fmt.Errorf("no gateways enabled in config")
	}
	logger.Info("supervisor started",
		slog.String("session", sess.ID().String()),
		slog.Int("gateways", len(gateways)),
		slog.Bool("network_blocked", sess.NetworkBlocked()),
	)

	errs := make(chan error, len(gateways))
	for _, gw := range gateways {
		go func(g gateway.Gateway) {
			errs <- g.Start(ctx)
		}(gw)
	}

	// Wait for signal or the first gateway to return.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := len(gateways) - 1; i >= 0; i-- {
		if err := gateways[i].Stop(shutdownCtx); err != nil {
			logger.Error("stopping gateway", slog.String("error", err.Error()))
		}
	}
	return nil
}

// buildSession wires the reporter, network gate, notifier and control
// instrumentation into a new session.
func buildSession(sc *SharedComponents) (*session.Session, error) {
	cfg := sc.Config
	reg := registry(sc)

	reportsDir := cfg.Report.Dir
	if reportsDir == "" {
		reportsDir = sc.Workspace.ReportsDir()
	}
	reporter, err := report.New(cfg.Report.OutputFormat(), report.Options{
		OutputDir:    reportsDir,
		LinesPerPage: cfg.Report.LinesPerPage,
		MaxPages:     cfg.Report.MaxPages,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing report generator: %w", err)
	}

	var (
		wrap    func(control.Controller) control.Controller
		observe func(kind string, err error)
	)
	if obs := sc.Obs; obs != nil {
		reporter = observability.NewInstrumentedReporter(reporter, obs.Metrics, obs.Tracer, obs.Anomaly)
		wrap = func(inner control.Controller) control.Controller {
			return observability.NewInstrumentedController(inner, obs.Metrics, obs.Tracer, obs.Anomaly)
		}
		if obs.Anomaly != nil {
			observe = func(kind string, err error) {
				if err != nil {
					obs.Anomaly.RecordError("sample_" + kind)
					return
				}
				obs.Anomaly.RecordSuccess("sample_" + kind)
			}
		}
	}

	gate := netgate.New(cfg.Network.InitiallyBlocked(), sc.Logger).WithMetrics(reg)

	notifier := initNotifier(cfg, gate.Client(cfg.Notification.Timeout()), sc.Logger)

	priority, err := cfg.Control.Priority()
	if err != nil {
		return nil, err
	}

	sess, err := session.New(session.Options{
		Sandbox: sandbox.Config{
			Dir:        sc.Workspace.SandboxDir(),
			LogDir:     reportsDir,
			Shell:      cfg.Sandbox.Shell,
			MinimalEnv: cfg.Sandbox.MinimalEnv,
			Env:        cfg.Sandbox.Env,
		},
		PollInterval:    cfg.Poller.Interval(),
		ProcessWindow:   cfg.Poller.ProcessWindow(),
		HistorySize:     cfg.Poller.History(),
		TranscriptLimit: cfg.Session.TranscriptLimit,
		DefaultPriority: &priority,
		ChartPath:       chartPath(sc),
		AutoAttach:      cfg.Session.AutoAttach,
	}, session.Deps{
		Gate:           gate,
		Reporter:       reporter,
		Archive:        sc.Archive(),
		Notifier:       notifier,
		Registry:       reg,
		Logger:         sc.Logger,
		WrapController: wrap,
		ObserveSample:  observe,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing session: %w", err)
	}
	return sess, nil
}

// addSessionChecks registers readiness checks for the sampling loop.
func addSessionChecks(sc *SharedComponents, sess *session.Session) {
	obs := sc.Obs
	if obs == nil {
		return
	}
	obs.Health.AddCheck("poller", func(context.Context) error {
		if !sess.Status().PollerRunning {
			return errors.New("poller is not running")
		}
		return nil
	})
	if obs.Anomaly != nil {
		obs.Health.AddCheck("sampling", func(context.Context) error {
			if slices.Contains(obs.Anomaly.Anomalous(), "sample_system") {
				return errors.New("system sampling is failing")
			}
			return nil
		})
	}
}

func buildGateways(ctx context.Context, sc *SharedComponents, sess *session.Session) []gateway.Gateway {
	var gws []gateway.Gateway
	gwCfg := sc.Config.Gateways

	if gwCfg.CLI != nil && gwCfg.CLI.Enabled {
		gws = append(gws, cli.NewGateway(sess, os.Stdin, os.Stdout, true, sc.Logger))
		sc.Logger.Debug("gateway enabled", slog.String("type", "cli"))
	}

	if gwCfg.HTTP != nil && gwCfg.HTTP.Enabled {
		limiter := ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: gwCfg.HTTP.RateLimit.RequestsPerMinute,
			BurstSize:         gwCfg.HTTP.RateLimit.BurstSize,
		})
		go pruneLimiter(ctx, limiter)

		httpCfg := httpapi.Config{
			ListenAddr:     gwCfg.HTTP.Addr(),
			EnableDocs:     gwCfg.HTTP.EnableDocs,
			APIKey:         gwCfg.HTTP.APIKey,
			MaxRequestSize: gwCfg.HTTP.MaxRequestSizeBytes,
			EventBuffer:    gwCfg.HTTP.EventBuffer,
		}
		if obs := sc.Obs; obs != nil {
			httpCfg.Metrics = obs.Metrics
			httpCfg.HealthChecker = obs.Health
			httpCfg.MetricsRegistry = obs.Metrics.RegistryOrNil()
			if ts := obs.TracerOrNil(); ts != nil {
				httpCfg.Tracer = ts.Tracer()
			}
			if m := sc.Config.Observability.Metrics; m != nil {
				httpCfg.MetricsPath = m.MetricsPath()
			}
		}
		if httpCfg.APIKey == "" {
			sc.Logger.Warn("http api has no api key; keep it on a loopback address",
				slog.String("addr", httpCfg.ListenAddr))
		}
		gws = append(gws, httpapi.NewGateway(httpCfg, sess, sc.Archive(), limiter, sc.Logger))
		sc.Logger.Debug("gateway enabled",
			slog.String("type", "http"),
			slog.String("addr", httpCfg.ListenAddr),
			slog.Bool("archive", sc.Store != nil),
		)
	}
	return gws
}

func pruneLimiter(ctx context.Context, l *ratelimit.Limiter) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Prune(limiterIdle)
		}
	}
}

func registry(sc *SharedComponents) *prometheus.Registry {
	if sc.Obs == nil {
		return nil
	}
	return sc.Obs.Metrics.RegistryOrNil()
}

func chartPath(sc *SharedComponents) string {
	if p := sc.Config.Report.ChartPath; p != "" {
		return p
	}
	return sc.Workspace.ChartPath()
}
