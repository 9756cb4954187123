// Package monitor implements the resource polling loop and its bounded
// sample histories.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jkaninda/procward/internal/domain"
	"github.com/jkaninda/procward/internal/process"
)

// DefaultInterval is the time between poll ticks.
const DefaultInterval = time.Second

// Sink receives samples in the order they are produced.
type Sink interface {
	SystemSample(domain.SystemSample)
	ProcessSample(domain.ProcessSample)
}

// HandleSource yields the currently attached handle, or nil.
type HandleSource interface {
	Current() *process.Handle
}

// PollerConfig configures the poller cadence.
type PollerConfig struct {
	Interval time.Duration

	// Observe, when set, is told the outcome of every system and process
	// sample. err is nil on success.
	Observe func(kind string, err error)
}

// Poller runs one system sample per tick and, while a handle is attached,
// one process sample. Sampling faults become zero samples; the loop never
// exits because of them.
type Poller struct {
	interval time.Duration
	observe  func(kind string, err error)
	system   *SystemSampler
	proc     *ProcessSampler
	handles  HandleSource
	sink     Sink
	metrics  *Metrics
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	gen     uint64
	done    chan struct{}
}

// NewPoller creates a stopped poller.
func NewPoller(
	cfg PollerConfig,
	system *SystemSampler,
	proc *ProcessSampler,
	handles HandleSource,
	sink Sink,
	metrics *Metrics,
	logger *slog.Logger,
) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	done := make(chan struct{})
	close(done)
	return &Poller{
		interval: interval,
		observe:  cfg.Observe,
		system:   system,
		proc:     proc,
		handles:  handles,
		sink:     sink,
		metrics:  metrics,
		logger:   logger,
		done:     done,
	}
}

// Start launches the loop in the background. It returns false and does
// nothing when the poller is already running.
func (p *Poller) Start(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return false
	}
	p.running = true
	p.gen++
	p.done = make(chan struct{})
	go p.run(ctx, p.gen, p.done)

	p.logger.Info("poller started", slog.Duration("interval", p.interval))
	return true
}

// Stop asks the loop to exit. The loop observes the request at its next
// iteration boundary, so it may run for up to one more interval.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	p.logger.Info("poller stopping")
}

// Running reports whether the loop has been started and not stopped.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Done is closed once the most recently started loop has exited.
func (p *Poller) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

func (p *Poller) active(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running && p.gen == gen
}

func (p *Poller) run(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			if p.gen == gen {
				p.running = false
			}
			p.mu.Unlock()
			return
		case <-timer.C:
		}
		if !p.active(gen) {
			return
		}
		p.Tick(ctx)
		timer.Reset(p.interval)
	}
}

// Tick performs one poll iteration synchronously.
func (p *Poller) Tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.fault("tick", fmt.Errorf("panic: %v", r))
		}
		if p.metrics != nil {
			p.metrics.Ticks.Inc()
			p.metrics.TickDuration.Observe(time.Since(start).Seconds())
		}
	}()

	sys, err := p.system.Sample()
	p.report("system", err)
	if err != nil {
		p.fault("system", err)
		sys = domain.SystemSample{Time: sys.Time}
	}
	p.metrics.observeSystem(sys)
	p.sink.SystemSample(sys)

	// The handle may be swapped or cleared while this tick runs; sample the
	// value read here and never touch the slot again.
	h := p.handles.Current()
	if h == nil {
		return
	}
	ps, err := p.proc.Sample(ctx, h)
	p.report("process", err)
	if err != nil {
		p.fault("process", err)
		ps = domain.ZeroProcessSample(h.PID(), time.Now())
	}
	p.metrics.observeProcess(ps)
	p.sink.ProcessSample(ps)
}

func (p *Poller) report(kind string, err error) {
	if p.observe != nil {
		p.observe(kind, err)
	}
}

func (p *Poller) fault(kind string, err error) {
	p.logger.Debug("sampling fault", slog.String("kind", kind), slog.String("error", err.Error()))
	if p.metrics != nil {
		p.metrics.SampleFaults.WithLabelValues(kind).Inc()
	}
}
