package sandbox

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jkaninda/procward/internal/domain"
)

const (
	// maxStderrBytes caps stderr buffered while stdout drains.
	maxStderrBytes = 1 << 20 // 1 MB

	// maxLineBytes is the longest single output line accepted.
	maxLineBytes = 1 << 20
)

// Launcher runs shell command lines asynchronously in the sandbox
// directory. Launch failures are reported through the output callback
// and never returned to the caller.
//
// A run has no timeout: a child that never exits keeps its capture
// goroutine blocked until it is terminated externally or through Stop.
type Launcher struct {
	cfg     Config
	output  OutputFunc
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time

	dirOnce sync.Once
	dirErr  error

	mu      sync.Mutex
	current *exec.Cmd
	lastLog string
	wg      sync.WaitGroup
}

// NewLauncher creates a launcher. output may be nil.
func NewLauncher(cfg Config, output OutputFunc, metrics *Metrics, logger *slog.Logger) *Launcher {
	if cfg.Dir == "" {
		cfg.Dir = DefaultDir()
	}
	if cfg.LogDir == "" {
		cfg.LogDir = "reports"
	}
	if cfg.Shell == "" {
		cfg.Shell = defaultShell
	}
	if output == nil {
		output = func(string) {}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{
		cfg:     cfg,
		output:  output,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Dir returns the sandbox directory, creating it on first use.
func (l *Launcher) Dir() (string, error) {
	l.dirOnce.Do(func() {
		l.dirErr = os.MkdirAll(l.cfg.Dir, 0o755)
	})
	if l.dirErr != nil {
		return "", fmt.Errorf("creating sandbox dir %s: %w", l.cfg.Dir, l.dirErr)
	}
	return l.cfg.Dir, nil
}

// Run starts commandLine in the background and returns immediately.
func (l *Launcher) Run(commandLine string) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.capture(commandLine)
	}()
}

// Wait blocks until every started run has finished capturing output.
func (l *Launcher) Wait() {
	l.wg.Wait()
}

// CurrentPID returns the pid of the most recently started child, or 0
// when none is running.
func (l *Launcher) CurrentPID() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil || l.current.Process == nil {
		return 0
	}
	return l.current.Process.Pid
}

// LastLogPath returns the log file of the most recent run.
func (l *Launcher) LastLogPath() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastLog
}

// Stop terminates the running child and its process group. It returns
// domain.ErrNoProcess when nothing is running.
func (l *Launcher) Stop() error {
	l.mu.Lock()
	cmd := l.current
	l.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return domain.ErrNoProcess
	}
	if err := terminateGroup(cmd.Process); err != nil {
		return domain.MapOSError("stop", cmd.Process.Pid, err, domain.ErrNoProcess)
	}
	l.logger.Info("sandbox process stopped", slog.Int("pid", cmd.Process.Pid))
	return nil
}

func (l *Launcher) capture(commandLine string) {
	started := l.now()
	logger := l.logger.With(slog.String("command", commandLine))

	dir, err := l.Dir()
	if err != nil {
		l.fail(nil, logger, err)
		return
	}
	l.output(MarkerDir + " " + dir)

	if err := os.MkdirAll(l.cfg.LogDir, 0o755); err != nil {
		l.fail(nil, logger, fmt.Errorf("creating log dir: %w", err))
		return
	}
	logPath := filepath.Join(l.cfg.LogDir, LogFileName(started))
	logFile, err := os.Create(logPath)
	if err != nil {
		l.fail(nil, logger, fmt.Errorf("creating log file: %w", err))
		return
	}
	defer func() {
		if cerr := logFile.Close(); cerr != nil {
			logger.Warn("closing sandbox log", slog.String("error", cerr.Error()))
		}
	}()
	l.mu.Lock()
	l.lastLog = logPath
	l.mu.Unlock()

	emit := func(stream, line string) {
		// Unbuffered file writes reach the OS on every line.
		if _, err := io.WriteString(logFile, line+"\n"); err != nil {
			logger.Warn("writing sandbox log", slog.String("error", err.Error()))
		}
		l.metrics.line(stream)
		l.output(line)
	}

	cmd := exec.Command(l.cfg.Shell, shellArgs(commandLine)...)
	cmd.Dir = dir
	cmd.Env = l.buildEnv(dir)
	cmd.SysProcAttr = sysProcAttr()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		l.fail(logFile, logger, err)
		return
	}
	var stderr bytes.Buffer
	capped := &limitedWriter{w: &stderr, remaining: maxStderrBytes}
	cmd.Stderr = capped

	if err := cmd.Start(); err != nil {
		l.fail(logFile, logger, err)
		return
	}
	pid := cmd.Process.Pid
	l.mu.Lock()
	l.current = cmd
	l.mu.Unlock()
	l.metrics.run("started")
	logger.Info("sandbox process started", slog.Int("pid", pid), slog.String("dir", dir))
	l.output(MarkerLaunched + " " + strconv.Itoa(pid))

	lines := 0
	reader := bufio.NewReaderSize(stdout, 64*1024)
	for {
		line, dropped, err := readLine(reader, maxLineBytes)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Warn("reading stdout", slog.String("error", err.Error()))
				// Drain so the child never blocks on a full pipe.
				_, _ = io.Copy(io.Discard, stdout)
			}
			break
		}
		emit("stdout", line)
		lines++
		if dropped > 0 {
			emit("stdout", fmt.Sprintf("%s previous line cut at %d bytes, %d bytes dropped", MarkerTruncated, maxLineBytes, dropped))
		}
	}

	waitErr := cmd.Wait()

	for _, line := range splitLines(stderr.String()) {
		emit("stderr", StderrPrefix+line)
		lines++
	}
	if capped.dropped > 0 {
		emit("stderr", fmt.Sprintf("%s stderr capped at %d bytes, %d bytes dropped", MarkerTruncated, maxStderrBytes, capped.dropped))
	}

	l.mu.Lock()
	if l.current == cmd {
		l.current = nil
	}
	l.mu.Unlock()

	duration := l.now().Sub(started)
	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		l.metrics.run("exited")
		logger.Info("sandbox process exited", slog.Int("pid", pid), slog.Duration("duration", duration))
	case errors.As(waitErr, &exitErr) && lines > 0:
		l.metrics.run("exited")
		logger.Info("sandbox process exited",
			slog.Int("pid", pid),
			slog.Int("exit_code", exitErr.ExitCode()),
			slog.Duration("duration", duration),
		)
	default:
		// Crashed before producing any output.
		l.fail(logFile, logger, waitErr)
	}

	l.output(MarkerLogSaved + " " + logPath)
}

// fail reports a launch failure inline and, when a log is open, in the log.
func (l *Launcher) fail(logFile *os.File, logger *slog.Logger, err error) {
	err = fmt.Errorf("%w: %v", domain.ErrLaunch, err)
	line := MarkerError + " " + err.Error()
	if logFile != nil {
		_, _ = io.WriteString(logFile, line+"\n")
	}
	l.metrics.run("failed")
	logger.Error("sandbox launch failed", slog.String("error", err.Error()))
	l.output(line)
}

// buildEnv returns the child environment: the supervisor's own, or the
// minimal set when MinimalEnv is on. Extra variables come last and win.
func (l *Launcher) buildEnv(dir string) []string {
	env := os.Environ()
	if l.cfg.MinimalEnv {
		env = minimalEnv(dir)
	}
	for k, v := range l.cfg.Env {
		env = append(env, k+"="+v)
	}
	return env
}

// readLine returns the next line without its terminator. Bytes past limit
// are discarded and counted; the rest of the stream stays readable.
func readLine(r *bufio.Reader, limit int) (string, int, error) {
	var buf []byte
	dropped := 0
	for {
		chunk, more, err := r.ReadLine()
		if err != nil {
			if len(buf) > 0 || dropped > 0 {
				return string(buf), dropped, nil
			}
			return "", 0, err
		}
		if room := limit - len(buf); len(chunk) > room {
			dropped += len(chunk) - room
			chunk = chunk[:room]
		}
		buf = append(buf, chunk...)
		if !more {
			return string(buf), dropped, nil
		}
	}
}

func splitLines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}

// limitedWriter wraps a writer and stops writing after a byte limit.
// Excess data is counted in dropped, never returned as an error.
type limitedWriter struct {
	w         io.Writer
	remaining int
	dropped   int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.remaining <= 0 {
		lw.dropped += len(p)
		return len(p), nil
	}
	n := len(p)
	if n > lw.remaining {
		lw.dropped += n - lw.remaining
		p = p[:lw.remaining]
	}
	written, err := lw.w.Write(p)
	lw.remaining -= written
	if err != nil {
		return written, err
	}
	return n, nil
}
