// Package cli implements the interactive supervisor console.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/jkaninda/procward/internal/domain"
	"github.com/jkaninda/procward/internal/session"
)

const prompt = "procward> "

// historyRows is how many recent samples the history command prints.
const historyRows = 10

// Gateway is the interactive command-line interface over one session.
type Gateway struct {
	sess   *session.Session
	in     io.Reader
	out    io.Writer
	outMu  sync.Mutex
	echo   bool
	logger *slog.Logger
	done   chan struct{} // closed by Stop to signal shutdown
	once   sync.Once
}

// NewGateway creates a console reading commands from in and writing to out.
// When echo is set, transcript lines are printed as they are produced.
func NewGateway(sess *session.Session, in io.Reader, out io.Writer, echo bool, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		sess:   sess,
		in:     in,
		out:    out,
		echo:   echo,
		logger: logger.With(slog.String("gateway", "cli")),
		done:   make(chan struct{}),
	}
}

// Start runs the REPL. Blocks until ctx is cancelled, Stop is called,
// input ends, or the user types "exit".
func (g *Gateway) Start(ctx context.Context) error {
	if g.echo {
		unsubscribe := g.sess.Register(session.Callbacks{
			OnOutputLine: func(line string) { g.println(line) },
		}, 256)
		defer unsubscribe()
	}

	scanner := bufio.NewScanner(g.in)

	g.println("procward: process sandbox supervisor")
	g.println(`Type "help" for commands, "exit" to quit.`)

	for {
		g.print(prompt)

		select {
		case <-ctx.Done():
			g.println("\nShutting down.")
			return nil
		case <-g.done:
			g.println("\nShutting down.")
			return nil
		default:
		}

		if !scanner.Scan() {
			break
		}
		if quit := g.Execute(ctx, scanner.Text()); quit {
			g.println("Goodbye.")
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	return nil
}

// Stop signals the REPL to shut down.
func (g *Gateway) Stop(_ context.Context) error {
	g.once.Do(func() { close(g.done) })
	return nil
}

// Execute runs one command line and reports whether the console should exit.
func (g *Gateway) Execute(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	g.logger.DebugContext(ctx, "cli command", slog.String("command", cmd))

	switch strings.ToLower(cmd) {
	case "exit", "quit":
		return true
	case "help", "?":
		g.help()
	case "run":
		if arg == "" {
			g.println("usage: run <command line>")
			return false
		}
		g.sess.Launch(arg)
	case "attach":
		pid, err := strconv.Atoi(arg)
		if err != nil || pid <= 0 {
			g.println("usage: attach <pid>")
			return false
		}
		if info, err := g.sess.Attach(pid); err != nil {
			g.failure("attach", err)
		} else if !g.echo {
			g.printf("Attached to PID %d (%s)\n", info.PID, info.Name)
		}
	case "detach":
		g.report("detach", g.sess.Detach())
	case "priority":
		level, err := domain.ParsePriority(arg)
		if err != nil {
			g.printf("usage: priority <%s>\n", priorityNames())
			return false
		}
		g.report("priority", g.sess.SetPriority(ctx, level))
	case "affinity":
		mask, err := domain.ParseAffinity(arg)
		if err != nil {
			g.printf("usage: affinity <cores>, e.g. 0,2 or 0-%d (%v)\n", g.sess.Cores()-1, err)
			return false
		}
		g.report("affinity", g.sess.SetAffinity(ctx, mask))
	case "kill":
		g.report("kill", g.sess.Terminate(ctx))
	case "stop":
		g.report("stop", g.sess.StopLaunched())
	case "net", "network":
		blocked := g.sess.ToggleNetwork()
		if !g.echo {
			g.printf("Network %s\n", networkLabel(blocked))
		}
	case "export":
		path, err := g.sess.Export(ctx, arg)
		if err != nil {
			g.failure("export", err)
		} else if !g.echo {
			g.printf("Report saved to %s\n", path)
		}
	case "status":
		g.status()
	case "cores":
		g.printf("%d logical cores (0-%d)\n", g.sess.Cores(), g.sess.Cores()-1)
	case "history":
		g.history()
	default:
		g.printf("unknown command %q, type \"help\"\n", cmd)
	}
	return false
}

func (g *Gateway) help() {
	g.outMu.Lock()
	defer g.outMu.Unlock()
	tw := tabwriter.NewWriter(g.out, 0, 4, 2, ' ', 0)
	for _, row := range [][2]string{
		{"run <cmd>", "launch a command in the sandbox directory"},
		{"attach <pid>", "supervise an existing process"},
		{"detach", "stop supervising without touching the process"},
		{"priority <level>", priorityNames()},
		{"affinity <cores>", "pin to cores, e.g. 0,2 or 0-3"},
		{"kill", "terminate the attached process"},
		{"stop", "stop the launched command"},
		{"net", "toggle outbound network access"},
		{"export [chart]", "write the session report"},
		{"status", "show the session state"},
		{"cores", "show the logical core count"},
		{"history", "show recent samples"},
		{"exit", "quit"},
	} {
		fmt.Fprintf(tw, "  %s\t%s\n", row[0], row[1])
	}
	_ = tw.Flush()
}

func (g *Gateway) status() {
	st := g.sess.Status()

	g.outMu.Lock()
	defer g.outMu.Unlock()
	tw := tabwriter.NewWriter(g.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Session\t%s\n", st.ID)
	if st.Process.PID > 0 {
		fmt.Fprintf(tw, "Process\tPID %d (%s) %s\n", st.Process.PID, st.Process.Name, st.State)
	} else {
		fmt.Fprintf(tw, "Process\tnone\n")
	}
	if st.Command != "" {
		fmt.Fprintf(tw, "Command\t%s\n", st.Command)
	}
	fmt.Fprintf(tw, "Priority\t%s\n", st.Priority)
	fmt.Fprintf(tw, "Affinity\t%s\n", st.Affinity)
	fmt.Fprintf(tw, "Network\t%s\n", networkLabel(st.NetworkBlocked))
	fmt.Fprintf(tw, "Platform\t%s, %d cores\n", st.Platform, st.Cores)
	if st.LastSystem != nil {
		fmt.Fprintf(tw, "System\tCPU %.1f%%  Mem %.1f%%\n", st.LastSystem.CPUPercent, st.LastSystem.MemPercent)
	}
	if st.LastProcess != nil && st.LastProcess.Living {
		p := st.LastProcess
		fmt.Fprintf(tw, "Usage\tCPU %.1f%%  Mem %.1f%%  RSS %d KB\n", p.CPUPercent, p.MemPercent, p.RSSKilobytes())
	}
	if st.LastLogPath != "" {
		fmt.Fprintf(tw, "Log\t%s\n", st.LastLogPath)
	}
	if st.ReportPath != "" {
		fmt.Fprintf(tw, "Report\t%s\n", st.ReportPath)
	}
	_ = tw.Flush()
}

func (g *Gateway) history() {
	sys := tail(g.sess.SystemHistory(), historyRows)
	proc := tail(g.sess.ProcessHistory(), historyRows)
	if len(sys) == 0 && len(proc) == 0 {
		g.println("no samples yet")
		return
	}

	g.outMu.Lock()
	defer g.outMu.Unlock()
	tw := tabwriter.NewWriter(g.out, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "TIME\tSYS CPU%\tSYS MEM%\tPROC CPU%\tPROC MEM%\tRSS KB\t")
	for i, s := range sys {
		row := fmt.Sprintf("%s\t%.1f\t%.1f\t", s.Time.Format("15:04:05"), s.CPUPercent, s.MemPercent)
		// Process history restarts on attach, so align it to the newest rows.
		if j := i - (len(sys) - len(proc)); j >= 0 && j < len(proc) && proc[j].Living {
			p := proc[j]
			row += fmt.Sprintf("%.1f\t%.1f\t%d\t", p.CPUPercent, p.MemPercent, p.RSSKilobytes())
		} else {
			row += "-\t-\t-\t"
		}
		fmt.Fprintln(tw, row)
	}
	_ = tw.Flush()
}

// report prints control failures that echo would not already show.
func (g *Gateway) report(op string, err error) {
	if err != nil {
		g.failure(op, err)
	}
}

func (g *Gateway) failure(op string, err error) {
	g.logger.Debug("cli command failed", slog.String("command", op), slog.String("error", err.Error()))
	if g.echo {
		return
	}
	switch {
	case errors.Is(err, domain.ErrNoProcess):
		g.println("Error: no process attached")
	default:
		g.printf("Error: %s: %v\n", op, err)
	}
}

func (g *Gateway) print(s string) {
	g.outMu.Lock()
	defer g.outMu.Unlock()
	_, _ = io.WriteString(g.out, s)
}

func (g *Gateway) println(s string) {
	g.print(s + "\n")
}

func (g *Gateway) printf(format string, args ...any) {
	g.print(fmt.Sprintf(format, args...))
}

func networkLabel(blocked bool) string {
	if blocked {
		return "Blocked"
	}
	return "Allowed"
}

func priorityNames() string {
	levels := domain.PriorityLevels()
	names := make([]string, len(levels))
	for i, l := range levels {
		names[i] = l.String()
	}
	return strings.Join(names, " | ")
}

func tail[T any](s []T, n int) []T {
	if len(s) > n {
		return s[len(s)-n:]
	}
	return s
}
