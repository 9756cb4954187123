package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jkaninda/procward/internal/domain"
	"github.com/jkaninda/procward/internal/netgate"
	"github.com/jkaninda/procward/internal/report"
	"github.com/jkaninda/procward/internal/sandbox"
	"github.com/jkaninda/procward/internal/session"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newConsole(t *testing.T, in string) (*Gateway, *session.Session, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	gen, err := report.New("markdown", report.Options{OutputDir: filepath.Join(dir, "reports")})
	if err != nil {
		t.Fatalf("report.New: %v", err)
	}
	sess, err := session.New(session.Options{
		Sandbox:       sandbox.Config{Dir: filepath.Join(dir, "sandbox_env"), LogDir: filepath.Join(dir, "reports")},
		PollInterval:  50 * time.Millisecond,
		ProcessWindow: 20 * time.Millisecond,
	}, session.Deps{
		Reporter: gen,
		Gate:     netgate.New(true, quietLogger()),
		Logger:   quietLogger(),
	})
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close(context.Background()) })

	out := &bytes.Buffer{}
	return NewGateway(sess, strings.NewReader(in), out, false, quietLogger()), sess, out
}

func startSleeper(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start sleep: %v", err)
	}
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})
	return cmd.Process.Pid
}

func TestStartRunsScript(t *testing.T) {
	g, _, out := newConsole(t, "cores\nexit\nstatus\n")
	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "logical cores") {
		t.Errorf("missing cores output:\n%s", got)
	}
	if !strings.Contains(got, "Goodbye.") {
		t.Errorf("exit should print Goodbye:\n%s", got)
	}
	if strings.Contains(got, "Session") {
		t.Errorf("commands after exit must not run:\n%s", got)
	}
}

func TestStartEndsOnEOF(t *testing.T) {
	g, _, _ := newConsole(t, "help\n")
	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func TestUsageErrors(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"attach", "usage: attach <pid>"},
		{"attach abc", "usage: attach <pid>"},
		{"priority turbo", "usage: priority <Idle"},
		{"affinity x", "usage: affinity <cores>"},
		{"run", "usage: run"},
		{"frobnicate", `unknown command "frobnicate"`},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			g, _, out := newConsole(t, "")
			if g.Execute(context.Background(), tt.line) {
				t.Fatal("should not exit")
			}
			if !strings.Contains(out.String(), tt.want) {
				t.Errorf("output = %q, want substring %q", out.String(), tt.want)
			}
		})
	}
}

func TestControlWithoutProcess(t *testing.T) {
	for _, line := range []string{"detach", "kill", "priority normal"} {
		t.Run(line, func(t *testing.T) {
			g, _, out := newConsole(t, "")
			g.Execute(context.Background(), line)
			if !strings.Contains(out.String(), "Error: no process attached") {
				t.Errorf("output = %q", out.String())
			}
		})
	}
}

func TestAttachPriorityStatus(t *testing.T) {
	pid := startSleeper(t)
	g, sess, out := newConsole(t, "")
	ctx := context.Background()

	g.Execute(ctx, "attach "+strconv.Itoa(pid))
	if !strings.Contains(out.String(), "Attached to PID "+strconv.Itoa(pid)) {
		t.Fatalf("attach output = %q", out.String())
	}

	g.Execute(ctx, "priority idle")
	if got := sess.Status().Priority; got != domain.PriorityIdle {
		t.Errorf("priority = %s, want Idle", got)
	}

	out.Reset()
	g.Execute(ctx, "status")
	for _, want := range []string{"PID " + strconv.Itoa(pid) + " (sleep)", "Idle", "Blocked"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("status missing %q:\n%s", want, out.String())
		}
	}

	g.Execute(ctx, "detach")
	if sess.Status().Process.PID != 0 {
		t.Error("detach should empty the slot")
	}
}

func TestNetToggle(t *testing.T) {
	g, sess, out := newConsole(t, "")
	g.Execute(context.Background(), "net")
	if sess.NetworkBlocked() {
		t.Fatal("gate should be open after one toggle")
	}
	if !strings.Contains(out.String(), "Network Allowed") {
		t.Errorf("output = %q", out.String())
	}
}

func TestExport(t *testing.T) {
	g, sess, out := newConsole(t, "")
	g.Execute(context.Background(), "export")
	if !strings.Contains(out.String(), "Report saved to ") {
		t.Fatalf("output = %q", out.String())
	}
	if sess.Status().ReportPath == "" {
		t.Error("status should carry the report path")
	}
}

func TestHistoryEmpty(t *testing.T) {
	g, _, out := newConsole(t, "")
	g.Execute(context.Background(), "history")
	if !strings.Contains(out.String(), "no samples yet") {
		t.Errorf("output = %q", out.String())
	}
}

func TestTail(t *testing.T) {
	if got := tail([]int{1, 2, 3, 4}, 2); len(got) != 2 || got[0] != 3 {
		t.Errorf("tail = %v", got)
	}
	if got := tail([]int{1}, 5); len(got) != 1 {
		t.Errorf("tail = %v", got)
	}
}
