package control

import (
	"context"
	"errors"
	"os/exec"
	"slices"
	"testing"

	"github.com/jkaninda/procward/internal/domain"
	"github.com/jkaninda/procward/internal/process"
)

type slotSource struct{ h *process.Handle }

func (s slotSource) Current() *process.Handle { return s.h }

func attachSleeper(t *testing.T) (*process.Handle, *exec.Cmd) {
	t.Helper()
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start sleep: %v", err)
	}
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})
	insp, err := process.NewInspector(quietLogger())
	if err != nil {
		t.Fatalf("NewInspector: %v", err)
	}
	h, err := insp.Attach(cmd.Process.Pid)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	return h, cmd
}

func TestSetPriorityAllLevels(t *testing.T) {
	h, _ := attachSleeper(t)
	p := NewPolicy(slotSource{h}, quietLogger())
	ctx := context.Background()

	// Unprivileged callers may only lower favor, so walk from Normal down
	// and then try the favored levels, which need CAP_SYS_NICE.
	order := []domain.PriorityLevel{
		domain.PriorityNormal,
		domain.PriorityBelowNormal,
		domain.PriorityIdle,
		domain.PriorityAboveNormal,
		domain.PriorityHigh,
		domain.PriorityRealtime,
	}
	for _, level := range order {
		err := p.SetPriority(ctx, level)
		if errors.Is(err, domain.ErrPermission) {
			t.Logf("SetPriority(%s): %v (unprivileged)", level, err)
			continue
		}
		if err != nil {
			t.Fatalf("SetPriority(%s): %v", level, err)
		}
		got, nice, err := p.Priority(ctx)
		if err != nil {
			t.Fatalf("Priority: %v", err)
		}
		want, _ := PlatformPOSIX.Mechanism(level)
		if got != level || nice != want {
			t.Errorf("after SetPriority(%s): level %s nice %d, want nice %d", level, got, nice, want)
		}
	}
}

func TestSetPriorityInvalidLevel(t *testing.T) {
	h, _ := attachSleeper(t)
	p := NewPolicy(slotSource{h}, quietLogger())
	if err := p.SetPriority(context.Background(), domain.PriorityLevel(-1)); !errors.Is(err, domain.ErrUnsupportedValue) {
		t.Errorf("SetPriority(-1) = %v, want ErrUnsupportedValue", err)
	}
}

func TestSetAffinity(t *testing.T) {
	h, _ := attachSleeper(t)
	p := NewPolicy(slotSource{h}, quietLogger())
	ctx := context.Background()

	before, err := p.Affinity(ctx)
	if err != nil {
		t.Fatalf("Affinity: %v", err)
	}
	if len(before) == 0 {
		t.Fatal("initial affinity is empty")
	}

	if err := p.SetAffinity(ctx, domain.AffinityMask{}); !errors.Is(err, domain.ErrUnsupportedValue) {
		t.Fatalf("empty mask error = %v, want ErrUnsupportedValue", err)
	}
	after, err := p.Affinity(ctx)
	if err != nil || !slices.Equal(before, after) {
		t.Fatalf("affinity after empty set = %s, %v; want %s", after, err, before)
	}

	one := domain.NewAffinityMask(before[0])
	if err := p.SetAffinity(ctx, one); err != nil {
		t.Fatalf("SetAffinity(%s): %v", one, err)
	}
	got, err := p.Affinity(ctx)
	if err != nil || !slices.Equal(got, one) {
		t.Errorf("Affinity = %s, %v; want %s", got, err, one)
	}

	if err := p.SetAffinity(ctx, domain.NewAffinityMask(p.Cores())); !errors.Is(err, domain.ErrUnsupportedValue) {
		t.Errorf("out-of-range core error = %v, want ErrUnsupportedValue", err)
	}
}

func TestControlAfterExit(t *testing.T) {
	h, cmd := attachSleeper(t)
	p := NewPolicy(slotSource{h}, quietLogger())
	_ = cmd.Process.Kill()
	_ = cmd.Wait()

	err := p.SetPriority(context.Background(), domain.PriorityIdle)
	if !errors.Is(err, domain.ErrNoProcess) {
		t.Fatalf("SetPriority after exit = %v, want ErrNoProcess", err)
	}
	if h.Living() {
		t.Error("handle should be downgraded after the process vanished")
	}
}

func TestTerminate(t *testing.T) {
	h, cmd := attachSleeper(t)
	p := NewPolicy(slotSource{h}, quietLogger())
	ctx := context.Background()

	if err := p.Terminate(ctx); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	_ = cmd.Wait()
	if h.State() != process.StateTerminated {
		t.Errorf("state = %s, want terminated", h.State())
	}
	if err := p.Terminate(ctx); !errors.Is(err, domain.ErrNoProcess) {
		t.Errorf("second Terminate = %v, want ErrNoProcess", err)
	}
}

type countingControl struct {
	nativeControl
	setAffinityCalls int
}

func (c *countingControl) setAffinity(pid int, cores domain.AffinityMask) error {
	c.setAffinityCalls++
	return c.nativeControl.setAffinity(pid, cores)
}

func TestEmptyAffinityNeverReachesOS(t *testing.T) {
	h, _ := attachSleeper(t)
	p := NewPolicy(slotSource{h}, quietLogger())
	counter := &countingControl{}
	p.os = counter

	for _, mask := range []domain.AffinityMask{nil, {}} {
		if err := p.SetAffinity(context.Background(), mask); !errors.Is(err, domain.ErrUnsupportedValue) {
			t.Errorf("SetAffinity(%v) = %v, want ErrUnsupportedValue", mask, err)
		}
	}
	if counter.setAffinityCalls != 0 {
		t.Errorf("setaffinity reached the OS %d times", counter.setAffinityCalls)
	}
}
