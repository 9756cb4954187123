package process

import (
	"errors"
	"math"
	"testing"

	"github.com/jkaninda/procward/internal/domain"
)

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateUnattached: "unattached",
		StateAttaching:  "attaching",
		StateAttached:   "attached",
		StateTerminated: "terminated",
		StateDetached:   "detached",
		State(99):       "State(99)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int32(s), got, want)
		}
	}
}

func TestNilHandle(t *testing.T) {
	var h *Handle
	if h.Living() || h.PID() != 0 || h.Name() != "" {
		t.Fatal("nil handle should report zero values")
	}
	if h.State() != StateUnattached {
		t.Errorf("nil handle state = %v", h.State())
	}
	if err := h.Terminate(); !errors.Is(err, domain.ErrNoProcess) {
		t.Errorf("Terminate on nil handle = %v, want ErrNoProcess", err)
	}
	if h.MarkTerminated() || h.MarkDetached() {
		t.Error("nil handle transitions should be no-ops")
	}
}

func TestHandleTransitions(t *testing.T) {
	h := newHandle(42)
	if h.State() != StateAttaching {
		t.Fatalf("new handle state = %v, want attaching", h.State())
	}
	if h.MarkTerminated() {
		t.Fatal("attaching handle must not jump to terminated")
	}
	h.state.Store(int32(StateAttached))
	if !h.MarkDetached() {
		t.Fatal("MarkDetached on attached handle failed")
	}
	if h.MarkTerminated() {
		t.Error("detached handle must stay detached")
	}
	if h.Living() {
		t.Error("detached handle reported living")
	}
}

func TestSlotSwap(t *testing.T) {
	var s Slot
	if s.State() != StateUnattached || s.Current() != nil {
		t.Fatal("empty slot should be unattached")
	}

	a := newHandle(1)
	a.state.Store(int32(StateAttached))
	if prev := s.Swap(a); prev != nil {
		t.Fatalf("first swap returned %v", prev)
	}
	if s.State() != StateAttached {
		t.Errorf("slot state = %v, want attached", s.State())
	}

	b := newHandle(2)
	if prev := s.Swap(b); prev != a {
		t.Fatal("swap should return previous handle")
	}
	if s.Release(a) {
		t.Error("Release(a) must not clear a slot holding b")
	}
	if !s.Release(b) || s.Current() != nil {
		t.Error("Release(b) should clear the slot")
	}
}

func TestParseCPUTime(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"0:00.01", 0.01},
		{"00:01:02", 62},
		{"1:02:03", 3723},
		{"2-00:00:05", 2*86400 + 5},
		{"12:30.50", 750.5},
	}
	for _, tt := range tests {
		got, err := parseCPUTime(tt.in)
		if err != nil {
			t.Errorf("parseCPUTime(%q): %v", tt.in, err)
			continue
		}
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("parseCPUTime(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	for _, bad := range []string{"", "5", "a:b", "1:2:3:4", "x-00:01"} {
		if _, err := parseCPUTime(bad); err == nil {
			t.Errorf("parseCPUTime(%q) should fail", bad)
		}
	}
}

func TestParsePS(t *testing.T) {
	cpu, rss, name, err := parsePS("  0:01.50  2048 /usr/local/bin/my tool")
	if err != nil {
		t.Fatalf("parsePS: %v", err)
	}
	if cpu != 1.5 || rss != 2048 || name != "my tool" {
		t.Errorf("parsePS = %v, %d, %q", cpu, rss, name)
	}
	if _, _, _, err := parsePS("0:01 12"); err == nil {
		t.Error("short line should fail")
	}
}
