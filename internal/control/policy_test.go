package control

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/jkaninda/procward/internal/domain"
	"github.com/jkaninda/procward/internal/process"
)

type nilSource struct{}

func (nilSource) Current() *process.Handle { return nil }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMechanismTablesAreTotal(t *testing.T) {
	for _, platform := range []Platform{PlatformPOSIX, PlatformWindows} {
		seen := map[int]bool{}
		for _, level := range domain.PriorityLevels() {
			v, err := platform.Mechanism(level)
			if err != nil {
				t.Fatalf("%s: Mechanism(%s): %v", platform, level, err)
			}
			if seen[v] {
				t.Errorf("%s: value %d mapped twice", platform, v)
			}
			seen[v] = true

			back, err := platform.Level(v)
			if err != nil || back != level {
				t.Errorf("%s: Level(%d) = %s, %v; want %s", platform, v, back, err, level)
			}
		}
	}
}

func TestMechanismRejectsInvalidLevel(t *testing.T) {
	if _, err := PlatformPOSIX.Mechanism(domain.PriorityLevel(17)); !errors.Is(err, domain.ErrUnsupportedValue) {
		t.Errorf("Mechanism(17) error = %v", err)
	}
	if _, err := Platform(9).Mechanism(domain.PriorityNormal); !errors.Is(err, domain.ErrUnsupportedOperation) {
		t.Errorf("unknown platform error = %v", err)
	}
}

func TestPOSIXLevelRounding(t *testing.T) {
	tests := []struct {
		nice int
		want domain.PriorityLevel
	}{
		{19, domain.PriorityIdle},
		{15, domain.PriorityIdle},
		{5, domain.PriorityBelowNormal},
		{0, domain.PriorityNormal},
		{-3, domain.PriorityNormal},
		{-20, domain.PriorityRealtime},
	}
	for _, tt := range tests {
		got, err := PlatformPOSIX.Level(tt.nice)
		if err != nil || got != tt.want {
			t.Errorf("Level(%d) = %s, %v; want %s", tt.nice, got, err, tt.want)
		}
	}
}

func TestPolicyRequiresAttachedProcess(t *testing.T) {
	p := NewPolicy(nilSource{}, quietLogger())
	ctx := context.Background()

	if err := p.SetPriority(ctx, domain.PriorityNormal); !errors.Is(err, domain.ErrNoProcess) {
		t.Errorf("SetPriority error = %v, want ErrNoProcess", err)
	}
	if err := p.SetAffinity(ctx, domain.NewAffinityMask(0)); !errors.Is(err, domain.ErrNoProcess) {
		t.Errorf("SetAffinity error = %v, want ErrNoProcess", err)
	}
	if _, _, err := p.Priority(ctx); !errors.Is(err, domain.ErrNoProcess) {
		t.Errorf("Priority error = %v, want ErrNoProcess", err)
	}
	if _, err := p.Affinity(ctx); !errors.Is(err, domain.ErrNoProcess) {
		t.Errorf("Affinity error = %v, want ErrNoProcess", err)
	}
	if err := p.Terminate(ctx); !errors.Is(err, domain.ErrNoProcess) {
		t.Errorf("Terminate error = %v, want ErrNoProcess", err)
	}
}

func TestLogicalCores(t *testing.T) {
	if LogicalCores() < 1 {
		t.Fatal("LogicalCores() < 1")
	}
	if DetectPlatform().String() == "" {
		t.Fatal("empty platform name")
	}
}
