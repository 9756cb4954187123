package domain

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
	"testing"
)

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      string
		want    PriorityLevel
		wantErr bool
	}{
		{"Idle", PriorityIdle, false},
		{"Below Normal", PriorityBelowNormal, false},
		{"below_normal", PriorityBelowNormal, false},
		{"BELOWNORMAL", PriorityBelowNormal, false},
		{" normal ", PriorityNormal, false},
		{"above-normal", PriorityAboveNormal, false},
		{"high", PriorityHigh, false},
		{"Realtime", PriorityRealtime, false},
		{"turbo", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePriority(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedValue) {
					t.Fatalf("ParsePriority(%q) error = %v, want ErrUnsupportedValue", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePriority(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParsePriority(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestPriorityLevelStringRoundTrip(t *testing.T) {
	for _, p := range PriorityLevels() {
		got, err := ParsePriority(p.String())
		if err != nil || got != p {
			t.Errorf("ParsePriority(%q) = %v, %v", p.String(), got, err)
		}
	}
	if PriorityLevel(42).Valid() {
		t.Error("PriorityLevel(42) should be invalid")
	}
	if _, err := PriorityLevel(-1).MarshalText(); !errors.Is(err, ErrUnsupportedValue) {
		t.Errorf("MarshalText(-1) error = %v", err)
	}
}

func TestParseAffinity(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"0,2", "[0, 2]", false},
		{"[3, 1, 1]", "[1, 3]", false},
		{"0-3", "[0, 1, 2, 3]", false},
		{"0-1,4", "[0, 1, 4]", false},
		{"", "[]", false},
		{"a", "", true},
		{"3-1", "", true},
		{"-1", "", true},
		{"1023", "[1023]", false},
		{"1024", "", true},
		{"0-30000000", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAffinity(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseAffinity(%q) = %v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAffinity(%q): %v", tt.in, err)
			}
			if got.String() != tt.want {
				t.Errorf("ParseAffinity(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestAffinityValidate(t *testing.T) {
	if err := NewAffinityMask(0, 1).Validate(2); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if err := NewAffinityMask(0, 2).Validate(2); !errors.Is(err, ErrUnsupportedValue) {
		t.Errorf("Validate out of range error = %v", err)
	}
	if err := (AffinityMask{}).Validate(4); err != nil {
		t.Errorf("empty mask should pass range validation, got %v", err)
	}
	if !AllCores(4).Contains(3) || AllCores(4).Contains(4) {
		t.Error("AllCores(4) membership wrong")
	}
}

func TestMapOSError(t *testing.T) {
	if err := MapOSError("attach", 1, nil, ErrNotFound); err != nil {
		t.Fatalf("nil error mapped to %v", err)
	}

	err := MapOSError("attach", 7, syscall.ESRCH, ErrNotFound)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ESRCH -> %v, want ErrNotFound", err)
	}

	err = MapOSError("setpriority", 7, fmt.Errorf("wrapped: %w", fs.ErrNotExist), ErrNoProcess)
	if !errors.Is(err, ErrNoProcess) {
		t.Errorf("ErrNotExist -> %v, want ErrNoProcess", err)
	}

	err = MapOSError("setpriority", 7, syscall.EPERM, ErrNoProcess)
	if !errors.Is(err, ErrPermission) {
		t.Errorf("EPERM -> %v, want ErrPermission", err)
	}
	var opErr *OpError
	if !errors.As(err, &opErr) || opErr.PID != 7 {
		t.Errorf("EPERM should be an *OpError for pid 7, got %#v", err)
	}

	err = MapOSError("setaffinity", 7, syscall.EINVAL, ErrNoProcess)
	if !errors.As(err, &opErr) || !errors.Is(err, syscall.EINVAL) {
		t.Errorf("EINVAL -> %v, want wrapped OpError", err)
	}
	if IsProcessGone(err) {
		t.Error("EINVAL should not count as process gone")
	}
}
