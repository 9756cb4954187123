//go:build windows

package process

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/jkaninda/procward/internal/domain"
)

const stillActive = 259

var (
	kernel32                 = windows.NewLazySystemDLL("kernel32.dll")
	procGetProcessMemoryInfo = kernel32.NewProc("K32GetProcessMemoryInfo")
)

// processMemoryCounters mirrors PROCESS_MEMORY_COUNTERS.
type processMemoryCounters struct {
	cb                         uint32
	PageFaultCount             uint32
	PeakWorkingSetSize         uintptr
	WorkingSetSize             uintptr
	QuotaPeakPagedPoolUsage    uintptr
	QuotaPagedPoolUsage        uintptr
	QuotaPeakNonPagedPoolUsage uintptr
	QuotaNonPagedPoolUsage     uintptr
	PagefileUsage              uintptr
	PeakPagefileUsage          uintptr
}

// NewInspector creates an Inspector backed by process handles opened with
// limited query rights.
func NewInspector(logger *slog.Logger) (*Inspector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inspector{source: winSource{}, logger: logger}, nil
}

type winSource struct{}

// open returns a query handle for a running pid. Exited processes whose
// handle is still held elsewhere count as absent.
func (winSource) open(pid int, absent error) (windows.Handle, error) {
	if pid <= 0 {
		return 0, fmt.Errorf("pid %d: %w", pid, absent)
	}
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		if errors.Is(err, windows.ERROR_INVALID_PARAMETER) {
			return 0, fmt.Errorf("pid %d: %w", pid, absent)
		}
		return 0, domain.MapOSError("open", pid, err, absent)
	}
	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil || code != stillActive {
		windows.CloseHandle(h)
		return 0, fmt.Errorf("pid %d has exited: %w", pid, absent)
	}
	return h, nil
}

type processTimes struct {
	created    uint64
	cpuSeconds float64
}

func readTimes(h windows.Handle) (processTimes, error) {
	var created, exited, kernel, user windows.Filetime
	if err := windows.GetProcessTimes(h, &created, &exited, &kernel, &user); err != nil {
		return processTimes{}, err
	}
	return processTimes{
		created:    uint64(created.Nanoseconds()),
		cpuSeconds: float64(filetimeTicks(kernel)+filetimeTicks(user)) / 1e7,
	}, nil
}

// filetimeTicks returns ft in 100ns units.
func filetimeTicks(ft windows.Filetime) uint64 {
	return uint64(ft.HighDateTime)<<32 | uint64(ft.LowDateTime)
}

func (s winSource) lookup(pid int) (procInfo, error) {
	h, err := s.open(pid, domain.ErrNotFound)
	if err != nil {
		return procInfo{}, err
	}
	defer windows.CloseHandle(h)

	buf := make([]uint16, windows.MAX_PATH)
	n := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(h, 0, &buf[0], &n); err != nil {
		return procInfo{}, domain.MapOSError("query", pid, err, domain.ErrNotFound)
	}
	times, err := readTimes(h)
	if err != nil {
		return procInfo{}, domain.MapOSError("query", pid, err, domain.ErrNotFound)
	}
	return procInfo{name: filepath.Base(windows.UTF16ToString(buf[:n])), start: times.created}, nil
}

func (s winSource) usage(h *Handle) (Usage, error) {
	ph, err := s.open(h.pid, domain.ErrNoProcess)
	if err != nil {
		return Usage{}, err
	}
	defer windows.CloseHandle(ph)

	times, err := readTimes(ph)
	if err != nil {
		return Usage{}, domain.MapOSError("read", h.pid, err, domain.ErrNoProcess)
	}
	if times.created != h.start {
		return Usage{}, fmt.Errorf("pid %d was reused: %w", h.pid, domain.ErrNoProcess)
	}

	var pmc processMemoryCounters
	pmc.cb = uint32(unsafe.Sizeof(pmc))
	if r, _, err := procGetProcessMemoryInfo.Call(uintptr(ph), uintptr(unsafe.Pointer(&pmc)), uintptr(pmc.cb)); r == 0 {
		return Usage{}, domain.MapOSError("read", h.pid, err, domain.ErrNoProcess)
	}
	return Usage{CPUSeconds: times.cpuSeconds, RSSBytes: uint64(pmc.WorkingSetSize)}, nil
}
