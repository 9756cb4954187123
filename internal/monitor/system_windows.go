//go:build windows

package monitor

import (
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	kernel32                 = windows.NewLazySystemDLL("kernel32.dll")
	procGetSystemTimes       = kernel32.NewProc("GetSystemTimes")
	procGlobalMemoryStatusEx = kernel32.NewProc("GlobalMemoryStatusEx")
)

// memoryStatusEx mirrors MEMORYSTATUSEX.
type memoryStatusEx struct {
	Length               uint32
	MemoryLoad           uint32
	TotalPhys            uint64
	AvailPhys            uint64
	TotalPageFile        uint64
	AvailPageFile        uint64
	TotalVirtual         uint64
	AvailVirtual         uint64
	AvailExtendedVirtual uint64
}

// NewSystemSampler reads host counters through kernel32.
func NewSystemSampler() (*SystemSampler, error) {
	if err := procGetSystemTimes.Find(); err != nil {
		return nil, fmt.Errorf("loading GetSystemTimes: %w", err)
	}
	return &SystemSampler{source: winSystem{}, now: time.Now}, nil
}

type winSystem struct{}

func ticks(ft windows.Filetime) float64 {
	return float64(uint64(ft.HighDateTime)<<32|uint64(ft.LowDateTime)) / 1e7
}

// cpu reads GetSystemTimes. Kernel time includes idle time.
func (winSystem) cpu() (cpuTimes, error) {
	var idle, kernel, user windows.Filetime
	r, _, err := procGetSystemTimes.Call(
		uintptr(unsafe.Pointer(&idle)),
		uintptr(unsafe.Pointer(&kernel)),
		uintptr(unsafe.Pointer(&user)),
	)
	if r == 0 {
		return cpuTimes{}, fmt.Errorf("GetSystemTimes: %w", err)
	}
	return cpuTimes{
		Busy: ticks(kernel) + ticks(user) - ticks(idle),
		Idle: ticks(idle),
	}, nil
}

func (winSystem) memory() (memInfo, error) {
	var ms memoryStatusEx
	ms.Length = uint32(unsafe.Sizeof(ms))
	if r, _, err := procGlobalMemoryStatusEx.Call(uintptr(unsafe.Pointer(&ms))); r == 0 {
		return memInfo{}, fmt.Errorf("GlobalMemoryStatusEx: %w", err)
	}
	return memInfo{Total: ms.TotalPhys, Available: ms.AvailPhys}, nil
}
