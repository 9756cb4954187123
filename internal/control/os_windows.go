//go:build windows

package control

import (
	"fmt"
	"math/bits"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/jkaninda/procward/internal/domain"
)

const (
	processSetInformation   = 0x0200
	processQueryInformation = 0x0400
)

var (
	kernel32                   = windows.NewLazySystemDLL("kernel32.dll")
	procSetPriorityClass       = kernel32.NewProc("SetPriorityClass")
	procGetPriorityClass       = kernel32.NewProc("GetPriorityClass")
	procSetProcessAffinityMask = kernel32.NewProc("SetProcessAffinityMask")
	procGetProcessAffinityMask = kernel32.NewProc("GetProcessAffinityMask")
)

type nativeControl struct{}

func withProcess(pid int, access uint32, fn func(windows.Handle) error) error {
	h, err := windows.OpenProcess(access, false, uint32(pid))
	if err != nil {
		return err
	}
	defer windows.CloseHandle(h)
	return fn(h)
}

func (nativeControl) setPriority(pid, class int) error {
	return withProcess(pid, processSetInformation, func(h windows.Handle) error {
		if r, _, err := procSetPriorityClass.Call(uintptr(h), uintptr(class)); r == 0 {
			return err
		}
		return nil
	})
}

func (nativeControl) priority(pid int) (int, error) {
	var class int
	err := withProcess(pid, processQueryInformation, func(h windows.Handle) error {
		r, _, err := procGetPriorityClass.Call(uintptr(h))
		if r == 0 {
			return err
		}
		class = int(r)
		return nil
	})
	return class, err
}

func (nativeControl) setAffinity(pid int, cores domain.AffinityMask) error {
	var mask uintptr
	for _, c := range cores {
		if c >= bits.UintSize {
			return fmt.Errorf("core %d beyond a single processor group: %w", c, domain.ErrUnsupportedValue)
		}
		mask |= 1 << uint(c)
	}
	return withProcess(pid, processSetInformation|processQueryInformation, func(h windows.Handle) error {
		if r, _, err := procSetProcessAffinityMask.Call(uintptr(h), mask); r == 0 {
			return err
		}
		return nil
	})
}

func (nativeControl) affinity(pid int) (domain.AffinityMask, error) {
	var procMask, sysMask uintptr
	err := withProcess(pid, processQueryInformation, func(h windows.Handle) error {
		r, _, err := procGetProcessAffinityMask.Call(uintptr(h),
			uintptr(unsafe.Pointer(&procMask)), uintptr(unsafe.Pointer(&sysMask)))
		if r == 0 {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	var mask domain.AffinityMask
	for c := 0; c < bits.UintSize; c++ {
		if procMask&(1<<uint(c)) != 0 {
			mask = append(mask, c)
		}
	}
	return mask, nil
}
