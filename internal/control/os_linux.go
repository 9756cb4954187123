package control

import (
	"golang.org/x/sys/unix"

	"github.com/jkaninda/procward/internal/domain"
)

// cpuSetSize is the number of cores representable in unix.CPUSet.
const cpuSetSize = 1024

type nativeControl struct{}

func (nativeControl) setPriority(pid, nice int) error {
	return unix.Setpriority(unix.PRIO_PROCESS, pid, nice)
}

// priority returns the nice value. The raw getpriority syscall on Linux
// reports 20-nice.
func (nativeControl) priority(pid int) (int, error) {
	raw, err := unix.Getpriority(unix.PRIO_PROCESS, pid)
	if err != nil {
		return 0, err
	}
	return 20 - raw, nil
}

func (nativeControl) setAffinity(pid int, cores domain.AffinityMask) error {
	var set unix.CPUSet
	set.Zero()
	for _, c := range cores {
		set.Set(c)
	}
	return unix.SchedSetaffinity(pid, &set)
}

func (nativeControl) affinity(pid int) (domain.AffinityMask, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(pid, &set); err != nil {
		return nil, err
	}
	mask := make(domain.AffinityMask, 0, set.Count())
	for c := 0; c < cpuSetSize && len(mask) < cap(mask); c++ {
		if set.IsSet(c) {
			mask = append(mask, c)
		}
	}
	return mask, nil
}
