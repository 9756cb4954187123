package monitor

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/procfs"
)

// NewSystemSampler reads host counters from the default /proc mount.
func NewSystemSampler() (*SystemSampler, error) {
	return NewSystemSamplerAt(procfs.DefaultMountPoint)
}

// NewSystemSamplerAt reads host counters from the proc filesystem at mount.
func NewSystemSamplerAt(mount string) (*SystemSampler, error) {
	fs, err := procfs.NewFS(mount)
	if err != nil {
		return nil, fmt.Errorf("opening procfs at %s: %w", mount, err)
	}
	return &SystemSampler{source: procfsSystem{fs: fs}, now: time.Now}, nil
}

type procfsSystem struct {
	fs procfs.FS
}

// cpu reads the aggregate line of /proc/stat.
// Busy = user + nice + system + irq + softirq + steal; idle = idle + iowait.
func (p procfsSystem) cpu() (cpuTimes, error) {
	st, err := p.fs.Stat()
	if err != nil {
		return cpuTimes{}, fmt.Errorf("reading /proc/stat: %w", err)
	}
	c := st.CPUTotal
	return cpuTimes{
		Busy: c.User + c.Nice + c.System + c.IRQ + c.SoftIRQ + c.Steal,
		Idle: c.Idle + c.Iowait,
	}, nil
}

func (p procfsSystem) memory() (memInfo, error) {
	mi, err := p.fs.Meminfo()
	if err != nil {
		return memInfo{}, fmt.Errorf("reading /proc/meminfo: %w", err)
	}
	if mi.MemTotal == nil {
		return memInfo{}, errors.New("reading /proc/meminfo: MemTotal missing")
	}
	total := *mi.MemTotal
	var avail uint64
	if mi.MemAvailable != nil {
		avail = *mi.MemAvailable
	} else {
		// Kernels before 3.14 lack MemAvailable.
		for _, v := range []*uint64{mi.MemFree, mi.Buffers, mi.Cached} {
			if v != nil {
				avail += *v
			}
		}
	}
	return memInfo{Total: total * 1024, Available: avail * 1024}, nil
}
