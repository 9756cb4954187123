package control

import (
	"runtime"

	"github.com/prometheus/procfs"
)

// LogicalCores returns the number of logical processors on the host,
// independent of the supervisor's own affinity.
func LogicalCores() int {
	fs, err := procfs.NewDefaultFS()
	if err == nil {
		if info, err := fs.CPUInfo(); err == nil && len(info) > 0 {
			return len(info)
		}
	}
	return runtime.NumCPU()
}
