//go:build !linux

package control

import "runtime"

// LogicalCores returns the number of logical processors usable by the
// supervisor.
func LogicalCores() int {
	return runtime.NumCPU()
}
