//go:build unix

package process

import "golang.org/x/sys/unix"

func signalTerminate(pid int) error {
	return unix.Kill(pid, unix.SIGTERM)
}
