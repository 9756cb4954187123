//go:build unix

package sandbox

import (
	"os"
	"syscall"
)

const defaultShell = "/bin/sh"

func shellArgs(commandLine string) []string {
	return []string{"-c", commandLine}
}

// sysProcAttr places the child in its own process group so Stop reaches
// grandchildren spawned by the shell.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func terminateGroup(p *os.Process) error {
	// Negative PID = signal the entire process group.
	return syscall.Kill(-p.Pid, syscall.SIGTERM)
}

func minimalEnv(dir string) []string {
	return []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + dir,
		"TMPDIR=" + dir,
		"LANG=en_US.UTF-8",
		"TERM=dumb",
	}
}
