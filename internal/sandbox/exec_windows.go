//go:build windows

package sandbox

import (
	"os"
	"syscall"
)

const defaultShell = "cmd.exe"

func shellArgs(commandLine string) []string {
	return []string{"/C", commandLine}
}

func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{}
}

func terminateGroup(p *os.Process) error {
	return p.Kill()
}

func minimalEnv(dir string) []string {
	return []string{
		"SystemRoot=" + os.Getenv("SystemRoot"),
		"PATH=" + os.Getenv("PATH"),
		"USERPROFILE=" + dir,
		"TEMP=" + dir,
		"TMP=" + dir,
	}
}
