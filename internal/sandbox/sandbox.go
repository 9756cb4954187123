// Package sandbox launches operator commands inside a reused working
// directory and records their output line by line.
//
// The sandbox directory is a working-directory convention, not an
// isolation boundary.
package sandbox

import (
	"os"
	"path/filepath"
	"time"
)

// DefaultDirName is the directory created under the OS temp dir.
const DefaultDirName = "sandbox_env"

// Transcript markers emitted through the output callback.
const (
	MarkerDir       = "[Sandbox Dir]"
	MarkerLaunched  = "[Launched] PID"
	MarkerLogSaved  = "[Log saved at]"
	MarkerError     = "[Sandbox error]"
	MarkerTruncated = "[Truncated]"
	StderrPrefix    = "ERR: "
)

// OutputFunc receives one transcript line.
type OutputFunc func(line string)

// Config configures the launcher.
type Config struct {
	// Dir is the shared working directory. Empty = <tempdir>/sandbox_env.
	Dir string

	// LogDir receives one sandbox_log_<timestamp>.txt per run.
	LogDir string

	// Shell interprets the command line. Empty = /bin/sh (cmd.exe on Windows).
	Shell string

	// MinimalEnv replaces the inherited environment with a small fixed
	// set so supervisor secrets do not reach the child.
	MinimalEnv bool

	// Env adds extra variables on top of the base environment.
	Env map[string]string
}

// DefaultDir returns <tempdir>/sandbox_env.
func DefaultDir() string {
	return filepath.Join(os.TempDir(), DefaultDirName)
}

// LogFileName returns the log file name for a run started at t.
func LogFileName(t time.Time) string {
	return "sandbox_log_" + t.Format("20060102_150405") + ".txt"
}
