// Package workspace manages the procward runtime directory structure.
// Reports, sandbox logs and the session archive live under a single
// workspace root. The sandbox working directory is shared with other
// procward instances and lives in the OS temp dir unless configured.
//
// Default workspace: ~/.procward (configurable via config or PROCWARD_WORKSPACE env var).
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jkaninda/procward/internal/sandbox"
)

// Default workspace location relative to user home directory.
const defaultRelativePath = ".procward"

// Workspace manages procward runtime directories and derived paths.
type Workspace struct {
	Root string

	sandboxDir string

	mu      sync.Mutex
	created map[string]bool // tracks which directories have been ensured
}

// New creates a Workspace rooted at the given path.
// It resolves ~ to the user's home directory and creates the root directory
// if it does not exist. sandboxDir may be empty for <tempdir>/sandbox_env.
func New(root, sandboxDir string) (*Workspace, error) {
	resolved, err := resolvePath(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root %q: %w", root, err)
	}
	if sandboxDir == "" {
		sandboxDir = sandbox.DefaultDir()
	} else if sandboxDir, err = resolvePath(sandboxDir); err != nil {
		return nil, fmt.Errorf("resolving sandbox dir: %w", err)
	}

	w := &Workspace{
		Root:       resolved,
		sandboxDir: sandboxDir,
		created:    make(map[string]bool),
	}

	if err := w.ensureDir(resolved, 0750); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}

	return w, nil
}

// Default creates a Workspace at ~/.procward.
func Default() (*Workspace, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("determining home directory: %w", err)
	}
	return New(filepath.Join(home, defaultRelativePath), "")
}

// ReportsDir returns <root>/reports/. Holds exported reports, the chart
// image and one sandbox_log_<timestamp>.txt per launched command.
func (w *Workspace) ReportsDir() string {
	return w.dir("reports")
}

// DataDir returns <root>/data/. Holds the SQLite session archive.
func (w *Workspace) DataDir() string {
	return w.dir("data")
}

// SandboxDir returns the shared sandbox working directory.
func (w *Workspace) SandboxDir() string {
	_ = w.ensureDir(w.sandboxDir, 0755)
	return w.sandboxDir
}

// ConfigPath returns <root>/config.yaml.
func (w *Workspace) ConfigPath() string {
	return filepath.Join(w.Root, "config.yaml")
}

// DatabasePath returns <root>/data/procward.db.
func (w *Workspace) DatabasePath() string {
	return filepath.Join(w.DataDir(), "procward.db")
}

// ChartPath returns <root>/reports/chart.png.
func (w *Workspace) ChartPath() string {
	return filepath.Join(w.ReportsDir(), "chart.png")
}

// CleanSandbox removes all contents of the sandbox directory.
func (w *Workspace) CleanSandbox() error {
	dir := w.sandboxDir
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading sandbox dir: %w", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("removing sandbox entry %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// EnsureAll creates all standard workspace directories.
func (w *Workspace) EnsureAll() error {
	for _, d := range []string{
		filepath.Join(w.Root, "reports"),
		filepath.Join(w.Root, "data"),
		w.sandboxDir,
	} {
		if err := w.ensureDir(d, 0750); err != nil {
			return err
		}
	}
	return nil
}

// dir returns an absolute path under the workspace root and ensures the directory exists.
func (w *Workspace) dir(name string) string {
	p := filepath.Join(w.Root, name)
	_ = w.ensureDir(p, 0750)
	return p
}

// ensureDir creates a directory if it doesn't already exist.
// Uses a cache to avoid redundant stat/mkdir calls.
func (w *Workspace) ensureDir(path string, perm os.FileMode) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.created[path] {
		return nil
	}

	if err := os.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("creating directory %s: %w", path, err)
	}
	w.created[path] = true
	return nil
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}
