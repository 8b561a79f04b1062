package workspace

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

var ErrMissing = errors.New("not found")

// Workspace resolves operation executables against the scripts directory.
type Workspace struct {
	ScriptsDir string
}

func Open(scriptsDir string) (*Workspace, error) {
	if scriptsDir == "" {
		scriptsDir = "."
	}
	abs, err := filepath.Abs(scriptsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve scripts directory: %w", err)
	}
	return &Workspace{ScriptsDir: abs}, nil
}

// Command returns the program to start and the arguments that precede
// the operation's own parameters.
//
// With an interpreter the executable is always a script file, looked up
// relative to the scripts directory unless absolute. Without one, a bare
// name is tried in the scripts directory first and then on PATH.
func (w *Workspace) Command(executable, interpreter string) (string, []string, error) {
	if interpreter != "" {
		prog, err := exec.LookPath(interpreter)
		if err != nil {
			return "", nil, fmt.Errorf("interpreter %q: %w", interpreter, ErrMissing)
		}
		script, err := w.scriptPath(executable)
		if err != nil {
			return "", nil, err
		}
		return prog, []string{script}, nil
	}

	if isBareName(executable) {
		if script, err := w.scriptPath(executable); err == nil {
			return script, nil, nil
		}
		prog, err := exec.LookPath(executable)
		if err != nil {
			return "", nil, fmt.Errorf("executable %q: %w", executable, ErrMissing)
		}
		return prog, nil, nil
	}

	script, err := w.scriptPath(executable)
	if err != nil {
		return "", nil, err
	}
	return script, nil, nil
}

func (w *Workspace) scriptPath(executable string) (string, error) {
	path := executable
	if !filepath.IsAbs(path) {
		path = filepath.Join(w.ScriptsDir, path)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("script %s: %w", path, ErrMissing)
		}
		return "", fmt.Errorf("failed to stat script %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("script %s is a directory: %w", path, ErrMissing)
	}

	return path, nil
}

func isBareName(executable string) bool {
	return !strings.ContainsRune(executable, os.PathSeparator) && !strings.Contains(executable, "/")
}
