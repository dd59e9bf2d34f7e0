// preflight.go validates the installation before a worker is launched.
// Checks run in a fixed order and the first failure aborts the run.
package runner

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Check identifies a preflight check.
type Check int

const (
	// CheckTargetDirectory verifies the bot's directory exists.
	CheckTargetDirectory Check = iota + 1
	// CheckVirtualenv verifies the interpreter's directory exists.
	CheckVirtualenv
	// CheckEntrypoint verifies the script exists inside the target directory.
	CheckEntrypoint
)

// String returns a short name for structured logs.
func (c Check) String() string {
	switch c {
	case CheckTargetDirectory:
		return "target_directory"
	case CheckVirtualenv:
		return "virtualenv"
	case CheckEntrypoint:
		return "entrypoint"
	default:
		return "unknown"
	}
}

// PreconditionError is returned when a preflight check fails.
type PreconditionError struct {
	Check Check
	Path  string
	Err   error
}

// Error implements error.
func (e *PreconditionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s check failed for %s: %v", e.Check, e.Path, e.Err)
	}
	return fmt.Sprintf("%s check failed for %s", e.Check, e.Path)
}

// Unwrap returns the underlying filesystem error, if any.
func (e *PreconditionError) Unwrap() error {
	return e.Err
}

// LogMessage returns the line written to the outcome log for this failure.
func (e *PreconditionError) LogMessage() string {
	switch e.Check {
	case CheckTargetDirectory:
		return "ERROR: Script directory not found: " + e.Path
	case CheckVirtualenv:
		return "ERROR: Virtual environment not found: " + e.Path
	case CheckEntrypoint:
		return "ERROR: Main script not found: " + e.Path
	default:
		return "ERROR: Preflight check failed: " + e.Path
	}
}

// Preflight runs the three installation checks against s. It returns s
// with every path made absolute; the worker is launched from exactly the
// paths that were checked, since the launch changes directory into the
// target before resolving anything.
func Preflight(s Settings) (Settings, error) {
	target, err := filepath.Abs(s.TargetDirectory)
	if err != nil {
		return s, &PreconditionError{Check: CheckTargetDirectory, Path: s.TargetDirectory, Err: err}
	}
	if err := requireDir(target); err != nil {
		return s, &PreconditionError{Check: CheckTargetDirectory, Path: target, Err: err}
	}

	interpreter, err := filepath.Abs(s.InterpreterPath)
	if err != nil {
		return s, &PreconditionError{Check: CheckVirtualenv, Path: s.InterpreterPath, Err: err}
	}
	venv := filepath.Dir(interpreter)
	if err := requireDir(venv); err != nil {
		return s, &PreconditionError{Check: CheckVirtualenv, Path: venv, Err: err}
	}

	entry := resolveEntrypoint(target, s.EntrypointPath)
	if !within(target, entry) {
		return s, &PreconditionError{
			Check: CheckEntrypoint,
			Path:  entry,
			Err:   fmt.Errorf("outside %s", target),
		}
	}
	if err := requireFile(entry); err != nil {
		return s, &PreconditionError{Check: CheckEntrypoint, Path: entry, Err: err}
	}

	s.TargetDirectory = target
	s.InterpreterPath = interpreter
	s.EntrypointPath = entry
	return s, nil
}

// resolveEntrypoint joins relative entrypoints onto the target directory.
func resolveEntrypoint(dir, entry string) string {
	if filepath.IsAbs(entry) {
		return filepath.Clean(entry)
	}
	return filepath.Clean(filepath.Join(dir, entry))
}

// within reports whether path lies inside dir.
func within(dir, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "."
}

func requireDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.New("not a directory")
	}
	return nil
}

func requireFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return errors.New("not a regular file")
	}
	return nil
}
