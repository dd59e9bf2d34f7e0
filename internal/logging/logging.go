// Package logging provides structured diagnostic logging for the backup runner.
//
// Diagnostic logs are JSON on stdout (captured by cron mail or journald) and
// carry structured fields such as pid, exit_code and duration. They are
// separate from the plain-text outcome log written by package runlog.
//
// Usage:
//
//	logger := logging.SetupLogger(os.Stdout, "info")
//	logger.Info("worker started", "pid", pid, "component", "runner")
package logging

import (
	"io"
	"log/slog"
	"path/filepath"
	"strings"
)

// SetupLogger creates a JSON logger on w at the given level and installs
// it as the slog default. Unrecognised levels fall back to info.
func SetupLogger(w io.Writer, level string) *slog.Logger {
	logger := New(w, level)
	slog.SetDefault(logger)
	return logger
}

// New creates a JSON logger writing to w with source locations attached.
func New(w io.Writer, level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       ParseLevel(level),
		AddSource:   true,
		ReplaceAttr: shortenSource,
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// shortenSource trims source paths to start at internal/ or cmd/.
func shortenSource(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.SourceKey {
		return a
	}
	source, ok := a.Value.Any().(*slog.Source)
	if !ok {
		return a
	}
	source.File = trimToPackage(source.File)
	if idx := strings.Index(source.Function, "internal/"); idx != -1 {
		source.Function = source.Function[idx:]
	}
	return a
}

func trimToPackage(file string) string {
	for _, marker := range []string{"internal/", "cmd/"} {
		if idx := strings.Index(file, marker); idx != -1 {
			return file[idx:]
		}
	}
	return filepath.Base(file)
}

// ParseLevel converts a string log level to slog.Level.
// Accepts: "debug", "info", "warn", "error" (case-insensitive).
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
