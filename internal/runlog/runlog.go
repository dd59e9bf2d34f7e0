// Package runlog implements the plain-text outcome log for the backup runner.
//
// Every invocation appends exactly one line to the sink:
//
//	2026-10-18 03:00:00 - Backup completed successfully
//
// The file is opened in append mode for each write and never rotated or
// truncated by the runner. Rotation, if any, is left to logrotate.
package runlog

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// TimestampLayout is the layout of the leading timestamp on every line.
const TimestampLayout = "2006-01-02 15:04:05"

// Sink receives outcome messages. Implementations add the timestamp.
type Sink interface {
	Append(message string) error
}

// Clock returns the current time. It is overridden in tests.
type Clock func() time.Time

// FileSink appends timestamped lines to a file on disk.
type FileSink struct {
	path string
	now  Clock
	mu   sync.Mutex
}

// NewFileSink creates a sink writing to path.
// The parent directory is expected to exist; the file is created on first append.
func NewFileSink(path string) *FileSink {
	return &FileSink{
		path: path,
		now:  time.Now,
	}
}

// WithClock replaces the time source used for line timestamps.
func (s *FileSink) WithClock(now Clock) *FileSink {
	s.now = now
	return s
}

// Append writes one line of the form "YYYY-MM-DD HH:MM:SS - message".
// The write is a single call on an O_APPEND descriptor so concurrent
// writers on the same host never interleave partial lines.
func (s *FileSink) Append(message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to open run log %s: %w", s.path, err)
	}

	line := FormatLine(s.now(), message)
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return fmt.Errorf("failed to append to run log %s: %w", s.path, err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close run log %s: %w", s.path, err)
	}
	return nil
}

// FormatLine renders a single sink line including the trailing newline.
func FormatLine(t time.Time, message string) string {
	return t.Format(TimestampLayout) + " - " + message + "\n"
}
