package runlog

import (
	"strings"
	"sync"
	"time"
)

// MemorySink keeps lines in memory instead of on disk.
type MemorySink struct {
	mu    sync.Mutex
	lines []string
	now   Clock
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{now: time.Now}
}

// Append records a formatted line.
func (s *MemorySink) Append(message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, strings.TrimSuffix(FormatLine(s.now(), message), "\n"))
	return nil
}

// Lines returns a copy of every line appended so far.
func (s *MemorySink) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lines))
	copy(out, s.lines)
	return out
}
