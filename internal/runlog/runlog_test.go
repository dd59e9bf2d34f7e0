package runlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func TestFormatLine(t *testing.T) {
	ts := time.Date(2026, 3, 7, 4, 5, 6, 0, time.Local)
	got := FormatLine(ts, "Backup completed successfully")
	want := "2026-03-07 04:05:06 - Backup completed successfully\n"
	if got != want {
		t.Errorf("FormatLine() = %q, want %q", got, want)
	}
}

func TestFileSink_Append(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runner.log")
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local)
	sink := NewFileSink(path).WithClock(fixedClock(ts))

	if err := sink.Append("first"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := sink.Append("second"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}

	want := "2026-01-02 03:04:05 - first\n2026-01-02 03:04:05 - second\n"
	if string(data) != want {
		t.Errorf("log contents = %q, want %q", string(data), want)
	}
}

func TestFileSink_PreservesExistingContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runner.log")
	if err := os.WriteFile(path, []byte("old line\n"), 0644); err != nil {
		t.Fatal(err)
	}

	sink := NewFileSink(path)
	if err := sink.Append("new line"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "old line\n") {
		t.Errorf("existing content was not preserved: %q", string(data))
	}
	if !strings.HasSuffix(string(data), " - new line\n") {
		t.Errorf("new line not appended: %q", string(data))
	}
}

func TestFileSink_MissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "runner.log")
	sink := NewFileSink(path)

	err := sink.Append("anything")
	if err == nil {
		t.Fatal("expected error when parent directory is missing")
	}
	if !strings.Contains(err.Error(), path) {
		t.Errorf("error should mention path, got: %v", err)
	}
}

func TestMemorySink(t *testing.T) {
	sink := NewMemorySink()
	sink.now = fixedClock(time.Date(2026, 10, 18, 12, 0, 0, 0, time.Local))

	_ = sink.Append("one")
	_ = sink.Append("two")

	lines := sink.Lines()
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0] != "2026-10-18 12:00:00 - one" {
		t.Errorf("lines[0] = %q", lines[0])
	}
	if lines[1] != "2026-10-18 12:00:00 - two" {
		t.Errorf("lines[1] = %q", lines[1])
	}
}
