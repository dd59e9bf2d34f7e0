package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/doughall/backup-runner/internal/config"
	"github.com/doughall/backup-runner/internal/history"
)

// install lays out a fake bot installation whose interpreter is /bin/sh and
// writes a config file pointing at it. Returns the config and log paths.
func install(t *testing.T, script string, extra string) (string, string) {
	t.Helper()
	root := t.TempDir()
	target := filepath.Join(root, "bot")
	if err := os.MkdirAll(filepath.Join(target, "venv", "bin"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("/bin/sh", filepath.Join(target, "venv", "bin", "python")); err != nil {
		t.Fatal(err)
	}
	if script != "" {
		if err := os.WriteFile(filepath.Join(target, "main.py"), []byte(script), 0644); err != nil {
			t.Fatal(err)
		}
	}

	logPath := filepath.Join(root, "runs.log")
	yaml := "target_directory: " + target + "\n" +
		"interpreter_path: " + filepath.Join(target, "venv", "bin", "python") + "\n" +
		"log_path: " + logPath + "\n" +
		"log_level: error\n" + extra
	cfgPath := filepath.Join(root, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	return cfgPath, logPath
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read outcome log: %v", err)
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	if code := run([]string{"-version"}, &out, io.Discard); code != 0 {
		t.Fatalf("exit = %d, want 0", code)
	}
	if !strings.HasPrefix(out.String(), "backup-runner ") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRun_UnknownFlag(t *testing.T) {
	if code := run([]string{"-bogus"}, io.Discard, io.Discard); code != exitConfig {
		t.Errorf("exit = %d, want %d", code, exitConfig)
	}
}

func TestRun_ExplicitConfigMissing(t *testing.T) {
	var errOut bytes.Buffer
	missing := filepath.Join(t.TempDir(), "absent.yaml")
	if code := run([]string{"-config", missing}, io.Discard, &errOut); code != exitConfig {
		t.Errorf("exit = %d, want %d", code, exitConfig)
	}
	if !strings.Contains(errOut.String(), "ERROR:") {
		t.Errorf("stderr = %q", errOut.String())
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	cfgPath, _ := install(t, "exit 0\n", "deadline: soon\n")
	if code := run([]string{"-config", cfgPath}, io.Discard, io.Discard); code != exitConfig {
		t.Errorf("exit = %d, want %d", code, exitConfig)
	}
}

func TestRun_WriteConfig(t *testing.T) {
	cfgPath, _ := install(t, "exit 0\n", "schedule: \"0 3 * * *\"\n")
	dest := filepath.Join(t.TempDir(), "out", "config.yaml")

	if code := run([]string{"-config", cfgPath, "-write-config", dest}, io.Discard, io.Discard); code != 0 {
		t.Fatalf("exit = %d, want 0", code)
	}

	cfg, err := config.Load(dest)
	if err != nil {
		t.Fatalf("written config does not load: %v", err)
	}
	if cfg.Schedule != "0 3 * * *" {
		t.Errorf("Schedule = %q", cfg.Schedule)
	}
}

func TestRun_OneShotPropagatesExitStatus(t *testing.T) {
	tests := []struct {
		name   string
		script string
		code   int
		line   string
	}{
		{"success", "exit 0\n", 0, "Backup completed successfully"},
		{"failure", "exit 3\n", 3, "ERROR: Backup failed with exit code 3"},
		{"worker exits 124", "exit 124\n", 124, "ERROR: Backup failed with exit code 124"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgPath, logPath := install(t, tt.script, "")

			if code := run([]string{"-config", cfgPath}, io.Discard, io.Discard); code != tt.code {
				t.Fatalf("exit = %d, want %d", code, tt.code)
			}

			lines := readLines(t, logPath)
			if len(lines) != 1 {
				t.Fatalf("outcome log has %d lines, want 1: %q", len(lines), lines)
			}
			if !strings.HasSuffix(lines[0], " - "+tt.line) {
				t.Errorf("line = %q, want suffix %q", lines[0], tt.line)
			}
		})
	}
}

func TestRun_OneShotTimeout(t *testing.T) {
	cfgPath, logPath := install(t, "sleep 30\n", "deadline: 200ms\nkill_grace: 1s\n")

	if code := run([]string{"-config", cfgPath}, io.Discard, io.Discard); code != 124 {
		t.Fatalf("exit = %d, want 124", code)
	}
	lines := readLines(t, logPath)
	if len(lines) != 1 || !strings.HasSuffix(lines[0], "WARNING: Backup was terminated (timeout after 200ms)") {
		t.Errorf("outcome log = %q", lines)
	}
}

func TestRun_PreflightFailure(t *testing.T) {
	cfgPath, logPath := install(t, "", "")

	if code := run([]string{"-config", cfgPath}, io.Discard, io.Discard); code != 1 {
		t.Fatalf("exit = %d, want 1", code)
	}
	lines := readLines(t, logPath)
	if len(lines) != 1 || !strings.Contains(lines[0], "ERROR: Main script not found: ") {
		t.Errorf("outcome log = %q", lines)
	}
}

func TestRun_RecordsHistory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	cfgPath, _ := install(t, "exit 2\n", "history_path: "+dbPath+"\n")

	for i := 0; i < 2; i++ {
		if code := run([]string{"-config", cfgPath}, io.Discard, io.Discard); code != 2 {
			t.Fatalf("exit = %d, want 2", code)
		}
	}

	store, err := history.Open(dbPath, history.DefaultRetention)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	n, err := store.Count()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("history holds %d runs, want 2", n)
	}
	last, err := store.Last()
	if err != nil {
		t.Fatal(err)
	}
	if last.ExitStatus != 2 || last.Message != "ERROR: Backup failed with exit code 2" {
		t.Errorf("last record = %+v", last)
	}
}

func TestRun_DaemonRequiresSchedule(t *testing.T) {
	cfgPath, _ := install(t, "exit 0\n", "")
	if code := run([]string{"-config", cfgPath, "-daemon"}, io.Discard, io.Discard); code != exitConfig {
		t.Errorf("exit = %d, want %d", code, exitConfig)
	}
}

func TestRun_DaemonRejectsBadSchedule(t *testing.T) {
	cfgPath, _ := install(t, "exit 0\n", "schedule: \"every tuesday\"\n")
	if code := run([]string{"-config", cfgPath, "-daemon"}, io.Discard, io.Discard); code != exitConfig {
		t.Errorf("exit = %d, want %d", code, exitConfig)
	}
}

func TestRun_WorkerOutputGoesToGivenWriters(t *testing.T) {
	cfgPath, _ := install(t, "echo from-worker-stdout\necho from-worker-stderr >&2\n", "")

	var out, errOut bytes.Buffer
	if code := run([]string{"-config", cfgPath}, &out, &errOut); code != 0 {
		t.Fatalf("exit = %d, want 0", code)
	}
	if !strings.Contains(out.String(), "from-worker-stdout") {
		t.Errorf("stdout = %q, want worker output", out.String())
	}
	if !strings.Contains(errOut.String(), "from-worker-stderr") {
		t.Errorf("stderr = %q, want worker output", errOut.String())
	}
}

func TestRun_ScheduleValidatedWithoutDaemon(t *testing.T) {
	cfgPath, logPath := install(t, "exit 0\n", "schedule: \"61 * * * *\"\n")

	var errOut bytes.Buffer
	if code := run([]string{"-config", cfgPath}, io.Discard, &errOut); code != exitConfig {
		t.Fatalf("exit = %d, want %d", code, exitConfig)
	}
	if !strings.Contains(errOut.String(), "invalid schedule") {
		t.Errorf("stderr = %q", errOut.String())
	}
	if _, err := os.Stat(logPath); !os.IsNotExist(err) {
		t.Error("worker ran despite an unusable configuration")
	}
}

func TestRun_History(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	cfgPath, _ := install(t, "exit 4\n", "history_path: "+dbPath+"\n")

	for i := 0; i < 3; i++ {
		run([]string{"-config", cfgPath}, io.Discard, io.Discard)
	}

	var out bytes.Buffer
	if code := run([]string{"-config", cfgPath, "-history", "2"}, &out, io.Discard); code != 0 {
		t.Fatalf("exit = %d, want 0", code)
	}
	if !strings.Contains(out.String(), "exit code 4") {
		t.Errorf("listing lacks run messages:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "Showing 2 of 3 recorded runs") {
		t.Errorf("listing footer missing:\n%s", out.String())
	}
}

func TestRun_HistoryNotConfigured(t *testing.T) {
	cfgPath, _ := install(t, "exit 0\n", "")
	if code := run([]string{"-config", cfgPath, "-history", "5"}, io.Discard, io.Discard); code != exitConfig {
		t.Errorf("exit = %d, want %d", code, exitConfig)
	}
}
