package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nkeys"

	"github.com/doughall/backup-runner/internal/runner"
)

// nopLogger returns a logger that discards all output, suitable for tests.
func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func failedRecord() *runner.Record {
	return &runner.Record{
		StartedAt:  time.Now(),
		FinishedAt: time.Now(),
		ExitStatus: 3,
		Kind:       runner.KindFailed,
		Message:    "ERROR: Backup failed with exit code 3",
	}
}

// fastWebhook returns a webhook with retry waits short enough for tests.
func fastWebhook(url string) *Webhook {
	w := NewWebhook(url, nopLogger())
	w.client.RetryWaitMin = 5 * time.Millisecond
	w.client.RetryWaitMax = 20 * time.Millisecond
	return w
}

func TestNewEnvelope(t *testing.T) {
	env, err := NewEnvelope(failedRecord())
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}

	if env.Type != MessageType {
		t.Errorf("Type = %q, want %q", env.Type, MessageType)
	}
	if !strings.HasSuffix(env.Text, "ERROR: Backup failed with exit code 3") {
		t.Errorf("Text = %q", env.Text)
	}
	if _, err := time.Parse(time.RFC3339, env.Timestamp); err != nil {
		t.Errorf("Timestamp %q is not RFC3339: %v", env.Timestamp, err)
	}

	var rec runner.Record
	if err := json.Unmarshal(env.Payload, &rec); err != nil {
		t.Fatalf("payload is not a record: %v", err)
	}
	if rec.ExitStatus != 3 || rec.Kind != runner.KindFailed {
		t.Errorf("payload record = %+v", rec)
	}
}

func TestWebhook_Report(t *testing.T) {
	var got Envelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("invalid body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := fastWebhook(srv.URL).Report(context.Background(), failedRecord()); err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if got.Type != MessageType {
		t.Errorf("server received type %q", got.Type)
	}
}

func TestWebhook_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := fastWebhook(srv.URL).Report(context.Background(), failedRecord()); err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("server saw %d calls, want 3", calls.Load())
	}
}

func TestWebhook_GivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := fastWebhook(srv.URL).Report(context.Background(), failedRecord())
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls.Load() != 4 {
		t.Errorf("server saw %d calls, want 4 (1 + 3 retries)", calls.Load())
	}
}

func TestWebhook_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	err := fastWebhook(srv.URL).Report(context.Background(), failedRecord())
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Errorf("error = %v, want status 403", err)
	}
	if calls.Load() != 1 {
		t.Errorf("server saw %d calls, want 1", calls.Load())
	}
}

func TestNATS_InvalidSeed(t *testing.T) {
	n := NewNATS(NATSConfig{
		Servers:  "nats://127.0.0.1:4222",
		NKeySeed: "not-a-seed",
		Subject:  "backup.runs",
	}, nopLogger())

	err := n.Report(context.Background(), failedRecord())
	if err == nil || !strings.Contains(err.Error(), "invalid nkey seed") {
		t.Errorf("error = %v, want invalid nkey seed", err)
	}
}

func TestNATS_ConnectFailure(t *testing.T) {
	kp, err := nkeys.CreateUser()
	if err != nil {
		t.Fatal(err)
	}
	seed, err := kp.Seed()
	if err != nil {
		t.Fatal(err)
	}

	// Reserve a port and release it so nothing is listening there
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	n := NewNATS(NATSConfig{
		Servers:  "nats://" + addr,
		NKeySeed: string(seed),
		Subject:  "backup.runs",
	}, nopLogger())

	err = n.Report(context.Background(), failedRecord())
	if err == nil || !strings.Contains(err.Error(), "nats connect") {
		t.Errorf("error = %v, want connect failure", err)
	}
}
