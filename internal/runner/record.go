package runner

import (
	"time"

	"github.com/doughall/backup-runner/internal/hostinfo"
)

// Record kinds. The first three mirror supervisor.Kind; KindPreconditionFailed
// marks runs that aborted before the worker was launched.
const (
	KindSuccess            = "success"
	KindTimedOut           = "timed_out"
	KindFailed             = "failed"
	KindPreconditionFailed = "precondition_failed"
)

// ExitPrecondition is the runner's exit code when a preflight check fails.
const ExitPrecondition = 1

// Record describes one invocation of the runner.
// It is filled in once, after the worker has terminated or preflight failed.
type Record struct {
	// ID is assigned by the history store, zero otherwise.
	ID uint64 `json:"id,omitempty"`

	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration_ns"`

	TargetDirectory string        `json:"target_directory"`
	InterpreterPath string        `json:"interpreter_path"`
	EntrypointPath  string        `json:"entrypoint_path"`
	Deadline        time.Duration `json:"deadline_ns"`

	// ExitStatus is the runner's own exit code for this invocation.
	ExitStatus int `json:"exit_status"`

	// Kind is one of the Kind* constants.
	Kind string `json:"kind"`

	// Message is the body of the line written to the outcome log.
	Message string `json:"message"`

	// PID of the worker, zero if it never started.
	PID int `json:"pid,omitempty"`

	// Signal names the signal that ended the worker, if any.
	Signal string `json:"signal,omitempty"`

	// Canceled is true if the runner itself was stopped mid-run.
	Canceled bool `json:"canceled,omitempty"`

	// Error carries preflight or start failure details.
	Error string `json:"error,omitempty"`

	// Host is the disk snapshot taken before launch, if one was collected.
	Host *hostinfo.Snapshot `json:"host,omitempty"`
}

// Succeeded reports whether the worker exited cleanly.
func (r *Record) Succeeded() bool {
	return r.Kind == KindSuccess
}
