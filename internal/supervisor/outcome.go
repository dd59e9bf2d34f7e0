// outcome.go defines the tagged result of a supervised worker run.
// Every run ends in exactly one Kind; the exit code is normalised the
// same way timeout(1) reports it so schedulers see familiar values.
package supervisor

import "time"

// Kind classifies how a supervised run ended.
type Kind int

const (
	// KindSuccess means the worker exited on its own with status 0.
	KindSuccess Kind = iota
	// KindTimedOut means the supervisor's deadline elapsed and the worker was terminated.
	KindTimedOut
	// KindFailed covers every other ending: non-zero exit, signal death,
	// a worker that could not be started, or cancellation by the caller.
	KindFailed
)

// String returns the lowercase name used in structured logs and history.
func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindTimedOut:
		return "timed_out"
	case KindFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Exit codes reported for runs that did not produce their own status.
const (
	// ExitTimedOut is reported when the deadline elapsed.
	ExitTimedOut = 124
	// ExitCannotExecute is reported when the worker binary exists but could not be started.
	ExitCannotExecute = 126
	// ExitNotFound is reported when the worker binary does not exist.
	ExitNotFound = 127
	// exitSignalBase is added to the signal number when the worker died from a signal.
	exitSignalBase = 128
)

// Outcome is the single value produced by Supervisor.Run.
type Outcome struct {
	// Kind is the classification of the run.
	Kind Kind `json:"kind"`

	// ExitCode is the normalised exit status: the worker's own code,
	// 128+N for death by signal N, 124 on deadline, 126/127 when the
	// worker could not be started.
	ExitCode int `json:"exit_code"`

	// Signal is the name of the signal that ended the worker, if any.
	Signal string `json:"signal,omitempty"`

	// Canceled is true if the caller's context ended the run before the deadline.
	Canceled bool `json:"canceled,omitempty"`

	// PID of the worker process, zero if it never started.
	PID int `json:"pid,omitempty"`

	// StartedAt is when the worker was launched.
	StartedAt time.Time `json:"started_at"`

	// Duration is the wall-clock time from launch to full termination.
	Duration time.Duration `json:"duration_ns"`

	// StartErr is set when the worker could not be started at all.
	StartErr error `json:"-"`
}
