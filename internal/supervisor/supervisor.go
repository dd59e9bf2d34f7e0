// Package supervisor runs a single worker process under a hard wall-clock deadline.
//
// The worker is started in its own process group. When the deadline
// elapses the whole group receives SIGTERM; members still alive after the
// kill grace period receive SIGKILL. Run only returns once the worker has
// been reaped, so callers may report the outcome knowing nothing is
// still running.
//
// Timeouts are detected from the supervisor's own deadline, never from the
// worker's exit status: a worker that exits 124 by itself is a failure.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"
)

// DefaultKillGrace is how long a terminated worker may take to exit before SIGKILL.
const DefaultKillGrace = 10 * time.Second

// errDeadline is the cancellation cause recorded when the deadline elapses.
var errDeadline = errors.New("worker deadline exceeded")

// Command describes the worker to launch.
type Command struct {
	// Path is the executable, normally the interpreter inside a virtualenv.
	Path string
	// Args are passed to the executable.
	Args []string
	// Dir is the working directory of the worker.
	Dir string
	// Env, if non-nil, replaces the inherited environment.
	Env []string
	// Stdout and Stderr receive worker output. Nil means inherit the runner's.
	Stdout io.Writer
	Stderr io.Writer
}

// Supervisor spawns workers and enforces a deadline on each run.
type Supervisor struct {
	// Deadline caps the wall-clock runtime of a worker.
	Deadline time.Duration

	// KillGrace is the delay between SIGTERM and SIGKILL on expiry.
	KillGrace time.Duration
}

// New creates a Supervisor with the given deadline and kill grace period.
// A non-positive grace falls back to DefaultKillGrace.
func New(deadline, killGrace time.Duration) *Supervisor {
	if killGrace <= 0 {
		killGrace = DefaultKillGrace
	}
	return &Supervisor{
		Deadline:  deadline,
		KillGrace: killGrace,
	}
}

// Run starts the worker and blocks until it exits or is terminated.
// It always returns a complete Outcome; start failures are reported as
// KindFailed with exit code 126 or 127 and StartErr set.
func (s *Supervisor) Run(ctx context.Context, c Command) *Outcome {
	execCtx, cancel := context.WithTimeoutCause(ctx, s.Deadline, errDeadline)
	defer cancel()

	cmd := exec.CommandContext(execCtx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env

	// Create new process group so the deadline reaches the worker's children
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	cmd.Stdout = c.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = c.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	// Terminate the whole group; WaitDelay escalates to SIGKILL on the leader.
	// Cancel only runs while Wait is still collecting the worker, so stopped
	// means the worker was alive when the context ended.
	var stopped atomic.Bool
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		stopped.Store(true)
		return signalGroup(cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = s.KillGrace

	outcome := &Outcome{
		StartedAt: time.Now(),
	}

	if err := cmd.Start(); err != nil {
		outcome.Kind = KindFailed
		outcome.ExitCode = startFailureCode(err)
		outcome.StartErr = fmt.Errorf("failed to start worker %s: %w", c.Path, err)
		return outcome
	}
	outcome.PID = cmd.Process.Pid

	waitErr := cmd.Wait()

	// Reap anything the worker left in its group after a forced stop
	if stopped.Load() {
		_ = signalGroup(outcome.PID, syscall.SIGKILL)
	}
	outcome.Duration = time.Since(outcome.StartedAt)

	if cmd.ProcessState == nil {
		// Wait failed without reaping; should not happen after a successful Start
		outcome.Kind = KindFailed
		outcome.ExitCode = ExitCannotExecute
		outcome.StartErr = fmt.Errorf("failed to wait for worker: %w", waitErr)
		return outcome
	}

	classify(outcome, cmd.ProcessState, stopped.Load(), context.Cause(execCtx))
	return outcome
}

// classify fills the outcome from the reaped worker. A deadline only counts
// when the supervisor actually stopped the worker; a worker that exited on
// its own just before the timer fired keeps its own status.
func classify(o *Outcome, ps *os.ProcessState, stopped bool, cause error) {
	code, sig := exitStatus(ps)
	o.Signal = sig

	if stopped && errors.Is(cause, errDeadline) {
		o.Kind = KindTimedOut
		o.ExitCode = ExitTimedOut
		return
	}

	o.Canceled = stopped
	o.ExitCode = code
	if code == 0 {
		o.Kind = KindSuccess
	} else {
		o.Kind = KindFailed
	}
}

// signalGroup delivers sig to every process in the group led by pid.
func signalGroup(pid int, sig syscall.Signal) error {
	err := syscall.Kill(-pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

// exitStatus converts a process state to a shell-style exit code.
func exitStatus(ps *os.ProcessState) (int, string) {
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return exitSignalBase + int(ws.Signal()), ws.Signal().String()
	}
	return ps.ExitCode(), ""
}

// startFailureCode maps a Start error to the code timeout(1) would report.
func startFailureCode(err error) int {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return ExitNotFound
	}
	return ExitCannotExecute
}
