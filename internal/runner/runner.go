// Package runner implements the supervised backup run.
//
// A run is strictly one attempt:
//  1. Preflight: target directory, virtualenv directory, entrypoint file
//  2. Launch the interpreter on the entrypoint inside the target directory
//  3. Wait for exit or deadline (see package supervisor)
//  4. Append exactly one line to the outcome log
//  5. Hand the record to reporters (history, notifications)
//
// The runner's exit code is the worker's exit status, 124 on deadline, or 1
// when preflight fails. Recurrence and retries belong to whatever scheduler
// invokes the runner.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/doughall/backup-runner/internal/config"
	"github.com/doughall/backup-runner/internal/hostinfo"
	"github.com/doughall/backup-runner/internal/runlog"
	"github.com/doughall/backup-runner/internal/supervisor"
)

// reportTimeout bounds the time spent on all reporters after a run.
const reportTimeout = 30 * time.Second

// Settings is the immutable per-run configuration.
type Settings struct {
	TargetDirectory string
	InterpreterPath string
	EntrypointPath  string
	Deadline        time.Duration
	KillGrace       time.Duration
}

// SettingsFromConfig extracts run settings from the loaded configuration.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		TargetDirectory: cfg.TargetDirectory,
		InterpreterPath: cfg.InterpreterPath,
		EntrypointPath:  cfg.EntrypointPath,
		Deadline:        cfg.Deadline(),
		KillGrace:       cfg.KillGrace(),
	}
}

// Reporter receives the finished record of every run.
// Reporter errors are logged and never change the run's exit status.
type Reporter interface {
	Report(ctx context.Context, rec *Record) error
}

// HostSampler takes a host snapshot for the target directory.
type HostSampler interface {
	Sample(ctx context.Context, path string) (*hostinfo.Snapshot, error)
}

// Runner executes supervised backup runs.
type Runner struct {
	settings   Settings
	sink       runlog.Sink
	supervisor *supervisor.Supervisor
	logger     *slog.Logger
	reporters  []namedReporter
	sampler    HostSampler
	stdout     io.Writer
	stderr     io.Writer
	now        func() time.Time
}

type namedReporter struct {
	name     string
	reporter Reporter
}

// New creates a Runner. The sink receives exactly one line per Run.
func New(settings Settings, sink runlog.Sink, logger *slog.Logger) *Runner {
	return &Runner{
		settings:   settings,
		sink:       sink,
		supervisor: supervisor.New(settings.Deadline, settings.KillGrace),
		logger:     logger.With(slog.String("component", "runner")),
		now:        time.Now,
	}
}

// AddReporter registers a reporter that is called after every run, in
// registration order.
func (r *Runner) AddReporter(name string, rep Reporter) {
	r.reporters = append(r.reporters, namedReporter{name: name, reporter: rep})
}

// SetHostSampler enables a host snapshot before each launch.
func (r *Runner) SetHostSampler(p HostSampler) {
	r.sampler = p
}

// SetOutput redirects worker stdout and stderr. Nil inherits the runner's.
func (r *Runner) SetOutput(stdout, stderr io.Writer) {
	r.stdout = stdout
	r.stderr = stderr
}

// Run performs one supervised attempt and returns its record.
// The returned error is non-nil only when the outcome log could not be
// written; the record and its ExitStatus are valid either way.
func (r *Runner) Run(ctx context.Context) (*Record, error) {
	rec := &Record{
		StartedAt:       r.now(),
		TargetDirectory: r.settings.TargetDirectory,
		InterpreterPath: r.settings.InterpreterPath,
		EntrypointPath:  r.settings.EntrypointPath,
		Deadline:        r.settings.Deadline,
	}

	checked, err := Preflight(r.settings)
	if err != nil {
		r.abort(rec, err)
	} else {
		rec.TargetDirectory = checked.TargetDirectory
		rec.InterpreterPath = checked.InterpreterPath
		rec.EntrypointPath = checked.EntrypointPath
		r.execute(ctx, rec, checked)
	}

	rec.FinishedAt = r.now()
	rec.Duration = rec.FinishedAt.Sub(rec.StartedAt)

	// The worker has fully terminated by now; the line is the run's only output
	sinkErr := r.sink.Append(rec.Message)
	if sinkErr != nil {
		r.logger.Error("failed to write outcome log",
			slog.String("error", sinkErr.Error()),
		)
		sinkErr = fmt.Errorf("outcome log: %w", sinkErr)
	}

	r.report(ctx, rec)

	return rec, sinkErr
}

// abort fills rec for a run that failed preflight.
func (r *Runner) abort(rec *Record, err error) {
	rec.Kind = KindPreconditionFailed
	rec.ExitStatus = ExitPrecondition
	rec.Error = err.Error()

	var pe *PreconditionError
	if errors.As(err, &pe) {
		rec.Message = pe.LogMessage()
		r.logger.Error("preflight check failed",
			slog.String("check", pe.Check.String()),
			slog.String("path", pe.Path),
			slog.String("error", err.Error()),
		)
		return
	}

	rec.Message = "ERROR: " + err.Error()
	r.logger.Error("preflight failed", slog.String("error", err.Error()))
}

// execute launches the worker and fills rec from its outcome.
func (r *Runner) execute(ctx context.Context, rec *Record, s Settings) {
	if r.sampler != nil {
		r.sample(ctx, rec)
	}

	r.logger.Info("starting worker",
		slog.String("interpreter", s.InterpreterPath),
		slog.String("entrypoint", s.EntrypointPath),
		slog.String("dir", s.TargetDirectory),
		slog.Duration("deadline", r.settings.Deadline),
	)

	out := r.supervisor.Run(ctx, supervisor.Command{
		Path:   s.InterpreterPath,
		Args:   []string{s.EntrypointPath},
		Dir:    s.TargetDirectory,
		Stdout: r.stdout,
		Stderr: r.stderr,
	})

	rec.Kind = out.Kind.String()
	rec.ExitStatus = out.ExitCode
	rec.PID = out.PID
	rec.Signal = out.Signal
	rec.Canceled = out.Canceled
	if out.StartErr != nil {
		rec.Error = out.StartErr.Error()
	}
	rec.Message = OutcomeMessage(out.Kind, out.ExitCode, r.settings.Deadline)

	attrs := []any{
		slog.String("kind", rec.Kind),
		slog.Int("exit_code", out.ExitCode),
		slog.Int("pid", out.PID),
		slog.Duration("duration", out.Duration),
	}
	if out.Signal != "" {
		attrs = append(attrs, slog.String("signal", out.Signal))
	}
	if out.StartErr != nil {
		attrs = append(attrs, slog.String("error", out.StartErr.Error()))
	}

	switch out.Kind {
	case supervisor.KindSuccess:
		r.logger.Info("worker finished", attrs...)
	case supervisor.KindTimedOut:
		r.logger.Warn("worker terminated at deadline", attrs...)
	default:
		r.logger.Error("worker failed", attrs...)
	}
}

// sample records a host snapshot. Failures only produce a warning.
func (r *Runner) sample(ctx context.Context, rec *Record) {
	snap, err := r.sampler.Sample(ctx, rec.TargetDirectory)
	if err != nil {
		r.logger.Warn("failed to collect host snapshot",
			slog.String("error", err.Error()),
		)
		return
	}
	rec.Host = snap
	if snap.HighUsage() {
		r.logger.Warn("target filesystem nearly full",
			slog.String("path", snap.Path),
			slog.Float64("disk_pct", snap.DiskPct),
			slog.Uint64("disk_free", snap.DiskFree),
		)
	}
}

// report hands the record to every reporter. It outlives caller
// cancellation so a stopped daemon still records its last run.
func (r *Runner) report(ctx context.Context, rec *Record) {
	if len(r.reporters) == 0 {
		return
	}

	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()

	for _, nr := range r.reporters {
		if err := nr.reporter.Report(reportCtx, rec); err != nil {
			r.logger.Warn("reporter failed",
				slog.String("reporter", nr.name),
				slog.String("error", err.Error()),
			)
		}
	}
}

// OutcomeMessage renders the outcome log line for a finished worker.
func OutcomeMessage(kind supervisor.Kind, exitCode int, deadline time.Duration) string {
	switch kind {
	case supervisor.KindSuccess:
		return "Backup completed successfully"
	case supervisor.KindTimedOut:
		return fmt.Sprintf("WARNING: Backup was terminated (timeout after %s)", humanDuration(deadline))
	default:
		return fmt.Sprintf("ERROR: Backup failed with exit code %d", exitCode)
	}
}

// humanDuration renders whole hours and minutes the way an operator writes them.
func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute && d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	default:
		return d.String()
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
