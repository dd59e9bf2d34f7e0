// Package scheduler implements daemon mode: the runner re-invokes its own
// job on a cron schedule instead of relying on an external cron.
//
// Runs never overlap. The loop sleeps until the next scheduled time, runs
// the job to completion, then plans again from the current time. Slots that
// passed while a run was active are skipped and logged, never queued.

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/doughall/backup-runner/internal/runner"
)

// Job is one scheduled unit of work. *runner.Runner satisfies it.
type Job interface {
	Run(ctx context.Context) (*runner.Record, error)
}

// Scheduler runs a Job on a cron schedule.
type Scheduler struct {
	schedule cron.Schedule
	job      Job
	logger   *slog.Logger
	now      func() time.Time

	running atomic.Bool
	runs    atomic.Int64

	// Synchronization for graceful shutdown
	wg       sync.WaitGroup
	mu       sync.Mutex
	cancel   context.CancelFunc
	shutdown bool

	afterRun func(*runner.Record)
}

// NewScheduler creates a scheduler for a cron expression.
// Returns an error if the expression does not parse.
func NewScheduler(expression string, job Job, logger *slog.Logger) (*Scheduler, error) {
	schedule, err := NewCronParser().Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expression, err)
	}
	return newWithSchedule(schedule, job, logger), nil
}

func newWithSchedule(schedule cron.Schedule, job Job, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		schedule: schedule,
		job:      job,
		logger:   logger.With(slog.String("component", "scheduler")),
		now:      time.Now,
	}
}

// SetAfterRun registers a callback that receives every finished record.
// Must be called before Start.
func (s *Scheduler) SetAfterRun(fn func(*runner.Record)) {
	s.afterRun = fn
}

// Start launches the scheduler loop in a goroutine and returns. The loop is
// registered before Start returns, so a Shutdown issued at any later point
// waits for it. Start after Shutdown does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown || s.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	s.running.Store(true)

	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		defer cancel()
		s.loop(loopCtx)
	}()
}

// Run starts the loop and blocks until ctx is cancelled or Shutdown is called.
func (s *Scheduler) Run(ctx context.Context) {
	s.Start(ctx)
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	next := s.schedule.Next(s.now())
	s.logger.Info("scheduler started", slog.Time("next_run_at", next))

	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return
		case <-timer.C:
		}

		s.execute(ctx)

		planned := next
		next = s.schedule.Next(s.now())
		if skipped := s.countSkipped(planned, next); skipped > 0 {
			s.logger.Warn("run overlapped scheduled slots, skipping them",
				slog.Int("skipped", skipped),
			)
		}
		s.logger.Debug("next run planned", slog.Time("next_run_at", next))
		timer.Reset(time.Until(next))
	}
}

// execute runs the job once and logs its outcome.
func (s *Scheduler) execute(ctx context.Context) {
	n := s.runs.Add(1)
	s.logger.Info("scheduled run starting", slog.Int64("run", n))

	rec, err := s.job.Run(ctx)
	if err != nil {
		s.logger.Error("scheduled run reported an error",
			slog.Int64("run", n),
			slog.String("error", err.Error()),
		)
	}
	if rec == nil {
		return
	}

	level := slog.LevelInfo
	if !rec.Succeeded() {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "scheduled run complete",
		slog.Int64("run", n),
		slog.String("kind", rec.Kind),
		slog.Int("exit_status", rec.ExitStatus),
		slog.Duration("duration", rec.Duration),
	)
	if s.afterRun != nil {
		s.afterRun(rec)
	}
}

// countSkipped counts scheduled slots strictly after planned and before next.
func (s *Scheduler) countSkipped(planned, next time.Time) int {
	skipped := 0
	for t := s.schedule.Next(planned); t.Before(next); t = s.schedule.Next(t) {
		skipped++
		if skipped > 1000 {
			break
		}
	}
	return skipped
}

// Runs returns how many runs have been started.
func (s *Scheduler) Runs() int64 {
	return s.runs.Load()
}

// IsHealthy reports whether the loop is alive. Used for the systemd watchdog;
// a long run is healthy as long as the loop has not exited.
func (s *Scheduler) IsHealthy() bool {
	return s.running.Load()
}

// Shutdown stops the loop and waits for an in-flight run to finish.
// Cancelling stops the worker through its context, so the wait is bounded
// by the supervisor's kill grace.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.logger.Info("scheduler shutdown initiated")

	s.mu.Lock()
	s.shutdown = true
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler shutdown complete")
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler shutdown timed out")
		return ctx.Err()
	}
}
