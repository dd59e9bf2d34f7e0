// Package shutdown stops the daemon's long-lived parts in order.
//
// Components stop in reverse registration order, so the scheduler
// (registered last) lets its in-flight run finish and record its outcome
// before the history store underneath it is closed.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Shutdowner is implemented by components that need an orderly stop.
// Shutdown should return ctx.Err() if it cannot finish before the deadline.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Func adapts a plain function to Shutdowner.
type Func func(ctx context.Context) error

// Shutdown calls f.
func (f Func) Shutdown(ctx context.Context) error { return f(ctx) }

type step struct {
	name string
	s    Shutdowner
}

// Coordinator runs registered shutdown steps last-in first-out.
type Coordinator struct {
	steps  []step
	logger *slog.Logger
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator(logger *slog.Logger) *Coordinator {
	return &Coordinator{
		logger: logger.With(slog.String("component", "shutdown")),
	}
}

// Register appends a step. Later registrations stop first.
func (c *Coordinator) Register(name string, s Shutdowner) {
	c.steps = append(c.steps, step{name: name, s: s})
}

// Shutdown runs every step, continuing past failures, and joins their
// errors. Once ctx expires the remaining steps are abandoned.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.logger.Info("shutting down", slog.Int("steps", len(c.steps)))

	var errs []error
	for i := len(c.steps) - 1; i >= 0; i-- {
		st := c.steps[i]

		if err := ctx.Err(); err != nil {
			c.logger.Error("shutdown deadline exceeded",
				slog.String("remaining", st.name),
			)
			errs = append(errs, fmt.Errorf("deadline exceeded before %s: %w", st.name, err))
			break
		}

		start := time.Now()
		err := st.s.Shutdown(ctx)
		took := time.Since(start)

		if err != nil {
			c.logger.Error("shutdown step failed",
				slog.String("step", st.name),
				slog.Duration("duration", took),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", st.name, err))
			continue
		}
		c.logger.Debug("shutdown step complete",
			slog.String("step", st.name),
			slog.Duration("duration", took),
		)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	c.logger.Info("shutdown complete")
	return nil
}
