// Package systemd integrates daemon mode with systemd.
//
// The backup-runner.service unit runs the daemon with Type=notify, so the
// runner reports READY once its schedule is loaded and STOPPING when a
// termination signal arrives. With WatchdogSec set, the scheduler loop's
// liveness gates watchdog pings.
//
// Every call degrades to a no-op outside systemd (no NOTIFY_SOCKET).
package systemd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends sd_notify messages for the daemon.
type Notifier struct {
	logger *slog.Logger
	notify func(state string) (bool, error)
}

// NewNotifier creates a notifier logging under the "systemd" component.
func NewNotifier(logger *slog.Logger) *Notifier {
	return &Notifier{
		logger: logger.With(slog.String("component", "systemd")),
		notify: func(state string) (bool, error) {
			return daemon.SdNotify(false, state)
		},
	}
}

// Ready reports READY=1 together with a STATUS line naming the schedule.
// Returns true if systemd received the message.
func (n *Notifier) Ready(schedule string) bool {
	return n.send("ready", daemon.SdNotifyReady+"\nSTATUS=waiting for schedule "+schedule)
}

// Stopping reports STOPPING=1. systemd then waits for the in-flight run
// instead of killing the unit outright.
func (n *Notifier) Stopping() bool {
	return n.send("stopping", daemon.SdNotifyStopping)
}

// Status updates the free-form STATUS shown by systemctl status.
func (n *Notifier) Status(format string, args ...any) bool {
	return n.send("status", "STATUS="+fmt.Sprintf(format, args...))
}

func (n *Notifier) send(what, state string) bool {
	sent, err := n.notify(state)
	if err != nil {
		n.logger.Warn("sd_notify failed",
			slog.String("message", what),
			slog.String("error", err.Error()),
		)
		return false
	}
	if !sent {
		n.logger.Debug("sd_notify unavailable, not running under systemd",
			slog.String("message", what),
		)
	}
	return sent
}

// HealthCheckFunc reports whether the daemon is healthy.
type HealthCheckFunc func() bool

// StartWatchdog pings the systemd watchdog at half of WatchdogSec while
// healthy returns true. An unhealthy check skips the ping, which lets
// systemd restart the unit. It returns immediately when the watchdog is
// not configured, and the ping goroutine exits with ctx.
func (n *Notifier) StartWatchdog(ctx context.Context, healthy HealthCheckFunc) bool {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.logger.Debug("watchdog not enabled", slog.String("error", err.Error()))
		return false
	}
	if interval == 0 {
		return false
	}

	ping := interval / 2
	n.logger.Info("starting systemd watchdog",
		slog.Duration("watchdog_interval", interval),
		slog.Duration("ping_interval", ping),
	)
	go n.watchdogLoop(ctx, ping, healthy)
	return true
}

func (n *Notifier) watchdogLoop(ctx context.Context, every time.Duration, healthy HealthCheckFunc) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !healthy() {
				n.logger.Warn("scheduler loop not running, skipping watchdog ping")
				continue
			}
			n.send("watchdog", daemon.SdNotifyWatchdog)
		}
	}
}

// UnderSystemd reports whether NOTIFY_SOCKET is set.
func UnderSystemd() bool {
	return os.Getenv("NOTIFY_SOCKET") != ""
}
