// backup-runner - Entry Point
//
// backup-runner launches the Telegram backup bot's Python worker under a
// deadline and records the outcome of each attempt as one line in an
// append-only log. It is normally invoked by cron with no arguments:
//
//	0 3 * * * /usr/local/bin/backup-runner
//
// Lifecycle of a one-shot run:
//  1. Load configuration (compiled-in defaults, overlaid by /etc/backup-runner/config.yaml if present)
//  2. Setup structured JSON logger on stdout
//  3. Preflight: target directory, virtualenv, entrypoint
//  4. Launch the worker in its own process group and wait (deadline 2h by default)
//  5. Append the outcome line, record history, send notifications
//  6. Exit with the worker's status (124 on deadline, 1 on preflight failure)
//
// With -daemon the runner stays resident and performs the same run on the
// configured cron schedule, integrating with systemd (Type=notify).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/doughall/backup-runner/internal/config"
	"github.com/doughall/backup-runner/internal/history"
	"github.com/doughall/backup-runner/internal/hostinfo"
	"github.com/doughall/backup-runner/internal/logging"
	"github.com/doughall/backup-runner/internal/notify"
	"github.com/doughall/backup-runner/internal/runlog"
	"github.com/doughall/backup-runner/internal/runner"
	"github.com/doughall/backup-runner/internal/scheduler"
	"github.com/doughall/backup-runner/internal/shutdown"
	"github.com/doughall/backup-runner/internal/systemd"
	"github.com/doughall/backup-runner/internal/version"
)

// Exit codes that do not come from the worker.
const (
	exitOK      = 0
	exitFailure = 1
	exitConfig  = 2
)

// Time allowed for daemon shutdown on top of the worker's kill grace.
const shutdownSlack = 30 * time.Second

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run is main without os.Exit. stdout carries diagnostic logs and the
// worker's stdout; stderr carries usage, config errors and the worker's
// stderr. Passing the process's own *os.File streams lets the worker
// inherit them directly.
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("backup-runner", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", config.DefaultConfigPath, "path to configuration file (optional)")
	showVersion := fs.Bool("version", false, "print version information and exit")
	daemonMode := fs.Bool("daemon", false, "stay resident and run on the configured schedule")
	writeConfig := fs.String("write-config", "", "write the effective configuration to this path and exit")
	showHistory := fs.Int("history", 0, "print the last `n` recorded runs and exit (requires history_path)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitConfig
	}

	if *showVersion {
		fmt.Fprintln(stdout, version.Info())
		return exitOK
	}

	cfg, err := loadConfig(fs, *configPath)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return exitConfig
	}
	if cfg.Schedule != "" {
		if err := scheduler.NewCronParser().Validate(cfg.Schedule); err != nil {
			fmt.Fprintf(stderr, "ERROR: invalid schedule %q: %v\n", cfg.Schedule, err)
			return exitConfig
		}
	}

	if *writeConfig != "" {
		if err := config.Save(*writeConfig, cfg); err != nil {
			fmt.Fprintf(stderr, "ERROR: %v\n", err)
			return exitConfig
		}
		fmt.Fprintf(stdout, "configuration written to %s\n", *writeConfig)
		return exitOK
	}

	if *showHistory > 0 {
		return listHistory(cfg, *showHistory, stdout, stderr)
	}

	logger := logging.SetupLogger(stdout, cfg.LogLevel)
	logger.Debug("backup-runner starting",
		slog.String("version", version.Version),
		slog.String("commit", version.Commit),
		slog.String("config_path", *configPath),
		slog.String("target_directory", cfg.TargetDirectory),
		slog.Duration("deadline", cfg.Deadline()),
		slog.Bool("daemon", *daemonMode),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	r := runner.New(runner.SettingsFromConfig(cfg), runlog.NewFileSink(cfg.LogPath), logger)
	r.SetHostSampler(hostinfo.NewSampler(logger))
	r.SetOutput(stdout, stderr)

	var store *history.Store
	if cfg.HistoryEnabled() {
		store, err = history.Open(cfg.HistoryPath, history.DefaultRetention)
		if err != nil {
			// History is an addition to the outcome log, never a reason to skip a backup
			logger.Warn("run history disabled",
				slog.String("path", cfg.HistoryPath),
				slog.String("error", err.Error()),
			)
		} else {
			r.AddReporter("history", store)
		}
	}
	if cfg.WebhookEnabled() {
		r.AddReporter("webhook", notify.NewWebhook(cfg.Notify.WebhookURL, logger))
	}
	if cfg.NATSEnabled() {
		r.AddReporter("nats", notify.NewNATS(notify.NATSConfig{
			Servers:  cfg.Notify.NATSServers,
			NKeySeed: cfg.Notify.NATSNKeySeed,
			Subject:  cfg.Notify.NATSSubject,
		}, logger))
	}

	if *daemonMode {
		return runDaemon(ctx, cfg, r, store, logger)
	}

	if store != nil {
		defer store.Close()
	}
	rec, err := r.Run(ctx)
	if err != nil {
		// Already logged by the runner; the exit status still reflects the worker
		logger.Debug("run finished with unrecorded outcome", slog.String("error", err.Error()))
	}
	return rec.ExitStatus
}

// listHistory prints recorded runs without starting a worker.
func listHistory(cfg *config.Config, limit int, stdout, stderr io.Writer) int {
	if !cfg.HistoryEnabled() {
		fmt.Fprintln(stderr, "ERROR: history_path is not configured")
		return exitConfig
	}
	store, err := history.Open(cfg.HistoryPath, history.DefaultRetention)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return exitFailure
	}
	defer store.Close()

	if err := printHistory(stdout, store, limit); err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return exitFailure
	}
	return exitOK
}

// loadConfig treats the default path as optional and an explicit -config
// path as required.
func loadConfig(fs *flag.FlagSet, path string) (*config.Config, error) {
	explicit := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})
	if explicit {
		return config.Load(path)
	}
	return config.LoadOptional(path)
}

// runDaemon runs the scheduler until SIGTERM or SIGINT.
func runDaemon(ctx context.Context, cfg *config.Config, r *runner.Runner, store *history.Store, logger *slog.Logger) int {
	if cfg.Schedule == "" {
		logger.Error("daemon mode requires a schedule in the configuration")
		if store != nil {
			store.Close()
		}
		return exitConfig
	}

	sched, err := scheduler.NewScheduler(cfg.Schedule, r, logger)
	if err != nil {
		logger.Error("invalid schedule", slog.String("error", err.Error()))
		if store != nil {
			store.Close()
		}
		return exitConfig
	}

	coordinator := shutdown.NewCoordinator(logger)
	if store != nil {
		coordinator.Register("history", store)
	}
	coordinator.Register("scheduler", sched)

	notifier := systemd.NewNotifier(logger)
	sched.SetAfterRun(func(rec *runner.Record) {
		notifier.Status("last run %s: %s", rec.FinishedAt.Format(runlog.TimestampLayout), rec.Message)
	})

	// The loop gets its own context so shutdown order is decided by the coordinator
	loopCtx, cancelLoop := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelLoop()
	sched.Start(loopCtx)

	notifier.Ready(cfg.Schedule)
	if store != nil {
		if last, err := store.Last(); err == nil && last != nil {
			notifier.Status("waiting for schedule %s, last run %s: %s",
				cfg.Schedule, last.FinishedAt.Format(runlog.TimestampLayout), last.Message)
		}
	}
	notifier.StartWatchdog(loopCtx, sched.IsHealthy)

	logger.Info("daemon started",
		slog.String("schedule", cfg.Schedule),
		slog.Bool("systemd", systemd.UnderSystemd()),
	)

	<-ctx.Done()
	logger.Info("received shutdown signal")
	notifier.Stopping()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.KillGrace()+shutdownSlack)
	defer cancel()
	if err := coordinator.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", slog.String("error", err.Error()))
		return exitFailure
	}
	return exitOK
}
