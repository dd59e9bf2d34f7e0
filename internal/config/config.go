// Package config provides configuration management for the backup runner.
// It uses koanf v2 to overlay an optional YAML file onto compiled-in defaults
// and supports saving the effective configuration as a starter file.
//
// Configuration is read from /etc/backup-runner/config.yaml when that file
// exists. Without it the runner uses the defaults below unchanged, so a plain
// `backup-runner` invocation from cron needs no flags at all.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	goyaml "gopkg.in/yaml.v3"
)

// DefaultConfigPath is the default location for the runner configuration file.
const DefaultConfigPath = "/etc/backup-runner/config.yaml"

// Compiled-in defaults matching the layout the installer creates.
const (
	DefaultTargetDirectory = "/opt/telegram_backup_bot"
	DefaultInterpreterPath = "/opt/telegram_backup_bot/venv/bin/python"
	DefaultEntrypointPath  = "main.py"
	DefaultDeadline        = 2 * time.Hour
	DefaultKillGrace       = 10 * time.Second
	DefaultLogPath         = "/var/log/telegram_backup_cron.log"
	DefaultLogLevel        = "info"
	DefaultNATSSubject     = "backup.runs"
)

// Config holds the runner configuration.
// Fields are tagged for both koanf (loading) and yaml (saving).
type Config struct {
	// TargetDirectory is the bot's installation directory. The worker runs with
	// this as its working directory.
	TargetDirectory string `koanf:"target_directory" yaml:"target_directory"`

	// InterpreterPath is the interpreter inside the bot's virtualenv.
	// Its parent directory must exist before a run is attempted.
	InterpreterPath string `koanf:"interpreter_path" yaml:"interpreter_path"`

	// EntrypointPath is the script to execute, relative to TargetDirectory
	// or absolute within it.
	EntrypointPath string `koanf:"entrypoint_path" yaml:"entrypoint_path"`

	// RawDeadline caps the worker's runtime, e.g. "2h". Default: 2h.
	RawDeadline string `koanf:"deadline" yaml:"deadline"`

	// RawKillGrace is how long a terminated worker gets before SIGKILL. Default: 10s.
	RawKillGrace string `koanf:"kill_grace" yaml:"kill_grace"`

	// LogPath is the append-only outcome log.
	LogPath string `koanf:"log_path" yaml:"log_path"`

	// LogLevel controls diagnostic logging on stdout.
	// Valid values: "debug", "info", "warn", "error". Default: "info".
	LogLevel string `koanf:"log_level" yaml:"log_level"`

	// HistoryPath enables the run history database when set.
	HistoryPath string `koanf:"history_path" yaml:"history_path,omitempty"`

	// Schedule is a cron expression used only in daemon mode.
	Schedule string `koanf:"schedule" yaml:"schedule,omitempty"`

	// Notify configures optional outcome notifications.
	Notify NotifyConfig `koanf:"notify" yaml:"notify,omitempty"`
}

// NotifyConfig configures where run outcomes are announced.
// Every field is optional; empty values disable the corresponding notifier.
type NotifyConfig struct {
	// WebhookURL receives a JSON POST per run.
	WebhookURL string `koanf:"webhook_url" yaml:"webhook_url,omitempty"`

	// NATSServers is a comma-separated list of NATS server URLs.
	NATSServers string `koanf:"nats_servers" yaml:"nats_servers,omitempty"`

	// NATSNKeySeed is the NKey seed used to authenticate to NATS.
	NATSNKeySeed string `koanf:"nats_nkey_seed" yaml:"nats_nkey_seed,omitempty"`

	// NATSSubject is where outcomes are published. Default: backup.runs.
	NATSSubject string `koanf:"nats_subject" yaml:"nats_subject,omitempty"`
}

// Validation errors returned by Load and Validate.
var (
	ErrTargetDirectoryRequired = errors.New("target_directory is required")
	ErrInterpreterRequired     = errors.New("interpreter_path is required")
	ErrEntrypointRequired      = errors.New("entrypoint_path is required")
	ErrLogPathRequired         = errors.New("log_path is required")
	ErrInvalidDeadline         = errors.New("deadline must be a positive duration")
	ErrInvalidKillGrace        = errors.New("kill_grace must be a positive duration")
	ErrNATSSeedRequired        = errors.New("notify.nats_nkey_seed is required when notify.nats_servers is set")
)

// Default returns the compiled-in configuration.
func Default() *Config {
	return &Config{
		TargetDirectory: DefaultTargetDirectory,
		InterpreterPath: DefaultInterpreterPath,
		EntrypointPath:  DefaultEntrypointPath,
		RawDeadline:     DefaultDeadline.String(),
		RawKillGrace:    DefaultKillGrace.String(),
		LogPath:         DefaultLogPath,
		LogLevel:        DefaultLogLevel,
	}
}

// Load reads configuration from the specified YAML file path and overlays it
// onto Default(). Keys absent from the file keep their default values.
// Returns an error if the file cannot be read or the result is invalid.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOptional behaves like Load when path exists and returns Default()
// when it does not. Any other read error is returned.
func LoadOptional(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

// applyDefaults restores defaults for keys the file set to empty values.
func (c *Config) applyDefaults() {
	if c.RawDeadline == "" {
		c.RawDeadline = DefaultDeadline.String()
	}
	if c.RawKillGrace == "" {
		c.RawKillGrace = DefaultKillGrace.String()
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Notify.NATSServers != "" && c.Notify.NATSSubject == "" {
		c.Notify.NATSSubject = DefaultNATSSubject
	}
}

// Validate checks that required fields are present and durations parse.
func (c *Config) Validate() error {
	if c.TargetDirectory == "" {
		return ErrTargetDirectoryRequired
	}
	if c.InterpreterPath == "" {
		return ErrInterpreterRequired
	}
	if c.EntrypointPath == "" {
		return ErrEntrypointRequired
	}
	if c.LogPath == "" {
		return ErrLogPathRequired
	}
	if d, err := time.ParseDuration(c.RawDeadline); err != nil || d <= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidDeadline, c.RawDeadline)
	}
	if d, err := time.ParseDuration(c.RawKillGrace); err != nil || d <= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidKillGrace, c.RawKillGrace)
	}
	if c.Notify.NATSServers != "" && c.Notify.NATSNKeySeed == "" {
		return ErrNATSSeedRequired
	}
	return nil
}

// Deadline returns the configured worker deadline or the default.
func (c *Config) Deadline() time.Duration {
	if d, err := time.ParseDuration(c.RawDeadline); err == nil && d > 0 {
		return d
	}
	return DefaultDeadline
}

// KillGrace returns the configured SIGTERM-to-SIGKILL delay or the default.
func (c *Config) KillGrace() time.Duration {
	if d, err := time.ParseDuration(c.RawKillGrace); err == nil && d > 0 {
		return d
	}
	return DefaultKillGrace
}

// HistoryEnabled returns true if run records should be persisted.
func (c *Config) HistoryEnabled() bool {
	return c.HistoryPath != ""
}

// WebhookEnabled returns true if a webhook notifier is configured.
func (c *Config) WebhookEnabled() bool {
	return c.Notify.WebhookURL != ""
}

// NATSEnabled returns true if NATS configuration is present.
func (c *Config) NATSEnabled() bool {
	return c.Notify.NATSServers != "" && c.Notify.NATSNKeySeed != ""
}

// Save writes the configuration to the specified YAML file path.
// The file is created with 0600 permissions as it may contain an NKey seed.
func Save(path string, cfg *Config) error {
	data, err := goyaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config to %s: %w", path, err)
	}

	return nil
}
