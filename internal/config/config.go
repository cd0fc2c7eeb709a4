// Package config provides configuration loading and defaults for cronguard.
//
// Configuration is loaded from a TOML file, by default
// /etc/cronguard/config.toml. The package covers the lock policy, the task
// invocation, reserved exit codes, logging and the optional notify, metrics
// and history hooks, with defaults that make a bare "cronguard -- cmd"
// behave like flock -n.
package config

//go:generate go run ../../cmd/genconfig

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
	"tools.zach/dev/cronguard/internal/guard"
	"tools.zach/dev/cronguard/internal/lock"
	"tools.zach/dev/cronguard/internal/paths"
)

// CurrentVersion is the config schema version written by this build.
const CurrentVersion = 1

// Lock policy names accepted in lock.policy.
const (
	PolicyFailFast = "fail_fast"
	PolicyWait     = "wait"
)

// ///////////////////////////////////////////////
// Configuration Types
// ///////////////////////////////////////////////

// Config represents the top-level cronguard configuration.
type Config struct {
	// Version is the config schema version.
	Version int `toml:"version"`
	// Lock holds lock path and acquisition policy settings.
	Lock LockConfig `toml:"lock"`
	// Task describes the command to run under the lock.
	Task TaskConfig `toml:"task"`
	// ExitCodes holds the reserved exit statuses.
	ExitCodes ExitCodesConfig `toml:"exit_codes"`
	// Log holds logging settings.
	Log LogConfig `toml:"log"`
	// Notify holds monitoring ping settings.
	Notify NotifyConfig `toml:"notify"`
	// Metrics holds node-exporter textfile settings.
	Metrics MetricsConfig `toml:"metrics"`
	// History holds run ledger settings.
	History HistoryConfig `toml:"history"`
}

// LockConfig holds lock settings.
type LockConfig struct {
	// Path is the lock file. Empty derives a path from the task command.
	Path string `toml:"path"`
	// Policy is "fail_fast" or "wait".
	Policy string `toml:"policy"`
	// WaitTimeoutMS bounds the wait in "wait" mode.
	WaitTimeoutMS int `toml:"wait_timeout_ms"`
	// PollIntervalMS is how often a waiting guard retries the lock.
	PollIntervalMS int `toml:"poll_interval_ms"`
	// Inherit passes the lock descriptor to the task process.
	Inherit bool `toml:"inherit"`
	// WritePID records the holder's PID in the lock file.
	WritePID bool `toml:"write_pid"`
	// Perm is the octal mode used when the lock file is created.
	Perm string `toml:"perm"`
}

// TaskConfig describes the guarded command.
type TaskConfig struct {
	// Command is the executable to run.
	Command string `toml:"command"`
	// Args are passed to Command verbatim.
	Args []string `toml:"args"`
	// Dir is the working directory; empty keeps the guard's.
	Dir string `toml:"dir"`
	// EnvFile is a dotenv file applied on top of the inherited environment.
	EnvFile string `toml:"env_file"`
	// Env holds explicit environment assignments, applied last.
	Env map[string]string `toml:"env,omitempty"`
	// EnvDrop lists glob patterns of inherited variable names to remove.
	EnvDrop []string `toml:"env_drop"`
	// ForwardSignals relays SIGINT/SIGTERM to the running task.
	ForwardSignals bool `toml:"forward_signals"`
}

// ExitCodesConfig holds the statuses the guard exits with when the task did
// not run.
type ExitCodesConfig struct {
	// Busy is used when another instance holds the lock.
	Busy int `toml:"busy"`
	// Timeout is used when a bounded wait expires. 0 means "same as busy".
	Timeout int `toml:"timeout"`
	// LockFailure is used when the lock file cannot be opened or locked.
	LockFailure int `toml:"lock_failure"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum level written to the log file.
	Level string `toml:"level"`
	// StderrLevel is the minimum level written to stderr.
	StderrLevel string `toml:"stderr_level"`
	// File is the log file path. Empty disables file logging.
	File string `toml:"file"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation.
	MaxSizeMB int `toml:"max_size_mb"`
}

// NotifyConfig holds monitoring ping settings.
type NotifyConfig struct {
	// URL is the ping base URL. Empty disables pings.
	URL string `toml:"url"`
	// OnStart also pings <url>/start when the task launches.
	OnStart bool `toml:"on_start"`
	// TimeoutSeconds bounds each ping attempt.
	TimeoutSeconds int `toml:"timeout_seconds"`
	// Retries is the number of retries after a failed ping.
	Retries int `toml:"retries"`
}

// MetricsConfig holds Prometheus textfile settings.
type MetricsConfig struct {
	// Textfile is the .prom file rewritten after each run. Empty disables it.
	Textfile string `toml:"textfile"`
	// Job is the job label value.
	Job string `toml:"job"`
}

// HistoryConfig holds run ledger settings.
type HistoryConfig struct {
	// Path is the SQLite database file. Empty disables the ledger.
	Path string `toml:"path"`
	// Keep is the number of most recent runs retained.
	Keep int `toml:"keep"`
}

// ///////////////////////////////////////////////
// Default Configuration
// ///////////////////////////////////////////////

// DefaultConfig returns a Config populated with defaults. Optional hooks are
// disabled.
func DefaultConfig() *Config {
	codes := guard.DefaultExitCodes()
	return &Config{
		Version: CurrentVersion,
		Lock: LockConfig{
			Policy:         PolicyFailFast,
			WaitTimeoutMS:  1000,
			PollIntervalMS: int(lock.DefaultPollInterval / time.Millisecond),
			Inherit:        true,
			WritePID:       true,
			Perm:           "0644",
		},
		Task: TaskConfig{
			Args:           []string{},
			EnvDrop:        []string{},
			ForwardSignals: true,
		},
		ExitCodes: ExitCodesConfig{
			Busy:        codes.Busy,
			Timeout:     codes.Timeout,
			LockFailure: codes.LockFailure,
		},
		Log: LogConfig{
			Level:       "info",
			StderrLevel: "warn",
			MaxSizeMB:   10,
		},
		Notify: NotifyConfig{
			TimeoutSeconds: 10,
			Retries:        3,
		},
		Metrics: MetricsConfig{
			Job: paths.BinaryName,
		},
		History: HistoryConfig{
			Keep: 500,
		},
	}
}

// ///////////////////////////////////////////////
// Example Configuration
// ///////////////////////////////////////////////

// ExampleConfig returns a Config suitable for generating config.default.toml.
// It fills in a representative task and the state-directory locations so
// the generated file shows every knob.
func ExampleConfig() *Config {
	cfg := DefaultConfig()
	state := paths.DefaultDataDir()
	cfg.Lock.Path = "/run/lock/cronguard-podcast-sync.lock"
	cfg.Task.Command = "/usr/bin/python3"
	cfg.Task.Args = []string{"main.py", "--all"}
	cfg.Task.Dir = "/opt/podcast-sync"
	cfg.Log.File = state.Log()
	cfg.Metrics.Textfile = state.Metrics()
	cfg.History.Path = state.History()
	return cfg
}

// ///////////////////////////////////////////////
// PeekVersion
// ///////////////////////////////////////////////

// PeekVersion reads just the version field from raw TOML bytes.
// Returns 1 if the version field is missing or zero.
func PeekVersion(data []byte) int {
	var v struct {
		Version int `toml:"version"`
	}
	if err := toml.Unmarshal(data, &v); err != nil {
		return 1
	}
	if v.Version == 0 {
		return 1
	}
	return v.Version
}

// ///////////////////////////////////////////////
// Loading
// ///////////////////////////////////////////////

// Load reads and parses the configuration file at path. When the file does
// not exist, Load returns DefaultConfig unless required is set, in which case
// the missing file is an error.
func Load(path string, required bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if v := PeekVersion(data); v > CurrentVersion {
		return nil, fmt.Errorf("config version %d is newer than supported version %d", v, CurrentVersion)
	}

	cfg := DefaultConfig()
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("parse config: unknown keys: %s", strings.Join(keys, ", "))
	}
	cfg.Version = CurrentVersion

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// ///////////////////////////////////////////////
// Validation
// ///////////////////////////////////////////////

// validLogLevels is the set of accepted log level strings.
var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

// Validate checks that all configuration values are within acceptable ranges.
// It does not require a task command; see [Config.ValidateTask].
func (c *Config) Validate() error {
	switch c.Lock.Policy {
	case PolicyFailFast, PolicyWait:
	default:
		return fmt.Errorf("invalid lock.policy %q: must be fail_fast or wait", c.Lock.Policy)
	}

	if c.Lock.WaitTimeoutMS < 0 {
		return fmt.Errorf("wait_timeout_ms must be >= 0, got %d", c.Lock.WaitTimeoutMS)
	}

	if c.Lock.PollIntervalMS <= 0 {
		return fmt.Errorf("poll_interval_ms must be > 0, got %d", c.Lock.PollIntervalMS)
	}

	if _, err := parsePerm(c.Lock.Perm); err != nil {
		return err
	}

	for _, p := range c.Task.EnvDrop {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid task.env_drop pattern %q", p)
		}
	}

	if err := validExitCode("exit_codes.busy", c.ExitCodes.Busy, false); err != nil {
		return err
	}
	if err := validExitCode("exit_codes.timeout", c.ExitCodes.Timeout, true); err != nil {
		return err
	}
	if err := validExitCode("exit_codes.lock_failure", c.ExitCodes.LockFailure, false); err != nil {
		return err
	}
	if c.ExitCodes.Busy == c.ExitCodes.LockFailure {
		return fmt.Errorf("exit_codes.busy and exit_codes.lock_failure must differ, both are %d", c.ExitCodes.Busy)
	}
	if c.ExitCodes.Timeout != 0 && c.ExitCodes.Timeout == c.ExitCodes.LockFailure {
		return fmt.Errorf("exit_codes.timeout and exit_codes.lock_failure must differ, both are %d", c.ExitCodes.Timeout)
	}
	if c.ExitCodes.Busy == guard.ExitLaunchFailed || c.ExitCodes.Timeout == guard.ExitLaunchFailed ||
		c.ExitCodes.LockFailure == guard.ExitLaunchFailed {
		return fmt.Errorf("exit code %d is reserved for launch failures", guard.ExitLaunchFailed)
	}

	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log.level %q: must be trace, debug, info, warn, or error", c.Log.Level)
	}
	if !validLogLevels[strings.ToLower(c.Log.StderrLevel)] {
		return fmt.Errorf("invalid log.stderr_level %q: must be trace, debug, info, warn, or error", c.Log.StderrLevel)
	}
	if c.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("max_size_mb must be > 0, got %d", c.Log.MaxSizeMB)
	}

	if c.Notify.URL != "" && !strings.HasPrefix(c.Notify.URL, "http://") && !strings.HasPrefix(c.Notify.URL, "https://") {
		return fmt.Errorf("invalid notify.url %q: must be an http or https URL", c.Notify.URL)
	}
	if c.Notify.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout_seconds must be > 0, got %d", c.Notify.TimeoutSeconds)
	}
	if c.Notify.Retries < 0 {
		return fmt.Errorf("retries must be >= 0, got %d", c.Notify.Retries)
	}

	if c.History.Keep <= 0 {
		return fmt.Errorf("history.keep must be > 0, got %d", c.History.Keep)
	}

	return nil
}

// ValidateTask checks the settings needed to actually run a task.
func (c *Config) ValidateTask() error {
	if strings.TrimSpace(c.Task.Command) == "" {
		return errors.New("no task command: set task.command or pass the command after --")
	}
	return nil
}

func validExitCode(name string, code int, zeroOK bool) error {
	if code == 0 && zeroOK {
		return nil
	}
	if code < 1 || code > 255 {
		return fmt.Errorf("%s must be between 1 and 255, got %d", name, code)
	}
	return nil
}

// ///////////////////////////////////////////////
// Derived Settings
// ///////////////////////////////////////////////

// LockPath returns the configured lock path, or one derived from the task
// command line when unset.
func (c *Config) LockPath() string {
	if c.Lock.Path != "" {
		return c.Lock.Path
	}
	return paths.LockPathFor(c.Task.Command, c.Task.Args...)
}

// LockPolicy converts the lock settings to a [lock.Policy].
func (c *Config) LockPolicy() lock.Policy {
	if c.Lock.Policy == PolicyWait {
		return lock.WaitBounded(time.Duration(c.Lock.WaitTimeoutMS) * time.Millisecond)
	}
	return lock.FailFast()
}

// LockPerm returns the lock file creation mode. Invalid values fall back to
// 0644; [Config.Validate] rejects them.
func (c *Config) LockPerm() os.FileMode {
	perm, err := parsePerm(c.Lock.Perm)
	if err != nil {
		return 0o644
	}
	return perm
}

func parsePerm(s string) (os.FileMode, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0o"), 8, 32)
	if err != nil || v > 0o777 {
		return 0, fmt.Errorf("invalid lock.perm %q: must be an octal mode such as \"0644\"", s)
	}
	if v&0o600 != 0o600 {
		return 0, fmt.Errorf("invalid lock.perm %q: owner must have read and write permission", s)
	}
	return os.FileMode(v), nil
}

// PollInterval returns the lock retry interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Lock.PollIntervalMS) * time.Millisecond
}

// GuardExitCodes converts the exit code settings to [guard.ExitCodes].
func (c *Config) GuardExitCodes() guard.ExitCodes {
	return guard.ExitCodes{
		Busy:        c.ExitCodes.Busy,
		Timeout:     c.ExitCodes.Timeout,
		LockFailure: c.ExitCodes.LockFailure,
	}
}

// EnvSpec returns the task environment settings.
func (c *Config) EnvSpec() guard.EnvSpec {
	return guard.EnvSpec{
		Drop: c.Task.EnvDrop,
		File: c.Task.EnvFile,
		Set:  c.Task.Env,
	}
}

// NotifyTimeout returns the per-attempt ping timeout.
func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.Notify.TimeoutSeconds) * time.Second
}
