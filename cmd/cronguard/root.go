package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"tools.zach/dev/cronguard/internal/config"
	"tools.zach/dev/cronguard/internal/guard"
	"tools.zach/dev/cronguard/internal/history"
	"tools.zach/dev/cronguard/internal/lock"
	"tools.zach/dev/cronguard/internal/logger"
	"tools.zach/dev/cronguard/internal/metrics"
	"tools.zach/dev/cronguard/internal/notify"
	"tools.zach/dev/cronguard/internal/paths"
)

// ///////////////////////////////////////////////
// Flags
// ///////////////////////////////////////////////

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	lockPath   string
}

// runFlags override config values for a guarded run.
type runFlags struct {
	wait     time.Duration
	failFast bool
	dir      string
	envFile  string
	logLevel string
}

// ///////////////////////////////////////////////
// Root Command
// ///////////////////////////////////////////////

func newRootCmd() *cobra.Command {
	var (
		gf globalFlags
		rf runFlags
	)

	root := &cobra.Command{
		Use:   "cronguard [flags] [--] command [args...]",
		Short: "Run a task under an exclusive lock so it never overlaps itself",
		Long: `cronguard takes an exclusive lock on a lock file, runs the task, and
releases the lock when the task exits. If another instance already holds
the lock, cronguard exits with the busy code (75) without starting the task,
or with --wait retries for a bounded time first.

The task's own exit status is passed through unchanged. Reserved statuses:
  75   another instance holds the lock (busy or wait timed out)
  71   the lock file could not be opened or locked
  127  the task could not be started
  78   configuration error
  64   usage error

The command may come from the config file (task.command) or from the
arguments; arguments replace the configured command and args.`,
		Example: `  cronguard -- python3 main.py --all
  cronguard --lock /run/lock/podcast.lock --wait 30s -- ./sync.sh
  cronguard --config /etc/cronguard/podcast.toml`,
		Version:       resolveVersion(),
		Args:          cobra.ArbitraryArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGuard(cmd, gf, rf, args)
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	pf := root.PersistentFlags()
	pf.StringVarP(&gf.configPath, "config", "c", "", "config file (default $"+paths.EnvConfig+" or "+paths.DefaultConfigPath()+")")
	pf.StringVarP(&gf.lockPath, "lock", "l", "", "lock file (overrides lock.path)")

	f := root.Flags()
	f.SetInterspersed(false)
	f.DurationVarP(&rf.wait, "wait", "w", 0, "wait up to this long for the lock instead of failing fast")
	f.BoolVarP(&rf.failFast, "fail-fast", "n", false, "exit immediately if the lock is held")
	f.StringVarP(&rf.dir, "dir", "C", "", "working directory for the task")
	f.StringVar(&rf.envFile, "env-file", "", "dotenv file applied to the task environment")
	f.StringVar(&rf.logLevel, "log-level", "", "stderr log level (trace, debug, info, warn, error)")
	root.MarkFlagsMutuallyExclusive("wait", "fail-fast")

	root.AddCommand(
		newStatusCmd(&gf),
		newHistoryCmd(&gf),
		newLogsCmd(&gf),
		newInitConfigCmd(&gf),
		newVersionCmd(),
	)
	return root
}

// ///////////////////////////////////////////////
// Config Resolution
// ///////////////////////////////////////////////

// loadConfig resolves and loads the config file. Errors are config errors.
func loadConfig(gf globalFlags) (*config.Config, error) {
	path, explicit := paths.ResolveConfig(gf.configPath)
	cfg, err := config.Load(path, explicit)
	if err != nil {
		return nil, configError(err)
	}
	if gf.lockPath != "" {
		cfg.Lock.Path = gf.lockPath
	}
	return cfg, nil
}

// applyRunFlags folds command-line overrides into cfg.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config, rf runFlags, args []string) {
	if len(args) > 0 {
		cfg.Task.Command = args[0]
		cfg.Task.Args = args[1:]
	}
	if cmd.Flags().Changed("wait") {
		cfg.Lock.Policy = config.PolicyWait
		cfg.Lock.WaitTimeoutMS = int(rf.wait / time.Millisecond)
	}
	if rf.failFast {
		cfg.Lock.Policy = config.PolicyFailFast
	}
	if rf.dir != "" {
		cfg.Task.Dir = rf.dir
	}
	if rf.envFile != "" {
		cfg.Task.EnvFile = rf.envFile
	}
	if rf.logLevel != "" {
		cfg.Log.StderrLevel = rf.logLevel
	}
}

// newLogger builds the stderr + file logger described by cfg.
func newLogger(cfg *config.Config, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	return logger.NewLogger(logger.Options{
		Stderr:      stderr,
		StderrLevel: logger.ParseLevel(cfg.Log.StderrLevel),
		File:        cfg.Log.File,
		FileLevel:   logger.ParseLevel(cfg.Log.Level),
		MaxSizeMB:   cfg.Log.MaxSizeMB,
	})
}

// ///////////////////////////////////////////////
// Guarded Run
// ///////////////////////////////////////////////

func runGuard(cmd *cobra.Command, gf globalFlags, rf runFlags, args []string) error {
	cfg, err := loadConfig(gf)
	if err != nil {
		return err
	}
	applyRunFlags(cmd, cfg, rf, args)
	if err := cfg.ValidateTask(); err != nil {
		return usageError(err)
	}
	if err := cfg.Validate(); err != nil {
		return configError(err)
	}

	log, closer, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return configError(err)
	}
	defer closer.Close()

	// Built before the lock is taken: a bad env file never touches the lock.
	env, err := guard.BuildEnv(os.Environ(), cfg.EnvSpec())
	if err != nil {
		return configError(err)
	}

	observers, cleanup := buildObservers(cfg, log)
	defer cleanup()

	locker := lock.New(cfg.LockPath(),
		lock.WithPollInterval(cfg.PollInterval()),
		lock.WithPID(cfg.Lock.WritePID),
		lock.WithPerm(cfg.LockPerm()),
	)
	g := guard.New(locker, guard.Options{
		Policy: cfg.LockPolicy(),
		Task: guard.Task{
			Command: cfg.Task.Command,
			Args:    cfg.Task.Args,
			Dir:     cfg.Task.Dir,
			Env:     env,
		},
		ExitCodes:      cfg.GuardExitCodes(),
		InheritLock:    cfg.Lock.Inherit,
		ForwardSignals: cfg.Task.ForwardSignals,
		Stdin:          cmd.InOrStdin(),
		Stdout:         cmd.OutOrStdout(),
		Stderr:         cmd.ErrOrStderr(),
		Logger:         log,
		Observers:      observers,
	})

	signals, stop := signalChannel()
	defer stop()

	log.Debug("cronguard starting", "version", resolveVersion(), "lock", locker.Path(), "policy", cfg.LockPolicy().String())
	res := g.Run(context.Background(), signals)
	if res.ExitCode != 0 {
		return &exitError{code: res.ExitCode}
	}
	return nil
}

// buildObservers wires the optional run hooks. A hook that cannot be set up
// is logged and skipped; it never prevents the task from running.
func buildObservers(cfg *config.Config, log *slog.Logger) ([]guard.Observer, func()) {
	var (
		observers []guard.Observer
		closers   []func() error
	)

	if cfg.History.Path != "" {
		store, err := history.Open(cfg.History.Path, cfg.History.Keep)
		if err != nil {
			log.Warn("run history disabled", "path", cfg.History.Path, "error", err)
		} else {
			observers = append(observers, store)
			closers = append(closers, store.Close)
		}
	}
	if cfg.Metrics.Textfile != "" {
		observers = append(observers, metrics.NewTextfile(cfg.Metrics.Textfile, cfg.Metrics.Job))
	}
	if cfg.Notify.URL != "" {
		observers = append(observers, notify.New(notify.Options{
			URL:       cfg.Notify.URL,
			OnStart:   cfg.Notify.OnStart,
			Timeout:   cfg.NotifyTimeout(),
			Retries:   cfg.Notify.Retries,
			Logger:    log.With("hook", "notify"),
			UserAgent: paths.BinaryName + "/" + resolveVersion(),
		}))
	}

	return observers, func() {
		for _, c := range closers {
			if err := c(); err != nil && !errors.Is(err, os.ErrClosed) {
				log.Warn("failed to close hook", "error", err)
			}
		}
	}
}

// requireSetting returns a config error when value is empty.
func requireSetting(value, key string) error {
	if value == "" {
		return configError(fmt.Errorf("%s is not configured", key))
	}
	return nil
}
