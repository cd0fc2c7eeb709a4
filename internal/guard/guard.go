// Package guard runs a task process under an exclusive lock so overlapping
// scheduler firings never execute it concurrently, and folds every outcome
// into a single process exit status.
package guard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"tools.zach/dev/cronguard/internal/lock"
	"tools.zach/dev/cronguard/internal/logger"
)

// ///////////////////////////////////////////////
// Exit Codes
// ///////////////////////////////////////////////

// ExitLaunchFailed is returned when the task process could not be started
// (command missing or not executable), following the shell convention.
const ExitLaunchFailed = 127

// ExitCodes holds the reserved exit statuses the guard uses when the task
// did not run.
type ExitCodes struct {
	// Busy is used when another instance holds the lock (fail-fast policy).
	Busy int
	// Timeout is used when a bounded wait expires. Zero means "same as Busy".
	Timeout int
	// LockFailure is used when the lock path itself cannot be opened or locked.
	LockFailure int
}

// DefaultExitCodes returns EX_TEMPFAIL for busy/timeout and EX_OSERR for lock
// infrastructure failures (sysexits.h).
func DefaultExitCodes() ExitCodes {
	return ExitCodes{Busy: 75, Timeout: 75, LockFailure: 71}
}

func (c ExitCodes) timeout() int {
	if c.Timeout == 0 {
		return c.Busy
	}
	return c.Timeout
}

// ///////////////////////////////////////////////
// Result
// ///////////////////////////////////////////////

// Outcome names what happened during one guarded invocation.
type Outcome string

const (
	OutcomeRan          Outcome = "ran"
	OutcomeBusy         Outcome = "busy"
	OutcomeTimedOut     Outcome = "timed_out"
	OutcomeLockFailed   Outcome = "lock_failed"
	OutcomeLaunchFailed Outcome = "launch_failed"
)

// Skipped reports whether the outcome means "another instance is running,
// try next cycle".
func (o Outcome) Skipped() bool {
	return o == OutcomeBusy || o == OutcomeTimedOut
}

// Result describes one guarded invocation.
type Result struct {
	RunID    string
	Outcome  Outcome
	Command  string
	LockPath string
	// ExitCode is the status the guard process should exit with.
	ExitCode int
	// TaskExitCode is the task's own status; meaningful only for OutcomeRan.
	TaskExitCode int
	// Signal names the signal that killed the task, if any.
	Signal   string
	PID      int
	Started  time.Time
	Finished time.Time
	// Err is set for lock and launch failures.
	Err error
}

// Duration is the wall time between the start of acquisition and the end of
// the invocation.
func (r Result) Duration() time.Duration {
	if r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

// ///////////////////////////////////////////////
// Guard
// ///////////////////////////////////////////////

// Locker is the subset of [lock.Manager] the guard depends on.
type Locker interface {
	Acquire(ctx context.Context, p lock.Policy) (*lock.Handle, error)
}

// Options configures a [Guard].
type Options struct {
	Policy    lock.Policy
	Task      Task
	ExitCodes ExitCodes
	// InheritLock passes the lock descriptor to the task so the lock stays
	// held for as long as the task lives, even if the guard is killed.
	InheritLock bool
	// ForwardSignals relays signals received while the task runs.
	ForwardSignals bool

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	Logger    *slog.Logger
	Observers []Observer
}

// Guard sequences lock acquisition, task execution and lock release.
type Guard struct {
	locker Locker
	opts   Options
	log    *slog.Logger
}

// New returns a Guard that takes its lock from locker.
func New(locker Locker, opts Options) *Guard {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.ExitCodes == (ExitCodes{}) {
		opts.ExitCodes = DefaultExitCodes()
	}
	return &Guard{locker: locker, opts: opts, log: log}
}

// Run performs one guarded invocation. Signals delivered on signals abort a
// bounded lock wait, and are forwarded to the task while it runs when
// ForwardSignals is set. Run never exits the process; the caller should exit
// with Result.ExitCode.
func (g *Guard) Run(ctx context.Context, signals <-chan os.Signal) (res Result) {
	res = Result{
		RunID:   uuid.NewString(),
		Command: g.opts.Task.String(),
		Started: time.Now(),
	}
	if lp, ok := g.locker.(interface{ Path() string }); ok {
		res.LockPath = lp.Path()
	}
	log := g.log.With("run_id", res.RunID)

	defer func() {
		res.Finished = time.Now()
		g.finish(ctx, log, res)
	}()

	h, err := g.acquire(ctx, log, signals)
	switch lock.OutcomeOf(err) {
	case lock.Busy:
		res.Outcome, res.ExitCode = OutcomeBusy, g.opts.ExitCodes.Busy
		return res
	case lock.TimedOut:
		res.Outcome, res.ExitCode = OutcomeTimedOut, g.opts.ExitCodes.timeout()
		return res
	case lock.IOError:
		res.Outcome, res.ExitCode, res.Err = OutcomeLockFailed, g.opts.ExitCodes.LockFailure, err
		return res
	}
	if res.LockPath == "" {
		res.LockPath = h.Path()
	}
	logger.Trace(log, "lock acquired", "path", h.Path(), "policy", g.opts.Policy.String())

	// Runs before the finish hook above: observers see a released lock.
	defer func() {
		if err := h.Release(); err != nil {
			log.Warn("failed to release lock", "path", h.Path(), "error", err)
		}
	}()

	cmd := g.opts.Task.command(res.RunID, h.Path())
	cmd.Stdin, cmd.Stdout, cmd.Stderr = g.opts.Stdin, g.opts.Stdout, g.opts.Stderr
	if g.opts.InheritLock {
		inheritLock(cmd, h.File())
	}

	if err := cmd.Start(); err != nil {
		res.Outcome, res.ExitCode, res.Err = OutcomeLaunchFailed, ExitLaunchFailed, err
		return res
	}
	res.PID = cmd.Process.Pid
	log.Debug("task started", "pid", res.PID, "command", res.Command)
	g.start(ctx, log, StartEvent{RunID: res.RunID, PID: res.PID, Command: res.Command, Started: res.Started})

	waitErr := g.wait(cmd, log, signals)
	if cmd.ProcessState == nil {
		res.Outcome, res.ExitCode, res.Err = OutcomeLaunchFailed, ExitLaunchFailed, waitErr
		return res
	}
	res.Outcome = OutcomeRan
	res.TaskExitCode, res.Signal = exitStatus(cmd.ProcessState)
	res.ExitCode = res.TaskExitCode
	return res
}

// acquire takes the lock under the configured policy. A signal arriving
// before the lock is obtained abandons the attempt.
func (g *Guard) acquire(ctx context.Context, log *slog.Logger, signals <-chan os.Signal) (*lock.Handle, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var interrupted atomic.Bool
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		select {
		case sig := <-signals:
			log.Info("signal received while waiting for lock", "signal", sig)
			interrupted.Store(true)
			cancel()
		case <-done:
		}
	}()

	h, err := g.locker.Acquire(ctx, g.opts.Policy)
	close(done)
	<-stopped

	if err == nil && interrupted.Load() {
		if relErr := h.Release(); relErr != nil {
			log.Warn("failed to release lock", "path", h.Path(), "error", relErr)
		}
		return nil, errors.Join(lock.ErrTimeout, context.Canceled)
	}
	return h, err
}

// wait blocks until the task exits, relaying signals in the meantime.
func (g *Guard) wait(cmd *exec.Cmd, log *slog.Logger, signals <-chan os.Signal) error {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	for {
		select {
		case err := <-done:
			return err
		case sig := <-signals:
			if !g.opts.ForwardSignals {
				log.Info("signal received, waiting for task to finish", "signal", sig)
				continue
			}
			if err := cmd.Process.Signal(sig); err != nil {
				log.Warn("failed to forward signal", "signal", sig, "error", err)
				continue
			}
			log.Info("forwarded signal to task", "signal", sig, "pid", cmd.Process.Pid)
		}
	}
}

// ///////////////////////////////////////////////
// Reporting
// ///////////////////////////////////////////////

func (g *Guard) start(ctx context.Context, log *slog.Logger, ev StartEvent) {
	for _, o := range g.opts.Observers {
		if err := o.OnStart(ctx, ev); err != nil {
			log.Warn("start hook failed", "hook", observerName(o), "error", err)
		}
	}
}

func (g *Guard) finish(ctx context.Context, log *slog.Logger, res Result) {
	attrs := []any{
		"outcome", string(res.Outcome),
		"exit_code", res.ExitCode,
		"duration", res.Duration().Round(time.Millisecond),
	}
	switch res.Outcome {
	case OutcomeBusy, OutcomeTimedOut:
		log.Info("another instance holds the lock, skipping this cycle", append(attrs, "policy", g.opts.Policy.String())...)
	case OutcomeLockFailed:
		logger.Fail(log, "lock infrastructure failure", append(attrs, "error", res.Err)...)
	case OutcomeLaunchFailed:
		log.Error("task could not be started", append(attrs, "command", res.Command, "error", res.Err)...)
	case OutcomeRan:
		if res.Signal != "" {
			attrs = append(attrs, "signal", res.Signal)
		}
		if res.ExitCode == 0 {
			log.Info("task finished", attrs...)
		} else {
			log.Warn("task failed", attrs...)
		}
	}

	for _, o := range g.opts.Observers {
		if err := o.OnFinish(ctx, res); err != nil {
			log.Warn("finish hook failed", "hook", observerName(o), "error", err)
		}
	}
}
