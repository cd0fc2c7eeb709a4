package guard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tools.zach/dev/cronguard/internal/lock"
	"tools.zach/dev/cronguard/internal/logger"
)

// ///////////////////////////////////////////////
// Helpers
// ///////////////////////////////////////////////

type recorder struct {
	mu       sync.Mutex
	starts   []StartEvent
	finishes []Result
	err      error
}

func (r *recorder) OnStart(_ context.Context, ev StartEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts = append(r.starts, ev)
	return r.err
}

func (r *recorder) OnFinish(_ context.Context, res Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finishes = append(r.finishes, res)
	return r.err
}

type fixture struct {
	dir    string
	lock   string
	marker string
}

func newFixture(t *testing.T) fixture {
	dir := t.TempDir()
	return fixture{
		dir:    dir,
		lock:   filepath.Join(dir, "task.lock"),
		marker: filepath.Join(dir, "launches"),
	}
}

func (f fixture) guard(task Task, policy lock.Policy, obs ...Observer) *Guard {
	return New(lock.New(f.lock, lock.WithPollInterval(10*time.Millisecond)), Options{
		Policy:         policy,
		Task:           task,
		InheritLock:    true,
		ForwardSignals: true,
		Observers:      obs,
	})
}

func (f fixture) hold(t *testing.T) *lock.Handle {
	t.Helper()
	h, err := lock.New(f.lock).Acquire(context.Background(), lock.FailFast())
	require.NoError(t, err)
	t.Cleanup(func() { h.Release() })
	return h
}

// ///////////////////////////////////////////////
// Exit status propagation
// ///////////////////////////////////////////////

func TestRun_PropagatesTaskExitCode(t *testing.T) {
	for _, code := range []int{0, 1, 7, 255} {
		t.Run(fmt.Sprint(code), func(t *testing.T) {
			f := newFixture(t)
			res := f.guard(helperTask(t, f.marker, "exit", fmt.Sprint(code)), lock.FailFast()).Run(context.Background(), nil)

			assert.Equal(t, OutcomeRan, res.Outcome)
			assert.Equal(t, code, res.ExitCode)
			assert.Equal(t, code, res.TaskExitCode)
			assert.Empty(t, res.Signal)
			assert.NoError(t, res.Err)
			assert.Equal(t, 1, launches(t, f.marker))
		})
	}
}

func TestRun_LaunchFailure(t *testing.T) {
	f := newFixture(t)
	task := Task{Command: filepath.Join(f.dir, "does-not-exist")}
	res := f.guard(task, lock.FailFast()).Run(context.Background(), nil)

	assert.Equal(t, OutcomeLaunchFailed, res.Outcome)
	assert.Equal(t, ExitLaunchFailed, res.ExitCode)
	assert.Error(t, res.Err)

	h, err := lock.New(f.lock).Acquire(context.Background(), lock.FailFast())
	require.NoError(t, err, "lock must be released after a launch failure")
	h.Release()
}

// ///////////////////////////////////////////////
// Contention
// ///////////////////////////////////////////////

func TestRun_FailFastBusyNeverLaunches(t *testing.T) {
	f := newFixture(t)
	f.hold(t)

	start := time.Now()
	res := f.guard(helperTask(t, f.marker, "exit", "0"), lock.FailFast()).Run(context.Background(), nil)

	assert.Equal(t, OutcomeBusy, res.Outcome)
	assert.Equal(t, 75, res.ExitCode)
	assert.True(t, res.Outcome.Skipped())
	assert.Zero(t, launches(t, f.marker))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRun_WaitBoundedTimesOut(t *testing.T) {
	f := newFixture(t)
	f.hold(t)

	g := New(lock.New(f.lock, lock.WithPollInterval(10*time.Millisecond)), Options{
		Policy:    lock.WaitBounded(200 * time.Millisecond),
		Task:      helperTask(t, f.marker, "exit", "0"),
		ExitCodes: ExitCodes{Busy: 75, Timeout: 76, LockFailure: 71},
	})

	start := time.Now()
	res := g.Run(context.Background(), nil)
	elapsed := time.Since(start)

	assert.Equal(t, OutcomeTimedOut, res.Outcome)
	assert.Equal(t, 76, res.ExitCode)
	assert.Zero(t, launches(t, f.marker))
	assert.GreaterOrEqual(t, elapsed, 180*time.Millisecond)
	assert.Less(t, elapsed, 1*time.Second)
}

func TestRun_TimeoutCodeDefaultsToBusy(t *testing.T) {
	f := newFixture(t)
	f.hold(t)

	g := New(lock.New(f.lock), Options{
		Policy:    lock.WaitBounded(20 * time.Millisecond),
		Task:      helperTask(t, f.marker, "exit", "0"),
		ExitCodes: ExitCodes{Busy: 99, LockFailure: 98},
	})
	res := g.Run(context.Background(), nil)
	assert.Equal(t, OutcomeTimedOut, res.Outcome)
	assert.Equal(t, 99, res.ExitCode)
}

func TestRun_WaitBoundedRunsOnceFree(t *testing.T) {
	f := newFixture(t)
	h := f.hold(t)
	go func() {
		time.Sleep(100 * time.Millisecond)
		h.Release()
	}()

	res := f.guard(helperTask(t, f.marker, "exit", "3"), lock.WaitBounded(5*time.Second)).Run(context.Background(), nil)
	assert.Equal(t, OutcomeRan, res.Outcome)
	assert.Equal(t, 3, res.ExitCode)
}

func TestRun_SignalAbortsLockWait(t *testing.T) {
	f := newFixture(t)
	f.hold(t)

	signals := make(chan os.Signal, 1)
	go func() {
		time.Sleep(50 * time.Millisecond)
		signals <- os.Interrupt
	}()

	start := time.Now()
	res := f.guard(helperTask(t, f.marker, "exit", "0"), lock.WaitBounded(10*time.Second)).Run(context.Background(), signals)

	assert.Equal(t, OutcomeTimedOut, res.Outcome)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Zero(t, launches(t, f.marker))
}

func TestRun_NoDoubleLaunch(t *testing.T) {
	f := newFixture(t)
	task := helperTask(t, f.marker, "sleep", "500ms")

	first := make(chan Result, 1)
	go func() { first <- f.guard(task, lock.FailFast()).Run(context.Background(), nil) }()
	waitForLaunch(t, f.marker)

	second := f.guard(task, lock.FailFast()).Run(context.Background(), nil)
	assert.Equal(t, OutcomeBusy, second.Outcome)

	assert.Equal(t, OutcomeRan, (<-first).Outcome)
	assert.Equal(t, 1, launches(t, f.marker))
}

func TestRun_ConcurrentGuardsNeverOverlap(t *testing.T) {
	f := newFixture(t)
	task := helperTask(t, f.marker, "sleep", "300ms")

	const n = 4
	results := make(chan Result, n)
	for range n {
		go func() { results <- f.guard(task, lock.FailFast()).Run(context.Background(), nil) }()
	}

	var ran, busy int
	for range n {
		switch (<-results).Outcome {
		case OutcomeRan:
			ran++
		case OutcomeBusy:
			busy++
		}
	}
	assert.Equal(t, ran, launches(t, f.marker))
	assert.GreaterOrEqual(t, ran, 1)
	assert.Equal(t, n, ran+busy)
}

// ///////////////////////////////////////////////
// Lock lifetime
// ///////////////////////////////////////////////

func TestRun_LockHeldWhileTaskRuns(t *testing.T) {
	f := newFixture(t)
	done := make(chan Result, 1)
	go func() {
		done <- f.guard(helperTask(t, f.marker, "sleep", "500ms"), lock.FailFast()).Run(context.Background(), nil)
	}()
	waitForLaunch(t, f.marker)

	_, err := lock.New(f.lock).Acquire(context.Background(), lock.FailFast())
	assert.ErrorIs(t, err, lock.ErrBusy)

	res := <-done
	require.Equal(t, OutcomeRan, res.Outcome)

	h, err := lock.New(f.lock).Acquire(context.Background(), lock.FailFast())
	require.NoError(t, err, "lock must be free once the run completed")
	h.Release()
}

func TestRun_LockFailureIsDistinct(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "launches")
	var logs bytes.Buffer
	g := New(lock.New(filepath.Join(dir, "missing", "task.lock")), Options{
		Policy: lock.FailFast(),
		Task:   helperTask(t, marker, "exit", "0"),
		Logger: slog.New(logger.NewHandler(&logs, logger.LevelWarn)),
	})

	res := g.Run(context.Background(), nil)
	assert.Equal(t, OutcomeLockFailed, res.Outcome)
	assert.Equal(t, 71, res.ExitCode)
	assert.NotEqual(t, DefaultExitCodes().Busy, res.ExitCode)
	var lockErr *lock.Error
	assert.True(t, errors.As(res.Err, &lockErr))
	assert.Zero(t, launches(t, marker))
	assert.Contains(t, logs.String(), "[FAIL] lock infrastructure failure")
}

func TestRun_TracesLockAcquisition(t *testing.T) {
	f := newFixture(t)
	var logs bytes.Buffer
	g := New(lock.New(f.lock), Options{
		Policy: lock.FailFast(),
		Task:   helperTask(t, f.marker, "exit", "0"),
		Logger: slog.New(logger.NewHandler(&logs, logger.LevelTrace)),
	})

	res := g.Run(context.Background(), nil)
	require.Equal(t, OutcomeRan, res.Outcome)
	assert.Contains(t, logs.String(), "[TRACE] lock acquired")
	assert.NotContains(t, logs.String(), "[FAIL]")
}

// ///////////////////////////////////////////////
// Task invocation
// ///////////////////////////////////////////////

func TestRun_ExportsRunIdentity(t *testing.T) {
	f := newFixture(t)
	var out bytes.Buffer
	g := New(lock.New(f.lock), Options{
		Policy: lock.FailFast(),
		Task:   helperTask(t, "", "env", EnvRunID),
		Stdout: &out,
	})

	res := g.Run(context.Background(), nil)
	require.Equal(t, 0, res.ExitCode)
	assert.Equal(t, res.RunID, out.String())
	assert.Equal(t, f.lock, res.LockPath)
}

func TestRun_UsesWorkingDirectory(t *testing.T) {
	f := newFixture(t)
	wd := t.TempDir()
	task := helperTask(t, "", "pwd")
	task.Dir = wd

	var out bytes.Buffer
	g := New(lock.New(f.lock), Options{Policy: lock.FailFast(), Task: task, Stdout: &out})
	require.Equal(t, 0, g.Run(context.Background(), nil).ExitCode)

	want, err := filepath.EvalSymlinks(wd)
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(out.String())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

// ///////////////////////////////////////////////
// Observers
// ///////////////////////////////////////////////

func TestRun_ObserversSeeLifecycle(t *testing.T) {
	f := newFixture(t)
	rec := &recorder{}
	res := f.guard(helperTask(t, f.marker, "exit", "5"), lock.FailFast(), rec).Run(context.Background(), nil)

	require.Len(t, rec.starts, 1)
	require.Len(t, rec.finishes, 1)
	assert.Equal(t, res.RunID, rec.starts[0].RunID)
	assert.Equal(t, res.PID, rec.starts[0].PID)
	assert.Equal(t, 5, rec.finishes[0].ExitCode)
	assert.False(t, rec.finishes[0].Finished.IsZero())
}

func TestRun_ObserversNotStartedWhenBusy(t *testing.T) {
	f := newFixture(t)
	f.hold(t)
	rec := &recorder{}
	f.guard(helperTask(t, f.marker, "exit", "0"), lock.FailFast(), rec).Run(context.Background(), nil)

	assert.Empty(t, rec.starts)
	require.Len(t, rec.finishes, 1)
	assert.Equal(t, OutcomeBusy, rec.finishes[0].Outcome)
}

func TestRun_ObserverErrorsDoNotChangeExitCode(t *testing.T) {
	f := newFixture(t)
	rec := &recorder{err: errors.New("hook down")}
	res := f.guard(helperTask(t, f.marker, "exit", "0"), lock.FailFast(), rec).Run(context.Background(), nil)
	assert.Equal(t, 0, res.ExitCode)
}

func TestRun_ObserverSeesReleasedLock(t *testing.T) {
	f := newFixture(t)
	inspector := &lockInspector{path: f.lock}
	f.guard(helperTask(t, "", "exit", "0"), lock.FailFast(), inspector).Run(context.Background(), nil)
	assert.False(t, inspector.heldAtFinish)
}

type lockInspector struct {
	path         string
	heldAtFinish bool
}

func (p *lockInspector) OnStart(context.Context, StartEvent) error { return nil }

func (p *lockInspector) OnFinish(context.Context, Result) error {
	held, _, err := lock.New(p.path).Inspect()
	p.heldAtFinish = held
	return err
}

// ///////////////////////////////////////////////
// Misc
// ///////////////////////////////////////////////

func TestTaskString(t *testing.T) {
	assert.Equal(t, "python", Task{Command: "python"}.String())
	assert.Equal(t, "python main.py --all", Task{Command: "python", Args: []string{"main.py", "--all"}}.String())
}

func TestResultDuration(t *testing.T) {
	start := time.Now()
	assert.Zero(t, Result{Started: start}.Duration())
	assert.Equal(t, time.Second, Result{Started: start, Finished: start.Add(time.Second)}.Duration())
}

func TestNew_DefaultsExitCodes(t *testing.T) {
	g := New(lock.New("x"), Options{})
	assert.Equal(t, DefaultExitCodes(), g.opts.ExitCodes)
}
