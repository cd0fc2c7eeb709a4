package history

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tools.zach/dev/cronguard/internal/guard"
)

func openStore(t *testing.T, keep int) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "history.db")
	s, err := Open(path, keep)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func run(id string, outcome guard.Outcome, code int) guard.Result {
	start := time.Date(2026, 10, 17, 3, 0, 0, 0, time.UTC)
	return guard.Result{
		RunID:        id,
		Outcome:      outcome,
		Command:      "python3 main.py --all",
		LockPath:     "/run/lock/podcast.lock",
		ExitCode:     code,
		TaskExitCode: code,
		PID:          4242,
		Started:      start,
		Finished:     start.Add(90 * time.Second),
	}
}

func TestAppendAndList(t *testing.T) {
	s, _ := openStore(t, 100)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, run("a", guard.OutcomeRan, 0)))
	busy := run("b", guard.OutcomeBusy, 75)
	busy.Finished = busy.Started
	require.NoError(t, s.Append(ctx, busy))

	runs, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "b", runs[0].RunID, "most recent first")
	assert.Equal(t, guard.OutcomeBusy, runs[0].Outcome)
	assert.Equal(t, 75, runs[0].ExitCode)
	assert.Zero(t, runs[0].PID, "pid only recorded for launched tasks")

	a := runs[1]
	assert.Equal(t, guard.OutcomeRan, a.Outcome)
	assert.Equal(t, 90*time.Second, a.Duration)
	assert.Equal(t, 4242, a.PID)
	assert.Equal(t, "python3 main.py --all", a.Command)
	assert.True(t, a.Started.Equal(run("a", guard.OutcomeRan, 0).Started))
}

func TestAppend_RecordsErrorsAndSignals(t *testing.T) {
	s, _ := openStore(t, 100)
	ctx := context.Background()

	killed := run("k", guard.OutcomeRan, 137)
	killed.Signal = "killed"
	require.NoError(t, s.Append(ctx, killed))

	failed := run("f", guard.OutcomeLockFailed, 71)
	failed.Err = errors.New("lock open /run/lock/x: permission denied")
	require.NoError(t, s.Append(ctx, failed))

	runs, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Contains(t, runs[0].Error, "permission denied")
	assert.Equal(t, "killed", runs[1].Signal)
}

func TestAppend_PrunesBeyondKeep(t *testing.T) {
	s, _ := openStore(t, 3)
	ctx := context.Background()
	for i := range 5 {
		require.NoError(t, s.Append(ctx, run(fmt.Sprint(i), guard.OutcomeRan, 0)))
	}

	runs, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, []string{"4", "3", "2"}, []string{runs[0].RunID, runs[1].RunID, runs[2].RunID})
}

func TestList_Limit(t *testing.T) {
	s, _ := openStore(t, 0)
	ctx := context.Background()
	for i := range 4 {
		require.NoError(t, s.Append(ctx, run(fmt.Sprint(i), guard.OutcomeRan, 0)))
	}
	runs, err := s.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestOnFinish_Appends(t *testing.T) {
	s, _ := openStore(t, 10)
	var obs guard.Observer = s
	require.NoError(t, obs.OnStart(context.Background(), guard.StartEvent{}))
	require.NoError(t, obs.OnFinish(context.Background(), run("x", guard.OutcomeTimedOut, 75)))

	runs, err := s.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, guard.OutcomeTimedOut, runs[0].Outcome)
}

func TestReopenKeepsRows(t *testing.T) {
	s, path := openStore(t, 10)
	require.NoError(t, s.Append(context.Background(), run("a", guard.OutcomeRan, 0)))
	require.NoError(t, s.Close())

	s2, err := Open(path, 10)
	require.NoError(t, err)
	defer s2.Close()
	runs, err := s2.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestConcurrentWriters(t *testing.T) {
	_, path := openStore(t, 100)

	var wg sync.WaitGroup
	for i := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := Open(path, 100)
			if !assert.NoError(t, err) {
				return
			}
			defer s.Close()
			assert.NoError(t, s.Append(context.Background(), run(fmt.Sprintf("w%d", i), guard.OutcomeBusy, 75)))
		}()
	}
	wg.Wait()

	s, err := Open(path, 100)
	require.NoError(t, err)
	defer s.Close()
	runs, err := s.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, runs, 4)
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open(" ", 10)
	assert.Error(t, err)
}
