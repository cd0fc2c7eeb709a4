// Package history keeps a SQLite ledger of guarded runs, including the
// cycles that were skipped because another instance held the lock, and
// prunes it to a fixed number of recent rows.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tools.zach/dev/cronguard/internal/guard"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrations string

// busyTimeout is how long a writer waits for a concurrent instance's
// transaction to finish.
const busyTimeout = 5 * time.Second

// Run is one recorded invocation.
type Run struct {
	RunID        string
	Started      time.Time
	Finished     time.Time
	Duration     time.Duration
	Outcome      guard.Outcome
	ExitCode     int
	TaskExitCode int
	Signal       string
	PID          int
	Command      string
	LockPath     string
	Error        string
}

// Store is the run ledger. It is also a [guard.Observer] that appends every
// finished invocation.
type Store struct {
	db   *sql.DB
	keep int
}

// Open opens (creating if needed) the ledger at path. keep bounds the
// number of rows retained; keep <= 0 disables pruning.
func Open(path string, keep int) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("history path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	return &Store{db: db, keep: keep}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) String() string { return "history" }

// OnStart does nothing; runs are recorded once finished.
func (s *Store) OnStart(context.Context, guard.StartEvent) error { return nil }

// OnFinish records res.
func (s *Store) OnFinish(ctx context.Context, res guard.Result) error {
	return s.Append(ctx, res)
}

// Append records res and prunes rows beyond the retention limit.
func (s *Store) Append(ctx context.Context, res guard.Result) error {
	finished := res.Finished
	if finished.IsZero() {
		finished = time.Now()
	}
	var errText string
	if res.Err != nil {
		errText = res.Err.Error()
	}

	var taskCode, pid any
	if res.Outcome == guard.OutcomeRan {
		taskCode, pid = res.TaskExitCode, res.PID
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(run_id, started, finished, duration_ms, outcome, exit_code, task_exit_code, signal, pid, command, lock_path, err)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		res.RunID, res.Started.UTC().Format(time.RFC3339Nano), finished.UTC().Format(time.RFC3339Nano),
		finished.Sub(res.Started).Milliseconds(), string(res.Outcome), res.ExitCode,
		taskCode, nullStr(res.Signal), pid, res.Command, res.LockPath, nullStr(errText),
	)
	if err != nil {
		return fmt.Errorf("append run: %w", err)
	}

	if s.keep > 0 {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM runs WHERE id NOT IN (SELECT id FROM runs ORDER BY id DESC LIMIT ?)`, s.keep,
		); err != nil {
			return fmt.Errorf("prune runs: %w", err)
		}
	}
	return nil
}

// List returns up to n runs, most recent first.
func (s *Store) List(ctx context.Context, n int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, started, finished, duration_ms, outcome, exit_code, task_exit_code, signal, pid, command, lock_path, err
		 FROM runs ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                 Run
			started, finished string
			durationMS        int64
			outcome           string
			taskCode, pid     sql.NullInt64
			signal, errText   sql.NullString
		)
		if err := rows.Scan(&r.RunID, &started, &finished, &durationMS, &outcome, &r.ExitCode,
			&taskCode, &signal, &pid, &r.Command, &r.LockPath, &errText); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Started, _ = time.Parse(time.RFC3339Nano, started)
		r.Finished, _ = time.Parse(time.RFC3339Nano, finished)
		r.Duration = time.Duration(durationMS) * time.Millisecond
		r.Outcome = guard.Outcome(outcome)
		r.TaskExitCode = int(taskCode.Int64)
		r.PID = int(pid.Int64)
		r.Signal = signal.String
		r.Error = errText.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
