package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ///////////////////////////////////////////////
// Errors
// ///////////////////////////////////////////////

var (
	// ErrBusy is returned by a non-blocking acquisition when another process
	// already holds the lock.
	ErrBusy = errors.New("lock is held by another process")

	// ErrTimeout is returned by a bounded acquisition whose wait elapsed (or
	// whose context ended) before the lock became free.
	ErrTimeout = errors.New("timed out waiting for lock")
)

// Error reports a failure of the locking mechanism itself: the lock path
// could not be opened, or the OS rejected the lock call for a reason other
// than contention.
type Error struct {
	// Op is the failing step ("open", "lock", "unlock", "close").
	Op string
	// Path is the lock file path.
	Path string
	// Err is the underlying OS error.
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("lock %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ///////////////////////////////////////////////
// Policy
// ///////////////////////////////////////////////

// Mode selects how [Manager.Acquire] behaves when the lock is contended.
type Mode int

const (
	// NonBlocking attempts the lock exactly once.
	NonBlocking Mode = iota
	// Bounded retries until the lock is free or the policy timeout elapses.
	Bounded
)

// String returns the config spelling of the mode.
func (m Mode) String() string {
	switch m {
	case NonBlocking:
		return "fail_fast"
	case Bounded:
		return "wait"
	default:
		return "mode(" + strconv.Itoa(int(m)) + ")"
	}
}

// Policy is an acquisition mode plus, for [Bounded], the maximum wait.
type Policy struct {
	Mode    Mode
	Timeout time.Duration
}

// FailFast returns the non-blocking policy.
func FailFast() Policy { return Policy{Mode: NonBlocking} }

// WaitBounded returns a policy that waits at most d for the lock.
func WaitBounded(d time.Duration) Policy { return Policy{Mode: Bounded, Timeout: d} }

func (p Policy) String() string {
	if p.Mode == Bounded {
		return fmt.Sprintf("wait(%s)", p.Timeout)
	}
	return p.Mode.String()
}

// ///////////////////////////////////////////////
// Outcome
// ///////////////////////////////////////////////

// Outcome classifies the result of an acquisition attempt.
type Outcome int

const (
	Acquired Outcome = iota
	Busy
	TimedOut
	IOError
)

func (o Outcome) String() string {
	switch o {
	case Acquired:
		return "acquired"
	case Busy:
		return "busy"
	case TimedOut:
		return "timed_out"
	default:
		return "io_error"
	}
}

// OutcomeOf maps an error returned by [Manager.Acquire] to its [Outcome].
// A nil error is [Acquired]; anything unrecognised is [IOError].
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return Acquired
	case errors.Is(err, ErrBusy):
		return Busy
	case errors.Is(err, ErrTimeout):
		return TimedOut
	default:
		return IOError
	}
}

// ///////////////////////////////////////////////
// Manager
// ///////////////////////////////////////////////

// DefaultPollInterval is how often a bounded wait retries the lock.
const DefaultPollInterval = 50 * time.Millisecond

// Manager acquires the exclusive lock bound to a single path. A Manager holds
// no lock state of its own and is safe for concurrent use.
type Manager struct {
	path         string
	pollInterval time.Duration
	writePID     bool
	perm         os.FileMode
}

// Option configures a [Manager].
type Option func(*Manager)

// WithPollInterval sets the retry interval used by [Bounded] acquisitions.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithPID controls whether the holder writes its PID into the lock file.
// The PID is informational only (see [Manager.Inspect]).
func WithPID(enabled bool) Option {
	return func(m *Manager) { m.writePID = enabled }
}

// WithPerm sets the permission bits used when the lock file is created.
func WithPerm(perm os.FileMode) Option {
	return func(m *Manager) { m.perm = perm }
}

// New returns a Manager for the lock file at path.
func New(path string, opts ...Option) *Manager {
	m := &Manager{
		path:         path,
		pollInterval: DefaultPollInterval,
		writePID:     true,
		perm:         0o644,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Path returns the lock file path.
func (m *Manager) Path() string { return m.path }

// Acquire takes the exclusive lock according to p. On success the returned
// [Handle] owns the lock until [Handle.Release] is called or the process
// exits. Errors satisfy errors.Is with [ErrBusy] or [ErrTimeout] for
// contention, and are an [*Error] when the lock infrastructure fails.
//
// The parent directory of the lock path is never created; a missing
// directory is an infrastructure failure.
func (m *Manager) Acquire(ctx context.Context, p Policy) (*Handle, error) {
	f, err := os.OpenFile(m.path, os.O_CREATE|os.O_RDWR, m.perm)
	if err != nil {
		return nil, &Error{Op: "open", Path: m.path, Err: err}
	}

	switch p.Mode {
	case Bounded:
		err = m.wait(ctx, f, p.Timeout)
	default:
		err = tryLock(f)
	}
	if err != nil {
		f.Close()
		if errors.Is(err, ErrBusy) || errors.Is(err, ErrTimeout) {
			return nil, err
		}
		return nil, &Error{Op: "lock", Path: m.path, Err: err}
	}

	h := &Handle{path: m.path, f: f}
	if m.writePID {
		// Best effort; a read-only view of the PID never affects exclusion.
		_ = writePID(f)
	}
	return h, nil
}

// wait polls the lock until it is acquired, timeout elapses, or ctx ends.
func (m *Manager) wait(ctx context.Context, f *os.File, timeout time.Duration) error {
	if timeout <= 0 {
		if err := tryLock(f); err != nil {
			if errors.Is(err, ErrBusy) {
				return fmt.Errorf("%w after 0s", ErrTimeout)
			}
			return err
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		err := tryLock(f)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrBusy) {
			return err
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w after %s", ErrTimeout, timeout)
			}
			return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Inspect reports whether another process currently holds the lock, and the
// PID it recorded if any. It never creates the lock file and opens it
// read-only, so a status check by another user cannot change its owner or
// mode. A missing file in an existing directory is reported as free.
//
// When the lock is free Inspect holds it for the duration of one flock call;
// an instance starting in that window sees it busy. Inspect must not be
// called by the holder itself.
func (m *Manager) Inspect() (held bool, pid int, err error) {
	f, err := os.Open(m.path)
	if errors.Is(err, os.ErrNotExist) {
		if _, dirErr := os.Stat(filepath.Dir(m.path)); dirErr != nil {
			return false, 0, &Error{Op: "open", Path: m.path, Err: dirErr}
		}
		return false, 0, nil
	}
	if err != nil {
		return false, 0, &Error{Op: "open", Path: m.path, Err: err}
	}
	defer f.Close()

	switch err := tryLock(f); {
	case err == nil:
		return false, 0, nil
	case errors.Is(err, ErrBusy):
		return true, readPID(m.path), nil
	default:
		return false, 0, &Error{Op: "lock", Path: m.path, Err: err}
	}
}

// ///////////////////////////////////////////////
// Handle
// ///////////////////////////////////////////////

// Handle is an acquired lock. It is owned by the acquiring process and must
// not be shared with unrelated processes. Release is idempotent and safe to
// call from multiple goroutines.
type Handle struct {
	path string

	mu sync.Mutex
	f  *os.File
}

// Path returns the lock file path.
func (h *Handle) Path() string { return h.path }

// File returns the open lock file, or nil once released. Passing it to a
// child process (exec.Cmd.ExtraFiles) makes the child share the lock.
func (h *Handle) File() *os.File {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.f
}

// Release drops the lock and closes the file. Subsequent calls return nil.
func (h *Handle) Release() error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.f == nil {
		return nil
	}

	var err error
	if unlockErr := unlock(h.f); unlockErr != nil {
		err = &Error{Op: "unlock", Path: h.path, Err: unlockErr}
	}
	// Closing releases the lock even if the explicit unlock failed.
	if closeErr := h.f.Close(); closeErr != nil && err == nil {
		err = &Error{Op: "close", Path: h.path, Err: closeErr}
	}
	h.f = nil
	return err
}

// ///////////////////////////////////////////////
// PID bookkeeping
// ///////////////////////////////////////////////

func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	_, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	return err
}

func readPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}
