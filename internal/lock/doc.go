// Package lock provides crash-safe, single-host mutual exclusion backed by
// OS advisory file locks (flock(2) on Unix, LockFileEx on Windows).
//
// The lock lives entirely in kernel state attached to an open file
// description. Closing the descriptor, or the holding process dying for any
// reason, releases it. The lock file's existence and contents carry no
// meaning; the file is never unlinked.
//
// # Usage
//
//	m := lock.New("/run/lock/cronguard.lock")
//	h, err := m.Acquire(ctx, lock.WaitBounded(time.Second))
//	switch lock.OutcomeOf(err) {
//	case lock.Busy, lock.TimedOut:
//	    // another instance is running; try again next cycle
//	case lock.IOError:
//	    // the locking mechanism itself is broken
//	}
//	defer h.Release()
//
// # Crash safety
//
// Nothing in the lock file is used to decide ownership. A holder killed with
// SIGKILL leaves the file behind, but the kernel has already dropped the
// lock together with the dead process's descriptors, so the next Acquire
// succeeds. Advisory locks are cooperative: code that touches the guarded
// resource without going through a Manager is not prevented.
package lock
