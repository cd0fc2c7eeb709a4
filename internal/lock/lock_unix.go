// Unix/Darwin advisory locking using flock(2).
//
// flock locks belong to the open file description, so two opens of the same
// path conflict even inside one process, and the kernel drops the lock when
// the last descriptor referring to the description is closed.

//go:build !windows

package lock

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// tryLock makes a single non-blocking attempt at an exclusive flock on f.
// Contention is reported as [ErrBusy]; EINTR is retried.
func tryLock(f *os.File) error {
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, unix.EINTR):
			continue
		// EWOULDBLOCK and EAGAIN are distinct on some older Unixes.
		case errors.Is(err, unix.EWOULDBLOCK), errors.Is(err, unix.EAGAIN):
			return ErrBusy
		default:
			return err
		}
	}
}

// unlock releases the flock held on f. The lock is also released implicitly
// when the descriptor is closed.
func unlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
