// Windows locking using LockFileEx/UnlockFileEx.
//
// Only the first byte is locked; the lock exists purely for mutual
// exclusion. Windows releases it when the handle is closed or the owning
// process terminates.

//go:build windows

package lock

import (
	"errors"
	"os"

	"golang.org/x/sys/windows"
)

// tryLock makes a single non-blocking attempt at an exclusive lock on f.
// LOCKFILE_FAIL_IMMEDIATELY mirrors LOCK_NB; contention surfaces as
// ERROR_LOCK_VIOLATION and is reported as [ErrBusy].
func tryLock(f *os.File) error {
	ol := new(windows.Overlapped)
	err := windows.LockFileEx(
		windows.Handle(f.Fd()),
		windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY,
		0,
		1, 0,
		ol,
	)
	if err == nil {
		return nil
	}
	if errors.Is(err, windows.ERROR_LOCK_VIOLATION) || errors.Is(err, windows.ERROR_IO_PENDING) {
		return ErrBusy
	}
	return err
}

// unlock releases the byte-range lock held on f.
func unlock(f *os.File) error {
	ol := new(windows.Overlapped)
	return windows.UnlockFileEx(windows.Handle(f.Fd()), 0, 1, 0, ol)
}
