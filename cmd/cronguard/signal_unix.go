// Unix signal handling for the guarded run.
//
// SIGINT and SIGTERM are caught rather than left to kill cronguard: while
// waiting for the lock they abort the wait, and while the task runs they are
// forwarded to it so the lock is only released once the task has exited.

//go:build !windows

package main

import (
	"os"
	"os/signal"
	"syscall"
)

// signalChannel returns a buffered channel that receives SIGINT and SIGTERM,
// and a function that stops delivery.
func signalChannel() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	return ch, func() { signal.Stop(ch) }
}
