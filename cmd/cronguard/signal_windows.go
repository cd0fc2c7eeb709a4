// Windows signal handling for the guarded run. Only os.Interrupt exists; the
// Go runtime maps CTRL_BREAK_EVENT and console-close events to it.

//go:build windows

package main

import (
	"os"
	"os/signal"
)

// signalChannel returns a buffered channel that receives os.Interrupt, and a
// function that stops delivery.
func signalChannel() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	return ch, func() { signal.Stop(ch) }
}
