//go:build windows

package lock

// The locked byte range cannot be read through another handle on Windows.
func pidReadable() bool { return false }
