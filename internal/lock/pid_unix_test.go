//go:build !windows

package lock

func pidReadable() bool { return true }
