//go:build windows

package guard

func runPlatformHelper(string, []string) bool { return false }
