//go:build !windows

package paths

func systemConfigDir() string { return "/etc/cronguard" }

func systemStateDir() string { return "/var/lib/cronguard" }
