//go:build windows

package paths

import (
	"os"
	"path/filepath"
)

func programData() string {
	if dir := os.Getenv("ProgramData"); dir != "" {
		return dir
	}
	return `C:\ProgramData`
}

func systemConfigDir() string { return filepath.Join(programData(), "cronguard") }

func systemStateDir() string { return filepath.Join(programData(), "cronguard", "state") }
