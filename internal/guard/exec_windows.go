//go:build windows

package guard

import (
	"os"
	"os/exec"
)

func exitStatus(ps *os.ProcessState) (code int, signal string) {
	return ps.ExitCode(), ""
}

// inheritLock is a no-op: exec.Cmd.ExtraFiles is not supported on Windows.
func inheritLock(*exec.Cmd, *os.File) {}
