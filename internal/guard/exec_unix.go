//go:build !windows

package guard

import (
	"os"
	"os/exec"
	"syscall"
)

// exitStatus decodes a finished task's status. A task killed by a signal
// reports 128+signo, as a shell would.
func exitStatus(ps *os.ProcessState) (code int, signal string) {
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal()), ws.Signal().String()
	}
	return ps.ExitCode(), ""
}

// inheritLock hands the lock descriptor to the child as fd 3. The child then
// shares the locked open file description, keeping the lock held for as long
// as it runs even if the guard dies first.
func inheritLock(cmd *exec.Cmd, f *os.File) {
	if f != nil {
		cmd.ExtraFiles = append(cmd.ExtraFiles, f)
	}
}
