//go:build !windows

package guard

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

func runPlatformHelper(cmd string, args []string) bool {
	switch cmd {
	case "killself":
		_ = syscall.Kill(os.Getpid(), syscall.SIGKILL)
		time.Sleep(time.Minute)
	case "trap":
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGTERM)
		fmt.Fprintln(os.Stderr, "trapping")
		select {
		case <-ch:
			os.Exit(42)
		case <-time.After(30 * time.Second):
			os.Exit(1)
		}
	case "lockfd":
		// Reports whether fd 3 is the guard's lock file.
		var st, lockSt unix.Stat_t
		inherited := unix.Fstat(3, &st) == nil &&
			unix.Stat(os.Getenv("CRONGUARD_LOCK_PATH"), &lockSt) == nil &&
			st.Dev == lockSt.Dev && st.Ino == lockSt.Ino
		fmt.Print(inherited)
	default:
		return false
	}
	return true
}
