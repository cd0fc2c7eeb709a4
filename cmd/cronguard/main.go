// Command cronguard runs a task under an exclusive lock so overlapping
// scheduler firings never execute it concurrently.
//
//	cronguard [flags] [--] command [args...]
//
// A second instance started while the first still runs exits immediately
// with the busy code (75), or waits a bounded time with --wait. The task's
// own exit status is passed through unchanged.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
)

// ///////////////////////////////////////////////
// Version
// ///////////////////////////////////////////////

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/cronguard
//
// When ldflags are not set, resolveVersion reads the VCS info that Go embeds
// automatically, so dev builds still get a useful version string.
var version = "dev"

// resolveVersion returns the build version string. If [version] was set via
// ldflags it is returned as-is; otherwise the embedded VCS revision and
// dirty state produce a "dev+<hash>" tag.
func resolveVersion() string {
	if version != "dev" {
		return version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return version
	}
	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if revision == "" {
		return version
	}
	hash := revision[:min(7, len(revision))]
	if dirty {
		return "dev+" + hash + ".dirty"
	}
	return "dev+" + hash
}

// ///////////////////////////////////////////////
// Exit Status
// ///////////////////////////////////////////////

// Exit codes for failures before the guard runs (sysexits.h).
const (
	exitUsage  = 64
	exitConfig = 78
)

// exitError carries the status the process should exit with. A nil err
// means the status speaks for itself and nothing is printed.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func usageError(err error) error { return &exitError{code: exitUsage, err: err} }

func configError(err error) error { return &exitError{code: exitConfig, err: err} }

// exitCode maps an error returned by a command to a process exit status,
// printing it to stderr when it has a message.
func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(stderr, "cronguard: %v\n", ee.err)
		}
		return ee.code
	}
	// Anything else comes from cobra's own argument and flag handling.
	fmt.Fprintf(stderr, "cronguard: %v\n", err)
	return exitUsage
}

// execute runs the CLI with args and returns the exit status.
func execute(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return exitCode(root.Execute(), stderr)
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
