package guard

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/joho/godotenv"
)

// Environment variables exported to every task.
const (
	EnvRunID    = "CRONGUARD_RUN_ID"
	EnvLockPath = "CRONGUARD_LOCK_PATH"
)

// Task is the external process the guard launches on each trigger firing.
type Task struct {
	// Command is the executable, resolved through PATH when it has no slash.
	Command string
	Args    []string
	// Dir is the working directory; empty means the guard's own.
	Dir string
	// Env is the complete environment; nil inherits the guard's.
	Env []string
}

// String renders the command line for logs.
func (t Task) String() string {
	if len(t.Args) == 0 {
		return t.Command
	}
	return t.Command + " " + strings.Join(t.Args, " ")
}

func (t Task) command(runID, lockPath string) *exec.Cmd {
	cmd := exec.Command(t.Command, t.Args...)
	cmd.Dir = t.Dir
	env := t.Env
	if env == nil {
		env = os.Environ()
	}
	cmd.Env = append(env[:len(env):len(env)],
		EnvRunID+"="+runID,
		EnvLockPath+"="+lockPath,
	)
	return cmd
}

// ///////////////////////////////////////////////
// Environment
// ///////////////////////////////////////////////

// EnvSpec describes how the task environment is derived from the guard's.
type EnvSpec struct {
	// Drop lists glob patterns; inherited variables whose names match any
	// of them are removed.
	Drop []string
	// File is a dotenv file whose assignments are applied after Drop.
	File string
	// Set holds explicit assignments, applied last.
	Set map[string]string
}

// BuildEnv applies spec to base (KEY=VALUE entries) and returns the result.
// Later assignments replace earlier ones in place, so inherited ordering is
// kept.
func BuildEnv(base []string, spec EnvSpec) ([]string, error) {
	var (
		out   []string
		index = map[string]int{}
	)
	set := func(k, v string) {
		if i, ok := index[k]; ok {
			out[i] = k + "=" + v
			return
		}
		index[k] = len(out)
		out = append(out, k+"="+v)
	}

	for _, kv := range base {
		name, value, _ := strings.Cut(kv, "=")
		drop, err := matchAny(spec.Drop, name)
		if err != nil {
			return nil, err
		}
		if !drop {
			set(name, value)
		}
	}

	if spec.File != "" {
		vars, err := godotenv.Read(spec.File)
		if err != nil {
			return nil, fmt.Errorf("read env file %s: %w", spec.File, err)
		}
		for _, k := range sortedKeys(vars) {
			set(k, vars[k])
		}
	}

	for _, k := range sortedKeys(spec.Set) {
		set(k, spec.Set[k])
	}
	return out, nil
}

func matchAny(patterns []string, name string) (bool, error) {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return false, fmt.Errorf("invalid env_drop pattern %q: %w", p, doublestar.ErrBadPattern)
		}
		ok, err := doublestar.Match(p, name)
		if err != nil {
			return false, fmt.Errorf("invalid env_drop pattern %q: %w", p, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
