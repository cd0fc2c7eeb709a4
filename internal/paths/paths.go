// Package paths centralizes the well-known file and directory names used by
// cronguard. Every default location is defined here as the single source of
// truth.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ///////////////////////////////////////////////
// Constants
// ///////////////////////////////////////////////

// File names.
const (
	BinaryName  = "cronguard"
	ConfigFile  = "config.toml"
	LogFile     = "cronguard.log"
	HistoryFile = "history.db"
	MetricsFile = "cronguard.prom"
	LockExt     = ".lock"
)

// EnvConfig names the environment variable consulted for the config path
// when --config is not given.
const EnvConfig = "CRONGUARD_CONFIG"

// lockDirCandidates are tried in order by [LockDir]; the first existing
// directory wins.
var lockDirCandidates = []string{"/run/lock", "/var/lock"}

// ///////////////////////////////////////////////
// Lock paths
// ///////////////////////////////////////////////

// LockDir returns the directory default lock files are placed in: the
// system lock directory when present, otherwise the temp directory.
func LockDir() string {
	for _, dir := range lockDirCandidates {
		if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
			return dir
		}
	}
	return os.TempDir()
}

// LockPathFor returns the default lock path for a task invocation. The name
// combines the command's base name with a hash of the full command line, so
// two jobs sharing an interpreter ("python3 a.py", "python3 b.py") get
// distinct locks while the same job always maps to the same file.
// For example, LockPathFor("/usr/bin/python3", "main.py") returns
// "/run/lock/cronguard-python3-<hash>.lock" on most Linux systems.
func LockPathFor(command string, args ...string) string {
	name := fmt.Sprintf("%s-%s-%s%s", BinaryName, lockName(command), commandHash(command, args), LockExt)
	return filepath.Join(LockDir(), name)
}

// commandHash returns eight hex digits identifying command and args.
func commandHash(command string, args []string) string {
	line := strings.Join(append([]string{command}, args...), "\x00")
	return fmt.Sprintf("%08x", xxhash.Sum64String(line)>>32)
}

func lockName(command string) string {
	base := filepath.Base(command)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if clean == "" || clean == "." || strings.Trim(clean, "_") == "" {
		return "task"
	}
	return clean
}

// ///////////////////////////////////////////////
// Config resolution
// ///////////////////////////////////////////////

// DefaultConfigPath returns the system-wide config file location.
func DefaultConfigPath() string {
	return filepath.Join(systemConfigDir(), ConfigFile)
}

// ResolveConfig picks the config path from the --config flag value, then
// $CRONGUARD_CONFIG, then [DefaultConfigPath]. explicit reports whether the
// caller named the file, in which case it must exist.
func ResolveConfig(flag string) (path string, explicit bool) {
	if flag != "" {
		return flag, true
	}
	if env := os.Getenv(EnvConfig); env != "" {
		return env, true
	}
	return DefaultConfigPath(), false
}

// ///////////////////////////////////////////////
// DataDir
// ///////////////////////////////////////////////

// DataDir provides path construction methods rooted at a state directory.
type DataDir struct {
	Root string
}

// DefaultDataDir returns the system state directory for cronguard.
func DefaultDataDir() DataDir {
	return DataDir{Root: systemStateDir()}
}

// History returns the full path to the run history database.
func (d DataDir) History() string { return filepath.Join(d.Root, HistoryFile) }

// Log returns the full path to the log file.
func (d DataDir) Log() string { return filepath.Join(d.Root, LogFile) }

// Metrics returns the full path to the metrics textfile.
func (d DataDir) Metrics() string { return filepath.Join(d.Root, MetricsFile) }
