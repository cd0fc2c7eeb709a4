package paths

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// ///////////////////////////////////////////////
// Lock paths
// ///////////////////////////////////////////////

func TestLockDir_FirstExistingCandidate(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing")
	present := t.TempDir()

	orig := lockDirCandidates
	t.Cleanup(func() { lockDirCandidates = orig })

	lockDirCandidates = []string{missing, present}
	assert.Equal(t, present, LockDir())

	lockDirCandidates = []string{missing}
	assert.Equal(t, os.TempDir(), LockDir())
}

func TestLockDir_SkipsFiles(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	assert.NoError(t, os.WriteFile(file, nil, 0o644))

	orig := lockDirCandidates
	t.Cleanup(func() { lockDirCandidates = orig })
	lockDirCandidates = []string{file}
	assert.Equal(t, os.TempDir(), LockDir())
}

func TestLockPathFor(t *testing.T) {
	dir := t.TempDir()
	orig := lockDirCandidates
	t.Cleanup(func() { lockDirCandidates = orig })
	lockDirCandidates = []string{dir}

	tests := []struct {
		command string
		prefix  string
	}{
		{"python3", "cronguard-python3-"},
		{"/usr/local/bin/podcast-sync", "cronguard-podcast-sync-"},
		{"backup.sh", "cronguard-backup-"},
		{"my tool", "cronguard-my_tool-"},
		{"", "cronguard-task-"},
		{"/", "cronguard-task-"},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			got := LockPathFor(tt.command)
			assert.Equal(t, dir, filepath.Dir(got))
			name := filepath.Base(got)
			assert.True(t, strings.HasPrefix(name, tt.prefix), "name %q", name)
			assert.Regexp(t, `-[0-9a-f]{8}\.lock$`, name)
		})
	}
}

func TestLockPathFor_DistinguishesArguments(t *testing.T) {
	orig := lockDirCandidates
	t.Cleanup(func() { lockDirCandidates = orig })
	lockDirCandidates = []string{t.TempDir()}

	a := LockPathFor("/usr/bin/python3", "/opt/feeds/sync.py")
	b := LockPathFor("/usr/bin/python3", "/opt/mail/digest.py")
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, LockPathFor("/usr/bin/python3", "/opt/feeds/sync.py"))
	assert.NotEqual(t, LockPathFor("tool", "a b"), LockPathFor("tool", "a", "b"))
}

// ///////////////////////////////////////////////
// Config resolution
// ///////////////////////////////////////////////

func TestResolveConfig(t *testing.T) {
	t.Run("flag wins", func(t *testing.T) {
		t.Setenv(EnvConfig, "/from/env.toml")
		path, explicit := ResolveConfig("/from/flag.toml")
		assert.Equal(t, "/from/flag.toml", path)
		assert.True(t, explicit)
	})
	t.Run("environment", func(t *testing.T) {
		t.Setenv(EnvConfig, "/from/env.toml")
		path, explicit := ResolveConfig("")
		assert.Equal(t, "/from/env.toml", path)
		assert.True(t, explicit)
	})
	t.Run("default", func(t *testing.T) {
		t.Setenv(EnvConfig, "")
		path, explicit := ResolveConfig("")
		assert.Equal(t, DefaultConfigPath(), path)
		assert.False(t, explicit)
	})
}

func TestDefaultConfigPath(t *testing.T) {
	p := DefaultConfigPath()
	assert.Equal(t, ConfigFile, filepath.Base(p))
	assert.True(t, strings.Contains(p, BinaryName))
}

// ///////////////////////////////////////////////
// DataDir
// ///////////////////////////////////////////////

func TestDataDirMethods(t *testing.T) {
	root := filepath.Join("var", "lib", "cronguard")
	d := DataDir{Root: root}

	assert.Equal(t, filepath.Join(root, "history.db"), d.History())
	assert.Equal(t, filepath.Join(root, "cronguard.log"), d.Log())
	assert.Equal(t, filepath.Join(root, "cronguard.prom"), d.Metrics())
	assert.NotEmpty(t, DefaultDataDir().Root)
}
