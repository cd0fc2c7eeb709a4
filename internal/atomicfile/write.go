// Package atomicfile writes files so readers never observe a partial write:
// data goes to a synced temporary file in the target directory which is then
// moved into place.
package atomicfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Write atomically replaces path with data. If any step fails the temporary
// file is removed and path is left untouched.
func Write(path string, data []byte, perm os.FileMode) error {
	return write(path, data, perm, func(tmp string) error {
		if err := os.Rename(tmp, path); err != nil {
			return fmt.Errorf("rename temp file: %w", err)
		}
		return nil
	})
}

// WriteNew atomically creates path with data, failing with an error matching
// [os.ErrExist] when path already exists. The existence check and the
// creation are a single link operation, so two concurrent callers can never
// both succeed.
func WriteNew(path string, data []byte, perm os.FileMode) error {
	return write(path, data, perm, func(tmp string) error {
		if err := os.Link(tmp, path); err != nil {
			if errors.Is(err, os.ErrExist) {
				return fmt.Errorf("%s: %w", path, os.ErrExist)
			}
			return fmt.Errorf("link temp file: %w", err)
		}
		return nil
	})
}

// write stages data in a temp file next to path and hands its name to
// commit. The temp name is always removed afterwards; after a rename it no
// longer exists, after a link it is a second name for the same file.
func write(path string, data []byte, perm os.FileMode, commit func(tmp string) error) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := f.Name()
	defer os.Remove(tmpName)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	return commit(tmpName)
}
