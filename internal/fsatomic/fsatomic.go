package fsatomic

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// WriteFile atomically replaces path with data. It writes to path+".tmp",
// fsyncs, fsyncs the parent directory, renames into place, then fsyncs the
// parent directory again. On any error, it removes the temp file.
// If perm is 0, 0644 is used.
func WriteFile(path string, data []byte, perm fs.FileMode) error {
	if perm == 0 {
		perm = 0o644
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(data); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := fsyncDir(filepath.Dir(path)); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return fsyncDir(filepath.Dir(path))
}

// SaveJSON atomically writes v as pretty JSON to path. If perm is 0, 0600 is used.
func SaveJSON(ctx context.Context, path string, v any, perm fs.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if perm == 0 {
		perm = 0o600
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return WriteFile(path, b, perm)
}

// LoadJSON loads JSON from path into v. Returns exists=false if file is missing.
// If a stale path+".tmp" exists, it will be removed.
func LoadJSON(path string, v any) (bool, error) {
	// Clean up crash artifact
	_ = os.Remove(path + ".tmp")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if len(data) == 0 {
		return true, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}

// LockWait bounds how long WithLock waits for another holder.
var LockWait = 30 * time.Second

// ErrLocked is returned when the lock is still held after LockWait.
var ErrLocked = errors.New("fsatomic: lock held by another process")

// WithLock holds an exclusive advisory lock (path+".lock") for the duration of fn.
func WithLock(path string, fn func() error) error {
	return WithLockFile(path+".lock", fn)
}

// WithLockFile is WithLock with an explicit lock file, for targets whose
// directory should not collect lock files.
func WithLockFile(lockPath string, fn func() error) error {
	_ = os.MkdirAll(filepath.Dir(lockPath), 0o755)
	unlock, err := lockFile(lockPath, LockWait)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
