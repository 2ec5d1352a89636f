package lock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"FeedScanner/internal/ports"
)

// FileLock serializes pipeline runs across processes sharing one lock file.
type FileLock struct {
	lock *flock.Flock
}

var _ ports.RunLock = (*FileLock)(nil)

// NewFileLock prepares a lock at path, creating the parent directory if needed.
func NewFileLock(path string) (*FileLock, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create lock dir: %w", err)
		}
	}
	return &FileLock{lock: flock.New(path)}, nil
}

// TryLock acquires the lock without blocking.
func (l *FileLock) TryLock() (bool, error) {
	ok, err := l.lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquire run lock %s: %w", l.lock.Path(), err)
	}
	return ok, nil
}

// Unlock releases the lock.
func (l *FileLock) Unlock() error {
	if err := l.lock.Unlock(); err != nil {
		return fmt.Errorf("release run lock %s: %w", l.lock.Path(), err)
	}
	return nil
}

// Held reports whether some other holder currently owns the lock.
// It briefly takes and releases the lock when it is free.
func Held(path string) (bool, error) {
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("check run lock %s: %w", path, err)
	}
	if !ok {
		return true, nil
	}
	return false, fl.Unlock()
}
