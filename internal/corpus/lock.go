package corpus

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// WriteLock serializes corpus writers across processes.
// Readers never take it; SQLite WAL handles concurrent reads.
type WriteLock struct {
	flock *flock.Flock
}

// NewWriteLock creates a lock file at <dir>/.import.lock.
func NewWriteLock(dir string) *WriteLock {
	return &WriteLock{flock: flock.New(filepath.Join(dir, ".import.lock"))}
}

// TryLock acquires the lock without blocking.
// Returns false when another process holds it.
func (l *WriteLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.flock.Path()), 0o755); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}
	ok, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	return ok, nil
}

// Unlock releases the lock. Safe to call when not held.
func (l *WriteLock) Unlock() error {
	if !l.flock.Locked() {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *WriteLock) Path() string {
	return l.flock.Path()
}
