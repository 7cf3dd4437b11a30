package search

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// LockFileName is the lock file guarding an on-disk bleve directory.
const LockFileName = ".lock"

var (
	// ErrIndexDirLocked is returned when another process holds the index directory.
	ErrIndexDirLocked = errors.New("index directory is in use by another process")
)

// dirLock is an exclusive flock(2) on a directory's lock file. The kernel
// drops it when the process exits, so a crash never leaves the directory locked.
type dirLock struct {
	path string
	file *os.File
}

func newDirLock(dir string) *dirLock {
	return &dirLock{path: filepath.Join(dir, LockFileName)}
}

// tryLock acquires the lock without blocking. It reports false on contention.
func (l *dirLock) tryLock() (bool, error) {
	if err := l.open(); err != nil {
		return false, err
	}
	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err == nil {
		return true, nil
	}
	_ = l.file.Close()
	l.file = nil
	if errors.Is(err, syscall.EWOULDBLOCK) {
		return false, nil
	}
	return false, fmt.Errorf("flock %s: %w", l.path, err)
}

// lock polls with backoff until the lock is acquired, timeout expires or ctx is done.
func (l *dirLock) lock(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	wait := 10 * time.Millisecond
	const maxWait = 500 * time.Millisecond

	for {
		ok, err := l.tryLock()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w: %s", ErrIndexDirLocked, filepath.Dir(l.path))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(min(wait, time.Until(deadline))):
			wait = min(wait*2, maxWait)
		}
	}
}

// unlock releases the lock; unlocking an unheld lock is a no-op.
func (l *dirLock) unlock() error {
	if l.file == nil {
		return nil
	}
	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("flock unlock %s: %w", l.path, err)
	}
	return closeErr
}

func (l *dirLock) open() error {
	if l.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	l.file = f
	return nil
}
