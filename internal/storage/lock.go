package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// pathLock serialises writers of one stored file. The in-process mutex orders
// goroutines; an flock on the sibling "<file>.lock" orders other processes
// sharing the directory. The lock file is left in place on release so that
// two processes never hold locks on different inodes of the same path.
type pathLock struct {
	path string
	mu   sync.Mutex
	held *os.File
}

func newPathLock(filePath string) *pathLock {
	return &pathLock{path: filePath + ".lock"}
}

// acquire blocks until the lock is held or ctx is done.
func (l *pathLock) acquire(ctx context.Context) error {
	l.mu.Lock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		l.mu.Unlock()
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	b.MaxElapsedTime = 0

	err = backoff.Retry(func() error {
		err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil || errors.Is(err, syscall.EWOULDBLOCK) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(b, ctx))
	if err != nil {
		f.Close()
		l.mu.Unlock()
		return fmt.Errorf("lock %s: %w", l.path, err)
	}

	l.held = f
	return nil
}

func (l *pathLock) release() {
	if l.held == nil {
		return
	}
	_ = syscall.Flock(int(l.held.Fd()), syscall.LOCK_UN)
	l.held.Close()
	l.held = nil
	l.mu.Unlock()
}
