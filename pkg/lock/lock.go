// Package lock guards the feeder hardware so that only one feeding process
// drives it at a time.
package lock

import (
	"errors"
	"os"
	"strconv"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var ErrLocked = pkgerrors.New("another feeding process holds the hardware lock")

// Lock is an exclusive advisory lock on a file. The kernel drops it if the
// process dies, so a crashed cycle never leaves a stale lock behind.
type Lock struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// Acquire takes the lock at path without blocking. ErrLocked is returned
// if another process, or another Lock in this one, holds it.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open lock file %s", path)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, pkgerrors.Wrapf(ErrLocked, "%s", path)
		}
		return nil, pkgerrors.Wrapf(err, "failed to lock %s", path)
	}

	// Best effort, for whoever looks at the file.
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}

	return &Lock{f: f, path: path}, nil
}

func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock. It is safe to call more than once.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return nil
	}
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to release lock %s", l.path)
	}
	return nil
}

// Close is Release, so a Lock can be handed to anything that releases
// io.Closers.
func (l *Lock) Close() error {
	return l.Release()
}
