// Package lockfile provides the advisory file locking that enforces the
// store's single-writer, many-readers concurrency contract using flock(2)
// via golang.org/x/sys/unix, the same primitive the teacher's grid writer
// cache relies on implicitly through its per-file mutexes -- here made
// explicit and cross-process.
package lockfile

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"osmstore/internal/errs"
)

// Lock is a held advisory lock on a file. Release it with Unlock.
type Lock struct {
	f         *os.File
	exclusive bool
}

// AcquireExclusive opens (creating if necessary) the lock file at path and
// takes an exclusive, non-blocking lock. It fails with errs.LockFailure if
// another process already holds the lock, exclusive or shared.
func AcquireExclusive(path string) (*Lock, error) {
	return acquire(path, unix.LOCK_EX)
}

// AcquireShared opens the lock file at path and takes a shared,
// non-blocking lock, allowing any number of concurrent readers as long as
// no writer holds the exclusive lock.
func AcquireShared(path string) (*Lock, error) {
	return acquire(path, unix.LOCK_SH)
}

func acquire(path string, how int) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Wrapf(errs.IoError, "open lock file %s: %v", path, err)
	}

	if err := unix.Flock(int(f.Fd()), how|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, errors.Wrapf(errs.LockFailure, "lock %s: %v", path, err)
	}

	return &Lock{f: f, exclusive: how == unix.LOCK_EX}, nil
}

// Unlock releases the lock and closes the underlying file descriptor.
func (l *Lock) Unlock() error {
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		l.f.Close()
		return errors.Wrapf(errs.LockFailure, "unlock: %v", err)
	}
	return l.f.Close()
}
