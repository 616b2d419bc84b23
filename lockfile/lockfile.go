// Package lockfile implements spec §5's cross-process install-root lock:
// an OS-level exclusive file lock, acquired non-blocking so an attempt
// made while the lock is already held fails immediately rather than
// waiting.
//
// Grounded directly on the teacher's vendored
// github.com/theckman/go-flock, used exactly as there: TryLock() is
// non-blocking and tells the caller right away whether it won.
package lockfile

import (
	"github.com/pkg/errors"
	flock "github.com/theckman/go-flock"
)

// ErrAlreadyLocked is spec §5's already-locked: the install root is held
// by another process.
var ErrAlreadyLocked = errors.New("already-locked")

// Lock guards the install root for the duration of any operation that
// reads-then-writes the current graph or the operation log.
type Lock struct {
	fl *flock.Flock
}

// New returns a lock backed by the lockfile at path (conventionally
// <install root>/.nest.lock).
func New(path string) *Lock {
	return &Lock{fl: flock.NewFlock(path)}
}

// Acquire takes the lock without blocking. If another process already
// holds it, it returns ErrAlreadyLocked immediately — the system never
// waits indefinitely, per spec §5.
func (l *Lock) Acquire() error {
	ok, err := l.fl.TryLock()
	if err != nil {
		return errors.Wrap(err, "acquiring install-root lock")
	}
	if !ok {
		return ErrAlreadyLocked
	}
	return nil
}

// Release gives up the lock.
func (l *Lock) Release() error {
	return l.fl.Unlock()
}
