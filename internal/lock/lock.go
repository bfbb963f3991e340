// Package lock defines the distributed mutual exclusion used around planning and execution.
package lock

import (
	"context"
	"errors"
)

// ErrNotAcquired is returned when another holder owns the lock.
var ErrNotAcquired = errors.New("lock is held by another owner")

// Locker hands out named, expiring locks.
type Locker interface {
	Acquire(ctx context.Context, name string) (Lock, error)
}

// Lock is a held lock. Release is safe to call more than once.
//
// Refresh pushes the expiry out by the locker's TTL. It returns ErrNotAcquired once the
// lock expired or passed to another owner; the holder must stop acting on it then.
type Lock interface {
	Refresh(ctx context.Context) error
	Release(ctx context.Context) error
}

// Planning is the lock name serializing batch planning.
const Planning = "autosend:plan"

// Execution returns the lock name guarding execution of one batch.
func Execution(batchID string) string {
	return "autosend:execute:" + batchID
}
