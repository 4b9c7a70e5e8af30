// Package lock serializes work on a single key (one user's cart) across processes.
package lock

import (
	"context"
	"errors"
)

var ErrNotAcquired = errors.New("lock not acquired")

// Locker acquires an exclusive lock on key. The returned func releases it.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// CartKey is the lock key shared by cart mutations and checkout for one user.
func CartKey(userID string) string {
	return "cart:" + userID
}
