// Package lock provides named mutual-exclusion locks.
//
// A Locker hands out at most one Handle per name at a time. Acquire blocks
// until the name is free or ctx is done; callers must Release every Handle
// they obtain, and Release is safe to call more than once.
package lock

import "context"

// Locker acquires named locks.
type Locker interface {
	Acquire(ctx context.Context, name string) (Handle, error)
}

// Handle is a held lock.
type Handle interface {
	Release(ctx context.Context) error
}
