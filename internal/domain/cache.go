package domain

import (
	"context"
	"time"
)

// UpdateFunc computes the next value for a key from its current one. found is
// false on a cache miss. Returning an error aborts the update and nothing is
// written.
type UpdateFunc func(prev string, found bool) (next string, err error)

// ValueStore holds the last observed value per symbol.
type ValueStore interface {
	Ping(ctx context.Context) error
	// Get returns ErrNotFound when the symbol has no entry.
	Get(ctx context.Context, symbol string) (string, error)
	Set(ctx context.Context, symbol, value string) error
	// FlushAll removes every entry, not only one symbol's.
	FlushAll(ctx context.Context) error
	// Update runs fn against the current value and writes its result as a
	// single atomic step for that key.
	Update(ctx context.Context, symbol string, fn UpdateFunc) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
