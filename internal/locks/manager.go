package locks

import "context"

// Lock represents an acquired distributed lock.
type Lock interface {
	Refresh(ctx context.Context, ttlSeconds int) error
	Release(ctx context.Context) error
	// GetValue returns the holder token this lock was acquired with, used
	// by CircuitBreakerManager to confirm ownership before refreshing.
	GetValue() string
}

// Manager can acquire locks identified by a key.
type Manager interface {
	Acquire(ctx context.Context, key string, ttlSeconds int) (Lock, bool, error)
}
