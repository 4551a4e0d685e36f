package port

import "context"

type IdempotencyStore interface {
	// Acquire claims key for an in-flight request, returns false if already claimed
	Acquire(ctx context.Context, key string) (bool, error)

	// Lookup returns the order committed under key, or 0 while still in flight
	Lookup(ctx context.Context, key string) (int64, error)

	// Complete binds key to the committed order
	Complete(ctx context.Context, key string, orderID int64) error

	// Release frees a claim whose request failed
	Release(ctx context.Context, key string) error
}
