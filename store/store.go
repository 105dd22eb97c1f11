// Package store defines a generic typed key-value persistence interface,
// backed by in-memory, Pebble, and Redis implementations. The destination
// package uses Store[int64] as a read-through cursor cache: a non-durable
// subscription that re-attaches under a name this destination instance has
// already seen resumes near where it left off instead of starting at the
// current log tail, without the full durability guarantee substore.Store gives
// durable subscriptions.
package store

import (
	"context"
)

// Store is a generic key-value store parameterized over the stored value
// type, reused here for int64 dispatch cursors but not limited to them.
type Store[T any] interface {
	Reader[T]
	Metrics

	// Save stores or updates a value by key
	Save(ctx context.Context, key string, value T) error

	// Delete removes a value by key
	Delete(ctx context.Context, key string) error

	// Close closes the store
	Close() error
}

// Reader is the read-only half of Store, split out so a component that
// only ever consults a cache (never writes it) can depend on the smaller
// interface.
type Reader[T any] interface {
	// Load retrieves a value by key
	Load(ctx context.Context, key string) (T, error)

	// Exists checks if a key exists
	Exists(ctx context.Context, key string) (bool, error)

	// List returns all keys
	List(ctx context.Context) ([]string, error)
}

// Metrics provides metrics about the store
type Metrics interface {
	// Count returns the total number of items
	Count(ctx context.Context) (int64, error)
}
