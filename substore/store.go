// Package substore persists durable subscriptions so they survive a
// session disconnect: a client that reconnects with the same clientId and
// subscription name resumes from its last acknowledged cursor instead of
// losing its place in the destination's log.
package substore

import (
	"context"
	"errors"
)

var (
	ErrNotFound    = errors.New("durable subscription not found")
	ErrAlreadyOpen = errors.New("durable subscription already exists")
	ErrStoreClosed = errors.New("durable subscription store is closed")
)

// Key identifies a durable subscription: the destination it is attached to,
// the client that owns it, and the subscription name the client chose.
type Key struct {
	DestinationURI string
	ClientID       string
	Name           string
}

// Record is the persisted state of one durable subscription: enough to
// re-attach a Subscription at the cursor it left off at, with the same
// selector and delivery mode it was created with.
type Record struct {
	Key      Key
	Mode     byte
	Selector string
	Cursor   int64
}

// Store defines durable-subscription persistence. Implementations must be
// safe for concurrent use.
type Store interface {
	// Save stores or updates rec, keyed by rec.Key.
	Save(ctx context.Context, rec *Record) error

	// Load retrieves the record for key.
	Load(ctx context.Context, key Key) (*Record, error)

	// Delete removes the record for key.
	Delete(ctx context.Context, key Key) error

	// Exists checks if a record exists for key.
	Exists(ctx context.Context, key Key) (bool, error)

	// ListByDestination returns every record attached to destinationURI.
	ListByDestination(ctx context.Context, destinationURI string) ([]*Record, error)

	// Close closes the store.
	Close() error
}

func keyString(k Key) string {
	return k.DestinationURI + "\x00" + k.ClientID + "\x00" + k.Name
}
