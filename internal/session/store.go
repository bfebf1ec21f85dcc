// Package session provides the session-scoped blob store. Its contents
// outlive a host reload (which rebuilds every in-process structure) but not a
// full process restart with a removed database file. Only the job manager
// writes to it; everything else in the bridge is ephemeral by design.
package session

import (
	"context"
	"errors"
)

// ErrNoKey is returned by Get for keys that have never been written or have
// been deleted.
var ErrNoKey = errors.New("session: no such key")

// Store is a key/value blob store with reload-durable contents.
type Store interface {
	// Get returns the blob stored under key, or ErrNoKey.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores value under key, replacing any previous blob.
	Put(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys returns all keys with the given prefix, in lexical order.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
