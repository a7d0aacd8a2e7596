// Package ledger maps (block, signer) pairs to shard objects in a remote
// object store and keeps the global index of every shard ever written.
package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by a Store when the key does not exist.
var ErrNotFound = errors.New("object not found")

// Object is a remote object. Body is nil for metadata-only lookups.
// Version changes on every write; Get and Head report the same Version for
// the same stored content.
type Object struct {
	Key          string
	Body         []byte
	Version      string
	LastModified time.Time
}

// Store is the object-store surface the ledger needs.
type Store interface {
	Get(ctx context.Context, key string) (*Object, error)
	Head(ctx context.Context, key string) (*Object, error)
	Put(ctx context.Context, key string, body []byte) error
}
