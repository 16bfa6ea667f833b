// Package storage implements the hash-per-table key-value contract shared by
// every backend: get, set, contains, del, and a snapshot iterator, each
// scoped to a named table that is created lazily on first write.
package storage

import (
	"context"
	"errors"

	"kvserver/internal/wire"
)

// ErrNotFound is returned by Get when the key is absent from its table. The
// dispatcher maps this to command-specific semantics; most Hash commands do
// not treat a miss as an error.
var ErrNotFound = errors.New("storage: key not found")

// Entry is one (key, value) pair produced by Iter.
type Entry struct {
	Key   string
	Value wire.Value
}

// Backend is the uniform contract every storage implementation satisfies.
// All operations are scoped to table; tables need no explicit creation.
// Set and Del return the value previously stored under key, or the None
// variant when there was none.
type Backend interface {
	Get(ctx context.Context, table, key string) (wire.Value, error)
	Set(ctx context.Context, table, key string, value wire.Value) (wire.Value, error)
	Contains(ctx context.Context, table, key string) (bool, error)
	Del(ctx context.Context, table, key string) (wire.Value, error)
	// Iter returns a point-in-time snapshot of table's entries. A table that
	// was never written to yields an empty, non-error snapshot.
	Iter(ctx context.Context, table string) ([]Entry, error)
	Close() error
}
