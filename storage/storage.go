// Package storage defines the opaque, keyed byte-page store every other
// component persists through, and the small set of sentinel errors its
// implementations report.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is the sentinel for a key with no value. The memory and
// sql backends do not return it: PageStore.Get reports a missing key
// with ok=false.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is the sentinel for a resource that is already
// present. The memory and sql backends do not return it; the sql
// migration uses CREATE TABLE IF NOT EXISTS.
var ErrAlreadyExists = errors.New("already exists")

// PageStore is the opaque key/value collaborator the AnchorStore
// persists anchors through (the signature map and the delegation salt
// are held in memory only). It stands in for the stable-memory allocator of
// the original host runtime: callers address pages by an arbitrary
// uint64 key and never interpret the bytes themselves.
type PageStore interface {
	// Get returns the value for key, or ok=false if no value has ever
	// been written for it.
	Get(ctx context.Context, key uint64) (value []byte, ok bool, err error)

	// Put writes value for key, replacing any previous value.
	Put(ctx context.Context, key uint64, value []byte) error

	// Close releases any resources held by the store.
	Close() error
}

// Config opens a PageStore from a configuration value. Each backend
// package (memory, sql) provides a concrete Config implementation; the
// CLI layer selects one by name at startup.
type Config interface {
	Open() (PageStore, error)
}
