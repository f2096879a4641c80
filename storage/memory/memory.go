// Package memory provides an in-memory PageStore, the default backend
// for tests and single-process deployments.
package memory

import (
	"context"
	"sync"

	"github.com/openanchor/anchorsvc/storage"
)

var _ storage.PageStore = (*pageStore)(nil)

// New returns an empty in-memory PageStore.
func New() storage.PageStore {
	return &pageStore{pages: make(map[uint64][]byte)}
}

// Config is the Config implementation for the memory backend. It has
// no fields: there is nothing to configure.
type Config struct{}

// Open always returns a fresh in-memory store.
func (c *Config) Open() (storage.PageStore, error) {
	return New(), nil
}

type pageStore struct {
	mu    sync.Mutex
	pages map[uint64][]byte
}

func (s *pageStore) Get(ctx context.Context, key uint64) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.pages[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (s *pageStore) Put(ctx context.Context, key uint64, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	s.pages[key] = stored
	return nil
}

func (s *pageStore) Close() error { return nil }
