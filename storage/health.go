package storage

import (
	"context"
	"fmt"
	"time"
)

// probeKey is a page address reserved for health checks; no domain
// component ever allocates it.
const probeKey = ^uint64(0)

// NewHealthCheckFunc returns a go-sundheit check that round-trips a
// probe value through the store: a write-then-read liveness check.
func NewHealthCheckFunc(s PageStore, now func() time.Time) func(context.Context) (interface{}, error) {
	return func(ctx context.Context) (interface{}, error) {
		probe := []byte(now().Format(time.RFC3339Nano))
		if err := s.Put(ctx, probeKey, probe); err != nil {
			return nil, fmt.Errorf("write probe: %w", err)
		}
		got, ok, err := s.Get(ctx, probeKey)
		if err != nil {
			return nil, fmt.Errorf("read probe: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("probe write did not persist")
		}
		return string(got), nil
	}
}
