// Package anchorstore implements the AnchorStore component: it
// allocates fresh anchor numbers from an assigned range and persists
// anchors through an opaque page store.
package anchorstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/openanchor/anchorsvc/anchor"
	"github.com/openanchor/anchorsvc/storage"
)

// Range is the half-open interval [First, Last) of anchor numbers this
// store is permitted to allocate.
type Range struct {
	First anchor.Number
	Last  anchor.Number
}

// AnchorRangeExhaustedError is returned by AllocateNew when every
// number in the assigned range has already been allocated.
type AnchorRangeExhaustedError struct{}

func (e *AnchorRangeExhaustedError) Error() string {
	return "anchor number range exhausted"
}

// OutOfRangeError is returned by Read/Write when a number falls
// outside the store's assigned range, and by Read also for a number
// inside the range that has not been allocated yet.
type OutOfRangeError struct {
	Number anchor.Number
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("anchor number %d is out of range", e.Number)
}

// NotFoundError is returned by Read when a number is within the
// allocated high-water mark but was never written, or has no record in
// the page store.
type NotFoundError struct {
	Number anchor.Number
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("anchor %d not found", e.Number)
}

// Store allocates anchor numbers within Range and persists anchors
// through a PageStore, one page per anchor number.
type Store struct {
	mu    sync.Mutex
	pages storage.PageStore
	rng   Range
	next  anchor.Number // next number to allocate; high-water mark is next-1
}

// New returns a Store that allocates numbers from rng and persists
// through pages.
func New(pages storage.PageStore, rng Range) *Store {
	return &Store{pages: pages, rng: rng, next: rng.First}
}

// AllocateNew hands out the next unused number in the assigned range.
func (s *Store) AllocateNew() (anchor.Number, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next >= s.rng.Last {
		return 0, &AnchorRangeExhaustedError{}
	}
	n := s.next
	s.next++
	return n, nil
}

func (s *Store) inRange(n anchor.Number) bool {
	return n >= s.rng.First && n < s.rng.Last
}

func (s *Store) allocated(n anchor.Number) bool {
	return n < s.next
}

// Read loads the anchor for n. It fails with NotFoundError for a
// number within the high-water mark that was never written, and with
// OutOfRangeError for any other number: outside the assigned range, or
// inside it but not allocated yet.
func (s *Store) Read(ctx context.Context, n anchor.Number) (*anchor.Anchor, error) {
	s.mu.Lock()
	inRange := s.inRange(n)
	allocated := s.allocated(n)
	s.mu.Unlock()

	if !inRange || !allocated {
		return nil, &OutOfRangeError{Number: n}
	}

	data, ok, err := s.pages.Get(ctx, uint64(n))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &NotFoundError{Number: n}
	}

	a := anchor.New(n)
	if err := a.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return a, nil
}

// Write persists a.
func (s *Store) Write(ctx context.Context, a *anchor.Anchor) error {
	s.mu.Lock()
	inRange := s.inRange(a.Number())
	s.mu.Unlock()
	if !inRange {
		return &OutOfRangeError{Number: a.Number()}
	}

	data, err := a.MarshalBinary()
	if err != nil {
		return err
	}
	return s.pages.Put(ctx, uint64(a.Number()), data)
}

// Flush is a no-op for the current page store backends, which commit
// synchronously on Put; it exists so a future buffered backend has a
// defined commit point to hook into.
func (s *Store) Flush(ctx context.Context) error {
	return nil
}
