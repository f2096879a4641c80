package memory

import (
	"context"
	"testing"
)

func TestPageStoreRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected miss for unwritten key")
	}

	if err := s.Put(ctx, 1, []byte("hello")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, ok, err := s.Get(ctx, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || string(got) != "hello" {
		t.Fatalf("got %q, %v, want hello, true", got, ok)
	}
}

func TestPageStoreOverwrite(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.Put(ctx, 7, []byte("first")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Put(ctx, 7, []byte("second")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok, err := s.Get(ctx, 7)
	if err != nil || !ok || string(got) != "second" {
		t.Fatalf("got %q, %v, %v, want second, true, nil", got, ok, err)
	}
}

func TestPageStoreGetReturnsCopy(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.Put(ctx, 3, []byte("abc")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _, _ := s.Get(ctx, 3)
	got[0] = 'z'
	got2, _, _ := s.Get(ctx, 3)
	if string(got2) != "abc" {
		t.Fatalf("mutating returned slice corrupted stored value: %q", got2)
	}
}
