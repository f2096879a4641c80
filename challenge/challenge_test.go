package challenge

import (
	"testing"
	"time"
)

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestCreateThenCheckSucceeds(t *testing.T) {
	s := New()
	s.now = fixedNow(time.Now())

	c, err := s.Create()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(c.Key) != keyLen {
		t.Fatalf("expected key of length %d, got %q", keyLen, c.Key)
	}

	stored := s.entries[c.Key]
	if !s.Check(Attempt{Key: c.Key, Chars: stored.chars}) {
		t.Fatalf("expected check to succeed with correct chars")
	}
}

func TestCheckConsumesEntry(t *testing.T) {
	s := New()
	s.now = fixedNow(time.Now())
	c, err := s.Create()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored := s.entries[c.Key]
	s.Check(Attempt{Key: c.Key, Chars: stored.chars})
	if s.Check(Attempt{Key: c.Key, Chars: stored.chars}) {
		t.Fatalf("expected second check on same key to fail")
	}
}

func TestCheckWrongCharsFails(t *testing.T) {
	s := New()
	s.now = fixedNow(time.Now())
	c, err := s.Create()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Check(Attempt{Key: c.Key, Chars: "wrong"}) {
		t.Fatalf("expected check with wrong chars to fail")
	}
}

func TestCheckUnknownKeyFails(t *testing.T) {
	s := New()
	if s.Check(Attempt{Key: "nope", Chars: "xxxxx"}) {
		t.Fatalf("expected check with unknown key to fail")
	}
}

func TestCheckExpiredFails(t *testing.T) {
	start := time.Now()
	s := New()
	s.now = fixedNow(start)
	c, err := s.Create()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored := s.entries[c.Key]

	s.now = fixedNow(start.Add(TTL + time.Second))
	if s.Check(Attempt{Key: c.Key, Chars: stored.chars}) {
		t.Fatalf("expected check after TTL to fail")
	}
}

func TestCreateBusyAtCapacity(t *testing.T) {
	s := New()
	s.now = fixedNow(time.Now())
	for i := 0; i < MaxInFlight; i++ {
		if _, err := s.Create(); err != nil {
			t.Fatalf("unexpected error at %d: %v", i, err)
		}
	}
	_, err := s.Create()
	if _, ok := err.(*BusyError); !ok {
		t.Fatalf("expected BusyError, got %v", err)
	}
}

func TestCreateEvictsExpiredBeforeBusyCheck(t *testing.T) {
	start := time.Now()
	s := New()
	s.now = fixedNow(start)
	for i := 0; i < MaxInFlight; i++ {
		if _, err := s.Create(); err != nil {
			t.Fatalf("unexpected error at %d: %v", i, err)
		}
	}

	s.now = fixedNow(start.Add(TTL + time.Second))
	if _, err := s.Create(); err != nil {
		t.Fatalf("expected room after expiry, got %v", err)
	}
}

func TestRenderPNGProducesValidImage(t *testing.T) {
	data, err := renderPNG("AB3KZ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected non-empty PNG data")
	}
	// PNG magic header.
	want := []byte{0x89, 'P', 'N', 'G'}
	if string(data[:4]) != string(want) {
		t.Fatalf("output does not start with PNG signature")
	}
}
