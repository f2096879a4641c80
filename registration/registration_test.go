package registration

import (
	"testing"
	"time"

	"github.com/openanchor/anchorsvc/anchor"
)

func testDevice() anchor.Device {
	return anchor.Device{Pubkey: []byte{9, 9, 9}, KeyType: anchor.KeyTypePlatform}
}

func TestEnterModeTwiceFails(t *testing.T) {
	r := New()
	now := time.Now()
	if err := r.EnterDeviceRegistrationMode(now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := r.EnterDeviceRegistrationMode(now)
	if _, ok := err.(*AlreadyInProgressError); !ok {
		t.Fatalf("expected AlreadyInProgressError, got %v", err)
	}
}

func TestAddTentativeDeviceRequiresMode(t *testing.T) {
	r := New()
	_, _, err := r.AddTentativeDevice(testDevice(), time.Now())
	if _, ok := err.(*NotInProgressError); !ok {
		t.Fatalf("expected NotInProgressError, got %v", err)
	}
}

func TestAddTentativeDeviceTwiceFails(t *testing.T) {
	r := New()
	now := time.Now()
	if err := r.EnterDeviceRegistrationMode(now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := r.AddTentativeDevice(testDevice(), now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, _, err := r.AddTentativeDevice(testDevice(), now)
	if _, ok := err.(*AnotherDeviceTentativelyAddedError); !ok {
		t.Fatalf("expected AnotherDeviceTentativelyAddedError, got %v", err)
	}
}

// TestVerifyExhaustsRetries checks that two wrong codes return
// decreasing retries_left, the third wrong code tears down the state
// machine, and a subsequent verify reports NoRegistrationMode.
func TestVerifyExhaustsRetries(t *testing.T) {
	r := New()
	now := time.Now()
	if err := r.EnterDeviceRegistrationMode(now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	code, _, err := r.AddTentativeDevice(testDevice(), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(code) != codeDigits {
		t.Fatalf("expected %d digit code, got %q", codeDigits, code)
	}

	outcome, _, retries, err := r.VerifyTentativeDevice("000000", now)
	if err != nil || outcome != VerifyOutcomeWrongCode || retries != 1 {
		t.Fatalf("got %v, %v, %d, want WrongCode, nil, 1", outcome, err, retries)
	}

	outcome, _, retries, err = r.VerifyTentativeDevice("000000", now)
	if err != nil || outcome != VerifyOutcomeWrongCode || retries != 0 {
		t.Fatalf("got %v, %v, %d, want WrongCode, nil, 0", outcome, err, retries)
	}

	outcome, _, retries, err = r.VerifyTentativeDevice("000000", now)
	if err != nil || outcome != VerifyOutcomeWrongCode || retries != 0 {
		t.Fatalf("got %v, %v, %d, want WrongCode, nil, 0", outcome, err, retries)
	}

	outcome, _, _, err = r.VerifyTentativeDevice(code, now)
	if err != nil || outcome != VerifyOutcomeNoRegistrationMode {
		t.Fatalf("got %v, %v, want NoRegistrationMode, nil", outcome, err)
	}
}

func TestVerifyCorrectCodeCommits(t *testing.T) {
	r := New()
	now := time.Now()
	if err := r.EnterDeviceRegistrationMode(now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d := testDevice()
	code, _, err := r.AddTentativeDevice(d, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	outcome, got, _, err := r.VerifyTentativeDevice(code, now)
	if err != nil || outcome != VerifyOutcomeVerified {
		t.Fatalf("got %v, %v, want Verified, nil", outcome, err)
	}
	if string(got.Pubkey) != string(d.Pubkey) {
		t.Fatalf("returned device does not match the tentative one")
	}
	if r.Status(now) != StatusIdle {
		t.Fatalf("expected Idle after verification, got %v", r.Status(now))
	}
}

func TestExpiry(t *testing.T) {
	r := New()
	now := time.Now()
	if err := r.EnterDeviceRegistrationMode(now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := r.AddTentativeDevice(testDevice(), now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	later := now.Add(TTL + time.Second)
	outcome, _, _, err := r.VerifyTentativeDevice("000000", later)
	if err != nil || outcome != VerifyOutcomeExpired {
		t.Fatalf("got %v, %v, want Expired, nil", outcome, err)
	}
	if r.Status(later) != StatusIdle {
		t.Fatalf("expected Idle after expiry, got %v", r.Status(later))
	}
}

func TestExitDeviceRegistrationMode(t *testing.T) {
	r := New()
	now := time.Now()
	if err := r.EnterDeviceRegistrationMode(now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.ExitDeviceRegistrationMode()
	if r.Status(now) != StatusIdle {
		t.Fatalf("expected Idle after exit, got %v", r.Status(now))
	}
}
