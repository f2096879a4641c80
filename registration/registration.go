// Package registration implements the TentativeRegistration state
// machine: the two-phase "add this new device" flow a user drives from
// a second browser, modeled on an OAuth2 device-authorization grant.
package registration

import (
	"fmt"
	"time"

	"github.com/openanchor/anchorsvc/anchor"
	pcrypto "github.com/openanchor/anchorsvc/pkg/crypto"
)

// TTL is how long registration mode, and a tentatively added device,
// stay active before expiring back to Idle.
const TTL = 15 * time.Minute

// MaxAttempts is how many wrong verification codes are tolerated
// before the tentative device is dropped.
const MaxAttempts = 3

const codeDigits = 6

// Status identifies which state a registration is in.
type Status int

const (
	StatusIdle Status = iota
	StatusModeActive
	StatusTentativelyAdded
)

// Registration is the per-anchor tentative-registration state.
type Registration struct {
	status   Status
	expires  time.Time
	device   anchor.Device
	code     string
	attempts int
}

// New returns a registration in the Idle state.
func New() *Registration {
	return &Registration{status: StatusIdle}
}

// NotInProgressError is returned when an operation that requires an
// active registration is attempted while Idle.
type NotInProgressError struct{}

func (e *NotInProgressError) Error() string { return "no device registration in progress" }

// AlreadyInProgressError is returned by EnterDeviceRegistrationMode
// when a registration is already active for this anchor.
type AlreadyInProgressError struct{}

func (e *AlreadyInProgressError) Error() string { return "device registration already in progress" }

// AnotherDeviceTentativelyAddedError is returned by AddTentativeDevice
// when a different device is already pending verification.
type AnotherDeviceTentativelyAddedError struct{}

func (e *AnotherDeviceTentativelyAddedError) Error() string {
	return "another device is already tentatively added"
}

// EnterDeviceRegistrationMode moves an Idle registration into
// ModeActive, starting a fresh TTL window.
func (r *Registration) EnterDeviceRegistrationMode(now time.Time) error {
	r.expireIfPast(now)
	if r.status != StatusIdle {
		return &AlreadyInProgressError{}
	}
	r.status = StatusModeActive
	r.expires = now.Add(TTL)
	return nil
}

// AddTentativeDevice records a candidate device and generates its
// verification code. Requires ModeActive.
func (r *Registration) AddTentativeDevice(d anchor.Device, now time.Time) (code string, expires time.Time, err error) {
	r.expireIfPast(now)
	switch r.status {
	case StatusTentativelyAdded:
		return "", time.Time{}, &AnotherDeviceTentativelyAddedError{}
	case StatusModeActive:
		// proceed
	default:
		return "", time.Time{}, &NotInProgressError{}
	}

	code, err = generateCode()
	if err != nil {
		return "", time.Time{}, err
	}

	r.status = StatusTentativelyAdded
	r.device = d
	r.code = code
	r.attempts = 0
	r.expires = now.Add(TTL)
	return code, r.expires, nil
}

// VerifyOutcome enumerates the result of VerifyTentativeDevice.
type VerifyOutcome int

const (
	VerifyOutcomeVerified VerifyOutcome = iota
	VerifyOutcomeWrongCode
	VerifyOutcomeNoRegistrationMode
	VerifyOutcomeExpired
)

// VerifyTentativeDevice checks a submitted code against the pending
// tentative device.
func (r *Registration) VerifyTentativeDevice(submitted string, now time.Time) (outcome VerifyOutcome, device anchor.Device, retriesLeft int, err error) {
	wasExpired := r.expireIfPast(now)
	if r.status != StatusTentativelyAdded {
		if wasExpired {
			return VerifyOutcomeExpired, anchor.Device{}, 0, nil
		}
		return VerifyOutcomeNoRegistrationMode, anchor.Device{}, 0, nil
	}

	if submitted == r.code {
		d := r.device
		r.reset()
		return VerifyOutcomeVerified, d, 0, nil
	}

	r.attempts++
	if r.attempts >= MaxAttempts {
		r.reset()
		return VerifyOutcomeWrongCode, anchor.Device{}, 0, nil
	}
	return VerifyOutcomeWrongCode, anchor.Device{}, MaxAttempts - r.attempts - 1, nil
}

// ExitDeviceRegistrationMode returns to Idle unconditionally.
func (r *Registration) ExitDeviceRegistrationMode() {
	r.reset()
}

// Status reports the current state, expiring it first if its TTL has
// passed.
func (r *Registration) Status(now time.Time) Status {
	r.expireIfPast(now)
	return r.status
}

func (r *Registration) reset() {
	r.status = StatusIdle
	r.device = anchor.Device{}
	r.code = ""
	r.attempts = 0
	r.expires = time.Time{}
}

func (r *Registration) expireIfPast(now time.Time) bool {
	if r.status == StatusIdle {
		return false
	}
	if now.Before(r.expires) {
		return false
	}
	r.reset()
	return true
}

func generateCode() (string, error) {
	b, err := pcrypto.RandBytes(codeDigits)
	if err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}
	digits := make([]byte, codeDigits)
	for i, v := range b {
		digits[i] = '0' + v%10
	}
	return string(digits), nil
}
