// Package anchor implements the invariant-checked user record at the
// center of the identity anchor service: a numbered Anchor owning a
// bounded, ordered list of authentication Devices.
package anchor

import (
	"bytes"

	"github.com/openanchor/anchorsvc/principal"
)

const (
	// MaxDevices is the maximum number of devices an anchor may hold.
	MaxDevices = 10

	// MaxVariableFieldsLen bounds the sum of variable-length device
	// fields (pubkey, alias, credential id, origin) across an anchor.
	MaxVariableFieldsLen = 2348
)

// Number identifies an Anchor. Identity is immutable for the life of
// the anchor.
type Number uint64

// DomainActivity summarizes which kinds of frontend origins an anchor's
// devices have recently authenticated to.
type DomainActivity int

const (
	DomainActivityNone DomainActivity = iota
	DomainActivityNonIIDomain
	DomainActivityIc0App
	DomainActivityInternetComputerOrg
	DomainActivityBothIIDomains
)

const (
	ic0AppOrigin           = "ic0.app"
	internetComputerOrigin = "internetcomputer.org"
)

// Anchor is one user record: a numbered, invariant-checked list of
// devices. The zero value is not valid; use New.
type Anchor struct {
	number  Number
	devices []Device
}

// New returns an empty anchor with the given number.
func New(number Number) *Anchor {
	return &Anchor{number: number}
}

// Number returns the anchor's immutable identifier.
func (a *Anchor) Number() Number { return a.number }

// Devices returns a copy of the anchor's device list.
func (a *Anchor) Devices() []Device {
	out := make([]Device, len(a.devices))
	copy(out, a.devices)
	return out
}

// IntoDevices consumes the anchor and returns its device list.
func (a *Anchor) IntoDevices() []Device {
	return a.devices
}

// Device returns the device with the given pubkey, if any.
func (a *Anchor) Device(key []byte) (Device, bool) {
	for _, d := range a.devices {
		if bytes.Equal(d.Pubkey, key) {
			return d, true
		}
	}
	return Device{}, false
}

func (a *Anchor) indexOf(key []byte) int {
	for i, d := range a.devices {
		if bytes.Equal(d.Pubkey, key) {
			return i
		}
	}
	return -1
}

// checkInvariants validates the full device list as it would exist
// after a proposed mutation, without modifying the anchor.
func checkInvariants(devices []Device) error {
	if len(devices) > MaxDevices {
		return &TooManyDevicesError{Max: MaxDevices}
	}

	total := 0
	seedPhrases := 0
	seen := make(map[string]struct{}, len(devices))
	for _, d := range devices {
		total += d.variableFieldsLen()
		if d.KeyType == KeyTypeSeedPhrase {
			seedPhrases++
		}
		if d.Protection == ProtectionProtected && d.KeyType != KeyTypeSeedPhrase {
			return &InvalidDeviceProtectionError{}
		}
		k := string(d.Pubkey)
		if _, dup := seen[k]; dup {
			return &DuplicateDeviceError{Key: d.Pubkey}
		}
		seen[k] = struct{}{}
	}
	if total > MaxVariableFieldsLen {
		return &VariableLengthFieldsTooLargeError{Limit: MaxVariableFieldsLen}
	}
	if seedPhrases > 1 {
		return &MultipleRecoveryPhrasesError{}
	}
	return nil
}

// checkMutationAllowed enforces the one protection class that requires
// the caller's principal to match the device being mutated: a Protected
// SeedPhrase device may only be touched by its own principal.
func checkMutationAllowed(d Device, caller principal.Principal) error {
	if !d.isProtectedSeedPhrase() {
		return nil
	}
	if !principal.FromPublicKey(d.Pubkey).Equal(caller) {
		return &MutationNotAllowedError{}
	}
	return nil
}

// AddDevice appends a new device after validating it doesn't duplicate
// an existing pubkey and that the resulting anchor still satisfies all
// invariants.
func (a *Anchor) AddDevice(d Device) error {
	if err := d.checkDeviceLimits(); err != nil {
		return err
	}
	if a.indexOf(d.Pubkey) != -1 {
		return &DuplicateDeviceError{Key: d.Pubkey}
	}
	next := append(a.Devices(), d)
	if err := checkInvariants(next); err != nil {
		return err
	}
	a.devices = next
	return nil
}

// RemoveDevice removes the device with the given key. Anchor-wide
// invariants are deliberately not re-checked on removal, so an
// out-of-spec anchor (e.g. carrying two seed phrases from before a
// tightened invariant) can recover by shedding devices.
func (a *Anchor) RemoveDevice(key []byte, caller principal.Principal) error {
	i := a.indexOf(key)
	if i == -1 {
		return &NotFoundError{Key: key}
	}
	if err := checkMutationAllowed(a.devices[i], caller); err != nil {
		return err
	}
	a.devices = append(a.devices[:i:i], a.devices[i+1:]...)
	return nil
}

// ModifyDevice replaces the device identified by key with new, which
// must carry the same pubkey. The protection check runs against the
// existing device; invariants are re-checked against the post state.
func (a *Anchor) ModifyDevice(key []byte, newDevice Device, caller principal.Principal) error {
	if !bytes.Equal(newDevice.Pubkey, key) {
		return &CannotModifyDeviceKeyError{}
	}
	if err := newDevice.checkDeviceLimits(); err != nil {
		return err
	}
	i := a.indexOf(key)
	if i == -1 {
		return &NotFoundError{Key: key}
	}
	if err := checkMutationAllowed(a.devices[i], caller); err != nil {
		return err
	}
	next := a.Devices()
	next[i] = newDevice
	if err := checkInvariants(next); err != nil {
		return err
	}
	a.devices = next
	return nil
}

// SetDeviceUsageTimestamp records the last-usage time for a device.
// This never triggers invariant checks.
func (a *Anchor) SetDeviceUsageTimestamp(key []byte, nanos int64) error {
	i := a.indexOf(key)
	if i == -1 {
		return &NotFoundError{Key: key}
	}
	a.devices[i].LastUsage = &nanos
	return nil
}

// LastActivity returns the most recent LastUsage timestamp across all
// devices, or nil if no device has ever been used.
func (a *Anchor) LastActivity() *int64 {
	var latest *int64
	for _, d := range a.devices {
		if d.LastUsage == nil {
			continue
		}
		if latest == nil || *d.LastUsage > *latest {
			v := *d.LastUsage
			latest = &v
		}
	}
	return latest
}

func classifyOrigin(origin string) DomainActivity {
	switch origin {
	case ic0AppOrigin:
		return DomainActivityIc0App
	case internetComputerOrigin:
		return DomainActivityInternetComputerOrg
	default:
		return DomainActivityNonIIDomain
	}
}

// DomainActivitySince folds the origins of devices used at or after t
// into a single summary. If any II-domain activity is present, activity
// on other domains is dropped; an absent origin counts as non-II.
func (a *Anchor) DomainActivitySince(t int64) DomainActivity {
	sawIc0App := false
	sawICOrg := false
	sawNonII := false

	for _, d := range a.devices {
		if d.LastUsage == nil || *d.LastUsage < t {
			continue
		}
		if d.Origin == "" {
			sawNonII = true
			continue
		}
		switch classifyOrigin(d.Origin) {
		case DomainActivityIc0App:
			sawIc0App = true
		case DomainActivityInternetComputerOrg:
			sawICOrg = true
		default:
			sawNonII = true
		}
	}

	switch {
	case sawIc0App && sawICOrg:
		return DomainActivityBothIIDomains
	case sawIc0App:
		return DomainActivityIc0App
	case sawICOrg:
		return DomainActivityInternetComputerOrg
	case sawNonII:
		return DomainActivityNonIIDomain
	default:
		return DomainActivityNone
	}
}
