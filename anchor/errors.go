package anchor

import "fmt"

// DuplicateDeviceError is returned when adding a device whose pubkey
// already belongs to another device on the anchor.
type DuplicateDeviceError struct {
	Key []byte
}

func (e *DuplicateDeviceError) Error() string {
	return fmt.Sprintf("device with key %x already exists", e.Key)
}

// NotFoundError is returned when a device lookup by key fails.
type NotFoundError struct {
	Key []byte
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no device with key %x", e.Key)
}

// MutationNotAllowedError is returned when a protected device is mutated
// or removed by a caller other than the device's own principal.
type MutationNotAllowedError struct{}

func (e *MutationNotAllowedError) Error() string {
	return "device is protected and may only be mutated by its own principal"
}

// CannotModifyDeviceKeyError is returned by modify_device when the
// replacement device's pubkey differs from the key being modified.
type CannotModifyDeviceKeyError struct{}

func (e *CannotModifyDeviceKeyError) Error() string {
	return "device pubkey cannot be changed by modify_device"
}

// TooManyDevicesError is returned when an anchor would exceed the
// maximum number of devices.
type TooManyDevicesError struct {
	Max int
}

func (e *TooManyDevicesError) Error() string {
	return fmt.Sprintf("anchor already has the maximum of %d devices", e.Max)
}

// VariableLengthFieldsTooLargeError is returned when the sum of
// variable-length device fields would exceed the anchor-wide budget.
type VariableLengthFieldsTooLargeError struct {
	Limit int
}

func (e *VariableLengthFieldsTooLargeError) Error() string {
	return fmt.Sprintf("total device field size would exceed %d bytes", e.Limit)
}

// MultipleRecoveryPhrasesError is returned when an anchor would end up
// with more than one SeedPhrase device.
type MultipleRecoveryPhrasesError struct{}

func (e *MultipleRecoveryPhrasesError) Error() string {
	return "anchor may have at most one seed phrase device"
}

// InvalidDeviceProtectionError is returned when a Protected device's
// key_type is not SeedPhrase.
type InvalidDeviceProtectionError struct{}

func (e *InvalidDeviceProtectionError) Error() string {
	return "only seed phrase devices may be protected"
}

// DeviceLimitExceededError is returned when a single device field
// exceeds its own per-field size limit.
type DeviceLimitExceededError struct {
	Field  string
	Length int
	Limit  int
}

func (e *DeviceLimitExceededError) Error() string {
	return fmt.Sprintf("device field %q has length %d, exceeding limit of %d", e.Field, e.Length, e.Limit)
}
