package anchor

// Purpose describes what a device is used for.
type Purpose int

const (
	PurposeAuthentication Purpose = iota
	PurposeRecovery
)

// KeyType describes the kind of credential backing a device.
type KeyType int

const (
	KeyTypeUnknown KeyType = iota
	KeyTypePlatform
	KeyTypeCrossPlatform
	KeyTypeSeedPhrase
	KeyTypeBrowserStorageKey
)

// Protection describes whether a device requires caller-principal
// enforcement before it can be mutated or removed.
type Protection int

const (
	ProtectionUnprotected Protection = iota
	ProtectionProtected
)

const (
	maxPubkeyLen       = 300
	maxAliasLen        = 64
	maxCredentialIDLen = 200
	maxOriginLen       = 50
)

// Device is one authentication credential attached to an Anchor.
type Device struct {
	Pubkey       []byte
	Alias        string
	CredentialID []byte // optional, nil if unset
	Purpose      Purpose
	KeyType      KeyType
	Protection   Protection
	Origin       string // optional, "" if unset
	LastUsage    *int64 // optional, nanoseconds since epoch
}

// variableFieldsLen returns the number of bytes this device contributes
// to the anchor-wide variable-length field budget.
func (d Device) variableFieldsLen() int {
	return len(d.Pubkey) + len(d.Alias) + len(d.CredentialID) + len(d.Origin)
}

// isProtectedSeedPhrase reports whether this device is the one class of
// device that triggers caller-principal enforcement on mutation.
func (d Device) isProtectedSeedPhrase() bool {
	return d.Protection == ProtectionProtected && d.KeyType == KeyTypeSeedPhrase
}

// checkDeviceLimits validates each variable-length field on d against
// its own per-field cap, independent of the anchor-wide aggregate
// budget checkInvariants enforces.
func (d Device) checkDeviceLimits() error {
	switch {
	case len(d.Pubkey) > maxPubkeyLen:
		return &DeviceLimitExceededError{Field: "pubkey", Length: len(d.Pubkey), Limit: maxPubkeyLen}
	case len(d.Alias) > maxAliasLen:
		return &DeviceLimitExceededError{Field: "alias", Length: len(d.Alias), Limit: maxAliasLen}
	case len(d.CredentialID) > maxCredentialIDLen:
		return &DeviceLimitExceededError{Field: "credential_id", Length: len(d.CredentialID), Limit: maxCredentialIDLen}
	case len(d.Origin) > maxOriginLen:
		return &DeviceLimitExceededError{Field: "origin", Length: len(d.Origin), Limit: maxOriginLen}
	}
	return nil
}
