// Package principal derives self-authenticating principals from device
// public keys, the same way every caller-identity check in the rest of
// the service needs to.
package principal

import "crypto/sha256"

// selfAuthenticatingSuffix marks a principal as derived from a public key
// rather than from an anonymous or opaque identifier.
const selfAuthenticatingSuffix = 0x02

// domainSeparator is prepended to the public key before hashing so that
// principals derived here can never collide with principals derived by an
// unrelated hashing scheme that happens to hash the same bytes.
const domainSeparator = "\x1dic"

// Principal is an opaque, comparable caller identity.
type Principal [29 + 1]byte

// FromPublicKey derives the principal for a device's public key:
// truncate(SHA-256(domainSeparator || pubkey)) || 0x02.
//
// This derivation is fixed for the life of the service: any deviation
// breaks every existing authentication.
func FromPublicKey(pubkey []byte) Principal {
	h := sha256.New()
	h.Write([]byte(domainSeparator))
	h.Write(pubkey)
	sum := h.Sum(nil)

	var p Principal
	copy(p[:29], sum[:29])
	p[29] = selfAuthenticatingSuffix
	return p
}

// Equal reports whether two principals refer to the same caller.
func (p Principal) Equal(other Principal) bool {
	return p == other
}

// Bytes returns the raw principal bytes.
func (p Principal) Bytes() []byte {
	b := make([]byte, len(p))
	copy(b, p[:])
	return b
}
