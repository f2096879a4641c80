// Package crypto holds small cryptographic helpers shared across the
// anchor service: challenge nonces, registration codes, and delegation
// salts all draw their randomness from RandBytes.
package crypto

import (
	"crypto/rand"
	"errors"
)

// RandBytes returns n cryptographically random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	got, err := rand.Read(b)
	if err != nil {
		return nil, err
	}
	if n != got {
		return nil, errors.New("unable to generate enough random data")
	}
	return b, nil
}
