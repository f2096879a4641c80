package server

import (
	"encoding/base64"
	"net/http"

	"github.com/openanchor/anchorsvc/anchor"
	"github.com/openanchor/anchorsvc/principal"
)

// callerPubkeyHeader carries the base64-encoded device public key the
// caller is acting as, this transport's stand-in for "the message was
// signed by this device". It does not itself verify a signature over
// the request body; it names the identity the handler then checks
// against the anchor's own device list.
const callerPubkeyHeader = "X-Caller-Pubkey"

// UnauthorizedError is returned by handlers when a caller principal is
// required but missing or malformed.
type UnauthorizedError struct{ reason string }

func (e *UnauthorizedError) Error() string { return "unauthorized: " + e.reason }

// callerPrincipal extracts and derives the caller's principal from the
// request, failing if the header is absent or not valid base64.
func callerPrincipal(r *http.Request) (principal.Principal, error) {
	encoded := r.Header.Get(callerPubkeyHeader)
	if encoded == "" {
		return principal.Principal{}, &UnauthorizedError{reason: "missing " + callerPubkeyHeader}
	}
	pubkey, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return principal.Principal{}, &UnauthorizedError{reason: "malformed " + callerPubkeyHeader}
	}
	return principal.FromPublicKey(pubkey), nil
}

// requireAnchorDevice checks that caller matches one of a's devices,
// the "signed by (existing/anchor) device" auth class the wire API
// table uses for add, get_anchor_info and every per-anchor operation
// downstream of registration.
func requireAnchorDevice(a *anchor.Anchor, caller principal.Principal) error {
	for _, d := range a.Devices() {
		if principal.FromPublicKey(d.Pubkey).Equal(caller) {
			return nil
		}
	}
	return &UnauthorizedError{reason: "caller does not own this anchor"}
}
