package server

import (
	"encoding/base64"
	"fmt"

	"github.com/openanchor/anchorsvc/anchor"
)

// deviceJSON is the wire representation of anchor.Device. Binary
// fields travel as standard base64, matching the encoding dex uses for
// its own binary client-secret and key fields in JSON responses.
type deviceJSON struct {
	Pubkey             string `json:"pubkey"`
	Alias              string `json:"alias"`
	CredentialID       string `json:"credential_id,omitempty"`
	Purpose            string `json:"purpose"`
	KeyType            string `json:"key_type"`
	Protection         string `json:"protection"`
	Origin             string `json:"origin,omitempty"`
	LastUsageTimestamp *int64 `json:"last_usage_timestamp,omitempty"`
}

var purposeNames = map[anchor.Purpose]string{
	anchor.PurposeAuthentication: "authentication",
	anchor.PurposeRecovery:       "recovery",
}

var purposeValues = invertString(purposeNames)

var keyTypeNames = map[anchor.KeyType]string{
	anchor.KeyTypeUnknown:           "unknown",
	anchor.KeyTypePlatform:          "platform",
	anchor.KeyTypeCrossPlatform:     "cross_platform",
	anchor.KeyTypeSeedPhrase:        "seed_phrase",
	anchor.KeyTypeBrowserStorageKey: "browser_storage_key",
}

var keyTypeValues = invertString(keyTypeNames)

var protectionNames = map[anchor.Protection]string{
	anchor.ProtectionUnprotected: "unprotected",
	anchor.ProtectionProtected:   "protected",
}

var protectionValues = invertString(protectionNames)

func invertString[K comparable](m map[K]string) map[string]K {
	out := make(map[string]K, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}

// toDevice converts a deviceJSON into an anchor.Device. A
// client-supplied last_usage_timestamp is always dropped: the
// resulting device has no usage timestamp.
func (d deviceJSON) toDevice() (anchor.Device, error) {
	pubkey, err := base64.StdEncoding.DecodeString(d.Pubkey)
	if err != nil {
		return anchor.Device{}, fmt.Errorf("invalid pubkey encoding: %w", err)
	}
	var credentialID []byte
	if d.CredentialID != "" {
		credentialID, err = base64.StdEncoding.DecodeString(d.CredentialID)
		if err != nil {
			return anchor.Device{}, fmt.Errorf("invalid credential_id encoding: %w", err)
		}
	}
	purpose, ok := purposeValues[d.Purpose]
	if !ok {
		return anchor.Device{}, fmt.Errorf("unknown purpose %q", d.Purpose)
	}
	keyType, ok := keyTypeValues[d.KeyType]
	if !ok {
		return anchor.Device{}, fmt.Errorf("unknown key_type %q", d.KeyType)
	}
	protection, ok := protectionValues[d.Protection]
	if !ok {
		return anchor.Device{}, fmt.Errorf("unknown protection %q", d.Protection)
	}
	return anchor.Device{
		Pubkey:       pubkey,
		Alias:        d.Alias,
		CredentialID: credentialID,
		Purpose:      purpose,
		KeyType:      keyType,
		Protection:   protection,
		Origin:       d.Origin,
	}, nil
}

// fromDevice converts an anchor.Device into its wire representation.
// When includeUsage is false, last_usage_timestamp is stripped, as
// `lookup` requires.
func fromDevice(d anchor.Device, includeUsage bool) deviceJSON {
	out := deviceJSON{
		Pubkey:       base64.StdEncoding.EncodeToString(d.Pubkey),
		Alias:        d.Alias,
		Purpose:      purposeNames[d.Purpose],
		KeyType:      keyTypeNames[d.KeyType],
		Protection:   protectionNames[d.Protection],
		Origin:       d.Origin,
	}
	if len(d.CredentialID) > 0 {
		out.CredentialID = base64.StdEncoding.EncodeToString(d.CredentialID)
	}
	if includeUsage {
		out.LastUsageTimestamp = d.LastUsage
	}
	return out
}

func fromDevices(devices []anchor.Device, includeUsage bool) []deviceJSON {
	out := make([]deviceJSON, len(devices))
	for i, d := range devices {
		out[i] = fromDevice(d, includeUsage)
	}
	return out
}
