package anchor

import (
	"testing"

	"github.com/openanchor/anchorsvc/principal"
)

func testDevice(key byte) Device {
	return Device{
		Pubkey:     []byte{key},
		Alias:      "device",
		Purpose:    PurposeAuthentication,
		KeyType:    KeyTypePlatform,
		Protection: ProtectionUnprotected,
	}
}

func TestAddDeviceUpToLimit(t *testing.T) {
	a := New(1)
	for i := 0; i < MaxDevices; i++ {
		if err := a.AddDevice(testDevice(byte(i))); err != nil {
			t.Fatalf("device %d: unexpected error: %v", i, err)
		}
	}
	err := a.AddDevice(testDevice(MaxDevices))
	if _, ok := err.(*TooManyDevicesError); !ok {
		t.Fatalf("expected TooManyDevicesError, got %v", err)
	}
}

func TestAddDeviceDuplicatePubkey(t *testing.T) {
	a := New(1)
	d := testDevice(1)
	if err := a.AddDevice(d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := a.AddDevice(d)
	if _, ok := err.(*DuplicateDeviceError); !ok {
		t.Fatalf("expected DuplicateDeviceError, got %v", err)
	}
}

func TestAddDeviceSecondSeedPhraseRejected(t *testing.T) {
	a := New(1)
	d1 := testDevice(1)
	d1.KeyType = KeyTypeSeedPhrase
	if err := a.AddDevice(d1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d2 := testDevice(2)
	d2.KeyType = KeyTypeSeedPhrase
	err := a.AddDevice(d2)
	if _, ok := err.(*MultipleRecoveryPhrasesError); !ok {
		t.Fatalf("expected MultipleRecoveryPhrasesError, got %v", err)
	}
}

func TestAddDeviceProtectedRequiresSeedPhrase(t *testing.T) {
	a := New(1)
	d := testDevice(1)
	d.Protection = ProtectionProtected
	d.KeyType = KeyTypePlatform
	err := a.AddDevice(d)
	if _, ok := err.(*InvalidDeviceProtectionError); !ok {
		t.Fatalf("expected InvalidDeviceProtectionError, got %v", err)
	}
}

func TestAddDeviceVariableFieldBudget(t *testing.T) {
	// Every device stays within its own per-field limits (614 bytes
	// each); three fit the anchor-wide budget, the fourth exceeds it.
	a := New(1)
	maxDevice := func(key byte) Device {
		d := testDevice(key)
		d.Pubkey = make([]byte, maxPubkeyLen)
		d.Pubkey[0] = key
		d.Alias = string(make([]byte, maxAliasLen))
		d.CredentialID = make([]byte, maxCredentialIDLen)
		d.Origin = string(make([]byte, maxOriginLen))
		return d
	}
	for i := byte(1); i <= 3; i++ {
		if err := a.AddDevice(maxDevice(i)); err != nil {
			t.Fatalf("device %d: unexpected error: %v", i, err)
		}
	}
	err := a.AddDevice(maxDevice(4))
	if _, ok := err.(*VariableLengthFieldsTooLargeError); !ok {
		t.Fatalf("expected VariableLengthFieldsTooLargeError, got %v", err)
	}
}

func TestAddDeviceExceedsPerFieldLimits(t *testing.T) {
	cases := []struct {
		name   string
		modify func(d *Device)
	}{
		{"pubkey", func(d *Device) { d.Pubkey = make([]byte, maxPubkeyLen+1) }},
		{"alias", func(d *Device) { d.Alias = string(make([]byte, maxAliasLen+1)) }},
		{"credential_id", func(d *Device) { d.CredentialID = make([]byte, maxCredentialIDLen+1) }},
		{"origin", func(d *Device) { d.Origin = string(make([]byte, maxOriginLen+1)) }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			a := New(1)
			d := testDevice(1)
			c.modify(&d)
			err := a.AddDevice(d)
			limitErr, ok := err.(*DeviceLimitExceededError)
			if !ok {
				t.Fatalf("expected DeviceLimitExceededError, got %v", err)
			}
			if limitErr.Field != c.name {
				t.Fatalf("expected error for field %q, got %q", c.name, limitErr.Field)
			}
		})
	}
}

func TestAddDeviceAtPerFieldLimits(t *testing.T) {
	a := New(1)
	d := testDevice(1)
	d.Pubkey = make([]byte, maxPubkeyLen)
	d.Alias = string(make([]byte, maxAliasLen))
	d.CredentialID = make([]byte, maxCredentialIDLen)
	d.Origin = string(make([]byte, maxOriginLen))
	if err := a.AddDevice(d); err != nil {
		t.Fatalf("unexpected error at exact per-field limits: %v", err)
	}
}

func TestModifyDeviceExceedsPerFieldLimit(t *testing.T) {
	a := New(1)
	d := testDevice(1)
	if err := a.AddDevice(d); err != nil {
		t.Fatalf("setup AddDevice: %v", err)
	}
	newDevice := d
	newDevice.Alias = string(make([]byte, maxAliasLen+1))
	err := a.ModifyDevice(d.Pubkey, newDevice, principal.Principal{})
	if _, ok := err.(*DeviceLimitExceededError); !ok {
		t.Fatalf("expected DeviceLimitExceededError, got %v", err)
	}
}

func TestRemoveDeviceNotFound(t *testing.T) {
	a := New(1)
	err := a.RemoveDevice([]byte{99}, principal.Principal{})
	if _, ok := err.(*NotFoundError); !ok {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestRemoveDeviceDoesNotRecheckInvariants(t *testing.T) {
	// An anchor carrying two seed phrases (e.g. from before the
	// invariant existed) must still be able to shed one via removal.
	a := New(1)
	a.devices = []Device{
		{Pubkey: []byte{1}, KeyType: KeyTypeSeedPhrase},
		{Pubkey: []byte{2}, KeyType: KeyTypeSeedPhrase},
	}
	if err := a.RemoveDevice([]byte{1}, principal.Principal{}); err != nil {
		t.Fatalf("unexpected error removing from over-invariant anchor: %v", err)
	}
	if len(a.devices) != 1 {
		t.Fatalf("expected 1 device remaining, got %d", len(a.devices))
	}
}

func TestRemoveProtectedDeviceRequiresOwnPrincipal(t *testing.T) {
	a := New(1)
	key := []byte("seed-phrase-key")
	d := Device{Pubkey: key, KeyType: KeyTypeSeedPhrase, Protection: ProtectionProtected}
	if err := a.AddDevice(d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wrongCaller := principal.FromPublicKey([]byte("someone-else"))
	err := a.RemoveDevice(key, wrongCaller)
	if _, ok := err.(*MutationNotAllowedError); !ok {
		t.Fatalf("expected MutationNotAllowedError, got %v", err)
	}

	owner := principal.FromPublicKey(key)
	if err := a.RemoveDevice(key, owner); err != nil {
		t.Fatalf("owner should be able to remove own protected device: %v", err)
	}
}

func TestModifyDeviceKeyMismatch(t *testing.T) {
	a := New(1)
	d := testDevice(1)
	if err := a.AddDevice(d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	other := testDevice(2)
	err := a.ModifyDevice([]byte{1}, other, principal.Principal{})
	if _, ok := err.(*CannotModifyDeviceKeyError); !ok {
		t.Fatalf("expected CannotModifyDeviceKeyError, got %v", err)
	}
}

func TestModifyDeviceRechecksInvariants(t *testing.T) {
	a := New(1)
	d1 := testDevice(1)
	d1.KeyType = KeyTypeSeedPhrase
	d2 := testDevice(2)
	if err := a.AddDevice(d1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := a.AddDevice(d2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	updated := testDevice(2)
	updated.KeyType = KeyTypeSeedPhrase
	err := a.ModifyDevice([]byte{2}, updated, principal.Principal{})
	if _, ok := err.(*MultipleRecoveryPhrasesError); !ok {
		t.Fatalf("expected MultipleRecoveryPhrasesError, got %v", err)
	}
}

func TestSetDeviceUsageTimestampNeverTriggersInvariants(t *testing.T) {
	a := New(1)
	d := testDevice(1)
	if err := a.AddDevice(d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := a.SetDeviceUsageTimestamp([]byte{1}, 12345); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := a.Device([]byte{1})
	if !ok || got.LastUsage == nil || *got.LastUsage != 12345 {
		t.Fatalf("expected usage timestamp to be recorded, got %+v", got)
	}
}

func TestLastActivity(t *testing.T) {
	a := New(1)
	d1 := testDevice(1)
	t1 := int64(100)
	d1.LastUsage = &t1
	d2 := testDevice(2)
	t2 := int64(200)
	d2.LastUsage = &t2
	if err := a.AddDevice(d1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := a.AddDevice(d2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := a.LastActivity()
	if got == nil || *got != 200 {
		t.Fatalf("expected last activity 200, got %v", got)
	}
}

func TestDomainActivitySince(t *testing.T) {
	cases := []struct {
		name    string
		devices []Device
		want    DomainActivity
	}{
		{"none", nil, DomainActivityNone},
		{
			"non-ii only",
			[]Device{{Pubkey: []byte{1}, LastUsage: usageAt(10), Origin: "example.com"}},
			DomainActivityNonIIDomain,
		},
		{
			"absent origin counts non-ii",
			[]Device{{Pubkey: []byte{1}, LastUsage: usageAt(10)}},
			DomainActivityNonIIDomain,
		},
		{
			"ic0.app only",
			[]Device{{Pubkey: []byte{1}, LastUsage: usageAt(10), Origin: ic0AppOrigin}},
			DomainActivityIc0App,
		},
		{
			"ii domain drops non-ii",
			[]Device{
				{Pubkey: []byte{1}, LastUsage: usageAt(10), Origin: ic0AppOrigin},
				{Pubkey: []byte{2}, LastUsage: usageAt(10), Origin: "example.com"},
			},
			DomainActivityIc0App,
		},
		{
			"both ii domains",
			[]Device{
				{Pubkey: []byte{1}, LastUsage: usageAt(10), Origin: ic0AppOrigin},
				{Pubkey: []byte{2}, LastUsage: usageAt(10), Origin: internetComputerOrigin},
			},
			DomainActivityBothIIDomains,
		},
		{
			"before cutoff excluded",
			[]Device{{Pubkey: []byte{1}, LastUsage: usageAt(5), Origin: ic0AppOrigin}},
			DomainActivityNone,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := New(1)
			a.devices = tc.devices
			got := a.DomainActivitySince(10)
			if got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func usageAt(n int64) *int64 {
	return &n
}
