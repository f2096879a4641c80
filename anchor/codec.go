package anchor

import (
	"bytes"
	"encoding/gob"
)

// wireAnchor carries Anchor's unexported fields as exported ones gob
// can see; Device itself is already fully exported and is encoded
// as is.
type wireAnchor struct {
	Number  Number
	Devices []Device
}

// MarshalBinary encodes the anchor with a schema that round-trips
// exactly: Number and Devices, in order, with no derived state.
func (a *Anchor) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	w := wireAnchor{Number: a.number, Devices: a.devices}
	if err := gob.NewEncoder(&buf).Encode(w); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes an anchor previously produced by
// MarshalBinary.
func (a *Anchor) UnmarshalBinary(data []byte) error {
	var w wireAnchor
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return err
	}
	a.number = w.Number
	a.devices = w.Devices
	return nil
}
