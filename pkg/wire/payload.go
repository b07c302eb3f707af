package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// LabelSize is the fixed size of a device label field.
const LabelSize = 32

// DecodeLabel decodes a StateLabel payload. Trailing NUL padding is removed.
func DecodeLabel(payload []byte) (string, error) {
	if len(payload) < LabelSize {
		return "", fmt.Errorf("%w: StateLabel needs %d bytes, got %d", ErrFrameTooShort, LabelSize, len(payload))
	}
	return string(bytes.TrimRight(payload[:LabelSize], "\x00")), nil
}

// EncodeLabel encodes a label for SetLabel, truncating to LabelSize bytes.
func EncodeLabel(label string) []byte {
	b := make([]byte, LabelSize)
	copy(b, label)
	return b
}

// DecodePower decodes a StatePower or LightStatePower payload.
func DecodePower(payload []byte) (uint16, error) {
	if len(payload) < 2 {
		return 0, fmt.Errorf("%w: power needs 2 bytes, got %d", ErrFrameTooShort, len(payload))
	}
	return binary.LittleEndian.Uint16(payload[0:2]), nil
}

// EncodePower encodes a SetPower payload. Devices treat any non-zero level
// as on.
func EncodePower(on bool) []byte {
	b := make([]byte, 2)
	if on {
		binary.LittleEndian.PutUint16(b, 0xffff)
	}
	return b
}

// LightState is the decoded LightState payload.
type LightState struct {
	Hue        uint16
	Saturation uint16
	Brightness uint16
	Kelvin     uint16
	Power      uint16
	Label      string
}

// lightStateSize covers color (8), reserved (2), power (2), label (32) and
// reserved (8).
const lightStateSize = 52

// DecodeLightState decodes a LightState payload.
func DecodeLightState(payload []byte) (LightState, error) {
	if len(payload) < lightStateSize {
		return LightState{}, fmt.Errorf("%w: LightState needs %d bytes, got %d", ErrFrameTooShort, lightStateSize, len(payload))
	}
	le := binary.LittleEndian
	label, _ := DecodeLabel(payload[12 : 12+LabelSize])
	return LightState{
		Hue:        le.Uint16(payload[0:2]),
		Saturation: le.Uint16(payload[2:4]),
		Brightness: le.Uint16(payload[4:6]),
		Kelvin:     le.Uint16(payload[6:8]),
		Power:      le.Uint16(payload[10:12]),
		Label:      label,
	}, nil
}

// Encode encodes the LightState payload.
func (s LightState) Encode() []byte {
	b := make([]byte, lightStateSize)
	le := binary.LittleEndian
	le.PutUint16(b[0:2], s.Hue)
	le.PutUint16(b[2:4], s.Saturation)
	le.PutUint16(b[4:6], s.Brightness)
	le.PutUint16(b[6:8], s.Kelvin)
	le.PutUint16(b[10:12], s.Power)
	copy(b[12:12+LabelSize], s.Label)
	return b
}
