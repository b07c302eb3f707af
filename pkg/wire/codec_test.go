package wire

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeHeaderLayout(t *testing.T) {
	msg := NewMessage(TypeLightGet, []byte{0xAA, 0xBB})
	msg.Header.Source = 0x12345678
	msg.Header.Target = Target(0x0000030201d5_73d0)
	msg.Header.ResRequired = true
	msg.Header.Sequence = 7

	data, err := Encode(msg)
	require.NoError(t, err)
	require.Len(t, data, HeaderSize+2)

	assert.Equal(t, uint16(HeaderSize+2), binary.LittleEndian.Uint16(data[0:2]))
	proto := binary.LittleEndian.Uint16(data[2:4])
	assert.Equal(t, ProtocolNumber, proto&0x0fff)
	assert.NotZero(t, proto&(1<<12), "addressable bit must be set")
	assert.Zero(t, proto&(1<<13), "tagged bit must be clear")
	assert.Equal(t, uint32(0x12345678), binary.LittleEndian.Uint32(data[4:8]))
	assert.Equal(t, []byte{0xd0, 0x73, 0xd5, 0x01, 0x02, 0x03, 0x00, 0x00}, data[8:16])
	assert.Equal(t, byte(0x01), data[22])
	assert.Equal(t, byte(7), data[23])
	assert.Equal(t, uint16(TypeLightGet), binary.LittleEndian.Uint16(data[32:34]))
	assert.Equal(t, []byte{0xAA, 0xBB}, data[HeaderSize:])
}

func TestDecodeRoundTripPreservesHeader(t *testing.T) {
	msg := NewGetService()
	msg.Header.Source = 42
	msg.Header.AckRequired = true
	msg.Header.Sequence = 255

	data, err := Encode(msg)
	require.NoError(t, err)

	got, err := Codec{}.Parse(data)
	require.NoError(t, err)

	assert.True(t, got.Header.Tagged)
	assert.True(t, got.Header.Addressable)
	assert.True(t, got.Header.AckRequired)
	assert.False(t, got.Header.ResRequired)
	assert.Equal(t, uint32(42), got.Header.Source)
	assert.Equal(t, uint8(255), got.Header.Sequence)
	assert.Equal(t, TypeGetService, got.Type())
	assert.True(t, got.IsBroadcast())
	assert.Nil(t, got.Payload)
}

func TestDecodeErrors(t *testing.T) {
	valid, err := Encode(NewMessage(TypeStateService, udpServicePayload()))
	require.NoError(t, err)

	t.Run("TooShort", func(t *testing.T) {
		_, err := Decode(valid[:HeaderSize-1])
		assert.True(t, errors.Is(err, ErrFrameTooShort))
	})

	t.Run("SizeMismatch", func(t *testing.T) {
		_, err := Decode(append(append([]byte(nil), valid...), 0x00))
		assert.True(t, errors.Is(err, ErrSizeMismatch))
	})

	t.Run("WrongProtocol", func(t *testing.T) {
		bad := append([]byte(nil), valid...)
		binary.LittleEndian.PutUint16(bad[2:4], 1<<12|77)
		_, err := Decode(bad)
		assert.True(t, errors.Is(err, ErrUnsupportedProtocol))
	})
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	_, err := Encode(NewMessage(TypeSetLabel, make([]byte, MaxMessageSize)))
	assert.True(t, errors.Is(err, ErrPayloadTooLarge))
}

func TestDecodeCopiesPayload(t *testing.T) {
	data, err := Encode(NewMessage(TypeEchoResponse, []byte{1, 2, 3}))
	require.NoError(t, err)

	msg, err := Decode(data)
	require.NoError(t, err)

	data[HeaderSize] = 9
	assert.Equal(t, []byte{1, 2, 3}, msg.Payload)
}

func TestMessageIsBroadcast(t *testing.T) {
	tests := []struct {
		name   string
		tagged bool
		target Target
		want   bool
	}{
		{"tagged zero target", true, BroadcastTarget, true},
		{"untagged zero target", false, BroadcastTarget, true},
		{"tagged device target", true, Target(0xd073d5), true},
		{"device reply", false, Target(0xd073d5), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := NewMessage(TypeStatePower, nil)
			msg.Header.Tagged = tt.tagged
			msg.Header.Target = tt.target
			assert.Equal(t, tt.want, msg.IsBroadcast())
		})
	}
}

func TestTargetStringAndParse(t *testing.T) {
	target := Target(0x0000030201d573d0)
	assert.Equal(t, "d073d5010203", target.String())

	parsed, err := ParseTarget("d073d5010203")
	require.NoError(t, err)
	assert.Equal(t, target, parsed)

	parsed, err = ParseTarget("d073d50102030000")
	require.NoError(t, err)
	assert.Equal(t, target, parsed)

	_, err = ParseTarget("xyz")
	assert.Error(t, err)
	_, err = ParseTarget("zz73d5010203")
	assert.Error(t, err)
}

func TestStateServicePayload(t *testing.T) {
	payload := StateService{Service: ServiceUDP, Port: 56700}.Encode()

	svc, err := DecodeStateService(payload)
	require.NoError(t, err)
	assert.Equal(t, ServiceUDP, svc.Service)
	assert.Equal(t, uint32(56700), svc.Port)

	_, err = DecodeStateService(payload[:3])
	assert.True(t, errors.Is(err, ErrFrameTooShort))
}

func TestMessageTypeString(t *testing.T) {
	assert.Equal(t, "GetService", TypeGetService.String())
	assert.Equal(t, "LightState", TypeLightState.String())
	assert.Equal(t, "Type(999)", MessageType(999).String())
}

func TestCloneIsIndependent(t *testing.T) {
	msg := NewMessage(TypeSetLabel, []byte("kitchen"))
	clone := msg.Clone()
	clone.Header.Source = 7
	clone.Payload[0] = 'K'

	assert.Zero(t, msg.Header.Source)
	assert.Equal(t, "kitchen", string(msg.Payload))
}

// udpServicePayload returns an encoded StateService advertising the default port.
func udpServicePayload() []byte {
	return StateService{Service: ServiceUDP, Port: DefaultPort}.Encode()
}

func TestParseMessageType(t *testing.T) {
	typ, err := ParseMessageType("getpower")
	require.NoError(t, err)
	assert.Equal(t, TypeGetPower, typ)

	typ, err = ParseMessageType("107")
	require.NoError(t, err)
	assert.Equal(t, TypeLightState, typ)

	_, err = ParseMessageType("Dim")
	assert.Error(t, err)
}
