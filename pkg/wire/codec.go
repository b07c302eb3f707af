package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Codec errors.
var (
	ErrFrameTooShort       = errors.New("frame too short")
	ErrSizeMismatch        = errors.New("size field does not match frame length")
	ErrUnsupportedProtocol = errors.New("unsupported protocol number")
	ErrPayloadTooLarge     = errors.New("payload too large")
)

// Header bit layout of the protocol word at offset 2.
const (
	protocolMask    = 0x0fff
	addressableBit  = 1 << 12
	taggedBit       = 1 << 13
	originShift     = 14
	resRequiredBit  = 1 << 0
	ackRequiredBit  = 1 << 1
	maxPayloadBytes = MaxMessageSize - HeaderSize
)

// Parser decodes raw datagrams into messages. Implementations must not
// retain data after Parse returns.
type Parser interface {
	Parse(data []byte) (*Message, error)
}

// Codec is the default Parser. It also encodes messages for sending.
type Codec struct{}

// Compile-time interface satisfaction check.
var _ Parser = Codec{}

// Parse decodes a datagram. The payload is copied out of data.
func (Codec) Parse(data []byte) (*Message, error) {
	return Decode(data)
}

// Encode encodes a message. See Encode.
func (Codec) Encode(msg *Message) ([]byte, error) {
	return Encode(msg)
}

// Encode encodes a message into a datagram. The Size, Protocol and
// Addressable header fields are filled in regardless of their values in msg.
func Encode(msg *Message) ([]byte, error) {
	if len(msg.Payload) > maxPayloadBytes {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(msg.Payload), maxPayloadBytes)
	}

	h := msg.Header
	buf := make([]byte, HeaderSize+len(msg.Payload))

	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(buf)))

	proto := ProtocolNumber&protocolMask | addressableBit
	if h.Tagged {
		proto |= taggedBit
	}
	proto |= uint16(h.Origin&0x3) << originShift
	binary.LittleEndian.PutUint16(buf[2:4], proto)

	binary.LittleEndian.PutUint32(buf[4:8], h.Source)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.Target))

	var flags byte
	if h.ResRequired {
		flags |= resRequiredBit
	}
	if h.AckRequired {
		flags |= ackRequiredBit
	}
	buf[22] = flags
	buf[23] = h.Sequence

	binary.LittleEndian.PutUint16(buf[32:34], uint16(h.Type))

	copy(buf[HeaderSize:], msg.Payload)
	return buf, nil
}

// Decode decodes a datagram into a message.
func Decode(data []byte) (*Message, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooShort, len(data))
	}

	size := binary.LittleEndian.Uint16(data[0:2])
	if int(size) != len(data) {
		return nil, fmt.Errorf("%w: size=%d len=%d", ErrSizeMismatch, size, len(data))
	}

	proto := binary.LittleEndian.Uint16(data[2:4])
	if proto&protocolMask != ProtocolNumber {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedProtocol, proto&protocolMask)
	}

	flags := data[22]
	msg := &Message{
		Header: Header{
			Size:        size,
			Protocol:    proto & protocolMask,
			Addressable: proto&addressableBit != 0,
			Tagged:      proto&taggedBit != 0,
			Origin:      uint8(proto >> originShift),
			Source:      binary.LittleEndian.Uint32(data[4:8]),
			Target:      Target(binary.LittleEndian.Uint64(data[8:16])),
			ResRequired: flags&resRequiredBit != 0,
			AckRequired: flags&ackRequiredBit != 0,
			Sequence:    data[23],
			Type:        MessageType(binary.LittleEndian.Uint16(data[32:34])),
		},
	}
	if len(data) > HeaderSize {
		msg.Payload = append([]byte(nil), data[HeaderSize:]...)
	}
	return msg, nil
}
