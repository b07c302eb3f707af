package wire

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net/netip"
	"time"
)

// Header constants.
const (
	// HeaderSize is the fixed size of every message header in bytes.
	HeaderSize = 36

	// ProtocolNumber is the only protocol number devices accept.
	ProtocolNumber uint16 = 1024

	// MaxMessageSize bounds a single datagram (header + payload).
	MaxMessageSize = 1024

	// DefaultPort is the well-known UDP port devices listen on.
	DefaultPort = 56700
)

// Target is the 64-bit identifier of a device. The first six bytes on the
// wire are the device's MAC address; the remaining two are zero.
type Target uint64

// BroadcastTarget addresses every device on the network.
const BroadcastTarget Target = 0

// IsBroadcast reports whether t is the broadcast target.
func (t Target) IsBroadcast() bool {
	return t == BroadcastTarget
}

// String returns the target as hex in wire byte order (e.g. "d073d5010203").
func (t Target) String() string {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(t))
	return fmt.Sprintf("%x", b[:6])
}

// ParseTarget parses the output of Target.String. A 16-digit form with the two
// trailing padding bytes is accepted as well.
func ParseTarget(s string) (Target, error) {
	if len(s) != 12 && len(s) != 16 {
		return 0, fmt.Errorf("invalid target %q: want 12 or 16 hex digits", s)
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid target %q: %w", s, err)
	}
	var b [8]byte
	copy(b[:], raw)
	return Target(binary.LittleEndian.Uint64(b[:])), nil
}

// Header is the decoded form of the fixed message header.
type Header struct {
	// Size is the total message size including the header. It is computed
	// on encode.
	Size uint16

	// Protocol is always ProtocolNumber.
	Protocol uint16

	// Addressable must be set on every message.
	Addressable bool

	// Tagged marks a message addressed to all devices.
	Tagged bool

	// Origin is reserved and always zero.
	Origin uint8

	// Source identifies the client that sent the message. Devices copy the
	// source of a request into their reply.
	Source uint32

	// Target is the device the message is addressed to or sent by.
	Target Target

	// ResRequired asks the device to reply with a state message.
	ResRequired bool

	// AckRequired asks the device to reply with an Acknowledgement.
	AckRequired bool

	// Sequence is a wrap-around counter chosen by the client and echoed
	// back in replies.
	Sequence uint8

	// Type identifies the payload.
	Type MessageType
}

// Message is a decoded datagram.
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage creates a message of the given type with an opaque payload.
func NewMessage(typ MessageType, payload []byte) *Message {
	return &Message{
		Header: Header{
			Protocol:    ProtocolNumber,
			Addressable: true,
			Type:        typ,
		},
		Payload: payload,
	}
}

// NewGetService creates the discovery request every device answers with
// StateService.
func NewGetService() *Message {
	msg := NewMessage(TypeGetService, nil)
	msg.Header.Tagged = true
	return msg
}

// Target returns the header target.
func (m *Message) Target() Target {
	return m.Header.Target
}

// Type returns the header message type.
func (m *Message) Type() MessageType {
	return m.Header.Type
}

// IsBroadcast reports whether the message is addressed to all devices.
// Broadcast messages are never routed to a device session.
func (m *Message) IsBroadcast() bool {
	return m.Header.Tagged || m.Header.Target.IsBroadcast()
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	c := *m
	if m.Payload != nil {
		c.Payload = append([]byte(nil), m.Payload...)
	}
	return &c
}

// String returns a short description for logs.
func (m *Message) String() string {
	return fmt.Sprintf("%s target=%s source=%d seq=%d", m.Header.Type, m.Header.Target, m.Header.Source, m.Header.Sequence)
}

// Inbound pairs a received message with the address it came from.
// Inbound values are never mutated after the transport produces them.
type Inbound struct {
	From       netip.AddrPort
	Message    *Message
	ReceivedAt time.Time
}

// Target returns the target of the carried message.
func (e Inbound) Target() Target {
	return e.Message.Header.Target
}

// Outbound pairs a destination target with a message to send. A broadcast
// target sends the message to every device.
type Outbound struct {
	Target  Target
	Message *Message
}

// StateService is the payload of a StateService reply.
type StateService struct {
	Service ServiceType
	Port    uint32
}

// stateServiceSize is the encoded size of StateService.
const stateServiceSize = 5

// DecodeStateService decodes a StateService payload.
func DecodeStateService(payload []byte) (StateService, error) {
	if len(payload) < stateServiceSize {
		return StateService{}, fmt.Errorf("%w: StateService needs %d bytes, got %d", ErrFrameTooShort, stateServiceSize, len(payload))
	}
	return StateService{
		Service: ServiceType(payload[0]),
		Port:    binary.LittleEndian.Uint32(payload[1:5]),
	}, nil
}

// Encode encodes the StateService payload.
func (s StateService) Encode() []byte {
	b := make([]byte, stateServiceSize)
	b[0] = byte(s.Service)
	binary.LittleEndian.PutUint32(b[1:], s.Port)
	return b
}
