package log

import (
	"time"

	"github.com/lanlight/lanlight-go/pkg/wire"
)

// MaxFrameCapture is the number of datagram bytes kept in a FrameEvent.
const MaxFrameCapture = 128

// Event represents a protocol capture event at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies one socket binding (UUID). A transport that
	// rebinds after an error gets a new ConnectionID.
	ConnectionID string `cbor:"2,keyasint,omitempty"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// LocalAddr is the local socket address (IP:port).
	LocalAddr string `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the peer address (IP:port).
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// Target is the device target in hex, when the event concerns one device.
	Target string `cbor:"8,keyasint,omitempty"`

	// SourceID is the client source id of the capturing service.
	SourceID uint32 `cbor:"9,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Transport layer
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"` // Wire layer (decoded)
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Lifecycle
	Error       *ErrorEventData   `cbor:"13,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming datagram or an internal event.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing datagram.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which layer captured the event.
type Layer uint8

const (
	// LayerTransport is the UDP socket layer (raw bytes).
	LayerTransport Layer = 0
	// LayerWire is the header codec layer.
	LayerWire Layer = 1
	// LayerService is the routing and lifecycle layer.
	LayerService Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerService:
		return "SERVICE"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a datagram or decoded message.
	CategoryMessage Category = 0
	// CategoryState indicates a state change.
	CategoryState Category = 1
	// CategoryError indicates an error event.
	CategoryError Category = 2
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw datagram bytes at the transport layer.
type FrameEvent struct {
	// Size is the datagram size in bytes.
	Size int `cbor:"1,keyasint"`

	// Data is the raw datagram (truncated to MaxFrameCapture bytes).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// NewFrameEvent copies up to MaxFrameCapture bytes of data.
func NewFrameEvent(data []byte) *FrameEvent {
	f := &FrameEvent{Size: len(data)}
	n := len(data)
	if n > MaxFrameCapture {
		n = MaxFrameCapture
		f.Truncated = true
	}
	f.Data = append([]byte(nil), data[:n]...)
	return f
}

// MessageEvent captures a decoded header at the wire layer.
type MessageEvent struct {
	Type        wire.MessageType `cbor:"1,keyasint"`
	Source      uint32           `cbor:"2,keyasint"`
	Target      string           `cbor:"3,keyasint"`
	Sequence    uint8            `cbor:"4,keyasint"`
	Tagged      bool             `cbor:"5,keyasint,omitempty"`
	AckRequired bool             `cbor:"6,keyasint,omitempty"`
	ResRequired bool             `cbor:"7,keyasint,omitempty"`
	PayloadSize int              `cbor:"8,keyasint,omitempty"`
}

// NewMessageEvent summarises a decoded message.
func NewMessageEvent(msg *wire.Message) *MessageEvent {
	h := msg.Header
	return &MessageEvent{
		Type:        h.Type,
		Source:      h.Source,
		Target:      h.Target.String(),
		Sequence:    h.Sequence,
		Tagged:      h.Tagged,
		AckRequired: h.AckRequired,
		ResRequired: h.ResRequired,
		PayloadSize: len(msg.Payload),
	}
}

// StateChangeEvent captures lifecycle transitions.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityService is the light service lifecycle.
	StateEntityService StateEntity = 0
	// StateEntityConnection is a supervised transport.
	StateEntityConnection StateEntity = 1
	// StateEntitySession is a per-device session.
	StateEntitySession StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityService:
		return "SERVICE"
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntitySession:
		return "SESSION"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}
