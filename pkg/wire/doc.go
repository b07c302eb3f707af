// Package wire defines the binary wire format of the LAN light protocol.
//
// Every datagram starts with a fixed 36-byte little-endian header followed
// by a message-specific payload. The header carries the routing information
// the client needs: the 64-bit target of the device a message is addressed
// to (or from), the 32-bit source chosen by the sending client, and the
// message type.
//
// # Header Layout
//
//	offset  size  field
//	0       2     size (header + payload)
//	2       2     protocol (12 bits, always 1024) | addressable | tagged | origin
//	4       4     source
//	8       8     target
//	16      6     reserved
//	22      1     res_required (bit 0) | ack_required (bit 1)
//	23      1     sequence
//	24      8     reserved
//	32      2     type
//	34      2     reserved
//
// # Broadcast
//
// A message whose target is zero, or whose tagged bit is set, is addressed to
// all devices. Discovery requests are broadcast; device replies always carry
// the device's own target.
//
// Payload schemas are opaque to this package except for StateService, which
// the discovery path needs to learn a device's service port.
package wire
