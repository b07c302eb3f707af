// Package transport provides the UDP transport for the LAN light protocol.
//
// A light client uses two transports:
//   - a primary socket on an OS-assigned port, used for sending and
//     receiving replies
//   - a legacy socket on wire.DefaultPort, receive-only, for devices that
//     reply to the well-known port instead of the request's source port
//
// # Socket Lifecycle
//
// The socket is bound lazily by the first Send or Listen. A read error
// closes it and is returned from Listen; the next Send or Listen binds a
// fresh socket. Each binding gets a new ConnectionID for protocol capture.
//
// Malformed datagrams never end a Listen call: they are dropped, logged at
// Debug level and captured as error events.
package transport
