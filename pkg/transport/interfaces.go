package transport

import (
	"context"
	"net/netip"

	"github.com/lanlight/lanlight-go/pkg/wire"
)

// Transport sends and receives datagrams on one local UDP port.
// Implemented by UDPTransport.
type Transport interface {
	// Send encodes msg and writes it to the given address. It reports
	// whether the datagram was handed to the network; it never blocks
	// indefinitely.
	Send(to netip.AddrPort, msg *wire.Message) bool

	// Listen reads datagrams and calls deliver for each decodable one
	// until ctx is cancelled (returning ctx.Err()) or the socket fails.
	// Malformed datagrams are dropped. Calling Listen again after a
	// failure rebinds the socket.
	Listen(ctx context.Context, deliver func(wire.Inbound)) error

	// LocalAddr returns the bound address, or the zero value when the
	// socket is not bound.
	LocalAddr() netip.AddrPort

	// Close releases the socket. Send and Listen fail afterwards.
	Close() error
}

// Factory creates a transport bound to the given local port. Port 0 selects
// an ephemeral port.
type Factory func(port int, parser wire.Parser) (Transport, error)

// Compile-time interface satisfaction check.
var _ Transport = (*UDPTransport)(nil)
