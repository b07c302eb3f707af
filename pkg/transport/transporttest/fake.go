// Package transporttest provides in-memory transports for tests.
package transporttest

import (
	"context"
	"net/netip"
	"sync"

	"github.com/lanlight/lanlight-go/pkg/transport"
	"github.com/lanlight/lanlight-go/pkg/wire"
)

// Sent is one datagram recorded by a Fake.
type Sent struct {
	To      netip.AddrPort
	Message *wire.Message
}

// Fake is a Transport that records sends and delivers injected envelopes.
type Fake struct {
	port int

	inbound chan wire.Inbound
	errs    chan error

	mu        sync.Mutex
	sent      []Sent
	sendFails bool
	listens   int
	closed    bool
	listening chan struct{}
}

// NewFake creates a fake bound to port.
func NewFake(port int) *Fake {
	return &Fake{
		port:      port,
		inbound:   make(chan wire.Inbound, 256),
		errs:      make(chan error, 16),
		listening: make(chan struct{}, 64),
	}
}

// Send implements transport.Transport.
func (f *Fake) Send(to netip.AddrPort, msg *wire.Message) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.sendFails {
		return false
	}
	f.sent = append(f.sent, Sent{To: to, Message: msg.Clone()})
	return true
}

// Listen implements transport.Transport. It returns the next injected
// error, if any.
func (f *Fake) Listen(ctx context.Context, deliver func(wire.Inbound)) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return transport.ErrTransportClosed
	}
	f.listens++
	f.mu.Unlock()

	select {
	case f.listening <- struct{}{}:
	default:
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-f.errs:
			return err
		case env := <-f.inbound:
			deliver(env)
		}
	}
}

// LocalAddr implements transport.Transport.
func (f *Fake) LocalAddr() netip.AddrPort {
	return netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), uint16(f.port))
}

// Close implements transport.Transport.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Inject queues an envelope for delivery by Listen.
func (f *Fake) Inject(env wire.Inbound) {
	f.inbound <- env
}

// InjectError makes the running (or next) Listen call fail with err.
func (f *Fake) InjectError(err error) {
	f.errs <- err
}

// SetSendFails makes Send report failure.
func (f *Fake) SetSendFails(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendFails = fail
}

// Sent returns all recorded datagrams.
func (f *Fake) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.sent...)
}

// SentOfType returns recorded datagrams of the given message type.
func (f *Fake) SentOfType(typ wire.MessageType) []Sent {
	var out []Sent
	for _, s := range f.Sent() {
		if s.Message.Type() == typ {
			out = append(out, s)
		}
	}
	return out
}

// Listens returns how many times Listen has been called.
func (f *Fake) Listens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listens
}

// Listening is signalled each time Listen starts.
func (f *Fake) Listening() <-chan struct{} {
	return f.listening
}

// Closed reports whether Close has been called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Network hands out one Fake per port.
type Network struct {
	mu    sync.Mutex
	fakes map[int]*Fake
}

// NewNetwork creates an empty fake network.
func NewNetwork() *Network {
	return &Network{fakes: make(map[int]*Fake)}
}

// Factory implements transport.Factory.
func (n *Network) Factory(port int, _ wire.Parser) (transport.Transport, error) {
	return n.Port(port), nil
}

// Port returns the fake for port, creating it if needed.
func (n *Network) Port(port int) *Fake {
	n.mu.Lock()
	defer n.mu.Unlock()
	f, ok := n.fakes[port]
	if !ok {
		f = NewFake(port)
		n.fakes[port] = f
	}
	return f
}

// Envelope builds an inbound envelope for target sent from addr.
func Envelope(target wire.Target, typ wire.MessageType, from string) wire.Inbound {
	msg := wire.NewMessage(typ, nil)
	msg.Header.Target = target
	return wire.Inbound{From: netip.MustParseAddrPort(from), Message: msg}
}

// Compile-time interface satisfaction check.
var _ transport.Transport = (*Fake)(nil)
