package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lanlight/lanlight-go/pkg/log"
	"github.com/lanlight/lanlight-go/pkg/wire"
)

// ErrTransportClosed is returned by Listen after Close.
var ErrTransportClosed = errors.New("transport closed")

// Defaults for UDPTransport.
const (
	DefaultReadBufferSize = 4096
	DefaultWriteTimeout   = time.Second
)

// Config configures a UDPTransport.
type Config struct {
	// Port is the local port. 0 selects an ephemeral port.
	Port int

	// Parser decodes datagrams. Defaults to wire.Codec.
	Parser wire.Parser

	// ReadBufferSize bounds a single received datagram.
	ReadBufferSize int

	// WriteTimeout bounds a single Send.
	WriteTimeout time.Duration

	// Logger receives operational logs. Nil disables logging.
	Logger *slog.Logger

	// ProtocolLogger receives frame and message capture events.
	ProtocolLogger log.Logger
}

// UDPTransport is a Transport on a single UDP socket.
type UDPTransport struct {
	config Config
	logger *slog.Logger
	plog   log.Logger

	mu     sync.Mutex
	conn   *net.UDPConn
	connID string
	closed bool

	sent     atomic.Uint64
	received atomic.Uint64
	dropped  atomic.Uint64
}

// NewUDP creates an unbound UDP transport.
func NewUDP(config Config) *UDPTransport {
	if config.Parser == nil {
		config.Parser = wire.Codec{}
	}
	if config.ReadBufferSize <= 0 {
		config.ReadBufferSize = DefaultReadBufferSize
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &UDPTransport{
		config: config,
		logger: logger.With("component", "transport", "port", config.Port),
		plog:   log.OrNoop(config.ProtocolLogger),
	}
}

// NewUDPFactory returns a Factory creating UDP transports that share the
// given loggers.
func NewUDPFactory(logger *slog.Logger, protocolLogger log.Logger) Factory {
	return func(port int, parser wire.Parser) (Transport, error) {
		if port < 0 || port > 65535 {
			return nil, fmt.Errorf("invalid port %d", port)
		}
		return NewUDP(Config{
			Port:           port,
			Parser:         parser,
			Logger:         logger,
			ProtocolLogger: protocolLogger,
		}), nil
	}
}

// ensureConn returns the bound socket, binding it if necessary.
func (t *UDPTransport) ensureConn() (*net.UDPConn, string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, "", ErrTransportClosed
	}
	if t.conn != nil {
		return t.conn, t.connID, nil
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: t.config.Port})
	if err != nil {
		return nil, "", fmt.Errorf("bind udp port %d: %w", t.config.Port, err)
	}
	t.conn = conn
	t.connID = uuid.New().String()

	t.logger.Debug("socket bound", "local", conn.LocalAddr().String(), "conn_id", t.connID)
	t.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: t.connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		LocalAddr:    conn.LocalAddr().String(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			NewState: "BOUND",
		},
	})
	return t.conn, t.connID, nil
}

// dropConn closes conn if it is still the current socket.
func (t *UDPTransport) dropConn(conn *net.UDPConn, reason error) {
	t.mu.Lock()
	if t.conn != conn {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	connID := t.connID
	t.mu.Unlock()

	conn.Close()
	t.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: "BOUND",
			NewState: "CLOSED",
			Reason:   reason.Error(),
		},
	})
}

// Send implements Transport.
func (t *UDPTransport) Send(to netip.AddrPort, msg *wire.Message) bool {
	data, err := wire.Encode(msg)
	if err != nil {
		t.logger.Debug("encode failed", "type", msg.Type(), "error", err)
		return false
	}

	conn, connID, err := t.ensureConn()
	if err != nil {
		t.logger.Debug("send failed", "to", to.String(), "error", err)
		return false
	}

	conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
	if _, err := conn.WriteToUDPAddrPort(data, to); err != nil {
		t.logger.Debug("send failed", "to", to.String(), "type", msg.Type(), "error", err)
		t.captureError(connID, to, err, "send")
		return false
	}
	t.sent.Add(1)

	t.capture(connID, log.DirectionOut, to, data, msg)
	return true
}

// Listen implements Transport.
func (t *UDPTransport) Listen(ctx context.Context, deliver func(wire.Inbound)) error {
	conn, connID, err := t.ensureConn()
	if err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, t.config.ReadBufferSize)
	for {
		n, from, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if ctx.Err() != nil {
				conn.SetReadDeadline(time.Time{})
				return ctx.Err()
			}
			t.dropConn(conn, err)
			return fmt.Errorf("read udp: %w", err)
		}
		from = netip.AddrPortFrom(from.Addr().Unmap(), from.Port())

		msg, err := t.config.Parser.Parse(buf[:n])
		if err != nil {
			t.dropped.Add(1)
			t.logger.Debug("dropping malformed datagram", "from", from.String(), "size", n, "error", err)
			t.captureError(connID, from, err, "parse")
			continue
		}
		t.received.Add(1)
		t.capture(connID, log.DirectionIn, from, buf[:n], msg)

		deliver(wire.Inbound{From: from, Message: msg, ReceivedAt: time.Now()})
	}
}

// LocalAddr implements Transport.
func (t *UDPTransport) LocalAddr() netip.AddrPort {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return netip.AddrPort{}
	}
	if addr, ok := t.conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.AddrPort()
	}
	return netip.AddrPort{}
}

// ConnectionID returns the capture id of the current binding, or "" when
// the socket is not bound.
func (t *UDPTransport) ConnectionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return ""
	}
	return t.connID
}

// Stats returns datagram counters: sent, received and dropped as malformed.
func (t *UDPTransport) Stats() (sent, received, dropped uint64) {
	return t.sent.Load(), t.received.Load(), t.dropped.Load()
}

// Close implements Transport. It is safe to call Close more than once.
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

func (t *UDPTransport) capture(connID string, dir log.Direction, peer netip.AddrPort, data []byte, msg *wire.Message) {
	now := time.Now()
	t.plog.Log(log.Event{
		Timestamp:    now,
		ConnectionID: connID,
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		RemoteAddr:   peer.String(),
		Frame:        log.NewFrameEvent(data),
	})
	t.plog.Log(log.Event{
		Timestamp:    now,
		ConnectionID: connID,
		Direction:    dir,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		RemoteAddr:   peer.String(),
		Target:       msg.Target().String(),
		Message:      log.NewMessageEvent(msg),
	})
}

func (t *UDPTransport) captureError(connID string, peer netip.AddrPort, err error, op string) {
	layer := log.LayerTransport
	if op == "parse" {
		layer = log.LayerWire
	}
	t.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Layer:        layer,
		Category:     log.CategoryError,
		RemoteAddr:   peer.String(),
		Error: &log.ErrorEventData{
			Layer:   layer,
			Message: err.Error(),
			Context: op,
		},
	})
}
