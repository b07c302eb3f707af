// Package light provides the default per-device session.
//
// A Light is created by the router the first time a target is seen and
// lives for the lifetime of the service. It tracks where the device last
// replied from, what it last reported, and whether it is still answering
// discovery. Reachability is informational only: an unreachable light is
// kept and becomes reachable again on its next message.
package light

import (
	"fmt"
	"log/slog"
	"net/netip"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/lanlight/lanlight-go/pkg/bus"
	"github.com/lanlight/lanlight-go/pkg/heartbeat"
	"github.com/lanlight/lanlight-go/pkg/log"
	"github.com/lanlight/lanlight-go/pkg/router"
	"github.com/lanlight/lanlight-go/pkg/wire"
)

// DefaultUnreachableAfter is the number of heartbeat ticks without traffic
// after which a light is considered unreachable.
const DefaultUnreachableAfter = 3

// Config carries the capabilities a Light needs from its service.
type Config struct {
	// SourceID is the service's client source id.
	SourceID uint32

	// Send delivers an outbound envelope.
	Send func(wire.Outbound) bool

	// Ticks subscribes to the service heartbeat. Nil disables
	// reachability tracking.
	Ticks func() *bus.Subscription[heartbeat.Tick]

	// UnreachableAfter defaults to DefaultUnreachableAfter.
	UnreachableAfter int

	// Now defaults to time.Now.
	Now func() time.Time

	Logger         *slog.Logger
	ProtocolLogger log.Logger
}

// Snapshot is a point-in-time copy of a light's state.
type Snapshot struct {
	Target      wire.Target
	Addr        netip.AddrPort
	FirstSeen   time.Time
	LastSeen    time.Time
	Received    uint64
	ServicePort uint32
	Label       string
	Power       uint16
	Reachable   bool
}

// Light is the session for one device.
type Light struct {
	target wire.Target
	config Config
	logger *slog.Logger
	plog   log.Logger

	mu          sync.RWMutex
	addr        netip.AddrPort
	firstSeen   time.Time
	lastSeen    time.Time
	received    uint64
	servicePort uint32
	label       string
	power       uint16
	reachable   bool
	missed      int
	hooks       []func(wire.Inbound)
	attached    bool
}

// New creates the session for target from the envelope that revealed it.
func New(target wire.Target, first wire.Inbound, config Config) *Light {
	if config.UnreachableAfter <= 0 {
		config.UnreachableAfter = DefaultUnreachableAfter
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Send == nil {
		config.Send = func(wire.Outbound) bool { return false }
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := first.ReceivedAt
	if now.IsZero() {
		now = config.Now()
	}
	return &Light{
		target:    target,
		config:    config,
		logger:    logger.With("component", "light", "target", target.String()),
		plog:      log.OrNoop(config.ProtocolLogger),
		addr:      first.From,
		firstSeen: now,
		lastSeen:  now,
		reachable: true,
	}
}

// Target returns the device target.
func (l *Light) Target() wire.Target {
	return l.target
}

// SourceID returns the source id used for this light's requests.
func (l *Light) SourceID() uint32 {
	return l.config.SourceID
}

// Addr returns the address the device last sent from.
func (l *Light) Addr() netip.AddrPort {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.addr
}

// Reachable reports whether the device has sent anything recently.
func (l *Light) Reachable() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.reachable
}

// Snapshot returns a copy of the light's state.
func (l *Light) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Snapshot{
		Target:      l.target,
		Addr:        l.addr,
		FirstSeen:   l.firstSeen,
		LastSeen:    l.lastSeen,
		Received:    l.received,
		ServicePort: l.servicePort,
		Label:       l.label,
		Power:       l.power,
		Reachable:   l.reachable,
	}
}

// OnMessage registers fn to be called for every message routed to this
// light, after its state has been updated. fn runs on the light's own
// goroutine and must not block.
func (l *Light) OnMessage(fn func(wire.Inbound)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = append(l.hooks, fn)
}

// Send sends msg to this light.
func (l *Light) Send(msg *wire.Message) bool {
	return l.config.Send(wire.Outbound{Target: l.target, Message: msg})
}

// Request sends an empty message of the given type asking for a reply.
func (l *Light) Request(typ wire.MessageType) bool {
	msg := wire.NewMessage(typ, nil)
	msg.Header.ResRequired = true
	return l.Send(msg)
}

// SetPower switches the light on or off.
func (l *Light) SetPower(on bool) bool {
	msg := wire.NewMessage(wire.TypeSetPower, wire.EncodePower(on))
	msg.Header.AckRequired = true
	return l.Send(msg)
}

// Attach implements router.Session. The light reads stream and heartbeat
// ticks on its own goroutine until detached.
func (l *Light) Attach(stream <-chan wire.Inbound) router.Attachment {
	l.mu.Lock()
	if l.attached {
		l.mu.Unlock()
		return router.AttachmentFunc(func() {})
	}
	l.attached = true
	l.mu.Unlock()

	var ticks *bus.Subscription[heartbeat.Tick]
	if l.config.Ticks != nil {
		ticks = l.config.Ticks()
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.run(stream, ticks, stop, done)

	var once sync.Once
	return router.AttachmentFunc(func() {
		once.Do(func() {
			close(stop)
			<-done
			if ticks != nil {
				ticks.Close()
			}
		})
	})
}

func (l *Light) run(stream <-chan wire.Inbound, ticks *bus.Subscription[heartbeat.Tick], stop, done chan struct{}) {
	defer close(done)

	var tickC <-chan heartbeat.Tick
	if ticks != nil {
		tickC = ticks.C()
	}

	for {
		select {
		case <-stop:
			return
		case env, ok := <-stream:
			if !ok {
				stream = nil
				continue
			}
			l.observe(env)
		case _, ok := <-tickC:
			if !ok {
				tickC = nil
				continue
			}
			l.tick()
		}
	}
}

func (l *Light) observe(env wire.Inbound) {
	msg := env.Message

	l.mu.Lock()
	l.addr = env.From
	if env.ReceivedAt.IsZero() {
		l.lastSeen = l.config.Now()
	} else {
		l.lastSeen = env.ReceivedAt
	}
	l.received++
	l.missed = 0
	recovered := !l.reachable
	l.reachable = true

	switch msg.Type() {
	case wire.TypeStateService:
		if svc, err := wire.DecodeStateService(msg.Payload); err == nil && svc.Service == wire.ServiceUDP {
			l.servicePort = svc.Port
		}
	case wire.TypeStateLabel:
		if label, err := wire.DecodeLabel(msg.Payload); err == nil {
			l.label = label
		}
	case wire.TypeStatePower, wire.TypeLightStatePower:
		if level, err := wire.DecodePower(msg.Payload); err == nil {
			l.power = level
		}
	case wire.TypeLightState:
		if st, err := wire.DecodeLightState(msg.Payload); err == nil {
			l.power = st.Power
			l.label = st.Label
		}
	}
	hooks := slices.Clone(l.hooks)
	l.mu.Unlock()

	l.logger.Debug("message", "type", msg.Type(), "from", env.From.String())
	if recovered {
		l.changeState("UNREACHABLE", "REACHABLE", "message received")
	}
	for _, fn := range hooks {
		fn(env)
	}
}

func (l *Light) tick() {
	l.mu.Lock()
	l.missed++
	lost := l.reachable && l.missed >= l.config.UnreachableAfter
	if lost {
		l.reachable = false
	}
	missed := l.missed
	l.mu.Unlock()

	if lost {
		l.changeState("REACHABLE", "UNREACHABLE", fmt.Sprintf("no traffic for %d heartbeats", missed))
	}
}

func (l *Light) changeState(from, to, reason string) {
	l.logger.Info("light "+strings.ToLower(to), "reason", reason)
	l.plog.Log(log.Event{
		Timestamp: l.config.Now(),
		Layer:     log.LayerService,
		Category:  log.CategoryState,
		Target:    l.target.String(),
		SourceID:  l.config.SourceID,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySession,
			OldState: from,
			NewState: to,
			Reason:   reason,
		},
	})
}

// Compile-time interface satisfaction check.
var _ router.Session = (*Light)(nil)
