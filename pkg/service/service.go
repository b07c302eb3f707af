package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lanlight/lanlight-go/pkg/bus"
	"github.com/lanlight/lanlight-go/pkg/connection"
	"github.com/lanlight/lanlight-go/pkg/extension"
	"github.com/lanlight/lanlight-go/pkg/heartbeat"
	"github.com/lanlight/lanlight-go/pkg/light"
	"github.com/lanlight/lanlight-go/pkg/log"
	"github.com/lanlight/lanlight-go/pkg/router"
	"github.com/lanlight/lanlight-go/pkg/transport"
	"github.com/lanlight/lanlight-go/pkg/wire"
)

// LightService discovers lights and routes their traffic.
type LightService struct {
	config   Config
	logger   *slog.Logger
	plog     log.Logger
	sourceID uint32

	primary transport.Transport
	legacy  transport.Transport

	chain     *extension.Chain
	heartbeat *heartbeat.Heartbeat
	hub       *bus.Hub[wire.Inbound]
	router    *router.Router[*light.Light]

	mu          sync.RWMutex
	state       ServiceState
	cancel      context.CancelFunc
	release     func() bool
	supervisors []*connection.Supervisor
	wg          sync.WaitGroup

	seq        atomic.Uint32
	broadcasts atomic.Uint64
	filtered   atomic.Uint64
	routed     atomic.Uint64
}

// New creates a service. root receives LightAdded notifications after they
// pass through the extensions built by factories; the last factory's
// extension sees each notification first.
func New(cfg Config, root extension.ChangeDispatcher, factories ...extension.Factory) (*LightService, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Transports == nil {
		cfg.Transports = transport.NewUDPFactory(logger, cfg.ProtocolLogger)
	}

	sourceID := cfg.SourceID
	if sourceID == 0 {
		sourceID = newSourceID()
	}

	s := &LightService{
		config:   cfg,
		logger:   logger.With("component", "lightservice", "source_id", sourceID),
		plog:     log.OrNoop(cfg.ProtocolLogger),
		sourceID: sourceID,
		state:    StateIdle,
	}

	var err error
	if s.primary, err = cfg.Transports(cfg.Port, cfg.Parser); err != nil {
		return nil, fmt.Errorf("create primary transport: %w", err)
	}
	if s.legacy, err = cfg.Transports(cfg.LegacyPort, cfg.Parser); err != nil {
		s.primary.Close()
		return nil, fmt.Errorf("create legacy transport: %w", err)
	}

	s.chain = extension.NewChain(root, factories...)
	s.heartbeat = heartbeat.New(cfg.DiscoveryInterval, cfg.Clock)
	s.hub = bus.New[wire.Inbound]()
	s.router = router.New(router.Config{
		RouteBuffer: cfg.RouteBuffer,
		Logger:      logger,
	}, s.newLight, s.lightAdded)

	return s, nil
}

// newSourceID returns a random non-zero 31-bit id.
func newSourceID() uint32 {
	for {
		if id := rand.Uint32() & 0x7fffffff; id != 0 {
			return id
		}
	}
}

// State returns the current service state.
func (s *LightService) State() ServiceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SourceID returns the client source id stamped on outbound messages.
func (s *LightService) SourceID() uint32 {
	return s.sourceID
}

// LocalAddr returns the primary socket's bound address.
func (s *LightService) LocalAddr() netip.AddrPort {
	return s.primary.LocalAddr()
}

// Start wires the inbound path, sends the first discovery broadcast and
// starts every extension. Cancelling parent after Start returns is
// equivalent to calling Stop.
func (s *LightService) Start(parent context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
	case StateStopping, StateStopped:
		s.mu.Unlock()
		return ErrStopped
	default:
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	// Internal goroutines outlive parent until Stop has stopped the
	// extensions.
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	s.cancel = cancel
	s.state = StateStarting
	s.mu.Unlock()
	s.captureState(StateIdle, StateStarting, "")

	merged := make(chan wire.Inbound, s.config.InboundBuffer)

	// Subscribe the router before any transport can deliver.
	routerSub := s.hub.Subscribe(s.config.InboundBuffer, bus.PolicyBlock)
	s.wg.Add(2)
	go s.observe(ctx, merged)
	go func() {
		defer s.wg.Done()
		defer routerSub.Close()
		s.router.Run(ctx, routerSub.C())
	}()

	ticks := s.heartbeat.Subscribe()
	if err := s.heartbeat.Start(ctx); err != nil {
		s.Stop()
		return fmt.Errorf("start heartbeat: %w", err)
	}
	s.wg.Add(1)
	go s.discoveryLoop(ctx, ticks)

	supervisors := []*connection.Supervisor{
		s.supervise("primary", s.primary, merged),
		s.supervise("legacy", s.legacy, merged),
	}
	s.mu.Lock()
	s.supervisors = supervisors
	s.mu.Unlock()
	for _, sup := range supervisors {
		if err := sup.Start(ctx); err != nil {
			s.Stop()
			return fmt.Errorf("start %s supervisor: %w", sup.Name(), err)
		}
	}

	s.Discover()

	if err := s.chain.Start(s); err != nil {
		s.Stop()
		return err
	}

	s.mu.Lock()
	if s.state != StateStarting {
		s.mu.Unlock()
		return ErrStopped
	}
	s.state = StateRunning
	s.release = context.AfterFunc(parent, func() { s.Stop() })
	s.mu.Unlock()
	s.captureState(StateStarting, StateRunning, "")
	s.logger.Info("light service started",
		"local", s.primary.LocalAddr().String(),
		"legacy_port", s.config.LegacyPort,
		"interval", s.config.DiscoveryInterval)
	return nil
}

// supervise wraps a transport's Listen in a supervisor feeding merged.
func (s *LightService) supervise(name string, tr transport.Transport, merged chan<- wire.Inbound) *connection.Supervisor {
	sup := connection.NewSupervisor(func(ctx context.Context) error {
		return tr.Listen(ctx, func(env wire.Inbound) {
			select {
			case merged <- env:
			case <-ctx.Done():
			}
		})
	}, connection.SupervisorConfig{
		Name:    name,
		Backoff: connection.NewFixedBackoff(s.config.ReconnectDelay),
		Logger:  s.logger,
	})

	sup.OnStateChange(func(oldState, newState connection.State) {
		s.plog.Log(log.Event{
			Timestamp: time.Now(),
			Layer:     log.LayerService,
			Category:  log.CategoryState,
			SourceID:  s.sourceID,
			StateChange: &log.StateChangeEvent{
				Entity:   log.StateEntityConnection,
				OldState: oldState.String(),
				NewState: newState.String(),
				Reason:   name,
			},
		})
	})
	sup.OnReconnecting(func(attempt int, delay time.Duration, err error) {
		s.plog.Log(log.Event{
			Timestamp: time.Now(),
			Layer:     log.LayerTransport,
			Category:  log.CategoryError,
			SourceID:  s.sourceID,
			Error: &log.ErrorEventData{
				Layer:   log.LayerTransport,
				Message: err.Error(),
				Context: fmt.Sprintf("%s stream, retry %d in %v", name, attempt, delay),
			},
		})
	})
	return sup
}

// observe drops broadcast envelopes and publishes the rest to the hub.
func (s *LightService) observe(ctx context.Context, merged <-chan wire.Inbound) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-merged:
			if env.Message == nil || env.Message.IsBroadcast() {
				s.filtered.Add(1)
				continue
			}
			if err := s.hub.Publish(ctx, env); err != nil {
				return
			}
			s.routed.Add(1)
		}
	}
}

func (s *LightService) discoveryLoop(ctx context.Context, ticks *bus.Subscription[heartbeat.Tick]) {
	defer s.wg.Done()
	defer ticks.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-ticks.C():
			if !ok {
				return
			}
			s.logger.Debug("heartbeat", "seq", tick.Seq)
			s.Discover()
		}
	}
}

// Stop fences session creation and stops every extension, then tears down
// the inbound path, the heartbeat, all light attachments and the
// transports. It is a no-op before Start and on every call after the first.
// Stop must not be called from a LightAdded notification.
func (s *LightService) Stop() error {
	s.mu.Lock()
	switch s.state {
	case StateIdle, StateStopping, StateStopped:
		s.mu.Unlock()
		return nil
	}
	old := s.state
	s.state = StateStopping
	cancel := s.cancel
	release := s.release
	supervisors := s.supervisors
	s.mu.Unlock()
	s.captureState(old, StateStopping, "stop requested")

	if release != nil {
		release()
	}
	s.router.Freeze()
	s.chain.Stop()

	cancel()
	for _, sup := range supervisors {
		sup.Close()
	}
	s.heartbeat.Stop()
	s.wg.Wait()

	s.router.Close()
	s.hub.Close()

	err := errors.Join(s.primary.Close(), s.legacy.Close())

	s.setState(StateStopped, "")
	s.logger.Info("light service stopped", "lights", s.router.Len())
	return err
}

// Send sends an outbound envelope through the primary transport. The
// message is copied and stamped with the source id, the target, the tagged
// flag and the next sequence number. It reports false when the service is
// not running or the write failed.
func (s *LightService) Send(out wire.Outbound) bool {
	switch s.State() {
	case StateStarting, StateRunning:
	default:
		return false
	}
	if out.Message == nil {
		return false
	}

	msg := out.Message.Clone()
	msg.Header.Source = s.sourceID
	msg.Header.Target = out.Target
	msg.Header.Tagged = out.Target.IsBroadcast()
	msg.Header.Sequence = uint8(s.seq.Add(1))

	to := s.addressFor(out.Target)
	if !s.primary.Send(to, msg) {
		s.logger.Debug("send failed", "to", to.String(), "type", msg.Type(), "target", out.Target.String())
		return false
	}
	return true
}

func (s *LightService) addressFor(target wire.Target) netip.AddrPort {
	if target.IsBroadcast() {
		return s.config.BroadcastAddr
	}
	if l, ok := s.router.Session(target); ok {
		if addr := l.Addr(); addr.IsValid() {
			return addr
		}
	}
	return s.config.BroadcastAddr
}

// Discover broadcasts a GetService request.
func (s *LightService) Discover() bool {
	ok := s.Send(wire.Outbound{Target: wire.BroadcastTarget, Message: wire.NewGetService()})
	if ok {
		s.broadcasts.Add(1)
	}
	return ok
}

// Subscribe returns an independent subscription to the filtered inbound
// stream. Values are dropped when the subscriber falls behind. Callers
// must Close it.
func (s *LightService) Subscribe() *bus.Subscription[wire.Inbound] {
	return s.hub.Subscribe(s.config.SubscriberBuffer, bus.PolicyDropNew)
}

// Ticks returns a subscription to the discovery heartbeat.
func (s *LightService) Ticks() *bus.Subscription[heartbeat.Tick] {
	return s.heartbeat.Subscribe()
}

// Light returns the session for target.
func (s *LightService) Light(target wire.Target) (*light.Light, bool) {
	return s.router.Session(target)
}

// Lights returns all sessions in discovery order.
func (s *LightService) Lights() []*light.Light {
	return s.router.Sessions()
}

// Extensions returns the extensions in construction order.
func (s *LightService) Extensions() []extension.Extension {
	return s.chain.Extensions()
}

// Stats returns a snapshot of service counters.
func (s *LightService) Stats() Stats {
	st := Stats{
		Lights:     s.router.Len(),
		Broadcasts: s.broadcasts.Load(),
		Filtered:   s.filtered.Load(),
		Routed:     s.routed.Load(),
		Refused:    s.router.Refused(),
	}
	s.mu.RLock()
	for _, sup := range s.supervisors {
		st.Restarts += sup.Restarts()
	}
	s.mu.RUnlock()
	return st
}

// ExtensionOf returns the first extension of type T in construction order.
func ExtensionOf[T any](s *LightService) (T, bool) {
	return extension.Find[T](s.chain)
}

func (s *LightService) newLight(target wire.Target, first wire.Inbound) *light.Light {
	return light.New(target, first, light.Config{
		SourceID:         s.sourceID,
		Send:             s.Send,
		Ticks:            s.Ticks,
		UnreachableAfter: s.config.UnreachableAfter,
		Now:              s.config.Clock.Now,
		Logger:           s.config.Logger,
		ProtocolLogger:   s.config.ProtocolLogger,
	})
}

func (s *LightService) lightAdded(l *light.Light) {
	s.plog.Log(log.Event{
		Timestamp:  time.Now(),
		Layer:      log.LayerService,
		Category:   log.CategoryState,
		RemoteAddr: l.Addr().String(),
		Target:     l.Target().String(),
		SourceID:   s.sourceID,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySession,
			NewState: "ADDED",
		},
	})
	s.chain.LightAdded(l)
}

func (s *LightService) setState(state ServiceState, reason string) {
	s.mu.Lock()
	old := s.state
	s.state = state
	s.mu.Unlock()
	s.captureState(old, state, reason)
}

func (s *LightService) captureState(old, state ServiceState, reason string) {
	s.plog.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerService,
		Category:  log.CategoryState,
		SourceID:  s.sourceID,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityService,
			OldState: old.String(),
			NewState: state.String(),
			Reason:   reason,
		},
	})
}

// Compile-time interface satisfaction check.
var _ extension.Source = (*LightService)(nil)
