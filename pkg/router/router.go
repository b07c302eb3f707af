// Package router demultiplexes inbound envelopes by device target.
//
// The first envelope seen for a target creates a session for it. The
// session is announced through the added callback and then attached to a
// per-target route that receives every later envelope for that target in
// arrival order. Each route queues without limit, so a slow session never
// loses envelopes and never stalls routing for the others. Sessions live
// until the router is closed.
package router

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/lanlight/lanlight-go/pkg/wire"
)

// Router errors.
var (
	// ErrClosed is returned by Route after Close.
	ErrClosed = errors.New("router closed")

	// ErrFrozen is returned by Route for an unknown target after Freeze.
	ErrFrozen = errors.New("router frozen")
)

// DefaultRouteBuffer is the capacity of each session's stream channel.
const DefaultRouteBuffer = 32

// Session is a per-target consumer of routed envelopes.
type Session interface {
	// Attach binds the session to its routed stream. The returned handle is
	// kept until the router closes.
	Attach(stream <-chan wire.Inbound) Attachment
}

// Attachment releases a session's binding to its stream.
type Attachment interface {
	Detach()
}

// AttachmentFunc adapts a function to Attachment.
type AttachmentFunc func()

// Detach calls f.
func (f AttachmentFunc) Detach() { f() }

// Config configures a Router.
type Config struct {
	// RouteBuffer is the capacity of the channel a session reads from.
	// Envelopes beyond it wait in the route's queue.
	RouteBuffer int

	// Logger receives routing logs. Nil disables logging.
	Logger *slog.Logger
}

// route is the state kept per target.
type route[S Session] struct {
	session    S
	ready      bool
	ch         chan wire.Inbound
	attachment Attachment

	qmu   sync.Mutex
	queue []wire.Inbound
	wake  chan struct{}
}

// Router routes envelopes to per-target sessions.
type Router[S Session] struct {
	config     Config
	logger     *slog.Logger
	newSession func(wire.Target, wire.Inbound) S
	added      func(S)

	// mu guards routes, order, frozen and closed. It is held only for
	// lookups and the check-and-insert of a new route.
	mu     sync.RWMutex
	routes map[wire.Target]*route[S]
	order  []wire.Target
	frozen bool
	closed bool

	creating sync.WaitGroup
	pumps    sync.WaitGroup
	done     chan struct{}

	skipped atomic.Uint64
	refused atomic.Uint64
}

// New creates a router. newSession constructs the session for a target
// from the envelope that revealed it; added is called once per new session
// before the session is attached.
func New[S Session](config Config, newSession func(wire.Target, wire.Inbound) S, added func(S)) *Router[S] {
	if config.RouteBuffer <= 0 {
		config.RouteBuffer = DefaultRouteBuffer
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if added == nil {
		added = func(S) {}
	}
	return &Router[S]{
		config:     config,
		logger:     logger.With("component", "router"),
		newSession: newSession,
		added:      added,
		routes:     make(map[wire.Target]*route[S]),
		done:       make(chan struct{}),
	}
}

// Run routes envelopes from in until it is closed, ctx is done or the
// router is closed. Run must not be called concurrently with itself.
func (r *Router[S]) Run(ctx context.Context, in <-chan wire.Inbound) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-in:
			if !ok {
				return nil
			}
			if err := r.Route(ctx, env); errors.Is(err, ErrClosed) {
				return err
			}
		}
	}
}

// Route delivers one envelope. Broadcast envelopes are skipped. After
// Freeze, envelopes for unknown targets are refused with ErrFrozen.
func (r *Router[S]) Route(ctx context.Context, env wire.Inbound) error {
	if env.Message == nil || env.Message.IsBroadcast() {
		r.skipped.Add(1)
		return nil
	}
	target := env.Target()

	r.mu.RLock()
	closed := r.closed
	rt, ok := r.routes[target]
	r.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if ok {
		r.enqueue(rt, env)
		return nil
	}

	rt, created, err := r.insert(target)
	if err != nil {
		if errors.Is(err, ErrFrozen) {
			r.refused.Add(1)
			r.logger.Debug("session creation refused", "target", target.String())
		}
		return err
	}
	if !created {
		r.enqueue(rt, env)
		return nil
	}
	defer r.creating.Done()

	// Construction, notification and attach run outside the lock. The
	// session is visible to lookups before added runs.
	session := r.newSession(target, env)
	r.mu.Lock()
	rt.session = session
	rt.ready = true
	r.mu.Unlock()

	r.logger.Info("device discovered", "target", target.String(), "from", env.From.String())
	r.added(session)
	attachment := session.Attach(rt.ch)

	r.mu.Lock()
	rt.attachment = attachment
	closed = r.closed
	r.mu.Unlock()
	if closed {
		if attachment != nil {
			attachment.Detach()
		}
		return ErrClosed
	}

	r.enqueue(rt, env)
	return nil
}

// insert registers an empty route for target and starts its pump. It
// returns the existing route and false if another caller won the race.
func (r *Router[S]) insert(target wire.Target) (*route[S], bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, false, ErrClosed
	}
	if rt, ok := r.routes[target]; ok {
		return rt, false, nil
	}
	if r.frozen {
		return nil, false, ErrFrozen
	}
	rt := &route[S]{
		ch:   make(chan wire.Inbound, r.config.RouteBuffer),
		wake: make(chan struct{}, 1),
	}
	r.routes[target] = rt
	r.order = append(r.order, target)
	r.creating.Add(1)
	r.pumps.Add(1)
	go r.pump(rt)
	return rt, true, nil
}

func (r *Router[S]) enqueue(rt *route[S], env wire.Inbound) {
	rt.qmu.Lock()
	rt.queue = append(rt.queue, env)
	rt.qmu.Unlock()

	select {
	case rt.wake <- struct{}{}:
	default:
	}
}

// pump moves queued envelopes into the session channel in order.
func (r *Router[S]) pump(rt *route[S]) {
	defer r.pumps.Done()
	for {
		select {
		case <-r.done:
			return
		case <-rt.wake:
		}

		for {
			env, ok := rt.pop()
			if !ok {
				break
			}
			select {
			case rt.ch <- env:
			case <-r.done:
				return
			}
		}
	}
}

func (rt *route[S]) pop() (wire.Inbound, bool) {
	rt.qmu.Lock()
	defer rt.qmu.Unlock()
	if len(rt.queue) == 0 {
		return wire.Inbound{}, false
	}
	env := rt.queue[0]
	rt.queue[0] = wire.Inbound{}
	rt.queue = rt.queue[1:]
	if len(rt.queue) == 0 {
		rt.queue = nil
	}
	return env, true
}

// Session returns the session for target.
func (r *Router[S]) Session(target wire.Target) (S, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.routes[target]
	if !ok || !rt.ready {
		var zero S
		return zero, false
	}
	return rt.session, true
}

// Sessions returns known sessions in discovery order.
func (r *Router[S]) Sessions() []S {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]S, 0, len(r.order))
	for _, t := range r.order {
		if rt := r.routes[t]; rt.ready {
			out = append(out, rt.session)
		}
	}
	return out
}

// Len returns the number of known targets.
func (r *Router[S]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes)
}

// Skipped returns the number of broadcast envelopes ignored by Route.
func (r *Router[S]) Skipped() uint64 {
	return r.skipped.Load()
}

// Refused returns the number of envelopes for unknown targets refused
// after Freeze.
func (r *Router[S]) Refused() uint64 {
	return r.refused.Load()
}

// Pending returns the number of envelopes queued for target that its
// session has not yet been handed.
func (r *Router[S]) Pending(target wire.Target) int {
	r.mu.RLock()
	rt, ok := r.routes[target]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	rt.qmu.Lock()
	defer rt.qmu.Unlock()
	return len(rt.queue)
}

// Freeze stops the router from creating sessions. Envelopes for known
// targets are still delivered. Freeze returns once any session already
// being created has been announced and attached, so it must not be called
// from the added callback.
func (r *Router[S]) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
	r.creating.Wait()
}

// Close detaches every session. No session is created afterwards. Route
// channels are left open; sessions stop reading when detached. It is safe
// to call Close more than once.
func (r *Router[S]) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.frozen = true
	close(r.done)
	var attachments []Attachment
	for _, t := range r.order {
		if a := r.routes[t].attachment; a != nil {
			attachments = append(attachments, a)
		}
	}
	r.mu.Unlock()

	for _, a := range attachments {
		a.Detach()
	}
	r.pumps.Wait()
}
