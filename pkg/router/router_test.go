package router

import (
	"context"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanlight/lanlight-go/pkg/wire"
)

type fakeSession struct {
	target wire.Target

	mu       sync.Mutex
	received []wire.Inbound
	attached bool
	detached bool
	stop     chan struct{}
	done     chan struct{}

	// gate, when set, holds back the reader until closed.
	gate chan struct{}

	// events records the global order of added/attach calls.
	events *[]string
	evMu   *sync.Mutex
}

func (s *fakeSession) record(ev string) {
	s.evMu.Lock()
	defer s.evMu.Unlock()
	*s.events = append(*s.events, ev+":"+s.target.String())
}

func (s *fakeSession) Attach(stream <-chan wire.Inbound) Attachment {
	s.record("attach")
	s.mu.Lock()
	s.attached = true
	s.mu.Unlock()

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		if s.gate != nil {
			select {
			case <-s.gate:
			case <-s.stop:
				return
			}
		}
		for {
			select {
			case <-s.stop:
				return
			case env := <-stream:
				s.mu.Lock()
				s.received = append(s.received, env)
				s.mu.Unlock()
			}
		}
	}()
	return AttachmentFunc(func() {
		s.mu.Lock()
		s.detached = true
		s.mu.Unlock()
		close(s.stop)
		<-s.done
	})
}

func (s *fakeSession) Received() []wire.Inbound {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]wire.Inbound(nil), s.received...)
}

type harness struct {
	router *Router[*fakeSession]

	mu      sync.Mutex
	created map[wire.Target]int
	added   []*fakeSession
	events  []string
	evMu    sync.Mutex
}

func newHarness(cfg Config) *harness {
	h := &harness{created: make(map[wire.Target]int)}
	h.router = New(cfg, func(t wire.Target, _ wire.Inbound) *fakeSession {
		h.mu.Lock()
		h.created[t]++
		h.mu.Unlock()
		return &fakeSession{target: t, events: &h.events, evMu: &h.evMu}
	}, func(s *fakeSession) {
		s.record("added")
		h.mu.Lock()
		h.added = append(h.added, s)
		h.mu.Unlock()
	})
	return h
}

func envelope(target wire.Target, seq uint8) wire.Inbound {
	msg := wire.NewMessage(wire.TypeStatePower, nil)
	msg.Header.Target = target
	msg.Header.Sequence = seq
	return wire.Inbound{From: netip.MustParseAddrPort("192.168.1.10:56700"), Message: msg}
}

func broadcast(seq uint8) wire.Inbound {
	env := envelope(wire.BroadcastTarget, seq)
	env.Message.Header.Tagged = true
	return env
}

func TestRouterCreatesOneSessionPerTarget(t *testing.T) {
	h := newHarness(Config{})
	defer h.router.Close()
	ctx := context.Background()

	targets := []wire.Target{0xa1, 0xb2, 0xc3}
	for round := 0; round < 5; round++ {
		for _, tg := range targets {
			require.NoError(t, h.router.Route(ctx, envelope(tg, uint8(round))))
		}
	}

	assert.Equal(t, 3, h.router.Len())
	for _, tg := range targets {
		assert.Equal(t, 1, h.created[tg], "target %s", tg)
	}
	assert.Len(t, h.added, 3)

	sessions := h.router.Sessions()
	require.Len(t, sessions, 3)
	for i, s := range sessions {
		assert.Equal(t, targets[i], s.target, "discovery order")
	}
}

func TestRouterSkipsBroadcasts(t *testing.T) {
	h := newHarness(Config{})
	defer h.router.Close()
	ctx := context.Background()

	require.NoError(t, h.router.Route(ctx, broadcast(1)))
	require.NoError(t, h.router.Route(ctx, envelope(wire.BroadcastTarget, 2)))

	tagged := envelope(0xd1, 3)
	tagged.Message.Header.Tagged = true
	require.NoError(t, h.router.Route(ctx, tagged))

	assert.Zero(t, h.router.Len())
	assert.Empty(t, h.created)
	assert.Equal(t, uint64(3), h.router.Skipped())
}

func TestRouterNotifiesBeforeAttach(t *testing.T) {
	h := newHarness(Config{})
	defer h.router.Close()

	require.NoError(t, h.router.Route(context.Background(), envelope(0xa1, 0)))

	h.evMu.Lock()
	defer h.evMu.Unlock()
	assert.Equal(t, []string{"added:a10000000000", "attach:a10000000000"}, h.events)
}

func TestRouterPreservesPerTargetOrder(t *testing.T) {
	h := newHarness(Config{RouteBuffer: 64})
	defer h.router.Close()
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		require.NoError(t, h.router.Route(ctx, envelope(0xa1, uint8(i))))
		require.NoError(t, h.router.Route(ctx, broadcast(uint8(i))))
		require.NoError(t, h.router.Route(ctx, envelope(0xb2, uint8(i))))
	}

	for _, tg := range []wire.Target{0xa1, 0xb2} {
		s, ok := h.router.Session(tg)
		require.True(t, ok)
		require.Eventually(t, func() bool { return len(s.Received()) == 20 }, time.Second, time.Millisecond)
		for i, env := range s.Received() {
			assert.Equal(t, uint8(i), env.Message.Header.Sequence)
			assert.Equal(t, tg, env.Target())
			assert.False(t, env.Message.IsBroadcast())
		}
	}
}

func TestRouterQueuesBehindSlowSession(t *testing.T) {
	gate := make(chan struct{})
	var slow *fakeSession
	r := New(Config{RouteBuffer: 2}, func(tg wire.Target, _ wire.Inbound) *fakeSession {
		slow = &fakeSession{target: tg, gate: gate, events: new([]string), evMu: new(sync.Mutex)}
		return slow
	}, nil)
	defer r.Close()
	ctx := context.Background()

	const total = 100
	routed := make(chan struct{})
	go func() {
		defer close(routed)
		for i := 0; i < total; i++ {
			assert.NoError(t, r.Route(ctx, envelope(0xa1, uint8(i))))
		}
	}()

	select {
	case <-routed:
	case <-time.After(time.Second):
		t.Fatal("Route blocked on a session that is not reading")
	}
	require.Eventually(t, func() bool { return r.Pending(0xa1) > 0 }, time.Second, time.Millisecond)

	close(gate)
	require.Eventually(t, func() bool { return len(slow.Received()) == total }, time.Second, time.Millisecond)
	for i, env := range slow.Received() {
		assert.Equal(t, uint8(i), env.Message.Header.Sequence)
	}
	assert.Zero(t, r.Pending(0xa1))
}

func TestRouterFreezeRefusesNewTargets(t *testing.T) {
	h := newHarness(Config{})
	defer h.router.Close()
	ctx := context.Background()

	require.NoError(t, h.router.Route(ctx, envelope(0xa1, 0)))
	h.router.Freeze()

	assert.ErrorIs(t, h.router.Route(ctx, envelope(0xb2, 0)), ErrFrozen)
	require.NoError(t, h.router.Route(ctx, envelope(0xa1, 1)), "known targets keep routing")

	s, ok := h.router.Session(0xa1)
	require.True(t, ok)
	require.Eventually(t, func() bool { return len(s.Received()) == 2 }, time.Second, time.Millisecond)

	assert.Equal(t, 1, h.router.Len())
	assert.Len(t, h.added, 1)
	assert.Equal(t, uint64(1), h.router.Refused())
}

func TestRouterRunContinuesWhenFrozen(t *testing.T) {
	h := newHarness(Config{})
	defer h.router.Close()

	in := make(chan wire.Inbound)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- h.router.Run(ctx, in) }()

	in <- envelope(0xa1, 0)
	require.Eventually(t, func() bool { return h.router.Len() == 1 }, time.Second, time.Millisecond)
	h.router.Freeze()

	in <- envelope(0xb2, 0)
	in <- envelope(0xa1, 1)

	s, ok := h.router.Session(0xa1)
	require.True(t, ok)
	require.Eventually(t, func() bool { return len(s.Received()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, h.router.Len())

	select {
	case err := <-done:
		t.Fatalf("Run returned early: %v", err)
	default:
	}
}

func TestRouterSessionVisibleDuringAdded(t *testing.T) {
	var r *Router[*fakeSession]
	var visible bool
	r = New(Config{}, func(tg wire.Target, _ wire.Inbound) *fakeSession {
		return &fakeSession{target: tg, events: new([]string), evMu: new(sync.Mutex)}
	}, func(s *fakeSession) {
		got, ok := r.Session(s.target)
		visible = ok && got == s
	})
	defer r.Close()

	require.NoError(t, r.Route(context.Background(), envelope(0xa1, 0)))
	assert.True(t, visible, "Session must resolve inside the added callback")
}

func TestRouterCloseDetachesSessions(t *testing.T) {
	h := newHarness(Config{})
	ctx := context.Background()

	require.NoError(t, h.router.Route(ctx, envelope(0xa1, 0)))
	require.NoError(t, h.router.Route(ctx, envelope(0xb2, 0)))

	h.router.Close()
	h.router.Close()

	for _, s := range h.added {
		s.mu.Lock()
		assert.True(t, s.detached)
		s.mu.Unlock()
	}
	assert.ErrorIs(t, h.router.Route(ctx, envelope(0xc3, 0)), ErrClosed)
	assert.Equal(t, 2, h.router.Len(), "no session created after close")
}

func TestRouterRun(t *testing.T) {
	h := newHarness(Config{})
	defer h.router.Close()

	in := make(chan wire.Inbound)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.router.Run(ctx, in) }()

	in <- envelope(0xa1, 0)
	in <- broadcast(0)
	in <- envelope(0xa1, 1)
	in <- envelope(0xb2, 0)

	require.Eventually(t, func() bool { return h.router.Len() == 2 }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}

	in2 := make(chan wire.Inbound)
	close(in2)
	assert.NoError(t, h.router.Run(context.Background(), in2))
}

func TestRouterSessionLookup(t *testing.T) {
	h := newHarness(Config{})
	defer h.router.Close()

	_, ok := h.router.Session(0xa1)
	assert.False(t, ok)

	require.NoError(t, h.router.Route(context.Background(), envelope(0xa1, 0)))
	s, ok := h.router.Session(0xa1)
	require.True(t, ok)
	assert.Equal(t, wire.Target(0xa1), s.target)
}
