package light

import (
	"context"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanlight/lanlight-go/pkg/bus"
	"github.com/lanlight/lanlight-go/pkg/heartbeat"
	"github.com/lanlight/lanlight-go/pkg/wire"
)

const testTarget = wire.Target(0x0000030201d573d0)

func inbound(typ wire.MessageType, payload []byte, from string) wire.Inbound {
	msg := wire.NewMessage(typ, payload)
	msg.Header.Target = testTarget
	return wire.Inbound{From: netip.MustParseAddrPort(from), Message: msg, ReceivedAt: time.Now()}
}

type env struct {
	light  *Light
	ticks  *bus.Hub[heartbeat.Tick]
	stream chan wire.Inbound

	mu   sync.Mutex
	sent []wire.Outbound
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		ticks:  bus.New[heartbeat.Tick](),
		stream: make(chan wire.Inbound, 8),
	}
	e.light = New(testTarget, inbound(wire.TypeStateService, nil, "192.168.1.20:56700"), Config{
		SourceID: 1234,
		Send: func(out wire.Outbound) bool {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.sent = append(e.sent, out)
			return true
		},
		Ticks: func() *bus.Subscription[heartbeat.Tick] {
			return e.ticks.Subscribe(1, bus.PolicyDropOld)
		},
	})
	return e
}

func (e *env) tick(t *testing.T, seq uint64) {
	t.Helper()
	require.Eventually(t, func() bool { return e.ticks.SubscriberCount() > 0 }, time.Second, time.Millisecond)
	require.NoError(t, e.ticks.Publish(context.Background(), heartbeat.Tick{Seq: seq, At: time.Now()}))
}

func TestLightTracksMessages(t *testing.T) {
	e := newEnv(t)
	att := e.light.Attach(e.stream)
	defer att.Detach()

	e.stream <- inbound(wire.TypeStateService, wire.StateService{Service: wire.ServiceUDP, Port: 56700}.Encode(), "192.168.1.20:56700")
	e.stream <- inbound(wire.TypeStateLabel, wire.EncodeLabel("Hallway"), "192.168.1.21:56700")
	e.stream <- inbound(wire.TypeStatePower, wire.EncodePower(true), "192.168.1.21:56700")

	require.Eventually(t, func() bool { return e.light.Snapshot().Received == 3 }, time.Second, time.Millisecond)

	snap := e.light.Snapshot()
	assert.Equal(t, testTarget, snap.Target)
	assert.Equal(t, uint32(56700), snap.ServicePort)
	assert.Equal(t, "Hallway", snap.Label)
	assert.Equal(t, uint16(0xffff), snap.Power)
	assert.Equal(t, "192.168.1.21:56700", snap.Addr.String())
	assert.True(t, snap.Reachable)
	assert.False(t, snap.LastSeen.Before(snap.FirstSeen))
}

func TestLightLightStatePayload(t *testing.T) {
	e := newEnv(t)
	att := e.light.Attach(e.stream)
	defer att.Detach()

	e.stream <- inbound(wire.TypeLightState, wire.LightState{Power: 0, Label: "Desk"}.Encode(), "192.168.1.20:56700")
	require.Eventually(t, func() bool { return e.light.Snapshot().Label == "Desk" }, time.Second, time.Millisecond)
	assert.Zero(t, e.light.Snapshot().Power)
}

func TestLightHooksRunInOrder(t *testing.T) {
	e := newEnv(t)

	var mu sync.Mutex
	var seqs []uint8
	e.light.OnMessage(func(in wire.Inbound) {
		mu.Lock()
		defer mu.Unlock()
		seqs = append(seqs, in.Message.Header.Sequence)
	})

	att := e.light.Attach(e.stream)
	defer att.Detach()

	for i := 0; i < 5; i++ {
		in := inbound(wire.TypeEchoResponse, nil, "192.168.1.20:56700")
		in.Message.Header.Sequence = uint8(i)
		e.stream <- in
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seqs) == 5
	}, time.Second, time.Millisecond)
	assert.Equal(t, []uint8{0, 1, 2, 3, 4}, seqs)
}

func TestLightHookRegisteredDuringDelivery(t *testing.T) {
	e := newEnv(t)

	var mu sync.Mutex
	var late int
	registered := false
	e.light.OnMessage(func(wire.Inbound) {
		mu.Lock()
		defer mu.Unlock()
		if registered {
			return
		}
		registered = true
		e.light.OnMessage(func(wire.Inbound) {
			mu.Lock()
			defer mu.Unlock()
			late++
		})
	})

	att := e.light.Attach(e.stream)
	defer att.Detach()

	e.stream <- inbound(wire.TypeEchoResponse, nil, "192.168.1.20:56700")
	e.stream <- inbound(wire.TypeEchoResponse, nil, "192.168.1.20:56700")

	require.Eventually(t, func() bool { return e.light.Snapshot().Received == 2 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return late == 1
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, late, "a hook added during delivery runs from the next message")
}

func TestLightReachability(t *testing.T) {
	e := newEnv(t)
	att := e.light.Attach(e.stream)
	defer att.Detach()

	for i := uint64(1); i <= DefaultUnreachableAfter; i++ {
		assert.True(t, e.light.Reachable(), "reachable before tick %d", i)
		e.tick(t, i)
		require.Eventually(t, func() bool {
			e.light.mu.RLock()
			defer e.light.mu.RUnlock()
			return e.light.missed == int(i)
		}, time.Second, time.Millisecond)
	}
	assert.False(t, e.light.Reachable())

	e.stream <- inbound(wire.TypeStatePower, wire.EncodePower(false), "192.168.1.20:56700")
	require.Eventually(t, e.light.Reachable, time.Second, time.Millisecond)
}

func TestLightSendAddressesOwnTarget(t *testing.T) {
	e := newEnv(t)

	require.True(t, e.light.Request(wire.TypeGetLabel))
	require.True(t, e.light.SetPower(true))

	e.mu.Lock()
	defer e.mu.Unlock()
	require.Len(t, e.sent, 2)
	for _, out := range e.sent {
		assert.Equal(t, testTarget, out.Target)
	}
	assert.True(t, e.sent[0].Message.Header.ResRequired)
	assert.Equal(t, wire.TypeSetPower, e.sent[1].Message.Type())
	assert.True(t, e.sent[1].Message.Header.AckRequired)
}

func TestLightDetach(t *testing.T) {
	e := newEnv(t)
	att := e.light.Attach(e.stream)
	require.Eventually(t, func() bool { return e.ticks.SubscriberCount() == 1 }, time.Second, time.Millisecond)

	att.Detach()
	att.Detach()
	assert.Zero(t, e.ticks.SubscriberCount(), "tick subscription released")

	second := e.light.Attach(e.stream)
	second.Detach()
}

func TestLightDefaults(t *testing.T) {
	l := New(testTarget, wire.Inbound{From: netip.MustParseAddrPort("10.0.0.2:56700")}, Config{})
	assert.False(t, l.Send(wire.NewMessage(wire.TypeGetPower, nil)))
	assert.True(t, l.Reachable())
	assert.Equal(t, "10.0.0.2:56700", l.Addr().String())
	assert.False(t, l.Snapshot().FirstSeen.IsZero())

	att := l.Attach(make(chan wire.Inbound))
	att.Detach()
}
