package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeatFirstTickAfterOneInterval(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewManualClock(start)
	hb := New(5*time.Second, clock)
	defer hb.Stop()

	sub := hb.Subscribe()
	require.NoError(t, hb.Start(context.Background()))
	require.True(t, clock.WaitForTicker(time.Second))

	select {
	case <-sub.C():
		t.Fatal("tick delivered before the first interval elapsed")
	case <-time.After(20 * time.Millisecond):
	}

	clock.Fire()
	select {
	case tick := <-sub.C():
		assert.Equal(t, uint64(1), tick.Seq)
		assert.Equal(t, start.Add(5*time.Second), tick.At)
	case <-time.After(time.Second):
		t.Fatal("no tick after Fire")
	}
}

func TestHeartbeatSharedAcrossSubscribers(t *testing.T) {
	clock := NewManualClock(time.Now())
	hb := New(time.Second, clock)
	defer hb.Stop()

	a, b := hb.Subscribe(), hb.Subscribe()
	require.NoError(t, hb.Start(context.Background()))
	require.True(t, clock.WaitForTicker(time.Second))

	clock.Fire()

	for _, sub := range []<-chan Tick{a.C(), b.C()} {
		select {
		case tick := <-sub:
			assert.Equal(t, uint64(1), tick.Seq)
		case <-time.After(time.Second):
			t.Fatal("subscriber missed the tick")
		}
	}

	clock.mu.Lock()
	n := len(clock.tickers)
	clock.mu.Unlock()
	assert.Equal(t, 1, n, "one ticker regardless of subscriber count")
}

func TestHeartbeatSlowSubscriberSeesLatest(t *testing.T) {
	clock := NewManualClock(time.Now())
	hb := New(time.Second, clock)
	defer hb.Stop()

	sub := hb.Subscribe()
	require.NoError(t, hb.Start(context.Background()))
	require.True(t, clock.WaitForTicker(time.Second))

	for i := 0; i < 3; i++ {
		clock.Fire()
		assert.Eventually(t, func() bool {
			return hb.hub.Published() == uint64(i+1)
		}, time.Second, time.Millisecond)
	}

	tick := <-sub.C()
	assert.Equal(t, uint64(3), tick.Seq)
	assert.Empty(t, sub.C())
}

func TestHeartbeatStop(t *testing.T) {
	hb := New(0, nil)
	assert.Equal(t, DefaultInterval, hb.Interval())

	hb.Stop()

	hb = New(time.Hour, NewManualClock(time.Now()))
	sub := hb.Subscribe()
	require.NoError(t, hb.Start(context.Background()))
	assert.ErrorIs(t, hb.Start(context.Background()), ErrAlreadyStarted)

	hb.Stop()
	hb.Stop()

	_, ok := <-sub.C()
	assert.False(t, ok)
}

func TestSystemClockTicks(t *testing.T) {
	tk := SystemClock().NewTicker(time.Millisecond)
	defer tk.Stop()

	select {
	case <-tk.C():
	case <-time.After(time.Second):
		t.Fatal("system ticker did not fire")
	}
}
