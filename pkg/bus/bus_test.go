package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubMulticastsToAllSubscribers(t *testing.T) {
	hub := New[int]()
	defer hub.Close()

	a := hub.Subscribe(4, PolicyBlock)
	b := hub.Subscribe(4, PolicyDropNew)
	require.Equal(t, 2, hub.SubscriberCount())

	ctx := context.Background()
	require.NoError(t, hub.Publish(ctx, 1))
	require.NoError(t, hub.Publish(ctx, 2))

	assert.Equal(t, 1, <-a.C())
	assert.Equal(t, 2, <-a.C())
	assert.Equal(t, 1, <-b.C())
	assert.Equal(t, 2, <-b.C())
	assert.Equal(t, uint64(2), hub.Published())
}

func TestHubLateSubscriberSeesNoReplay(t *testing.T) {
	hub := New[string]()
	defer hub.Close()

	early := hub.Subscribe(4, PolicyBlock)
	require.NoError(t, hub.Publish(context.Background(), "before"))

	late := hub.Subscribe(4, PolicyBlock)
	require.NoError(t, hub.Publish(context.Background(), "after"))

	assert.Equal(t, "before", <-early.C())
	assert.Equal(t, "after", <-early.C())
	assert.Equal(t, "after", <-late.C())
	assert.Empty(t, late.C())
}

func TestPolicyDropNew(t *testing.T) {
	hub := New[int]()
	defer hub.Close()

	sub := hub.Subscribe(2, PolicyDropNew)
	for i := 1; i <= 5; i++ {
		require.NoError(t, hub.Publish(context.Background(), i))
	}

	assert.Equal(t, 1, <-sub.C())
	assert.Equal(t, 2, <-sub.C())
	assert.Equal(t, uint64(3), sub.Dropped())
}

func TestPolicyDropOldKeepsLatest(t *testing.T) {
	hub := New[int]()
	defer hub.Close()

	sub := hub.Subscribe(1, PolicyDropOld)
	for i := 1; i <= 5; i++ {
		require.NoError(t, hub.Publish(context.Background(), i))
	}

	assert.Equal(t, 5, <-sub.C())
	assert.Equal(t, uint64(4), sub.Dropped())
}

func TestPolicyBlockRespectsContext(t *testing.T) {
	hub := New[int]()
	defer hub.Close()

	sub := hub.Subscribe(1, PolicyBlock)
	require.NoError(t, hub.Publish(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := hub.Publish(ctx, 2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, <-sub.C())
}

func TestPolicyBlockWaitsForConsumer(t *testing.T) {
	hub := New[int]()
	defer hub.Close()

	sub := hub.Subscribe(1, PolicyBlock)

	var got []int
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for v := range sub.C() {
			got = append(got, v)
			if len(got) == 100 {
				return
			}
		}
	}()

	for i := 0; i < 100; i++ {
		require.NoError(t, hub.Publish(context.Background(), i))
	}
	wg.Wait()

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestSubscriptionCloseUnblocksPublisher(t *testing.T) {
	hub := New[int]()
	defer hub.Close()

	sub := hub.Subscribe(1, PolicyBlock)
	require.NoError(t, hub.Publish(context.Background(), 1))

	published := make(chan error, 1)
	go func() {
		published <- hub.Publish(context.Background(), 2)
	}()

	time.Sleep(10 * time.Millisecond)
	sub.Close()

	select {
	case err := <-published:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publisher still blocked after subscription closed")
	}
	assert.Equal(t, 0, hub.SubscriberCount())

	sub.Close()
}

func TestHubCloseClosesSubscriptions(t *testing.T) {
	hub := New[int]()
	sub := hub.Subscribe(1, PolicyBlock)

	hub.Close()
	hub.Close()

	_, ok := <-sub.C()
	assert.False(t, ok, "subscription channel should be closed")
	assert.ErrorIs(t, hub.Publish(context.Background(), 1), ErrHubClosed)

	late := hub.Subscribe(1, PolicyDropNew)
	_, ok = <-late.C()
	assert.False(t, ok)

	sub.Close()
	late.Close()
}

func TestPolicyString(t *testing.T) {
	assert.Equal(t, "block", PolicyBlock.String())
	assert.Equal(t, "drop-new", PolicyDropNew.String())
	assert.Equal(t, "drop-old", PolicyDropOld.String())
	assert.Equal(t, "unknown", Policy(9).String())
}
