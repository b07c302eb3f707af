// Package bus provides a generic in-process multicast hub.
//
// A Hub delivers every published value to each subscriber registered at the
// time of publishing. There is no replay: a late subscriber only sees values
// published after it subscribed. Each subscriber chooses how a full buffer
// is handled:
//   - PolicyBlock: the publisher waits (bounded by its context)
//   - PolicyDropNew: the incoming value is dropped
//   - PolicyDropOld: the oldest buffered value is replaced, so the
//     subscriber always sees the latest value
//
// Usage:
//
//	hub := bus.New[wire.Inbound]()
//	defer hub.Close()
//
//	sub := hub.Subscribe(64, bus.PolicyBlock)
//	defer sub.Close()
//	go func() {
//		for env := range sub.C() {
//			// route env
//		}
//	}()
//
//	hub.Publish(ctx, env)
package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrHubClosed is returned by Publish after Close.
var ErrHubClosed = errors.New("hub closed")

// Policy controls what happens when a subscriber's buffer is full.
type Policy uint8

const (
	// PolicyBlock makes Publish wait until the subscriber has room, the
	// subscription is closed, or the publish context is done.
	PolicyBlock Policy = iota

	// PolicyDropNew drops the value being published.
	PolicyDropNew

	// PolicyDropOld discards the oldest buffered value to make room.
	PolicyDropOld
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case PolicyBlock:
		return "block"
	case PolicyDropNew:
		return "drop-new"
	case PolicyDropOld:
		return "drop-old"
	default:
		return "unknown"
	}
}

// Hub multicasts values of type T to subscribers. The zero value is not
// usable; create hubs with New.
type Hub[T any] struct {
	// mu is held for reading while publishing and for writing while
	// subscriber channels are closed, so a send never races a close.
	mu     sync.RWMutex
	subs   map[*Subscription[T]]struct{}
	closed bool

	published atomic.Uint64
}

// New creates an empty hub.
func New[T any]() *Hub[T] {
	return &Hub[T]{
		subs: make(map[*Subscription[T]]struct{}),
	}
}

// Subscribe registers a subscriber with the given buffer size and overflow
// policy. A buffer below 1 is raised to 1. Subscribing to a closed hub
// returns a subscription whose channel is already closed.
func (h *Hub[T]) Subscribe(buffer int, policy Policy) *Subscription[T] {
	if buffer < 1 {
		buffer = 1
	}
	sub := &Subscription[T]{
		hub:    h,
		ch:     make(chan T, buffer),
		policy: policy,
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.signal()
		close(sub.ch)
		return sub
	}
	h.subs[sub] = struct{}{}
	return sub
}

// Publish delivers v to every current subscriber according to its policy.
// It returns ctx.Err() if the context ends while waiting on a blocking
// subscriber; remaining subscribers are skipped in that case.
func (h *Hub[T]) Publish(ctx context.Context, v T) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return ErrHubClosed
	}
	h.published.Add(1)

	for sub := range h.subs {
		if err := sub.deliver(ctx, v); err != nil {
			return err
		}
	}
	return nil
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub[T]) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Published returns the number of values accepted by Publish.
func (h *Hub[T]) Published() uint64 {
	return h.published.Load()
}

// Close closes every subscription. Publish fails with ErrHubClosed
// afterwards. It is safe to call Close more than once.
func (h *Hub[T]) Close() {
	// Release publishers blocked on a subscriber before taking the write lock.
	h.mu.RLock()
	for sub := range h.subs {
		sub.signal()
	}
	h.mu.RUnlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		sub.signal()
		close(sub.ch)
		delete(h.subs, sub)
	}
}

func (h *Hub[T]) remove(sub *Subscription[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.ch)
}

// Subscription is one consumer's view of a Hub.
type Subscription[T any] struct {
	hub    *Hub[T]
	ch     chan T
	policy Policy

	done     chan struct{}
	doneOnce sync.Once

	dropped atomic.Uint64
}

// C returns the channel values are delivered on. It is closed when the
// subscription or the hub is closed.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Policy returns the overflow policy.
func (s *Subscription[T]) Policy() Policy {
	return s.policy
}

// Dropped returns the number of values this subscriber lost to overflow.
func (s *Subscription[T]) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unsubscribes. It is safe to call Close more than once and after the
// hub has been closed.
func (s *Subscription[T]) Close() {
	s.signal()
	s.hub.remove(s)
}

func (s *Subscription[T]) signal() {
	s.doneOnce.Do(func() { close(s.done) })
}

// deliver is called with the hub read lock held.
func (s *Subscription[T]) deliver(ctx context.Context, v T) error {
	switch s.policy {
	case PolicyDropNew:
		select {
		case s.ch <- v:
		default:
			s.dropped.Add(1)
		}
		return nil

	case PolicyDropOld:
		for {
			select {
			case s.ch <- v:
				return nil
			default:
			}
			select {
			case <-s.ch:
				s.dropped.Add(1)
			default:
			}
		}

	default:
		select {
		case s.ch <- v:
			return nil
		case <-s.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
