// Package heartbeat provides the shared interval clock that drives periodic
// discovery.
//
// A Heartbeat owns one ticker regardless of how many subscribers it has.
// The first tick arrives one interval after Start. Subscribers that fall
// behind only see the most recent tick.
package heartbeat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lanlight/lanlight-go/pkg/bus"
)

// DefaultInterval is the discovery re-broadcast interval.
const DefaultInterval = 5 * time.Second

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("heartbeat already started")

// Tick is one heartbeat.
type Tick struct {
	// Seq counts ticks starting at 1.
	Seq uint64
	At  time.Time
}

// Heartbeat multicasts ticks from a single ticker.
type Heartbeat struct {
	interval time.Duration
	clock    Clock
	hub      *bus.Hub[Tick]

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a heartbeat. A non-positive interval selects DefaultInterval,
// a nil clock the system clock.
func New(interval time.Duration, clock Clock) *Heartbeat {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &Heartbeat{
		interval: interval,
		clock:    clock,
		hub:      bus.New[Tick](),
	}
}

// Interval returns the tick interval.
func (h *Heartbeat) Interval() time.Duration {
	return h.interval
}

// Subscribe returns a subscription that always holds the latest tick.
func (h *Heartbeat) Subscribe() *bus.Subscription[Tick] {
	return h.hub.Subscribe(1, bus.PolicyDropOld)
}

// Start starts the ticker. Ticks stop when ctx is cancelled or Stop is
// called.
func (h *Heartbeat) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return ErrAlreadyStarted
	}
	h.started = true

	ctx, h.cancel = context.WithCancel(ctx)
	h.done = make(chan struct{})
	ticker := h.clock.NewTicker(h.interval)

	go h.run(ctx, ticker)
	return nil
}

func (h *Heartbeat) run(ctx context.Context, ticker Ticker) {
	defer close(h.done)
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case at := <-ticker.C():
			seq++
			if err := h.hub.Publish(ctx, Tick{Seq: seq, At: at}); err != nil {
				return
			}
		}
	}
}

// Stop stops the ticker and closes all subscriptions. It is safe to call
// Stop more than once and before Start.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	h.hub.Close()
}
