package heartbeat

import (
	"sync"
	"time"
)

// Clock creates tickers. It lets tests drive the heartbeat by hand.
type Clock interface {
	NewTicker(d time.Duration) Ticker
	Now() time.Time
}

// Ticker delivers ticks on C until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// SystemClock returns a Clock backed by the time package.
func SystemClock() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) NewTicker(d time.Duration) Ticker {
	return systemTicker{time.NewTicker(d)}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

type systemTicker struct {
	t *time.Ticker
}

func (s systemTicker) C() <-chan time.Time { return s.t.C }
func (s systemTicker) Stop()               { s.t.Stop() }

// ManualClock is a Clock whose tickers only fire when Fire is called.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*manualTicker
	created chan struct{}
}

// NewManualClock creates a manual clock starting at now.
func NewManualClock(now time.Time) *ManualClock {
	return &ManualClock{
		now:     now,
		created: make(chan struct{}, 16),
	}
}

// NewTicker implements Clock.
func (c *ManualClock) NewTicker(d time.Duration) Ticker {
	t := &manualTicker{clock: c, interval: d, ch: make(chan time.Time, 1)}
	c.mu.Lock()
	c.tickers = append(c.tickers, t)
	c.mu.Unlock()

	select {
	case c.created <- struct{}{}:
	default:
	}
	return t
}

// Now implements Clock.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// WaitForTicker blocks until a ticker has been created or the timeout
// elapses, and reports which happened.
func (c *ManualClock) WaitForTicker(timeout time.Duration) bool {
	c.mu.Lock()
	n := len(c.tickers)
	c.mu.Unlock()
	if n > 0 {
		return true
	}
	select {
	case <-c.created:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Fire advances the clock by each ticker's interval and delivers one tick
// to every running ticker. A tick is dropped if the previous one has not
// been received, as with time.Ticker.
func (c *ManualClock) Fire() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range c.tickers {
		if t.stopped {
			continue
		}
		at := c.now.Add(t.interval)
		if at.After(c.now) {
			c.now = at
		}
		select {
		case t.ch <- c.now:
		default:
		}
	}
}

type manualTicker struct {
	clock    *ManualClock
	interval time.Duration
	ch       chan time.Time
	stopped  bool
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }

func (t *manualTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.stopped = true
}
