package connection

import (
	"sync"
	"time"
)

// ReconnectDelay is the fixed delay a supervised transport waits before
// listening again after a stream error.
const ReconnectDelay = 2 * time.Second

// Backoff yields the delay before each restart and counts attempts.
type Backoff struct {
	mu sync.Mutex

	delay    time.Duration
	attempts int
}

// NewFixedBackoff returns a backoff that always yields d. A non-positive d
// selects ReconnectDelay.
func NewFixedBackoff(d time.Duration) *Backoff {
	if d <= 0 {
		d = ReconnectDelay
	}
	return &Backoff{delay: d}
}

// Next returns the next delay and advances the attempt counter.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts++
	return b.delay
}

// Reset clears the attempt counter.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts = 0
}

// Attempts returns the number of delays handed out since the last reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Initial returns the configured delay.
func (b *Backoff) Initial() time.Duration {
	return b.delay
}
