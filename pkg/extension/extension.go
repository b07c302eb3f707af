// Package extension composes observers of device discovery.
//
// A Chain is built once from a root ChangeDispatcher and an ordered list of
// factories. Each factory wraps the dispatcher built so far, so for
// factories A then B the chain is B(A(root)): a LightAdded notification
// enters B first, and reaches root only if A and B forward it.
//
//	chain := extension.NewChain(root, mqttbridge.New(cfg, pub), extension.NewLogging(logger))
//	chain.LightAdded(l) // Logging -> Bridge -> root
package extension

import (
	"errors"
	"fmt"
	"sync"

	"github.com/lanlight/lanlight-go/pkg/bus"
	"github.com/lanlight/lanlight-go/pkg/heartbeat"
	"github.com/lanlight/lanlight-go/pkg/light"
	"github.com/lanlight/lanlight-go/pkg/wire"
)

// ErrChainStopped is returned by Start after Stop.
var ErrChainStopped = errors.New("extension chain stopped")

// ChangeDispatcher is notified when a device is discovered.
type ChangeDispatcher interface {
	LightAdded(l *light.Light)
}

// DispatcherFunc adapts a function to ChangeDispatcher.
type DispatcherFunc func(l *light.Light)

// LightAdded calls f.
func (f DispatcherFunc) LightAdded(l *light.Light) { f(l) }

// Source is the service capability surface handed to extensions on Start.
type Source interface {
	// Send sends an outbound envelope through the primary transport.
	Send(out wire.Outbound) bool

	// Subscribe returns an independent subscription to the merged inbound
	// stream. Callers must Close it.
	Subscribe() *bus.Subscription[wire.Inbound]

	// Ticks returns a subscription to the discovery heartbeat.
	Ticks() *bus.Subscription[heartbeat.Tick]

	// SourceID returns the client source id.
	SourceID() uint32

	// Light returns the session for target.
	Light(target wire.Target) (*light.Light, bool)

	// Lights returns all sessions in discovery order.
	Lights() []*light.Light
}

// Extension is a ChangeDispatcher with a lifecycle tied to the service.
type Extension interface {
	ChangeDispatcher

	// Start is called once when the service starts.
	Start(src Source) error

	// Stop is called once when the service stops.
	Stop()
}

// Factory builds an extension around the inner dispatcher.
type Factory func(inner ChangeDispatcher) Extension

// Chain is a fixed decorator chain of extensions.
type Chain struct {
	outer      ChangeDispatcher
	extensions []Extension

	mu      sync.Mutex
	started int
	stopped bool
}

// NewChain folds factories over root in order; the last factory's extension
// is the outermost. A nil root discards notifications.
func NewChain(root ChangeDispatcher, factories ...Factory) *Chain {
	if root == nil {
		root = DispatcherFunc(func(*light.Light) {})
	}
	c := &Chain{}
	d := root
	for _, f := range factories {
		ext := f(d)
		c.extensions = append(c.extensions, ext)
		d = ext
	}
	c.outer = d
	return c
}

// LightAdded notifies the outermost dispatcher.
func (c *Chain) LightAdded(l *light.Light) {
	c.outer.LightAdded(l)
}

// Extensions returns the extensions in construction order.
func (c *Chain) Extensions() []Extension {
	return append([]Extension(nil), c.extensions...)
}

// Start starts every extension in construction order. If one fails, the
// extensions already started are stopped and the error is returned.
func (c *Chain) Start(src Source) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return ErrChainStopped
	}
	for i := c.started; i < len(c.extensions); i++ {
		if err := c.extensions[i].Start(src); err != nil {
			for j := i - 1; j >= 0; j-- {
				c.extensions[j].Stop()
			}
			c.started = 0
			return fmt.Errorf("start extension %d (%T): %w", i, c.extensions[i], err)
		}
		c.started = i + 1
	}
	return nil
}

// Stop stops every started extension, outermost first. Later calls are
// no-ops.
func (c *Chain) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	c.stopped = true
	for i := c.started - 1; i >= 0; i-- {
		c.extensions[i].Stop()
	}
}

// Find returns the first extension in construction order that is a T.
func Find[T any](c *Chain) (T, bool) {
	for _, ext := range c.extensions {
		if t, ok := ext.(T); ok {
			return t, true
		}
	}
	var zero T
	return zero, false
}

// Base is an embeddable Extension that forwards notifications to Inner and
// has no-op lifecycle hooks.
type Base struct {
	Inner ChangeDispatcher
}

// LightAdded forwards to Inner.
func (b *Base) LightAdded(l *light.Light) {
	if b.Inner != nil {
		b.Inner.LightAdded(l)
	}
}

// Start does nothing.
func (b *Base) Start(Source) error { return nil }

// Stop does nothing.
func (b *Base) Stop() {}

// Compile-time interface satisfaction checks.
var (
	_ Extension        = (*Base)(nil)
	_ ChangeDispatcher = (*Chain)(nil)
	_ ChangeDispatcher = DispatcherFunc(nil)
)
