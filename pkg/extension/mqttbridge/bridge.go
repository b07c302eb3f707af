// Package mqttbridge publishes light discovery events to an MQTT broker.
//
// For every discovered light the bridge publishes a retained JSON document
// to <prefix>/lights/<target>/added and then forwards the notification to
// the inner dispatcher. When started by a service the bridge also keeps a
// retained online/offline document for that client at <prefix>/status.
package mqttbridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lanlight/lanlight-go/pkg/extension"
	"github.com/lanlight/lanlight-go/pkg/light"
)

// DefaultTopicPrefix is used when Config.TopicPrefix is empty.
const DefaultTopicPrefix = "lanlight"

// ErrNotStarted is returned when publishing before Start.
var ErrNotStarted = errors.New("mqtt bridge not started")

// Publisher is the subset of an MQTT client the bridge needs.
type Publisher interface {
	Connect() error
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Disconnect()
}

// Config configures the bridge.
type Config struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	QoS            byte
	ConnectTimeout time.Duration

	Logger *slog.Logger
}

// AddedEvent is the JSON document published for a discovered light.
type AddedEvent struct {
	Target   string    `json:"target"`
	Address  string    `json:"address"`
	SourceID uint32    `json:"source_id"`
	At       time.Time `json:"at"`
}

// StatusEvent is the JSON document published to the status topic.
type StatusEvent struct {
	State    string    `json:"state"`
	SourceID uint32    `json:"source_id"`
	At       time.Time `json:"at"`
}

// Bridge is the MQTT extension.
type Bridge struct {
	extension.Base

	config Config
	pub    Publisher
	logger *slog.Logger

	mu       sync.RWMutex
	started  bool
	sourceID uint32

	published atomic.Uint64
	failed    atomic.Uint64
}

// New returns a factory for a Bridge. A nil pub selects the paho client
// configured from cfg.
func New(cfg Config, pub Publisher) extension.Factory {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	if pub == nil {
		pub = NewPahoPublisher(cfg)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return func(inner extension.ChangeDispatcher) extension.Extension {
		return &Bridge{
			Base:   extension.Base{Inner: inner},
			config: cfg,
			pub:    pub,
			logger: logger.With("component", "mqttbridge"),
		}
	}
}

// Topic returns the topic for a light added event.
func (b *Bridge) Topic(target string) string {
	return fmt.Sprintf("%s/lights/%s/added", b.config.TopicPrefix, target)
}

// StatusTopic returns the client status topic.
func (b *Bridge) StatusTopic() string {
	return b.config.TopicPrefix + "/status"
}

// Start connects to the broker and marks the client of src online.
func (b *Bridge) Start(src extension.Source) error {
	if err := b.pub.Connect(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	var sourceID uint32
	if src != nil {
		sourceID = src.SourceID()
	}
	b.mu.Lock()
	b.started = true
	b.sourceID = sourceID
	b.mu.Unlock()
	b.logger.Info("connected", "broker", b.config.Broker, "source_id", sourceID)

	if err := b.publishStatus("online", sourceID); err != nil {
		b.logger.Warn("status publish failed", "error", err)
	}
	return nil
}

// Stop marks the client offline and disconnects from the broker.
func (b *Bridge) Stop() {
	b.mu.Lock()
	started := b.started
	sourceID := b.sourceID
	b.started = false
	b.mu.Unlock()

	if !started {
		return
	}
	if err := b.publishStatus("offline", sourceID); err != nil {
		b.logger.Warn("status publish failed", "error", err)
	}
	b.pub.Disconnect()
}

// publishStatus is a no-op when the bridge was started without a source.
func (b *Bridge) publishStatus(state string, sourceID uint32) error {
	if sourceID == 0 {
		return nil
	}
	payload, err := json.Marshal(StatusEvent{State: state, SourceID: sourceID, At: time.Now().UTC()})
	if err != nil {
		return err
	}
	return b.pub.Publish(b.StatusTopic(), b.config.QoS, true, payload)
}

// LightAdded publishes the event and forwards l. Publish failures are
// logged and never stop the notification.
func (b *Bridge) LightAdded(l *light.Light) {
	if err := b.publish(l); err != nil {
		b.failed.Add(1)
		b.logger.Warn("publish failed", "target", l.Target().String(), "error", err)
	}
	b.Base.LightAdded(l)
}

func (b *Bridge) publish(l *light.Light) error {
	b.mu.RLock()
	started := b.started
	b.mu.RUnlock()
	if !started {
		return ErrNotStarted
	}

	snap := l.Snapshot()
	payload, err := json.Marshal(AddedEvent{
		Target:   snap.Target.String(),
		Address:  snap.Addr.String(),
		SourceID: l.SourceID(),
		At:       snap.FirstSeen.UTC(),
	})
	if err != nil {
		return err
	}
	if err := b.pub.Publish(b.Topic(snap.Target.String()), b.config.QoS, true, payload); err != nil {
		return err
	}
	b.published.Add(1)
	return nil
}

// Stats returns the number of successful and failed publishes.
func (b *Bridge) Stats() (published, failed uint64) {
	return b.published.Load(), b.failed.Load()
}

// Compile-time interface satisfaction check.
var _ extension.Extension = (*Bridge)(nil)
