package mqttbridge

import (
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 250 // milliseconds
)

// PahoPublisher is a Publisher backed by paho.mqtt.golang.
type PahoPublisher struct {
	client  pahomqtt.Client
	timeout time.Duration
}

// NewPahoPublisher builds an unconnected paho client from cfg. An empty
// ClientID gets a random "lanlight-" id.
func NewPahoPublisher(cfg Config) *PahoPublisher {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "lanlight-" + uuid.NewString()[:8]
	}
	opts.SetClientID(clientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	opts.SetConnectTimeout(timeout)

	return &PahoPublisher{
		client:  pahomqtt.NewClient(opts),
		timeout: timeout,
	}
}

// Connect implements Publisher.
func (p *PahoPublisher) Connect() error {
	token := p.client.Connect()
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("connect timeout after %v", p.timeout)
	}
	return token.Error()
}

// Publish implements Publisher.
func (p *PahoPublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	return token.Error()
}

// Disconnect implements Publisher.
func (p *PahoPublisher) Disconnect() {
	p.client.Disconnect(defaultDisconnectQuiesce)
}

// Compile-time interface satisfaction check.
var _ Publisher = (*PahoPublisher)(nil)
