package service

import (
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/lanlight/lanlight-go/pkg/connection"
	"github.com/lanlight/lanlight-go/pkg/heartbeat"
	"github.com/lanlight/lanlight-go/pkg/light"
	"github.com/lanlight/lanlight-go/pkg/log"
	"github.com/lanlight/lanlight-go/pkg/router"
	"github.com/lanlight/lanlight-go/pkg/transport"
	"github.com/lanlight/lanlight-go/pkg/wire"
)

// Default buffer sizes.
const (
	DefaultInboundBuffer    = 256
	DefaultSubscriberBuffer = 64
)

// DefaultBroadcastAddr is the IPv4 limited broadcast address on the device
// port.
var DefaultBroadcastAddr = netip.AddrPortFrom(netip.AddrFrom4([4]byte{255, 255, 255, 255}), wire.DefaultPort)

// Config configures a LightService.
type Config struct {
	// Port is the primary socket's local port. 0 selects an ephemeral port.
	Port int `validate:"gte=0,lte=65535"`

	// LegacyPort is the receive-only socket's port.
	LegacyPort int `validate:"gte=1,lte=65535"`

	// BroadcastAddr receives discovery requests and messages for unknown
	// targets.
	BroadcastAddr netip.AddrPort `validate:"-"`

	// DiscoveryInterval is the heartbeat interval.
	DiscoveryInterval time.Duration `validate:"gt=0"`

	// ReconnectDelay is the fixed wait before a failed transport stream
	// is restarted.
	ReconnectDelay time.Duration `validate:"gt=0"`

	// InboundBuffer sizes the merged inbound channel and the router's hub
	// subscription.
	InboundBuffer int `validate:"gte=1"`

	// RouteBuffer sizes each light's routed stream.
	RouteBuffer int `validate:"gte=1"`

	// SubscriberBuffer sizes subscriptions returned by Subscribe.
	SubscriberBuffer int `validate:"gte=1"`

	// UnreachableAfter is the number of silent heartbeats after which a
	// light is marked unreachable.
	UnreachableAfter int `validate:"gte=1"`

	// SourceID overrides the random client source id. Must fit in 31 bits.
	SourceID uint32 `validate:"lte=2147483647"`

	// Logger receives operational logs. Nil disables logging.
	Logger *slog.Logger `validate:"-"`

	// ProtocolLogger receives capture events. Nil disables capture.
	ProtocolLogger log.Logger `validate:"-"`

	// Clock drives the heartbeat. Defaults to the system clock.
	Clock heartbeat.Clock `validate:"-"`

	// Transports creates the two transports. Defaults to UDP.
	Transports transport.Factory `validate:"-"`

	// Parser decodes datagrams. Defaults to wire.Codec.
	Parser wire.Parser `validate:"-"`
}

// DefaultConfig returns the standard client configuration.
func DefaultConfig() Config {
	return Config{
		Port:              0,
		LegacyPort:        wire.DefaultPort,
		BroadcastAddr:     DefaultBroadcastAddr,
		DiscoveryInterval: heartbeat.DefaultInterval,
		ReconnectDelay:    connection.ReconnectDelay,
		InboundBuffer:     DefaultInboundBuffer,
		RouteBuffer:       router.DefaultRouteBuffer,
		SubscriberBuffer:  DefaultSubscriberBuffer,
		UnreachableAfter:  light.DefaultUnreachableAfter,
	}
}

// applyDefaults fills zero-valued fields from DefaultConfig. Port is left
// alone since 0 is meaningful.
func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.LegacyPort == 0 {
		c.LegacyPort = d.LegacyPort
	}
	if !c.BroadcastAddr.IsValid() {
		c.BroadcastAddr = d.BroadcastAddr
	}
	if c.DiscoveryInterval == 0 {
		c.DiscoveryInterval = d.DiscoveryInterval
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = d.ReconnectDelay
	}
	if c.InboundBuffer == 0 {
		c.InboundBuffer = d.InboundBuffer
	}
	if c.RouteBuffer == 0 {
		c.RouteBuffer = d.RouteBuffer
	}
	if c.SubscriberBuffer == 0 {
		c.SubscriberBuffer = d.SubscriberBuffer
	}
	if c.UnreachableAfter == 0 {
		c.UnreachableAfter = d.UnreachableAfter
	}
	if c.Clock == nil {
		c.Clock = heartbeat.SystemClock()
	}
	if c.Parser == nil {
		c.Parser = wire.Codec{}
	}
}

var validate = validator.New()

// Validate checks the configuration. Errors wrap ErrInvalidConfig.
func (c Config) Validate() error {
	var problems []string
	if err := validate.Struct(c); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		for _, e := range verrs {
			problems = append(problems, fmt.Sprintf("%s failed %s=%s (got %v)", e.Field(), e.Tag(), e.Param(), e.Value()))
		}
	}
	if !c.BroadcastAddr.IsValid() || !c.BroadcastAddr.Addr().Is4() {
		problems = append(problems, "BroadcastAddr must be an IPv4 address and port")
	}
	if c.Port != 0 && c.Port == c.LegacyPort {
		problems = append(problems, "Port and LegacyPort must differ")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
