package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/lanlight/lanlight-go/pkg/extension/mqttbridge"
	"github.com/lanlight/lanlight-go/pkg/service"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LANLIGHT_"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the root of the daemon configuration file.
type Config struct {
	Network NetworkConfig `yaml:"network"`
	Timing  TimingConfig  `yaml:"timing"`
	Logging LoggingConfig `yaml:"logging"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
}

// NetworkConfig holds socket settings.
type NetworkConfig struct {
	Port             int    `yaml:"port" validate:"gte=0,lte=65535"`
	LegacyPort       int    `yaml:"legacy_port" validate:"gte=1,lte=65535"`
	BroadcastAddress string `yaml:"broadcast_address" validate:"required"`
	SourceID         uint32 `yaml:"source_id" validate:"lte=2147483647"`
}

// TimingConfig holds discovery and recovery timing.
type TimingConfig struct {
	DiscoveryInterval time.Duration `yaml:"discovery_interval" validate:"gt=0"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay" validate:"gt=0"`
	UnreachableAfter  int           `yaml:"unreachable_after" validate:"gte=1"`
}

// LoggingConfig holds operational and protocol logging settings.
type LoggingConfig struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Format      string `yaml:"format" validate:"oneof=text json"`
	ProtocolLog string `yaml:"protocol_log"`
}

// MQTTConfig configures the MQTT bridge extension. The bridge is only
// installed when Enabled is set.
type MQTTConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Broker         string        `yaml:"broker" validate:"required_if=Enabled true"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	TopicPrefix    string        `yaml:"topic_prefix" validate:"required"`
	QoS            byte          `yaml:"qos" validate:"lte=2"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" validate:"gte=0"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	d := service.DefaultConfig()
	return &Config{
		Network: NetworkConfig{
			Port:             d.Port,
			LegacyPort:       d.LegacyPort,
			BroadcastAddress: d.BroadcastAddr.String(),
		},
		Timing: TimingConfig{
			DiscoveryInterval: d.DiscoveryInterval,
			ReconnectDelay:    d.ReconnectDelay,
			UnreachableAfter:  d.UnreachableAfter,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		MQTT: MQTTConfig{
			Broker:         "tcp://localhost:1883",
			TopicPrefix:    mqttbridge.DefaultTopicPrefix,
			QoS:            1,
			ConnectTimeout: 10 * time.Second,
		},
	}
}

// Load reads path on top of the defaults, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// FromEnv returns the defaults with environment overrides applied.
func FromEnv() (*Config, error) {
	cfg := Default()
	if err := applyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies LANLIGHT_SECTION_KEY variables.
func applyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	integer("NETWORK_PORT", &cfg.Network.Port)
	integer("NETWORK_LEGACY_PORT", &cfg.Network.LegacyPort)
	str("NETWORK_BROADCAST_ADDRESS", &cfg.Network.BroadcastAddress)
	if v, ok := lookup(EnvPrefix + "NETWORK_SOURCE_ID"); ok && v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sNETWORK_SOURCE_ID: %w", EnvPrefix, err))
		} else {
			cfg.Network.SourceID = uint32(n)
		}
	}

	duration("TIMING_DISCOVERY_INTERVAL", &cfg.Timing.DiscoveryInterval)
	duration("TIMING_RECONNECT_DELAY", &cfg.Timing.ReconnectDelay)
	integer("TIMING_UNREACHABLE_AFTER", &cfg.Timing.UnreachableAfter)

	str("LOGGING_LEVEL", &cfg.Logging.Level)
	str("LOGGING_FORMAT", &cfg.Logging.Format)
	str("LOGGING_PROTOCOL_LOG", &cfg.Logging.ProtocolLog)

	if v, ok := lookup(EnvPrefix + "MQTT_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sMQTT_ENABLED: %w", EnvPrefix, err))
		} else {
			cfg.MQTT.Enabled = b
		}
	}
	str("MQTT_BROKER", &cfg.MQTT.Broker)
	str("MQTT_CLIENT_ID", &cfg.MQTT.ClientID)
	str("MQTT_USERNAME", &cfg.MQTT.Username)
	str("MQTT_PASSWORD", &cfg.MQTT.Password)
	str("MQTT_TOPIC_PREFIX", &cfg.MQTT.TopicPrefix)

	if len(errs) > 0 {
		return fmt.Errorf("%w: environment: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

var validate = validator.New()

// Validate checks every section.
func (c *Config) Validate() error {
	var problems []string
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		for _, e := range verrs {
			problems = append(problems, fmt.Sprintf("%s: failed %s %s", fieldPath(e.Namespace()), e.Tag(), e.Param()))
		}
	}

	if c.Network.BroadcastAddress != "" {
		if ap, err := netip.ParseAddrPort(c.Network.BroadcastAddress); err != nil {
			problems = append(problems, fmt.Sprintf("network.broadcast_address: %v", err))
		} else if !ap.Addr().Is4() {
			problems = append(problems, "network.broadcast_address: must be IPv4")
		}
	}
	if c.Network.Port != 0 && c.Network.Port == c.Network.LegacyPort {
		problems = append(problems, "network.port: must differ from network.legacy_port")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// fieldPath turns "Config.Network.LegacyPort" into "Network.LegacyPort".
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

// SlogLevel returns the configured operational log level.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// NewLogger builds the operational logger writing to w.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ServiceConfig maps the file onto a service configuration. Logger,
// ProtocolLogger and the test hooks are left for the caller.
func (c *Config) ServiceConfig() service.Config {
	cfg := service.DefaultConfig()
	cfg.Port = c.Network.Port
	cfg.LegacyPort = c.Network.LegacyPort
	if ap, err := netip.ParseAddrPort(c.Network.BroadcastAddress); err == nil {
		cfg.BroadcastAddr = ap
	}
	cfg.SourceID = c.Network.SourceID
	cfg.DiscoveryInterval = c.Timing.DiscoveryInterval
	cfg.ReconnectDelay = c.Timing.ReconnectDelay
	cfg.UnreachableAfter = c.Timing.UnreachableAfter
	return cfg
}

// BridgeConfig maps the mqtt section onto the bridge configuration.
func (c *Config) BridgeConfig(logger *slog.Logger) mqttbridge.Config {
	return mqttbridge.Config{
		Broker:         c.MQTT.Broker,
		ClientID:       c.MQTT.ClientID,
		Username:       c.MQTT.Username,
		Password:       c.MQTT.Password,
		TopicPrefix:    c.MQTT.TopicPrefix,
		QoS:            c.MQTT.QoS,
		ConnectTimeout: c.MQTT.ConnectTimeout,
		Logger:         logger,
	}
}
