// Command lanlight discovers lights on the local network and keeps a
// session for each one.
//
// Usage:
//
//	lanlight [flags]
//
// Flags:
//
//	-config string        Configuration file path (YAML)
//	-log-level string     Log level: debug, info, warn, error (overrides config)
//	-protocol-log string  Write a CBOR protocol capture to this file
//	-interactive          Enable interactive command mode
//	-version              Print version and exit
//
// Examples:
//
//	# Discover lights and log them
//	lanlight -log-level debug
//
//	# Interactive console with a protocol capture
//	lanlight -interactive -protocol-log /tmp/lanlight.cbor
//
// Environment variables named LANLIGHT_<SECTION>_<KEY> override the
// configuration file, e.g. LANLIGHT_MQTT_PASSWORD.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lanlight/lanlight-go/cmd/lanlight/interactive"
	"github.com/lanlight/lanlight-go/pkg/config"
	"github.com/lanlight/lanlight-go/pkg/extension"
	"github.com/lanlight/lanlight-go/pkg/extension/mqttbridge"
	"github.com/lanlight/lanlight-go/pkg/light"
	"github.com/lanlight/lanlight-go/pkg/log"
	"github.com/lanlight/lanlight-go/pkg/service"
	"github.com/lanlight/lanlight-go/pkg/version"
)

// Flags holds the command line flags.
type Flags struct {
	ConfigFile  string
	LogLevel    string
	ProtocolLog string
	Interactive bool
	Version     bool
}

var flags Flags

func init() {
	flag.StringVar(&flags.ConfigFile, "config", "", "Configuration file path (YAML)")
	flag.StringVar(&flags.LogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	flag.StringVar(&flags.ProtocolLog, "protocol-log", "", "Write a CBOR protocol capture to this file")
	flag.BoolVar(&flags.Interactive, "interactive", false, "Enable interactive command mode")
	flag.BoolVar(&flags.Version, "version", false, "Print version and exit")
}

func main() {
	flag.Parse()
	if flags.Version {
		fmt.Println(version.Info("lanlight"))
		return
	}
	if err := run(flags); err != nil {
		fmt.Fprintf(os.Stderr, "lanlight: %v\n", err)
		os.Exit(1)
	}
}

func run(f Flags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	var console *interactive.Console
	var out io.Writer = os.Stderr
	if f.Interactive {
		if console, err = interactive.New(); err != nil {
			return err
		}
		// Route log output through readline so it does not interfere with input.
		out = console.Stdout()
	}
	logger := cfg.NewLogger(out)

	plog, closePlog, err := protocolLogger(cfg, logger)
	if err != nil {
		return err
	}
	defer closePlog()

	factories := []extension.Factory{extension.NewLogging(logger)}
	if cfg.MQTT.Enabled {
		logger.Info("mqtt bridge enabled", "broker", cfg.MQTT.Broker, "prefix", cfg.MQTT.TopicPrefix)
		factories = append(factories, mqttbridge.New(cfg.BridgeConfig(logger), nil))
	}

	svcCfg := cfg.ServiceConfig()
	svcCfg.Logger = logger
	svcCfg.ProtocolLogger = plog

	var root extension.ChangeDispatcher
	if console != nil {
		root = extension.DispatcherFunc(func(l *light.Light) {
			fmt.Fprintf(console.Stdout(), "[EVENT] Light discovered: %s (%s)\n", l.Target(), l.Addr())
		})
	}
	svc, err := service.New(svcCfg, root, factories...)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	// ctx only signals a quit request from the console. The service stops
	// through Stop so extensions shut down before routing does.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(context.Background()); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	logger.Info("service started",
		"state", svc.State().String(),
		"source_id", svc.SourceID(),
		"local", svc.LocalAddr().String())

	if console != nil {
		go console.Run(ctx, cancel, svc)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Info("received signal", "signal", sig.String())
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	if err := svc.Stop(); err != nil {
		logger.Warn("error stopping service", "error", err)
	}
	cancel()

	st := svc.Stats()
	logger.Info("stopped", "lights", st.Lights, "broadcasts", st.Broadcasts, "routed", st.Routed)
	return nil
}

func loadConfig(f Flags) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if f.ConfigFile != "" {
		cfg, err = config.Load(f.ConfigFile)
	} else {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		return nil, err
	}

	if f.LogLevel != "" {
		cfg.Logging.Level = f.LogLevel
	}
	if f.ProtocolLog != "" {
		cfg.Logging.ProtocolLog = f.ProtocolLog
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// protocolLogger builds the capture chain: a CBOR file when configured,
// plus the slog adapter at debug level.
func protocolLogger(cfg *config.Config, logger *slog.Logger) (log.Logger, func(), error) {
	var loggers []log.Logger
	closeFn := func() {}

	if path := cfg.Logging.ProtocolLog; path != "" {
		fl, err := log.NewFileLogger(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open protocol log: %w", err)
		}
		logger.Info("protocol capture enabled", "path", path)
		loggers = append(loggers, fl)
		closeFn = func() {
			if n := fl.Dropped(); n > 0 {
				logger.Warn("protocol capture dropped events", "count", n)
			}
			fl.Close()
		}
	}
	if cfg.SlogLevel() <= slog.LevelDebug {
		loggers = append(loggers, log.NewSlogAdapter(logger.With("component", "capture")))
	}

	switch len(loggers) {
	case 0:
		return nil, closeFn, nil
	case 1:
		return loggers[0], closeFn, nil
	default:
		return log.NewMultiLogger(loggers...), closeFn, nil
	}
}
