package cmd

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/Iron-Ham/shadowbridge/internal/bridge"
	"github.com/Iron-Ham/shadowbridge/internal/config"
	"github.com/Iron-Ham/shadowbridge/internal/device/opcua"
	"github.com/Iron-Ham/shadowbridge/internal/errors"
	"github.com/Iron-Ham/shadowbridge/internal/event"
	"github.com/Iron-Ham/shadowbridge/internal/logging"
	"github.com/Iron-Ham/shadowbridge/internal/metrics"
	"github.com/Iron-Ham/shadowbridge/internal/shadow"
	"github.com/Iron-Ham/shadowbridge/internal/shadow/dataplane"
	"github.com/Iron-Ham/shadowbridge/internal/shadow/mqtt"
	"github.com/Iron-Ham/shadowbridge/internal/tlsutil"
	"github.com/spf13/cobra"
)

func runBridge(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.ThingName == "" {
		return fmt.Errorf("%w: AWS_IOT_THING_NAME is not set", errors.ErrInvalidInput)
	}
	if cfg.MQTT.Broker == "" {
		return fmt.Errorf("%w: mqtt.broker is not set", errors.ErrInvalidInput)
	}

	logger, err := logging.NewLoggerWithRotation(cfg.Logging.Dir, cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Close() }()

	return runWithConfig(cmd.Context(), cfg, args[0], logger)
}

func runWithConfig(ctx context.Context, cfg *config.Config, shadowName string, logger *logging.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bus := event.NewBus(logger)
	if cfg.Metrics.Listen != "" {
		collector := metrics.NewCollector()
		collector.Attach(bus)
		defer collector.Detach()
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Listen, collector.Handler(), logger); err != nil {
				logger.Error("metrics endpoint stopped", "addr", cfg.Metrics.Listen, "error", err)
			}
		}()
	}

	tlsConfig, reloader, err := brokerTLS(cfg, logger)
	if err != nil {
		return err
	}
	if reloader != nil {
		defer func() { _ = reloader.Close() }()
	}

	broker := mqtt.New(mqttConfig(cfg, tlsConfig), logger)
	if err := broker.Connect(ctx); err != nil {
		logger.Error("broker connection failed", "broker", cfg.MQTT.Broker, "error", err)
		return errors.Wrapf(err, "connect to broker %s", cfg.MQTT.Broker)
	}
	defer func() { _ = broker.Close() }()

	shadows, err := shadowClient(ctx, cfg, broker, logger)
	if err != nil {
		return err
	}

	store, err := setPointStore(cfg)
	if err != nil {
		return err
	}

	devCfg := opcuaConfig(cfg)
	opts := []bridge.Option{
		bridge.WithLogger(logger),
		bridge.WithBus(bus),
		bridge.WithRequestTimeout(cfg.Shadow.RequestTimeout),
	}
	if cfg.Breaker.Enabled {
		opts = append(opts, bridge.WithBreaker(bridge.NewBreaker(uint32(cfg.Breaker.MaxFailures), cfg.Breaker.OpenTimeout, logger)))
	}

	sup := bridge.NewSupervisor(
		opcua.New(devCfg, logger),
		opcua.NewDialer(devCfg, logger),
		shadows,
		store,
		bridgeSettings(cfg),
		opts...,
	)
	return sup.Run(ctx, shadowName)
}

// brokerTLS builds the broker TLS configuration. Plain tcp:// brokers get none.
func brokerTLS(cfg *config.Config, logger *logging.Logger) (*tls.Config, *tlsutil.CertReloader, error) {
	if !needsTLS(cfg.MQTT.Broker) && cfg.MQTT.CertFile == "" {
		return nil, nil, nil
	}

	var reloader *tlsutil.CertReloader
	if cfg.MQTT.CertFile != "" {
		r, err := tlsutil.NewCertReloader(cfg.MQTT.CertFile, cfg.MQTT.KeyFile, logger)
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to load client certificate")
		}
		if err := r.Watch(); err != nil {
			logger.Warn("certificate watch unavailable, rotation requires a restart", "error", err)
		}
		reloader = r
	}

	tlsConfig, err := tlsutil.ClientConfig(cfg.MQTT.CAFile, reloader)
	if err != nil {
		if reloader != nil {
			_ = reloader.Close()
		}
		return nil, nil, err
	}
	return tlsConfig, reloader, nil
}

func needsTLS(broker string) bool {
	for _, scheme := range []string{"ssl://", "tls://", "mqtts://", "wss://"} {
		if strings.HasPrefix(broker, scheme) {
			return true
		}
	}
	return false
}

func mqttConfig(cfg *config.Config, tlsConfig *tls.Config) mqtt.Config {
	return mqtt.Config{
		Broker:         cfg.MQTT.Broker,
		ClientID:       cfg.ClientID(),
		TLS:            tlsConfig,
		KeepAlive:      cfg.MQTT.KeepAlive,
		ConnectTimeout: cfg.MQTT.ConnectTimeout,
		QoS:            byte(cfg.MQTT.QoS),
		TopicPrefix:    cfg.Shadow.TopicPrefix,
		RequestTimeout: cfg.Shadow.RequestTimeout,
	}
}

// shadowClient returns the broker itself, or the HTTPS data plane for
// documents with the broker still serving the delta stream.
func shadowClient(ctx context.Context, cfg *config.Config, broker *mqtt.Client, logger *logging.Logger) (shadow.Client, error) {
	if cfg.Shadow.Transport != config.TransportDataplane {
		return broker, nil
	}
	docs, err := dataplane.NewFromEnvironment(ctx, cfg.AWS.Region, cfg.AWS.DataEndpoint, cfg.Shadow.RequestTimeout, logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to configure data plane client")
	}
	return shadow.Composite{Documents: docs, Deltas: broker}, nil
}

func setPointStore(cfg *config.Config) (*bridge.SetPointStore, error) {
	value, ok, err := bridge.ParseSetPoint(cfg.Shadow.InitialSetpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: shadow.initial_setpoint: %v", errors.ErrInvalidInput, err)
	}
	if !ok {
		return bridge.NewSetPointStore(), nil
	}
	return bridge.NewSeededSetPointStore(value), nil
}

func opcuaConfig(cfg *config.Config) opcua.Config {
	return opcua.Config{
		BrowseRoot:     cfg.Device.BrowseRoot,
		SecurityPolicy: cfg.Device.SecurityPolicy,
		SecurityMode:   cfg.Device.SecurityMode,
		CertFile:       cfg.Device.CertFile,
		KeyFile:        cfg.Device.KeyFile,
		Username:       cfg.Device.Username,
		Password:       cfg.Device.Password,
		RequestTimeout: cfg.Device.RequestTimeout,
		ConnectTimeout: cfg.Device.ConnectTimeout,
	}
}

func bridgeSettings(cfg *config.Config) bridge.Settings {
	return bridge.Settings{
		ThingName:   cfg.ThingName,
		Endpoint:    cfg.Device.Endpoint,
		TagPattern:  cfg.Device.TagPattern,
		SetpointTag: cfg.Device.SetpointTag,
		Namespace:   cfg.Shadow.Namespace,
		SetpointKey: cfg.Shadow.SetpointKey,
		TopicPrefix: cfg.Shadow.TopicPrefix,
	}
}
