package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mikey-austin/avrcpctl/internal/adapters/audiorouter"
	"github.com/mikey-austin/avrcpctl/internal/adapters/mqttbus"
	"github.com/mikey-austin/avrcpctl/internal/avrcpd"
	"github.com/mikey-austin/avrcpctl/internal/controller"
	controllermod "github.com/mikey-austin/avrcpctl/internal/modules/controller"
	embeddedmqtt "github.com/mikey-austin/avrcpctl/internal/modules/embedded_mqtt"
	"github.com/mikey-austin/avrcpctl/pkg/avrcp"
)

func main() {
	var (
		configPath  string
		broker      string
		identity    string
		topicBase   string
		logLevel    string
		logFormat   string
		logOutput   string
		debug       bool
		moduleOnly  string
		printConfig bool
		dryRun      bool
	)

	defaultConfig, err := avrcpd.DefaultConfigPath()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	flag.StringVar(&configPath, "config", defaultConfig, "config file path")
	flag.StringVar(&broker, "broker", "", "MQTT broker URL override")
	flag.StringVar(&identity, "identity", "", "controller identity override")
	flag.StringVar(&topicBase, "topic-base", "", "topic base override")
	flag.StringVar(&logLevel, "log-level", "", "log level override")
	flag.StringVar(&logFormat, "log-format", "", "log format override (console|json)")
	flag.StringVar(&logOutput, "log-output", "", "log output override (stdout|stderr)")
	flag.BoolVar(&debug, "debug", false, "log MQTT traffic")
	flag.StringVar(&moduleOnly, "module", "", "limit to a single module")
	flag.BoolVar(&printConfig, "print-config", false, "print resolved config and exit")
	flag.BoolVar(&dryRun, "dry-run", false, "validate config and exit")
	flag.Parse()

	cfg, err := avrcpd.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	applyOverrides(&cfg, broker, identity, topicBase, logLevel, logFormat, logOutput, debug)

	if printConfig {
		printResolvedConfig(cfg)
		return
	}
	if dryRun {
		return
	}

	logger := avrcpd.NewLogger(avrcpd.LogConfig{
		Level:  cfg.Server.LogLevel,
		Format: cfg.Server.LogFormat,
		Output: cfg.Server.LogOutput,
	})
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	embeddedURL := embeddedBrokerURL(cfg)
	skipEmbedded := false

	if moduleOnly != "embedded_mqtt" && cfg.Modules.EmbeddedMQTT.Enabled && cfg.Server.Broker == embeddedURL {
		if err := startEmbeddedBroker(ctx, cfg, logger, cancel); err != nil {
			logger.Error("embedded mqtt failed", zap.Error(err))
			os.Exit(1)
		}
		skipEmbedded = true
	}

	if cfg.Server.Broker == "" && !(moduleOnly == "embedded_mqtt" && cfg.Modules.EmbeddedMQTT.Enabled) {
		logger.Error("broker is required")
		os.Exit(1)
	}
	logger.Info("avrcpctld starting",
		zap.String("broker", cfg.Server.Broker),
		zap.String("identity", cfg.Server.Identity),
		zap.String("topic_base", cfg.Server.TopicBase),
		zap.String("log_level", cfg.Server.LogLevel),
		zap.Strings("modules", enabledModules(cfg)),
	)

	var client *mqttbus.Client
	if moduleOnly != "embedded_mqtt" {
		var err error
		client, err = mqttbus.NewClient(mqttbus.Options{
			BrokerURL: cfg.Server.Broker,
			ClientID:  fmt.Sprintf("avrcpctld-%d", time.Now().UnixNano()),
			Username:  cfg.Server.Auth.User,
			Password:  cfg.Server.Auth.Pass,
			TLSCA:     cfg.Server.TLS.CA,
			TLSCert:   cfg.Server.TLS.Cert,
			TLSKey:    cfg.Server.TLS.Key,
			Timeout:   2 * time.Second,
			Logger:    logger,
			Debug:     cfg.Server.Debug,
		})
		if err != nil {
			logger.Error("mqtt connection failed", zap.Error(err))
			os.Exit(1)
		}
	}

	modules, err := buildModules(ctx, cfg, client, logger, moduleOnly, skipEmbedded)
	if err != nil {
		logger.Error("failed to build modules", zap.Error(err))
		os.Exit(1)
	}

	supervisor := avrcpd.Supervisor{Logger: logger}
	if err := supervisor.Run(ctx, modules); err != nil {
		logger.Error("supervisor error", zap.Error(err))
		os.Exit(1)
	}
}

func applyOverrides(cfg *avrcpd.Config, broker string, identity string, topicBase string, logLevel string, logFormat string, logOutput string, debug bool) {
	if broker != "" {
		cfg.Server.Broker = broker
	}
	if identity != "" {
		cfg.Server.Identity = identity
	}
	if topicBase != "" {
		cfg.Server.TopicBase = topicBase
	}
	if logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.Server.LogFormat = logFormat
	}
	if logOutput != "" {
		cfg.Server.LogOutput = logOutput
	}
	if debug {
		cfg.Server.Debug = true
	}
	if cfg.Server.TopicBase == "" {
		cfg.Server.TopicBase = avrcp.BaseTopic
	}
	if cfg.Server.Identity == "" {
		cfg.Server.Identity = defaultIdentity()
	}
	if cfg.Server.Broker == "" && cfg.Modules.EmbeddedMQTT.Enabled {
		cfg.Server.Broker = embeddedBrokerURL(*cfg)
	}
}

func defaultIdentity() string {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return fmt.Sprintf("avrcpctld@%s", host)
}

func buildModules(ctx context.Context, cfg avrcpd.Config, client *mqttbus.Client, logger *zap.Logger, moduleOnly string, skipEmbedded bool) ([]avrcpd.ModuleRunner, error) {
	modules := []avrcpd.ModuleRunner{}
	if cfg.Modules.EmbeddedMQTT.Enabled && !skipEmbedded {
		if moduleOnly == "" || moduleOnly == "embedded_mqtt" {
			mod, err := embeddedmqtt.NewModule(logger.With(zap.String("module", "embedded_mqtt")), embeddedmqtt.Config{
				Listen:         cfg.Modules.EmbeddedMQTT.Listen,
				AllowAnonymous: cfg.Modules.EmbeddedMQTT.AllowAnonymous,
				Username:       cfg.Modules.EmbeddedMQTT.Username,
				Password:       cfg.Modules.EmbeddedMQTT.Password,
				TLSCA:          cfg.Modules.EmbeddedMQTT.TLSCA,
				TLSCert:        cfg.Modules.EmbeddedMQTT.TLSCert,
				TLSKey:         cfg.Modules.EmbeddedMQTT.TLSKey,
			})
			if err != nil {
				return nil, err
			}
			modules = append(modules, avrcpd.ModuleRunner{
				Name: "embedded_mqtt",
				Run:  mod.Run,
			})
		}
	}

	if cfg.Modules.Controller.Enabled {
		if moduleOnly == "" || moduleOnly == "controller" {
			router, err := buildAudioRouter(ctx, cfg, logger)
			if err != nil {
				return nil, err
			}
			mod, err := controllermod.NewModule(logger.With(zap.String("module", "controller")), client, router, controllermod.Config{
				Identity:   cfg.Server.Identity,
				TopicBase:  cfg.Server.TopicBase,
				MaxDevices: cfg.Modules.Controller.MaxDevices,
			})
			if err != nil {
				return nil, err
			}
			if focusClient, ok := router.(*audiorouter.Client); ok {
				focusClient.SetFocusCallback(mod.Service().OnAudioFocusChanged)
			}
			modules = append(modules, avrcpd.ModuleRunner{
				Name: "controller",
				Run:  mod.Run,
			})
		}
	}

	if moduleOnly != "" && len(modules) == 0 {
		return nil, errors.New("no modules enabled")
	}
	return modules, nil
}

func buildAudioRouter(ctx context.Context, cfg avrcpd.Config, logger *zap.Logger) (controller.AudioRouter, error) {
	rc := cfg.Modules.Controller
	volume := rc.Volume
	if volume == 0 {
		volume = audiorouter.MaxVolume / 2
	}
	if strings.TrimSpace(rc.AudioRouter) == "" {
		return audiorouter.NewStatic(volume), nil
	}

	client := audiorouter.NewClient(logger.With(zap.String("adapter", "audiorouter")), rc.AudioRouter, volume)
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("audio router %s: %w", rc.AudioRouter, err)
	}
	return client, nil
}

func enabledModules(cfg avrcpd.Config) []string {
	out := []string{}
	if cfg.Modules.EmbeddedMQTT.Enabled {
		out = append(out, "embedded_mqtt")
	}
	if cfg.Modules.Controller.Enabled {
		out = append(out, "controller")
	}
	return out
}

func printResolvedConfig(cfg avrcpd.Config) {
	fmt.Fprintf(os.Stdout,
		"broker=%s identity=%s topic_base=%s log_level=%s log_format=%s log_output=%s debug=%t\n",
		cfg.Server.Broker,
		cfg.Server.Identity,
		cfg.Server.TopicBase,
		cfg.Server.LogLevel,
		cfg.Server.LogFormat,
		cfg.Server.LogOutput,
		cfg.Server.Debug,
	)
}

func embeddedBrokerURL(cfg avrcpd.Config) string {
	listen := cfg.Modules.EmbeddedMQTT.Listen
	if listen == "" {
		listen = "127.0.0.1:1883"
	}
	tlsEnabled := cfg.Modules.EmbeddedMQTT.TLSCert != "" || cfg.Modules.EmbeddedMQTT.TLSKey != "" || cfg.Modules.EmbeddedMQTT.TLSCA != ""
	return embeddedmqtt.BrokerURL(listen, tlsEnabled)
}

func startEmbeddedBroker(ctx context.Context, cfg avrcpd.Config, logger *zap.Logger, cancel context.CancelFunc) error {
	mod, err := embeddedmqtt.NewModule(logger.With(zap.String("module", "embedded_mqtt")), embeddedmqtt.Config{
		Listen:         cfg.Modules.EmbeddedMQTT.Listen,
		AllowAnonymous: cfg.Modules.EmbeddedMQTT.AllowAnonymous,
		Username:       cfg.Modules.EmbeddedMQTT.Username,
		Password:       cfg.Modules.EmbeddedMQTT.Password,
		TLSCA:          cfg.Modules.EmbeddedMQTT.TLSCA,
		TLSCert:        cfg.Modules.EmbeddedMQTT.TLSCert,
		TLSKey:         cfg.Modules.EmbeddedMQTT.TLSKey,
	})
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- mod.Run(ctx)
	}()
	go func() {
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("embedded mqtt exited", zap.Error(err))
			cancel()
		}
	}()

	listen := cfg.Modules.EmbeddedMQTT.Listen
	if listen == "" {
		listen = "127.0.0.1:1883"
	}
	return waitForListen(listen, 3*time.Second)
}

func waitForListen(listen string, timeout time.Duration) error {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return err
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	addr := net.JoinHostPort(host, port)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("embedded mqtt not ready at %s", addr)
}
