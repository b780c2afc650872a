package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/transit/internal/logger"
	"github.com/marmos91/transit/internal/telemetry"
	"github.com/marmos91/transit/pkg/config"
	"github.com/marmos91/transit/pkg/httpapi"
	"github.com/marmos91/transit/pkg/metrics"
	"github.com/marmos91/transit/pkg/store"
	"github.com/marmos91/transit/pkg/transfer"
	"github.com/marmos91/transit/pkg/wsapi"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Transit relay",
	Long: `Start the Transit relay server.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/transit/config.yaml.

Examples:
  # Start with default config location
  transit start

  # Start with custom config file
  transit start --config /etc/transit/config.yaml

  # Start with environment variable overrides
  TRANSIT_LOGGING_LEVEL=DEBUG transit start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryCfg := telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "transit",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	}
	telemetryShutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	sentryFlush, err := telemetry.InitSentry(telemetry.SentryConfig{
		DSN:          cfg.Telemetry.SentryDSN,
		DeploymentID: cfg.Telemetry.DeploymentID,
		Environment:  "production",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize sentry: %w", err)
	}
	defer sentryFlush()

	metrics.Init(true)

	logger.Info("Transit relay starting", "version", Version)
	if telemetry.IsEnabled() {
		logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	} else {
		logger.Info("telemetry disabled")
	}

	redisClient, err := store.NewClient(cfg.Redis.URL, cfg.Redis.DialTimeout, cfg.Redis.PoolSize)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()

	s := store.NewRedisStore(redisClient, store.Config{
		QueueDepth:     cfg.Transfer.QueueDepth,
		QueueOpTimeout: cfg.Transfer.QueueOpTimeout,
		EventTTL:       cfg.Transfer.EventTTL,
		CleanupLockTTL: cfg.Transfer.CleanupLockTTL,
	})

	coordinator := transfer.New(s, transfer.Config{
		ChunkSize:       int(cfg.Transfer.ChunkSize),
		QueueOpTimeout:  cfg.Transfer.QueueOpTimeout,
		EventTTL:        cfg.Transfer.EventTTL,
		FinalizeTimeout: cfg.Transfer.FinalizeTimeout,
	})

	httpDeps := httpapi.Dependencies{
		Transfer:            coordinator,
		MaxUploadSize:       int64(cfg.Transfer.MaxHTTPUploadSize),
		ReceiverWaitTimeout: cfg.Transfer.EventTTL,
	}
	router := httpapi.NewRouter(httpDeps)
	wsapi.RegisterRoutes(router, wsapi.Dependencies{
		Transfer:            coordinator,
		MaxUploadSize:       int64(cfg.Transfer.MaxHTTPUploadSize),
		ReceiverWaitTimeout: cfg.Transfer.EventTTL,
	})

	serverCfg := httpapi.Config{
		Port:              cfg.Server.Port,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
	server := httpapi.NewServerWithHandler(serverCfg, router)

	logger.Info("listening", "port", server.Port())

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("relay is running. press ctrl+c to stop")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, initiating graceful shutdown")
		cancel()
		if err := <-serverDone; err != nil {
			logger.Error("server shutdown error", "error", err)
			return err
		}
		logger.Info("relay stopped gracefully")
	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("server error", "error", err)
			return err
		}
		logger.Info("relay stopped")
	}

	return nil
}
