package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuongbtq/compute-jobs/internal/cache"
	"github.com/cuongbtq/compute-jobs/internal/config"
	"github.com/cuongbtq/compute-jobs/internal/relay"
	"github.com/cuongbtq/compute-jobs/internal/status"
	"github.com/cuongbtq/compute-jobs/internal/store"
	"github.com/cuongbtq/compute-jobs/internal/webhook"
	"github.com/cuongbtq/compute-jobs/shared/logger"
	"github.com/cuongbtq/compute-jobs/shared/postgresql"
	"github.com/cuongbtq/compute-jobs/shared/rabbitmq"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("RELAY_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/relay-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateRelayConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(cfg.Logging.LoggerConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting relay service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbClient, err := postgresql.NewClient(ctx, cfg.Database.PostgresConfig(), appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	rabbitClient, err := rabbitmq.NewClient(cfg.RabbitMQ.ClientConfig(), appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	var listeners []status.Listener

	var notifier *webhook.Notifier
	if cfg.Webhook.Enabled {
		notifier = webhook.NewNotifier(&webhook.Config{
			Logger:         appLogger.Logger,
			Timeout:        cfg.Webhook.Timeout,
			MaxAttempts:    cfg.Webhook.MaxAttempts,
			InitialBackoff: cfg.Webhook.InitialBackoff,
			QueueSize:      cfg.Webhook.QueueSize,
			Workers:        cfg.Webhook.Workers,
		})
		notifier.Start()
		listeners = append(listeners, notifier)
	}

	if cfg.Redis.Enabled {
		jobCache, err := cache.New(ctx, cfg.Redis.URL, cfg.Redis.TTL, cfg.Redis.Prefix, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize Redis: %w", err)
		}
		defer jobCache.Close()
		listeners = append(listeners, jobCache)
	}

	updater := status.NewUpdater(store.New(dbClient.GetDB(), appLogger.Logger), appLogger.Logger, listeners...)

	relayID := cfg.Relay.ID
	if relayID == "" {
		relayID = "relay-" + uuid.NewString()[:8]
	}

	relayInstance := relay.New(&relay.Config{
		Logger:          appLogger.Logger,
		Broker:          rabbitClient,
		Updater:         updater,
		ID:              relayID,
		Queue:           cfg.RabbitMQ.ResponseQueue.Name,
		RoutingKey:      cfg.RabbitMQ.ResponseQueue.RoutingKey,
		Prefetch:        cfg.RabbitMQ.Consumer.PrefetchCount,
		Concurrency:     cfg.Relay.Concurrency,
		MaxRedeliveries: cfg.RabbitMQ.Consumer.MaxRedeliveries,
		UpdateTimeout:   cfg.Relay.UpdateTimeout,
	})

	// a broker disconnect is returned as an error, after the queued
	// webhooks have had their chance to drain
	startErr := relayInstance.Start(ctx)
	if startErr != nil {
		appLogger.Error("Relay error", slog.Any("error", startErr))
	}

	if notifier != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Relay.ShutdownTimeout)
		defer cancel()

		if err := notifier.Stop(shutdownCtx); err != nil {
			appLogger.Warn("Webhook notifier did not drain before shutdown",
				slog.Any("error", err),
			)
		}
	}

	if startErr != nil {
		return startErr
	}

	appLogger.Info("Relay service shutdown complete")
	return nil
}
