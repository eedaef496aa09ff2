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

	"github.com/cuongbtq/compute-jobs/internal/artifact"
	"github.com/cuongbtq/compute-jobs/internal/compute"
	"github.com/cuongbtq/compute-jobs/internal/config"
	"github.com/cuongbtq/compute-jobs/internal/store"
	"github.com/cuongbtq/compute-jobs/internal/worker"
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

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(cfg.Logging.LoggerConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
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

	storage, err := artifact.New(ctx, cfg.Storage, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize artifact storage: %w", err)
	}

	workerID := cfg.Worker.ID
	if workerID == "" {
		workerID = "worker-" + uuid.NewString()[:8]
	}

	workerInstance := worker.NewWorker(&worker.Config{
		Logger:             appLogger.Logger,
		Broker:             rabbitClient,
		Store:              store.New(dbClient.GetDB(), appLogger.Logger),
		Executor:           compute.NewImageRenderer(storage, cfg.Worker.RenderDelay, appLogger.Logger),
		WorkerID:           workerID,
		RequestQueue:       cfg.RabbitMQ.RequestQueue.Name,
		RequestRoutingKey:  cfg.RabbitMQ.RequestQueue.RoutingKey,
		ResponseRoutingKey: cfg.RabbitMQ.ResponseQueue.RoutingKey,
		PrefetchCount:      cfg.RabbitMQ.Consumer.PrefetchCount,
		Concurrency:        cfg.Worker.Concurrency,
		MaxRedeliveries:    cfg.RabbitMQ.Consumer.MaxRedeliveries,
		JobTimeout:         cfg.Worker.JobTimeout,
		ShutdownTimeout:    cfg.Worker.ShutdownTimeout,
	})

	// Start blocks until ctx is cancelled and in-flight jobs are drained. A
	// broker disconnect surfaces as an error so the supervisor restarts us.
	if err := workerInstance.Start(ctx); err != nil {
		appLogger.Error("Worker error", slog.Any("error", err))
		return err
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}
