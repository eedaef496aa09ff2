package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuongbtq/compute-jobs/internal/api/handler"
	"github.com/cuongbtq/compute-jobs/internal/api/router"
	"github.com/cuongbtq/compute-jobs/internal/cache"
	"github.com/cuongbtq/compute-jobs/internal/config"
	"github.com/cuongbtq/compute-jobs/internal/store"
	"github.com/cuongbtq/compute-jobs/internal/submission"
	"github.com/cuongbtq/compute-jobs/shared/logger"
	"github.com/cuongbtq/compute-jobs/shared/postgresql"
	"github.com/cuongbtq/compute-jobs/shared/rabbitmq"
	"github.com/gin-gonic/gin"
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

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(cfg.Logging.LoggerConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
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

	if cfg.Database.AutoMigrate {
		if err := dbClient.Migrate(ctx, store.Schema); err != nil {
			return err
		}
	}

	rabbitClient, err := rabbitmq.NewClient(cfg.RabbitMQ.ClientConfig(), appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	jobStore := store.New(dbClient.GetDB(), appLogger.Logger)

	service := submission.NewService(&submission.Config{
		Logger:            appLogger.Logger,
		Store:             jobStore,
		Publisher:         rabbitClient,
		RequestQueue:      cfg.RabbitMQ.RequestQueue.Name,
		RequestRoutingKey: cfg.RabbitMQ.RequestQueue.RoutingKey,
		ResponseQueue:     cfg.RabbitMQ.ResponseQueue.Name,
		MaxQueueDepth:     cfg.Submission.MaxQueueDepth,
	})

	republisher := submission.NewRepublisher(service,
		cfg.Submission.RepublishInterval,
		cfg.Submission.RepublishGracePeriod,
		cfg.Submission.RepublishBatchSize,
		appLogger.Logger,
	)
	go republisher.Run(ctx)

	checks := map[string]handler.HealthChecker{
		"database": dbClient,
		"rabbitmq": rabbitClient,
	}

	var reader handler.JobReader = jobStore
	if cfg.Redis.Enabled {
		jobCache, err := cache.New(ctx, cfg.Redis.URL, cfg.Redis.TTL, cfg.Redis.Prefix, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize Redis: %w", err)
		}
		defer jobCache.Close()

		reader = cache.NewReader(jobStore, jobCache, appLogger.Logger)
		checks["redis"] = jobCache
	}

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r, err := router.SetupRouter(&handler.Dependencies{
		Logger:      appLogger.Logger,
		ServiceName: cfg.App.Name,
		Submitter:   service,
		Reader:      reader,
		Lister:      jobStore,
		Checks:      checks,
	})
	if err != nil {
		return err
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		appLogger.Info("Starting HTTP server",
			slog.String("address", addr),
			slog.Duration("read_timeout", cfg.Server.ReadTimeout),
			slog.Duration("write_timeout", cfg.Server.WriteTimeout),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		appLogger.Info("Shutting down server...")
	case err := <-serveErr:
		appLogger.Error("Server failed", slog.Any("error", err))
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}
