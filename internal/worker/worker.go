// Package worker consumes request messages, runs the compute executor and
// publishes one result message per job. A request is acknowledged only
// after its result has been confirmed by the broker.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/compute-jobs/internal/compute"
	"github.com/cuongbtq/compute-jobs/internal/job"
	"github.com/cuongbtq/compute-jobs/shared/rabbitmq"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Broker is the slice of the RabbitMQ client the worker depends on
type Broker interface {
	Consume(queue, consumerTag string, prefetch int) (<-chan amqp.Delivery, error)
	CancelConsumer(consumerTag string) error
	PublishWithRetry(ctx context.Context, msg rabbitmq.Message) error
	Requeue(ctx context.Context, d amqp.Delivery, routingKey string) error
}

// JobStore records that a job has been picked up
type JobStore interface {
	MarkProcessing(ctx context.Context, id uuid.UUID) (*job.Job, error)
}

// Config holds worker configuration
type Config struct {
	Logger             *slog.Logger
	Broker             Broker
	Store              JobStore
	Executor           compute.Executor
	WorkerID           string
	RequestQueue       string
	RequestRoutingKey  string
	ResponseRoutingKey string
	PrefetchCount      int
	Concurrency        int
	MaxRedeliveries    int
	JobTimeout         time.Duration
	ShutdownTimeout    time.Duration
}

// Worker represents the background job worker
type Worker struct {
	logger             *slog.Logger
	broker             Broker
	store              JobStore
	executor           compute.Executor
	workerID           string
	requestQueue       string
	requestRoutingKey  string
	responseRoutingKey string
	prefetchCount      int
	concurrency        int
	maxRedeliveries    int
	jobTimeout         time.Duration
	shutdownTimeout    time.Duration

	jobsChan chan amqp.Delivery
	wg       sync.WaitGroup
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	requestRoutingKey := cfg.RequestRoutingKey
	if requestRoutingKey == "" {
		requestRoutingKey = cfg.RequestQueue
	}

	return &Worker{
		logger:             cfg.Logger,
		broker:             cfg.Broker,
		store:              cfg.Store,
		executor:           cfg.Executor,
		workerID:           cfg.WorkerID,
		requestQueue:       cfg.RequestQueue,
		requestRoutingKey:  requestRoutingKey,
		responseRoutingKey: cfg.ResponseRoutingKey,
		prefetchCount:      cfg.PrefetchCount,
		concurrency:        concurrency,
		maxRedeliveries:    cfg.MaxRedeliveries,
		jobTimeout:         cfg.JobTimeout,
		shutdownTimeout:    cfg.ShutdownTimeout,
		jobsChan:           make(chan amqp.Delivery),
	}
}

// Start processes jobs until ctx is canceled. On cancellation it stops
// taking new deliveries and gives running jobs up to the shutdown timeout
// to finish; jobs still running after that are aborted and their request
// messages returned to the queue. If the broker closes the delivery
// channel first, Start drains the pool and returns
// rabbitmq.ErrDeliveriesClosed.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	// jobs outlive ctx so they can drain after shutdown begins
	runCtx, abort := context.WithCancel(context.WithoutCancel(ctx))
	defer abort()

	w.spawnWorkerPool(runCtx)
	dispatchErr := w.startMessageDispatcher(ctx, deliveries)

	if err := w.broker.CancelConsumer(w.workerID); err != nil {
		w.logger.Warn("Failed to cancel consumer",
			slog.String("worker_id", w.workerID),
			slog.Any("error", err),
		)
	}
	close(w.jobsChan)

	w.drain(abort)
	return dispatchErr
}

func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	deliveries, err := w.broker.Consume(w.requestQueue, w.workerID, w.prefetchCount)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", w.workerID),
		slog.String("queue", w.requestQueue),
		slog.Int("prefetch_count", w.prefetchCount),
	)
	return deliveries, nil
}

// drain waits for the pool, aborting running jobs once the shutdown
// timeout passes
func (w *Worker) drain(abort context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	w.logger.Info("Waiting for running jobs to finish",
		slog.Duration("shutdown_timeout", w.shutdownTimeout),
	)

	select {
	case <-done:
	case <-time.After(w.shutdownTimeout):
		w.logger.Warn("Shutdown timeout reached, aborting running jobs")
		abort()
		<-done
	}

	w.logger.Info("Worker stopped", slog.String("worker_id", w.workerID))
}
