package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/compute-jobs/internal/job"
	"github.com/cuongbtq/compute-jobs/shared/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop handles one job at a time until jobsChan is closed
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Debug("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for delivery := range w.jobsChan {
		err := w.processJob(ctx, delivery)
		w.settle(ctx, workerName, delivery, err)
	}

	w.logger.Debug("Worker goroutine stopping - jobsChan closed",
		slog.String("worker_name", workerName),
	)
}

// settle acknowledges or rejects the request message based on the
// processing result
func (w *Worker) settle(ctx context.Context, workerName string, delivery amqp.Delivery, err error) {
	log := w.logger.With(
		slog.String("worker_name", workerName),
		slog.String("correlation_id", delivery.CorrelationId),
	)

	switch {
	case err == nil:
		if ackErr := delivery.Ack(false); ackErr != nil {
			log.Error("Failed to ACK message", slog.Any("error", ackErr))
		}

	case errors.Is(err, errAborted):
		// shutdown, not a failure of the job; hand it to another worker
		log.Warn("Job aborted, returning request to queue")
		w.nack(log, delivery, true)

	case shouldRequeueJob(err):
		w.retry(ctx, log, delivery, err)

	default:
		log.Error("Job not settled, dead-lettering request", slog.Any("error", err))
		w.nack(log, delivery, false)
	}
}

// retry republishes the request with an incremented retry count until it
// has been tried maxRedeliveries times, then dead-letters it
func (w *Worker) retry(ctx context.Context, log *slog.Logger, delivery amqp.Delivery, cause error) {
	attempt := rabbitmq.RetryCount(delivery.Headers)
	if attempt >= w.maxRedeliveries {
		log.Error("Request exhausted retries, dead-lettering",
			slog.Int("retry_count", attempt),
			slog.Int("max_redeliveries", w.maxRedeliveries),
			slog.Any("error", cause),
		)
		w.nack(log, delivery, false)
		return
	}

	log.Warn("Job failed transiently, retrying",
		slog.Int("retry_count", attempt),
		slog.Any("error", cause),
	)

	if err := w.broker.Requeue(ctx, delivery, w.requestRoutingKey); err != nil {
		log.Error("Failed to requeue request", slog.Any("error", err))
		w.nack(log, delivery, true)
	}
}

func (w *Worker) nack(log *slog.Logger, delivery amqp.Delivery, requeue bool) {
	if nackErr := delivery.Nack(false, requeue); nackErr != nil {
		log.Error("Failed to NACK message",
			slog.Bool("requeue", requeue),
			slog.Any("error", nackErr),
		)
	}
}

// shouldRequeueJob reports whether a failed request may be tried again.
// Undecodable messages never are.
func shouldRequeueJob(err error) bool {
	if errors.Is(err, job.ErrMalformedMessage) {
		return false
	}

	return job.IsRetryable(err)
}
