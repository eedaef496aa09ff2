package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/compute-jobs/internal/compute"
	"github.com/cuongbtq/compute-jobs/internal/job"
	"github.com/cuongbtq/compute-jobs/shared/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
)

// errAborted means the worker is shutting down and the job was abandoned
// before a result was published
var errAborted = errors.New("job aborted by shutdown")

// processJob runs one request message to a published result. A nil error
// means the request may be acknowledged.
func (w *Worker) processJob(ctx context.Context, delivery amqp.Delivery) error {
	msg, err := job.DecodeRequestMessage(delivery.Body)
	if err != nil {
		return err
	}

	log := w.logger.With(slog.String("job_id", msg.ID.String()))

	// Step 1: mark PROCESSING; a store outage must not block compute
	current, err := w.store.MarkProcessing(ctx, msg.ID)
	switch {
	case errors.Is(err, job.ErrJobNotFound):
		log.Warn("Request message has no stored job, computing anyway")
	case err != nil:
		log.Warn("Failed to mark job processing", slog.Any("error", err))
	case current.Status.IsTerminal():
		log.Info("Job already finished, skipping redelivered request",
			slog.String("status", current.Status.String()),
		)
		return nil
	}

	// Step 2: execute under the job timeout
	log.Info("Processing job", slog.Bool("redelivered", delivery.Redelivered))
	outcome := w.execute(ctx, msg)
	if ctx.Err() != nil {
		return errAborted
	}

	// Step 3: publish the result and wait for the broker to confirm it
	result, err := resultMessage(msg, outcome)
	if err != nil {
		return err
	}

	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result message: %w", err)
	}

	err = w.broker.PublishWithRetry(ctx, rabbitmq.Message{
		RoutingKey:    w.responseRoutingKey,
		CorrelationID: msg.ID.String(),
		ContentType:   "application/json",
		Body:          body,
	})
	if err != nil {
		if ctx.Err() != nil {
			return errAborted
		}
		return job.NewRetryableError(fmt.Errorf("failed to publish result: %w", err))
	}

	log.Info("Result published",
		slog.String("status", string(result.Status)),
	)
	return nil
}

// execute runs the executor in its own goroutine so a job that ignores its
// context still frees the pool slot when the timeout fires
func (w *Worker) execute(ctx context.Context, msg *job.RequestMessage) compute.Outcome {
	jobCtx := ctx
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	done := make(chan compute.Outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("Executor panicked",
					slog.String("job_id", msg.ID.String()),
					slog.Any("panic", r),
				)
				done <- compute.Failure(fmt.Sprintf("executor panic: %v", r))
			}
		}()
		done <- w.executor.Execute(jobCtx, msg.ID, msg.Request)
	}()

	select {
	case outcome := <-done:
		if outcome.Failed && errors.Is(jobCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return compute.Failure(fmt.Sprintf("job timed out after %s", w.jobTimeout))
		}
		return outcome
	case <-jobCtx.Done():
		if ctx.Err() != nil {
			return compute.Failure("aborted")
		}
		return compute.Failure(fmt.Sprintf("job timed out after %s", w.jobTimeout))
	}
}

func resultMessage(msg *job.RequestMessage, outcome compute.Outcome) (job.ResultMessage, error) {
	if outcome.Failed {
		return job.Failed(msg.ID, outcome.Reason), nil
	}
	return job.Completed(msg.ID, outcome.ArtifactRef)
}
