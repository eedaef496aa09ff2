package worker

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/compute-jobs/shared/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
)

// startMessageDispatcher forwards deliveries to the worker pool until ctx
// is canceled or the broker closes the channel. Only the latter is an error.
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	w.logger.Info("Message dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				w.logger.Error("RabbitMQ delivery channel closed")
				return rabbitmq.ErrDeliveriesClosed
			}

			select {
			case w.jobsChan <- delivery:
				w.logger.Debug("Job dispatched to worker pool",
					slog.String("correlation_id", delivery.CorrelationId),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-ctx.Done():
				w.logger.Info("Message dispatcher stopped while dispatching job")
				// return the message so another worker can take it
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					w.logger.Error("Failed to NACK message on shutdown",
						slog.Any("error", nackErr),
					)
				}
				return nil
			}
		}
	}
}
