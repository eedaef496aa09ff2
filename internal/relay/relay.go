// Package relay consumes result messages from the response queue and hands
// them to the status updater. A delivery is acknowledged only after its
// effect on the job store is committed.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/compute-jobs/internal/job"
	"github.com/cuongbtq/compute-jobs/internal/status"
	"github.com/cuongbtq/compute-jobs/shared/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Broker is the slice of the RabbitMQ client the relay depends on
type Broker interface {
	Consume(queue, consumerTag string, prefetch int) (<-chan amqp.Delivery, error)
	CancelConsumer(consumerTag string) error
	Requeue(ctx context.Context, d amqp.Delivery, routingKey string) error
}

// Updater applies a decoded result message
type Updater interface {
	Apply(ctx context.Context, msg *job.ResultMessage) (status.Outcome, error)
}

// Config holds relay configuration
type Config struct {
	Logger          *slog.Logger
	Broker          Broker
	Updater         Updater
	ID              string
	Queue           string
	RoutingKey      string
	Prefetch        int
	Concurrency     int
	MaxRedeliveries int
	UpdateTimeout   time.Duration
}

// Relay is the completion relay consumer
type Relay struct {
	logger          *slog.Logger
	broker          Broker
	updater         Updater
	id              string
	queue           string
	routingKey      string
	prefetch        int
	concurrency     int
	maxRedeliveries int
	updateTimeout   time.Duration

	deliveries chan amqp.Delivery
	wg         sync.WaitGroup
}

// New creates a new relay instance
func New(cfg *Config) *Relay {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	return &Relay{
		logger:          cfg.Logger,
		broker:          cfg.Broker,
		updater:         cfg.Updater,
		id:              cfg.ID,
		queue:           cfg.Queue,
		routingKey:      cfg.RoutingKey,
		prefetch:        cfg.Prefetch,
		concurrency:     concurrency,
		maxRedeliveries: cfg.MaxRedeliveries,
		updateTimeout:   cfg.UpdateTimeout,
		deliveries:      make(chan amqp.Delivery),
	}
}

// Start consumes the response queue until ctx is canceled or the broker
// closes the delivery channel. It returns after every in-flight message
// has been acknowledged or rejected. A channel closed by the broker is
// returned as rabbitmq.ErrDeliveriesClosed so the process can be restarted.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("Starting relay",
		slog.String("relay_id", r.id),
		slog.String("queue", r.queue),
		slog.Int("concurrency", r.concurrency),
		slog.Int("max_redeliveries", r.maxRedeliveries),
	)

	source, err := r.broker.Consume(r.queue, r.id, r.prefetch)
	if err != nil {
		return fmt.Errorf("failed to start relay consumer: %w", err)
	}

	for i := 0; i < r.concurrency; i++ {
		r.wg.Add(1)
		go r.loop(ctx, i)
	}

	dispatchErr := r.dispatch(ctx, source)

	if err := r.broker.CancelConsumer(r.id); err != nil {
		r.logger.Warn("Failed to cancel relay consumer",
			slog.String("relay_id", r.id),
			slog.Any("error", err),
		)
	}

	close(r.deliveries)
	r.wg.Wait()

	if dispatchErr != nil {
		r.logger.Error("Relay stopped unexpectedly",
			slog.String("relay_id", r.id),
			slog.Any("error", dispatchErr),
		)
		return dispatchErr
	}

	r.logger.Info("Relay stopped", slog.String("relay_id", r.id))
	return nil
}

// dispatch feeds the pool until ctx is canceled or the source closes. A
// source closed while ctx is still live is reported as an error.
func (r *Relay) dispatch(ctx context.Context, source <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-source:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.Warn("Response delivery channel closed")
				return rabbitmq.ErrDeliveriesClosed
			}
			select {
			case r.deliveries <- d:
			case <-ctx.Done():
				r.nack(d, true)
				return nil
			}
		}
	}
}

func (r *Relay) loop(ctx context.Context, n int) {
	defer r.wg.Done()

	for d := range r.deliveries {
		r.handle(ctx, d)
	}

	r.logger.Debug("Relay goroutine stopped",
		slog.String("relay_id", r.id),
		slog.Int("relay_num", n),
	)
}

// handle settles exactly one delivery
func (r *Relay) handle(ctx context.Context, d amqp.Delivery) {
	msg, err := job.DecodeResultMessage(d.Body)
	if err != nil {
		r.logger.Error("Dropping malformed result message",
			slog.String("correlation_id", d.CorrelationId),
			slog.Any("error", err),
		)
		r.nack(d, false)
		return
	}

	log := r.logger.With(slog.String("job_id", msg.ID.String()))
	if d.CorrelationId != "" && d.CorrelationId != msg.ID.String() {
		log.Warn("Correlation id header does not match message id",
			slog.String("correlation_id", d.CorrelationId),
		)
	}

	updateCtx := ctx
	if r.updateTimeout > 0 {
		var cancel context.CancelFunc
		updateCtx, cancel = context.WithTimeout(ctx, r.updateTimeout)
		defer cancel()
	}

	outcome, err := r.updater.Apply(updateCtx, msg)
	switch {
	case err == nil:
		log.Debug("Result message settled", slog.String("outcome", outcome.String()))
		r.ack(d)

	case errors.Is(err, job.ErrJobNotFound):
		log.Warn("No job matches result message, dropping")
		r.ack(d)

	case ctx.Err() != nil:
		r.nack(d, true)

	default:
		r.retry(ctx, d, log, err)
	}
}

// retry sends a transiently failed delivery back to the tail of the queue
// until it has been tried maxRedeliveries times, then dead-letters it
func (r *Relay) retry(ctx context.Context, d amqp.Delivery, log *slog.Logger, cause error) {
	attempt := rabbitmq.RetryCount(d.Headers)
	if attempt >= r.maxRedeliveries {
		log.Error("Result message exhausted retries, dead-lettering",
			slog.Int("retry_count", attempt),
			slog.Any("error", cause),
		)
		r.nack(d, false)
		return
	}

	log.Warn("Failed to apply result message, retrying",
		slog.Int("retry_count", attempt),
		slog.Any("error", cause),
	)

	if err := r.broker.Requeue(ctx, d, r.routingKey); err != nil {
		log.Error("Failed to requeue result message", slog.Any("error", err))
		r.nack(d, true)
	}
}

func (r *Relay) ack(d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		r.logger.Error("Failed to ACK result message",
			slog.String("correlation_id", d.CorrelationId),
			slog.Any("error", err),
		)
	}
}

func (r *Relay) nack(d amqp.Delivery, requeue bool) {
	if err := d.Nack(false, requeue); err != nil {
		r.logger.Error("Failed to NACK result message",
			slog.String("correlation_id", d.CorrelationId),
			slog.Bool("requeue", requeue),
			slog.Any("error", err),
		)
	}
}
