// Package submission creates jobs and enqueues their request messages.
//
// A job row is always committed before its request is published. When the
// publish is not confirmed the job keeps a NULL enqueued_at and the
// Republisher sends it again later.
package submission

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/compute-jobs/internal/job"
	"github.com/cuongbtq/compute-jobs/shared/rabbitmq"
	"github.com/google/uuid"
)

// Publisher is the slice of the RabbitMQ client used for submission
type Publisher interface {
	PublishWithRetry(ctx context.Context, msg rabbitmq.Message) error
	QueueDepth(queue string) (int, error)
}

// JobStore is the slice of the job store used for submission
type JobStore interface {
	Create(ctx context.Context, j *job.Job) error
	MarkEnqueued(ctx context.Context, id uuid.UUID) error
	ListUnenqueued(ctx context.Context, createdBefore time.Time, limit int) ([]job.Job, error)
}

// Config holds submission service configuration
type Config struct {
	Logger            *slog.Logger
	Store             JobStore
	Publisher         Publisher
	RequestQueue      string
	RequestRoutingKey string
	ResponseQueue     string
	MaxQueueDepth     int
}

// Service is the submission service
type Service struct {
	logger            *slog.Logger
	store             JobStore
	publisher         Publisher
	requestQueue      string
	requestRoutingKey string
	responseQueue     string
	maxQueueDepth     int
}

// NewService creates a new submission service
func NewService(cfg *Config) *Service {
	return &Service{
		logger:            cfg.Logger,
		store:             cfg.Store,
		publisher:         cfg.Publisher,
		requestQueue:      cfg.RequestQueue,
		requestRoutingKey: cfg.RequestRoutingKey,
		responseQueue:     cfg.ResponseQueue,
		maxQueueDepth:     cfg.MaxQueueDepth,
	}
}

// Submit stores a new PENDING job and publishes its request message.
//
// It returns job.ErrOverloaded when the request queue is full and
// job.ErrPersistence when the job could not be stored; in both cases
// nothing is published. A failed publish is not an error for the caller:
// the job is durable and will be republished.
func (s *Service) Submit(ctx context.Context, request job.Payload, webhookURL *string) (*job.Job, error) {
	if err := s.admit(); err != nil {
		return nil, err
	}

	j := job.New(request, webhookURL)

	if err := s.store.Create(ctx, j); err != nil {
		s.logger.Error("Failed to store job",
			slog.String("job_id", j.ID.String()),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("%w: %v", job.ErrPersistence, err)
	}

	s.logger.Info("Job created", slog.String("job_id", j.ID.String()))

	if err := s.enqueue(ctx, j); err != nil {
		s.logger.Warn("Job stored but not enqueued, leaving it for republish",
			slog.String("job_id", j.ID.String()),
			slog.Any("error", err),
		)
	}

	return j, nil
}

// admit rejects work while the request queue is at capacity. An unknown
// depth is not a reason to refuse.
func (s *Service) admit() error {
	if s.maxQueueDepth <= 0 {
		return nil
	}

	depth, err := s.publisher.QueueDepth(s.requestQueue)
	if err != nil {
		s.logger.Warn("Failed to read request queue depth",
			slog.String("queue", s.requestQueue),
			slog.Any("error", err),
		)
		return nil
	}

	if depth >= s.maxQueueDepth {
		s.logger.Warn("Rejecting submission, request queue is full",
			slog.Int("depth", depth),
			slog.Int("max_queue_depth", s.maxQueueDepth),
		)
		return job.ErrOverloaded
	}
	return nil
}

// enqueue publishes the request message and records the confirmed publish
func (s *Service) enqueue(ctx context.Context, j *job.Job) error {
	body, err := json.Marshal(job.NewRequestMessage(j))
	if err != nil {
		return fmt.Errorf("failed to marshal request message: %w", err)
	}

	err = s.publisher.PublishWithRetry(ctx, rabbitmq.Message{
		RoutingKey:    s.requestRoutingKey,
		CorrelationID: j.ID.String(),
		ReplyTo:       s.responseQueue,
		ContentType:   "application/json",
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", job.ErrPublish, err)
	}

	if err := s.store.MarkEnqueued(ctx, j.ID); err != nil {
		// the job may be published twice; workers tolerate redelivery
		s.logger.Warn("Failed to mark job enqueued",
			slog.String("job_id", j.ID.String()),
			slog.Any("error", err),
		)
	}

	now := time.Now().UTC()
	j.EnqueuedAt = &now
	return nil
}
