package submission

import (
	"context"
	"log/slog"
	"time"
)

// Republisher periodically publishes jobs whose request message was never
// confirmed by the broker
type Republisher struct {
	service     *Service
	interval    time.Duration
	gracePeriod time.Duration
	batchSize   int
	logger      *slog.Logger
}

// NewRepublisher creates a Republisher. Jobs younger than gracePeriod are
// skipped so a submission still in flight is not published twice.
func NewRepublisher(service *Service, interval, gracePeriod time.Duration, batchSize int, logger *slog.Logger) *Republisher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if gracePeriod <= 0 {
		gracePeriod = time.Minute
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	return &Republisher{
		service:     service,
		interval:    interval,
		gracePeriod: gracePeriod,
		batchSize:   batchSize,
		logger:      logger,
	}
}

// Run sweeps until ctx is canceled
func (r *Republisher) Run(ctx context.Context) {
	r.logger.Info("Starting republisher",
		slog.Duration("interval", r.interval),
		slog.Duration("grace_period", r.gracePeriod),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Republisher stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep republishes one batch and returns how many jobs were enqueued
func (r *Republisher) Sweep(ctx context.Context) int {
	jobs, err := r.service.store.ListUnenqueued(ctx, time.Now().Add(-r.gracePeriod), r.batchSize)
	if err != nil {
		r.logger.Error("Failed to list unenqueued jobs", slog.Any("error", err))
		return 0
	}

	enqueued := 0
	for i := range jobs {
		if ctx.Err() != nil {
			break
		}
		if err := r.service.enqueue(ctx, &jobs[i]); err != nil {
			r.logger.Warn("Republish failed",
				slog.String("job_id", jobs[i].ID.String()),
				slog.Any("error", err),
			)
			// the broker is likely down, try again next tick
			break
		}
		enqueued++
	}

	if enqueued > 0 {
		r.logger.Info("Republished jobs", slog.Int("count", enqueued))
	}
	return enqueued
}
