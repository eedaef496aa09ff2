package cache

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cuongbtq/compute-jobs/internal/job"
	"github.com/google/uuid"
)

// JobGetter loads a job by id
type JobGetter interface {
	Get(ctx context.Context, id uuid.UUID) (*job.Job, error)
}

// Reader serves job reads from the cache and falls back to the store.
// Cache failures degrade to store reads.
type Reader struct {
	store  JobGetter
	cache  *JobCache
	logger *slog.Logger
}

// NewReader creates a read-through Reader
func NewReader(store JobGetter, cache *JobCache, logger *slog.Logger) *Reader {
	return &Reader{
		store:  store,
		cache:  cache,
		logger: logger,
	}
}

func (r *Reader) Get(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	j, err := r.cache.Get(ctx, id)
	if err == nil {
		return j, nil
	}
	if !errors.Is(err, ErrMiss) {
		r.logger.Warn("Job cache read failed",
			slog.String("job_id", id.String()),
			slog.Any("error", err),
		)
	}

	j, err = r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cache.JobFinished(ctx, j)
	return j, nil
}
