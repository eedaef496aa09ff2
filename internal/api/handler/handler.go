package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/compute-jobs/internal/job"
	"github.com/cuongbtq/compute-jobs/internal/store"
	"github.com/google/uuid"
)

// Submitter creates and enqueues jobs
type Submitter interface {
	Submit(ctx context.Context, request job.Payload, webhookURL *string) (*job.Job, error)
}

// JobReader loads a single job
type JobReader interface {
	Get(ctx context.Context, id uuid.UUID) (*job.Job, error)
}

// JobLister pages through jobs
type JobLister interface {
	List(ctx context.Context, filter store.Filter) ([]job.Job, error)
}

// HealthChecker reports whether a dependency is usable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	ServiceName string
	Submitter   Submitter
	Reader      JobReader
	Lister      JobLister
	Checks      map[string]HealthChecker
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger    *slog.Logger
	submitter Submitter
	reader    JobReader
	lister    JobLister
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:    deps.Logger,
		submitter: deps.Submitter,
		reader:    deps.Reader,
		lister:    deps.Lister,
	}
}
