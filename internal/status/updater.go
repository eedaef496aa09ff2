// Package status applies result messages to stored jobs. It owns the
// terminal edge of the job state machine: exactly one result per job wins,
// every later one is a no-op.
package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/compute-jobs/internal/job"
	"github.com/google/uuid"
)

// Repository is the subset of the job store the updater writes through
type Repository interface {
	Complete(ctx context.Context, id uuid.UUID, status job.Status, response job.Payload, reason *string) (*job.Job, error)
}

// Listener is notified after a terminal transition has been committed.
// Listeners must not block; failures stay on their side.
type Listener interface {
	JobFinished(ctx context.Context, j *job.Job)
}

// ListenerFunc adapts a function to the Listener interface
type ListenerFunc func(ctx context.Context, j *job.Job)

// JobFinished calls f(ctx, j)
func (f ListenerFunc) JobFinished(ctx context.Context, j *job.Job) {
	f(ctx, j)
}

// Outcome describes what Apply did with a result message
type Outcome int

const (
	// NotApplied is returned with every error; the job may or may not have
	// been changed by someone else
	NotApplied Outcome = iota
	// Applied means this message moved the job to a terminal status
	Applied
	// Duplicate means the job was already terminal and nothing changed
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case NotApplied:
		return "not_applied"
	case Applied:
		return "applied"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Updater applies result messages idempotently
type Updater struct {
	repo      Repository
	listeners []Listener
	logger    *slog.Logger
}

// NewUpdater creates a new Updater
func NewUpdater(repo Repository, logger *slog.Logger, listeners ...Listener) *Updater {
	return &Updater{
		repo:      repo,
		listeners: listeners,
		logger:    logger,
	}
}

// Apply moves the job named by msg to its terminal status.
//
// It returns job.ErrJobNotFound for an unknown id. A store failure is
// returned as a job.RetryableError so the caller can redeliver; reapplying
// the same message later is safe. The outcome is NotApplied whenever the
// error is non-nil.
func (u *Updater) Apply(ctx context.Context, msg *job.ResultMessage) (Outcome, error) {
	status := msg.TerminalStatus()
	reason := msg.Reason()

	var response job.Payload
	if status == job.StatusCompleted {
		response = msg.Response
		if response.IsNull() {
			// a COMPLETED job always carries its artifact reference
			status = job.StatusFailed
			missing := job.MissingArtifactReason
			reason = &missing
		}
	}

	updated, err := u.repo.Complete(ctx, msg.ID, status, response, reason)
	switch {
	case err == nil:
	case errors.Is(err, job.ErrAlreadyTerminal):
		attrs := []any{slog.String("job_id", msg.ID.String())}
		if updated != nil {
			attrs = append(attrs, slog.String("current_status", updated.Status.String()))
		}
		u.logger.Info("Ignoring result for finished job", attrs...)
		return Duplicate, nil
	case errors.Is(err, job.ErrJobNotFound):
		return NotApplied, err
	default:
		return NotApplied, job.NewRetryableError(fmt.Errorf("failed to apply result for job %s: %w", msg.ID, err))
	}

	u.logger.Info("Job finished",
		slog.String("job_id", updated.ID.String()),
		slog.String("status", updated.Status.String()),
	)

	for _, l := range u.listeners {
		l.JobFinished(ctx, updated)
	}

	return Applied, nil
}
