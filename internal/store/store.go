package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/compute-jobs/internal/job"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Schema is the DDL for the jobs table
//
//go:embed schema.sql
var Schema string

const jobColumns = `id, status, request_data, response_data, error_message,
	webhook_url, enqueued_at, created_at, updated_at`

// Store persists Job records in PostgreSQL
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// New creates a new Store instance
func New(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

// Filter narrows ListJobs results
type Filter struct {
	Status   job.Status
	PageSize int
	Cursor   *Cursor
}

// Cursor is the keyset position of the last row of a page
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// Create inserts a new job row
func (s *Store) Create(ctx context.Context, j *job.Job) error {
	query := `
		INSERT INTO jobs (
			id, status, request_data, response_data, error_message,
			webhook_url, enqueued_at, created_at, updated_at
		) VALUES (
			:id, :status, :request_data, :response_data, :error_message,
			:webhook_url, :enqueued_at, :created_at, :updated_at
		)
	`

	if _, err := s.db.NamedExecContext(ctx, query, j); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// Get retrieves a job by id
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	var j job.Job
	if err := s.db.GetContext(ctx, &j, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, job.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &j, nil
}

// List returns up to PageSize+1 jobs ordered newest first, so callers can
// tell whether another page exists
func (s *Store) List(ctx context.Context, filter Filter) ([]job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.Status != "" {
		if !filter.Status.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", job.ErrValidation, filter.Status)
		}
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.ID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []job.Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

// MarkEnqueued records that the request message was confirmed by the broker
func (s *Store) MarkEnqueued(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE jobs
		SET enqueued_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND enqueued_at IS NULL
	`

	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark job enqueued: %w", err)
	}

	return nil
}

// ListUnenqueued returns PENDING jobs created before the cutoff whose
// request message was never confirmed
func (s *Store) ListUnenqueued(ctx context.Context, createdBefore time.Time, limit int) ([]job.Job, error) {
	query := `SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = $1 AND enqueued_at IS NULL AND created_at < $2
		ORDER BY created_at
		LIMIT $3
	`

	var jobs []job.Job
	if err := s.db.SelectContext(ctx, &jobs, query, job.StatusPending, createdBefore, limit); err != nil {
		return nil, fmt.Errorf("failed to list unenqueued jobs: %w", err)
	}

	return jobs, nil
}

// MarkProcessing moves a PENDING job to PROCESSING. The returned job always
// reflects the current row, whether or not this call moved it.
func (s *Store) MarkProcessing(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    updated_at = NOW()
		WHERE id = $2 AND status = ANY($3)
		RETURNING ` + jobColumns

	var j job.Job
	err := s.db.GetContext(ctx, &j, query, job.StatusProcessing, id, statusArray(job.SourcesOf(job.StatusProcessing)))
	if err == nil {
		return &j, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to mark job processing: %w", err)
	}

	return s.Get(ctx, id)
}

// Complete applies a terminal transition with compare-and-swap on the
// current status, so concurrent duplicates cannot both win. It returns
// job.ErrAlreadyTerminal together with the stored job when the row had
// already left PENDING/PROCESSING.
func (s *Store) Complete(ctx context.Context, id uuid.UUID, status job.Status, response job.Payload, reason *string) (*job.Job, error) {
	if !status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is not terminal", job.ErrInvalidTransition, status)
	}

	query := `
		UPDATE jobs
		SET status = $1,
		    response_data = $2,
		    error_message = $3,
		    updated_at = NOW()
		WHERE id = $4 AND status = ANY($5)
		RETURNING ` + jobColumns

	var j job.Job
	err := s.db.GetContext(ctx, &j, query, status, response, reason, id, statusArray(job.SourcesOf(status)))
	if err == nil {
		s.logger.Info("Job status updated",
			slog.String("job_id", id.String()),
			slog.String("status", string(status)),
		)
		return &j, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to complete job: %w", err)
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return current, job.ErrAlreadyTerminal
}

// HealthCheck verifies the jobs table is reachable
func (s *Store) HealthCheck(ctx context.Context) error {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT 1 FROM jobs LIMIT 1`); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("jobs table check failed: %w", err)
	}
	return nil
}

// statusArray binds statuses as a text[] parameter for ANY(...)
func statusArray(statuses []job.Status) interface{} {
	values := make([]string, len(statuses))
	for i, st := range statuses {
		values[i] = string(st)
	}
	return pq.Array(values)
}
