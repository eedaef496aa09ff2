package store

import (
	"context"
	"database/sql/driver"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/compute-jobs/internal/job"
	"github.com/cuongbtq/compute-jobs/shared/logger"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestDB connects to TEST_DATABASE_URL or skips the test.
func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := sqlx.Open("postgres", dsn)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		t.Skipf("postgres not reachable: %v", err)
	}

	_, err = db.ExecContext(ctx, Schema)
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = db.Exec(`TRUNCATE jobs`)
		db.Close()
	})
	return db
}

func newTestStore(t *testing.T) *Store {
	return New(openTestDB(t), logger.NewNop())
}

func TestStore_CreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	hook := "https://example.com/hook"
	j := job.New(job.Payload(`{"prompt":"a cat"}`), &hook)
	require.NoError(t, s.Create(ctx, j))

	got, err := s.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, j.ID, got.ID)
	assert.Equal(t, job.StatusPending, got.Status)
	assert.JSONEq(t, `{"prompt":"a cat"}`, string(got.RequestData))
	assert.True(t, got.ResponseData.IsNull())
	assert.Nil(t, got.ErrorMessage)
	assert.Nil(t, got.EnqueuedAt)
	require.NotNil(t, got.WebhookURL)
	assert.Equal(t, hook, *got.WebhookURL)
}

func TestStore_GetNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, job.ErrJobNotFound)
}

func TestStore_Complete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j := job.New(job.Payload(`{"prompt":"x"}`), nil)
	require.NoError(t, s.Create(ctx, j))

	updated, err := s.Complete(ctx, j.ID, job.StatusCompleted, job.Payload(`"s3://bucket/x.png"`), nil)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, updated.Status)
	assert.JSONEq(t, `"s3://bucket/x.png"`, string(updated.ResponseData))
	assert.False(t, updated.UpdatedAt.Before(updated.CreatedAt))

	t.Run("second result is rejected", func(t *testing.T) {
		reason := "late failure"
		current, err := s.Complete(ctx, j.ID, job.StatusFailed, nil, &reason)
		assert.ErrorIs(t, err, job.ErrAlreadyTerminal)
		require.NotNil(t, current)
		assert.Equal(t, job.StatusCompleted, current.Status)
		assert.Nil(t, current.ErrorMessage)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := s.Complete(ctx, uuid.New(), job.StatusCompleted, job.Payload(`"x"`), nil)
		assert.ErrorIs(t, err, job.ErrJobNotFound)
	})

	t.Run("non terminal target", func(t *testing.T) {
		_, err := s.Complete(ctx, j.ID, job.StatusProcessing, nil, nil)
		assert.ErrorIs(t, err, job.ErrInvalidTransition)
	})
}

func TestStore_CompleteConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j := job.New(job.Payload(`{"prompt":"race"}`), nil)
	require.NoError(t, s.Create(ctx, j))

	const attempts = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Complete(ctx, j.ID, job.StatusCompleted, job.Payload(`"ref"`), nil); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestStore_MarkProcessing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j := job.New(job.Payload(`{"prompt":"x"}`), nil)
	require.NoError(t, s.Create(ctx, j))

	got, err := s.MarkProcessing(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusProcessing, got.Status)

	_, err = s.Complete(ctx, j.ID, job.StatusFailed, nil, nil)
	require.NoError(t, err)

	got, err = s.MarkProcessing(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, got.Status)

	_, err = s.MarkProcessing(ctx, uuid.New())
	assert.ErrorIs(t, err, job.ErrJobNotFound)
}

func TestStore_Outbox(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stale := job.New(job.Payload(`{"prompt":"stale"}`), nil)
	stale.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, s.Create(ctx, stale))

	fresh := job.New(job.Payload(`{"prompt":"fresh"}`), nil)
	require.NoError(t, s.Create(ctx, fresh))

	pending, err := s.ListUnenqueued(ctx, time.Now().Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, stale.ID, pending[0].ID)

	require.NoError(t, s.MarkEnqueued(ctx, stale.ID))

	pending, err = s.ListUnenqueued(ctx, time.Now().Add(-time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestStore_List(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour).UTC()
	for i := 0; i < 5; i++ {
		j := job.New(job.Payload(`{"prompt":"x"}`), nil)
		j.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.Create(ctx, j))
	}

	page, err := s.List(ctx, Filter{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page, 3)

	last := page[1]
	next, err := s.List(ctx, Filter{
		PageSize: 2,
		Cursor:   &Cursor{CreatedAt: last.CreatedAt, ID: last.ID},
	})
	require.NoError(t, err)
	require.Len(t, next, 3)
	assert.True(t, next[0].CreatedAt.Before(last.CreatedAt))

	completed, err := s.List(ctx, Filter{PageSize: 10, Status: job.StatusCompleted})
	require.NoError(t, err)
	assert.Empty(t, completed)
}

func TestStatusArray(t *testing.T) {
	v, err := statusArray(job.SourcesOf(job.StatusCompleted)).(driver.Valuer).Value()
	require.NoError(t, err)
	assert.Equal(t, "{\"PENDING\",\"PROCESSING\"}", v)

	v, err = statusArray(job.SourcesOf(job.StatusProcessing)).(driver.Valuer).Value()
	require.NoError(t, err)
	assert.Equal(t, "{\"PENDING\"}", v)
}

func TestStore_ListRejectsUnknownStatus(t *testing.T) {
	s := New(nil, logger.NewNop())

	_, err := s.List(context.Background(), Filter{Status: job.Status("CANCELED"), PageSize: 10})
	assert.ErrorIs(t, err, job.ErrValidation)
}

func TestStore_CompletedRequiresResponse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j := job.New(job.Payload(`{"prompt":"x"}`), nil)
	require.NoError(t, s.Create(ctx, j))

	_, err := s.Complete(ctx, j.ID, job.StatusCompleted, nil, nil)
	require.Error(t, err)

	got, err := s.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, got.Status)
}
