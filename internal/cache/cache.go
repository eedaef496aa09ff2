// Package cache keeps finished jobs in Redis. Only terminal jobs are
// cached: they never change again, so entries need no invalidation.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/compute-jobs/internal/job"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Get when the job is not cached
var ErrMiss = errors.New("cache miss")

// JobCache stores terminal jobs as JSON
type JobCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// New connects to the Redis server at redisURL
func New(ctx context.Context, redisURL string, ttl time.Duration, prefix string, logger *slog.Logger) (*JobCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewFromClient(client, ttl, prefix, logger), nil
}

// NewFromClient wraps an existing client
func NewFromClient(client *redis.Client, ttl time.Duration, prefix string, logger *slog.Logger) *JobCache {
	if prefix == "" {
		prefix = "job:"
	}
	return &JobCache{
		client: client,
		ttl:    ttl,
		prefix: prefix,
		logger: logger,
	}
}

func (c *JobCache) key(id uuid.UUID) string {
	return c.prefix + id.String()
}

// Get returns a cached job or ErrMiss
func (c *JobCache) Get(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	data, err := c.client.Get(ctx, c.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached job: %w", err)
	}

	var j job.Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("failed to decode cached job: %w", err)
	}
	return &j, nil
}

// Set caches j if it is terminal and ignores it otherwise
func (c *JobCache) Set(ctx context.Context, j *job.Job) error {
	if !j.Status.IsTerminal() {
		return nil
	}

	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	if err := c.client.Set(ctx, c.key(j.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache job: %w", err)
	}
	return nil
}

// JobFinished warms the cache after a terminal transition
func (c *JobCache) JobFinished(ctx context.Context, j *job.Job) {
	if err := c.Set(ctx, j); err != nil {
		c.logger.Warn("Failed to cache finished job",
			slog.String("job_id", j.ID.String()),
			slog.Any("error", err),
		)
	}
}

// HealthCheck pings Redis
func (c *JobCache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (c *JobCache) Close() error {
	return c.client.Close()
}
