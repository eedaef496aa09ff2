// Package webhook notifies callback URLs after a job reaches a terminal
// status. Notifications are asynchronous and best effort: a failed
// callback never touches job state.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cuongbtq/compute-jobs/internal/job"
	"github.com/google/uuid"
)

// ErrQueueFull is returned by Notify when the pending queue is full
var ErrQueueFull = errors.New("webhook queue is full")

// ErrStopped is returned by Notify after Stop
var ErrStopped = errors.New("webhook notifier stopped")

// Payload is the JSON body posted to a callback URL
type Payload struct {
	ID       uuid.UUID   `json:"id"`
	Status   job.Status  `json:"status"`
	Response job.Payload `json:"response"`
	Error    *string     `json:"error,omitempty"`
}

type notification struct {
	url     string
	payload Payload
}

// Config holds notifier configuration
type Config struct {
	Logger         *slog.Logger
	Client         *http.Client
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	QueueSize      int
	Workers        int
}

// Notifier delivers callbacks from a bounded queue
type Notifier struct {
	logger         *slog.Logger
	client         *http.Client
	maxAttempts    int
	initialBackoff time.Duration
	workers        int

	queue chan notification
	// ctx is canceled when Stop gives up waiting; it bounds in-flight
	// requests and pending backoffs
	ctx     context.Context
	abandon context.CancelFunc
	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// NewNotifier creates a notifier. Call Start before Notify.
func NewNotifier(cfg *Config) *Notifier {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	ctx, abandon := context.WithCancel(context.Background())
	n := &Notifier{
		logger:         cfg.Logger,
		client:         client,
		maxAttempts:    max(cfg.MaxAttempts, 1),
		initialBackoff: cfg.InitialBackoff,
		workers:        max(cfg.Workers, 1),
		queue:          make(chan notification, max(cfg.QueueSize, 1)),
		ctx:            ctx,
		abandon:        abandon,
	}
	if n.initialBackoff <= 0 {
		n.initialBackoff = time.Second
	}
	return n
}

// Start launches the delivery goroutines
func (n *Notifier) Start() {
	for i := 0; i < n.workers; i++ {
		n.wg.Add(1)
		go n.run()
	}
}

// JobFinished queues a callback for jobs that have one
func (n *Notifier) JobFinished(_ context.Context, j *job.Job) {
	if !j.HasCallback() {
		return
	}

	err := n.Notify(*j.WebhookURL, Payload{
		ID:       j.ID,
		Status:   j.Status,
		Response: j.ResponseData,
		Error:    j.ErrorMessage,
	})
	if err != nil {
		n.logger.Warn("Dropping webhook notification",
			slog.String("job_id", j.ID.String()),
			slog.Any("error", err),
		)
	}
}

// Notify queues one callback without blocking
func (n *Notifier) Notify(url string, payload Payload) error {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.stopped {
		return ErrStopped
	}

	select {
	case n.queue <- notification{url: url, payload: payload}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop stops accepting notifications and waits for queued ones to be sent.
// When ctx expires first, pending retries are abandoned.
func (n *Notifier) Stop(ctx context.Context) error {
	n.mu.Lock()
	if !n.stopped {
		n.stopped = true
		close(n.queue)
	}
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		n.abandon()
		return nil
	case <-ctx.Done():
		n.abandon()
		<-done
		return ctx.Err()
	}
}

func (n *Notifier) run() {
	defer n.wg.Done()
	for item := range n.queue {
		n.deliver(item)
	}
}

// deliver posts one notification, backing off exponentially between
// attempts
func (n *Notifier) deliver(item notification) {
	log := n.logger.With(
		slog.String("job_id", item.payload.ID.String()),
		slog.String("url", item.url),
	)

	body, err := json.Marshal(item.payload)
	if err != nil {
		log.Error("Failed to marshal webhook payload", slog.Any("error", err))
		return
	}

	backoff := n.initialBackoff
	for attempt := 1; attempt <= n.maxAttempts; attempt++ {
		if n.ctx.Err() != nil {
			log.Warn("Abandoning webhook on shutdown", slog.Int("attempt", attempt))
			return
		}

		retry, err := n.post(n.ctx, item.url, body)
		if err == nil {
			log.Info("Webhook delivered", slog.Int("attempt", attempt))
			return
		}
		if !retry || attempt == n.maxAttempts {
			log.Error("Webhook delivery failed",
				slog.Int("attempt", attempt),
				slog.Any("error", err),
			)
			return
		}

		log.Warn("Webhook attempt failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.Any("error", err),
		)

		select {
		case <-time.After(backoff):
		case <-n.ctx.Done():
			log.Warn("Abandoning webhook retries on shutdown")
			return
		}
		backoff *= 2
	}
}

// post sends body once and reports whether a failure is worth retrying
func (n *Notifier) post(ctx context.Context, url string, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return true, fmt.Errorf("unexpected status %d", resp.StatusCode)
	default:
		return false, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}
