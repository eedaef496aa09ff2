package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNotConnected is returned when the client has been closed
var ErrNotConnected = errors.New("not connected to RabbitMQ")

// ErrNacked is returned when the broker negatively confirms a publish
var ErrNacked = errors.New("publish not confirmed by broker")

// ErrDeliveriesClosed is returned by consumers whose delivery channel was
// closed by the broker rather than by a shutdown request
var ErrDeliveriesClosed = errors.New("delivery channel closed by broker")

// Config holds RabbitMQ connection and topology configuration
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	VHost              string
	ExchangeName       string
	ExchangeType       string
	ExchangeDurable    bool
	ExchangeAutoDelete bool
	DeadLetterExchange string
	DeadLetterSuffix   string
	Queues             []QueueSpec
	RetryAttempts      int
	RetryInterval      time.Duration
	Heartbeat          time.Duration
	ConnectionTimeout  time.Duration
	PublishRetries     int
	PublishRetryDelay  time.Duration
	PublishBackoffMult float64
	ConfirmTimeout     time.Duration
}

// QueueSpec describes one queue bound to the exchange
type QueueSpec struct {
	Name       string
	RoutingKey string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
}

// DeadLetterQueue returns the name of the dead-letter queue for a queue
func (c *Config) DeadLetterQueue(queue string) string {
	return queue + c.DeadLetterSuffix
}

// Message is a single outgoing message. Body is published persistently.
type Message struct {
	RoutingKey    string
	CorrelationID string
	ReplyTo       string
	ContentType   string
	Headers       amqp.Table
	Body          []byte
}

// Client owns one connection with a confirm-mode publish channel and a
// separate consume channel
type Client struct {
	config         *Config
	conn           *amqp.Connection
	publishChannel *amqp.Channel
	consumeChannel *amqp.Channel
	publishMu      sync.Mutex
	logger         *slog.Logger
}

// NewClient connects to RabbitMQ and declares the configured topology
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	client := &Client{
		config: config,
		logger: logger,
	}

	if err := client.connect(); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	return client, nil
}

// URL renders the AMQP connection URL
func (c *Config) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.VHost,
	)
}

// connect establishes connection to RabbitMQ with retry logic
func (c *Client) connect() error {
	var err error

	amqpConfig := amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
	}
	if c.config.ConnectionTimeout > 0 {
		amqpConfig.Dial = amqp.DefaultDial(c.config.ConnectionTimeout)
	}

	attempts := c.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		c.logger.Info("Connecting to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)

		c.conn, err = amqp.DialConfig(c.config.URL(), amqpConfig)
		if err == nil {
			c.logger.Info("Successfully connected to RabbitMQ")
			break
		}

		c.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)

		if attempt < attempts {
			time.Sleep(c.config.RetryInterval)
		}
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
	}

	if err := c.openChannels(); err != nil {
		c.conn.Close()
		return err
	}

	if err := c.setup(); err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to setup exchange and queues: %w", err)
	}

	c.logger.Info("RabbitMQ client initialized",
		slog.String("exchange", c.config.ExchangeName),
		slog.Int("queues", len(c.config.Queues)),
	)

	return nil
}

func (c *Client) openChannels() error {
	var err error

	c.publishChannel, err = c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to create publish channel: %w", err)
	}

	if err := c.publishChannel.Confirm(false); err != nil {
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	c.consumeChannel, err = c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to create consume channel: %w", err)
	}

	return nil
}

// setup declares exchanges, queues, dead-letter queues and bindings
func (c *Client) setup() error {
	ch := c.publishChannel

	err := ch.ExchangeDeclare(
		c.config.ExchangeName,       // name
		c.config.ExchangeType,       // type
		c.config.ExchangeDurable,    // durable
		c.config.ExchangeAutoDelete, // auto-deleted
		false,                       // internal
		false,                       // no-wait
		nil,                         // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if c.config.DeadLetterExchange != "" {
		err = ch.ExchangeDeclare(c.config.DeadLetterExchange, "direct", true, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("failed to declare dead-letter exchange: %w", err)
		}
	}

	for _, q := range c.config.Queues {
		if err := c.declareQueue(ch, q); err != nil {
			return err
		}
	}

	return nil
}

func (c *Client) declareQueue(ch *amqp.Channel, q QueueSpec) error {
	var args amqp.Table

	if c.config.DeadLetterExchange != "" {
		dlq := c.config.DeadLetterQueue(q.Name)
		if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare dead-letter queue %s: %w", dlq, err)
		}
		if err := ch.QueueBind(dlq, q.Name, c.config.DeadLetterExchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind dead-letter queue %s: %w", dlq, err)
		}

		args = amqp.Table{
			"x-dead-letter-exchange":    c.config.DeadLetterExchange,
			"x-dead-letter-routing-key": q.Name,
		}
	}

	_, err := ch.QueueDeclare(
		q.Name,       // name
		q.Durable,    // durable
		q.AutoDelete, // auto-delete
		q.Exclusive,  // exclusive
		false,        // no-wait
		args,         // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", q.Name, err)
	}

	err = ch.QueueBind(
		q.Name,                // queue name
		q.RoutingKey,          // routing key
		c.config.ExchangeName, // exchange
		false,                 // no-wait
		nil,                   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", q.Name, err)
	}

	return nil
}

// Publish publishes one persistent message and waits for the broker confirm
func (c *Client) Publish(ctx context.Context, msg Message) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	contentType := msg.ContentType
	if contentType == "" {
		contentType = "application/json"
	}

	c.publishMu.Lock()
	confirmation, err := c.publishChannel.PublishWithDeferredConfirmWithContext(
		ctx,
		c.config.ExchangeName, // exchange
		msg.RoutingKey,        // routing key
		false,                 // mandatory
		false,                 // immediate
		amqp.Publishing{
			ContentType:   contentType,
			CorrelationId: msg.CorrelationID,
			ReplyTo:       msg.ReplyTo,
			Headers:       msg.Headers,
			Body:          msg.Body,
			DeliveryMode:  amqp.Persistent,
			Timestamp:     time.Now(),
		},
	)
	c.publishMu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	confirmCtx := ctx
	if c.config.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		confirmCtx, cancel = context.WithTimeout(ctx, c.config.ConfirmTimeout)
		defer cancel()
	}

	acked, err := confirmation.WaitContext(confirmCtx)
	if err != nil {
		return fmt.Errorf("failed waiting for publish confirm: %w", err)
	}
	if !acked {
		return ErrNacked
	}

	c.logger.Debug("Message published to RabbitMQ",
		slog.String("routing_key", msg.RoutingKey),
		slog.String("correlation_id", msg.CorrelationID),
		slog.Int("body_size", len(msg.Body)),
	)

	return nil
}

// PublishWithRetry publishes a message with retry logic and exponential backoff
func (c *Client) PublishWithRetry(ctx context.Context, msg Message) error {
	maxRetries := c.config.PublishRetries
	if maxRetries <= 0 {
		maxRetries = 3 // default
	}

	baseDelay := c.config.PublishRetryDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond // default
	}

	backoffMult := c.config.PublishBackoffMult
	if backoffMult <= 1 {
		backoffMult = 2.0 // default
	}

	var lastErr error
	delay := baseDelay
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := c.Publish(ctx, msg)
		if err == nil {
			if attempt > 0 {
				c.logger.Info("Successfully published message to RabbitMQ after retry",
					slog.Int("attempt", attempt+1),
					slog.String("correlation_id", msg.CorrelationID),
				)
			}
			return nil
		}

		lastErr = err
		if errors.Is(err, ErrNotConnected) {
			break
		}

		if attempt < maxRetries {
			c.logger.Warn("Failed to publish message to RabbitMQ, retrying...",
				slog.Int("attempt", attempt+1),
				slog.Int("max_retries", maxRetries),
				slog.Duration("retry_after", delay),
				slog.Any("error", err),
			)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("publish canceled: %w", errors.Join(ctx.Err(), lastErr))
			}
			delay = time.Duration(float64(delay) * backoffMult)
		}
	}

	c.logger.Error("Failed to publish message to RabbitMQ after all retries",
		slog.Int("attempts", maxRetries+1),
		slog.String("correlation_id", msg.CorrelationID),
		slog.Any("error", lastErr),
	)
	return fmt.Errorf("failed to publish message after retries: %w", lastErr)
}

// Consume starts consuming a queue with manual acknowledgements. prefetch
// bounds the number of unacknowledged deliveries held by this consumer.
func (c *Client) Consume(queue, consumerTag string, prefetch int) (<-chan amqp.Delivery, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}

	if err := c.consumeChannel.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := c.consumeChannel.Consume(
		queue,       // queue
		consumerTag, // consumer tag
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume messages: %w", err)
	}

	c.logger.Info("Started consuming messages from RabbitMQ",
		slog.String("queue", queue),
		slog.String("consumer_tag", consumerTag),
		slog.Int("prefetch_count", prefetch),
	)

	return deliveries, nil
}

// CancelConsumer stops server-side delivery to a consumer tag
func (c *Client) CancelConsumer(consumerTag string) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return c.consumeChannel.Cancel(consumerTag, false)
}

// QueueDepth returns the number of ready messages in a queue. A throwaway
// channel is used because a failed passive declare closes the channel.
func (c *Client) QueueDepth(queue string) (int, error) {
	if !c.IsConnected() {
		return 0, ErrNotConnected
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return 0, fmt.Errorf("failed to open inspection channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclarePassive(queue, true, false, false, false, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect queue %s: %w", queue, err)
	}

	return q.Messages, nil
}

// Close closes both channels and the connection
func (c *Client) Close() error {
	c.logger.Info("Closing RabbitMQ connection")

	for _, ch := range []*amqp.Channel{c.consumeChannel, c.publishChannel} {
		if ch == nil {
			continue
		}
		if err := ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Error("Failed to close RabbitMQ channel",
				slog.Any("error", err),
			)
		}
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Error("Failed to close RabbitMQ connection",
				slog.Any("error", err),
			)
			return err
		}
	}

	c.logger.Info("RabbitMQ connection closed successfully")
	return nil
}

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	return c.conn != nil && !c.conn.IsClosed()
}

// HealthCheck reports an error when the connection is down
func (c *Client) HealthCheck(_ context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}
