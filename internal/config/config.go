package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	Redis      RedisConfig      `yaml:"redis"`
	Storage    StorageConfig    `yaml:"storage"`
	Logging    LoggingConfig    `yaml:"logging"`
	App        AppConfig        `yaml:"app"`
	Submission SubmissionConfig `yaml:"submission"`
	Worker     WorkerConfig     `yaml:"worker"`
	Relay      RelayConfig      `yaml:"relay"`
	Webhook    WebhookConfig    `yaml:"webhook"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// RabbitMQConfig holds RabbitMQ connection and topology configuration
type RabbitMQConfig struct {
	Host          string           `yaml:"host"`
	Port          int              `yaml:"port"`
	User          string           `yaml:"user"`
	Password      string           `yaml:"password"`
	VHost         string           `yaml:"vhost"`
	Exchange      ExchangeConfig   `yaml:"exchange"`
	RequestQueue  QueueConfig      `yaml:"request_queue"`
	ResponseQueue QueueConfig      `yaml:"response_queue"`
	DeadLetter    DeadLetterConfig `yaml:"dead_letter"`
	Connection    ConnectionConfig `yaml:"connection"`
	Publish       PublishConfig    `yaml:"publish"`
	Consumer      ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration. The routing key defaults
// to the queue name.
type QueueConfig struct {
	Name       string `yaml:"name"`
	RoutingKey string `yaml:"routing_key"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// DeadLetterConfig holds the dead-letter exchange configuration
type DeadLetterConfig struct {
	Exchange string `yaml:"exchange"`
	Suffix   string `yaml:"suffix"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	ConfirmTimeout    time.Duration `yaml:"confirm_timeout"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount   int `yaml:"prefetch_count"`
	MaxRedeliveries int `yaml:"max_redeliveries"`
}

// RedisConfig holds the optional query cache configuration
type RedisConfig struct {
	Enabled bool          `yaml:"enabled"`
	URL     string        `yaml:"url"`
	TTL     time.Duration `yaml:"ttl"`
	Prefix  string        `yaml:"prefix"`
}

// StorageConfig holds artifact storage configuration
type StorageConfig struct {
	Mode           string `yaml:"mode"` // s3 or local
	Bucket         string `yaml:"bucket"`
	Endpoint       string `yaml:"endpoint"`
	Region         string `yaml:"region"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	ForcePathStyle bool   `yaml:"force_path_style"`
	LocalDir       string `yaml:"local_dir"`
	LocalBaseURL   string `yaml:"local_base_url"`
	KeyPrefix      string `yaml:"key_prefix"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	EnableCaller     bool   `yaml:"enable_caller"`
	EnableStackTrace bool   `yaml:"enable_stack_trace"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// SubmissionConfig holds submission admission and outbox settings
type SubmissionConfig struct {
	MaxQueueDepth        int           `yaml:"max_queue_depth"`
	RepublishInterval    time.Duration `yaml:"republish_interval"`
	RepublishGracePeriod time.Duration `yaml:"republish_grace_period"`
	RepublishBatchSize   int           `yaml:"republish_batch_size"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	ID              string        `yaml:"id"`
	Concurrency     int           `yaml:"concurrency"`
	JobTimeout      time.Duration `yaml:"job_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RenderDelay     time.Duration `yaml:"render_delay"`
}

// RelayConfig holds completion relay configuration
type RelayConfig struct {
	ID              string        `yaml:"id"`
	Concurrency     int           `yaml:"concurrency"`
	UpdateTimeout   time.Duration `yaml:"update_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// WebhookConfig holds callback notifier configuration
type WebhookConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	QueueSize      int           `yaml:"queue_size"`
	Workers        int           `yaml:"workers"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

// applyDefaults fills settings that have a single sensible value
func (c *Config) applyDefaults() {
	if c.RabbitMQ.Exchange.Type == "" {
		c.RabbitMQ.Exchange.Type = "direct"
	}
	if c.RabbitMQ.RequestQueue.RoutingKey == "" {
		c.RabbitMQ.RequestQueue.RoutingKey = c.RabbitMQ.RequestQueue.Name
	}
	if c.RabbitMQ.ResponseQueue.RoutingKey == "" {
		c.RabbitMQ.ResponseQueue.RoutingKey = c.RabbitMQ.ResponseQueue.Name
	}
	if c.RabbitMQ.DeadLetter.Suffix == "" {
		c.RabbitMQ.DeadLetter.Suffix = ".dlq"
	}
	if c.RabbitMQ.Consumer.PrefetchCount <= 0 {
		c.RabbitMQ.Consumer.PrefetchCount = 1
	}
	if c.Storage.Mode == "" {
		c.Storage.Mode = "local"
	}
}

// ValidateAPIConfig checks the settings used by the api service
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if c.Submission.MaxQueueDepth < 0 {
		return fmt.Errorf("submission max_queue_depth must not be negative")
	}

	if c.Redis.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("redis url is required when redis is enabled")
	}

	return nil
}

// ValidateWorkerConfig checks the settings used by the worker service
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	switch c.Storage.Mode {
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage bucket is required for s3 mode")
		}
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage local_dir is required for local mode")
		}
	default:
		return fmt.Errorf("unknown storage mode: %s", c.Storage.Mode)
	}

	return nil
}

// ValidateRelayConfig checks the settings used by the relay service
func (c *Config) ValidateRelayConfig() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if c.Relay.Concurrency <= 0 {
		return fmt.Errorf("relay concurrency must be greater than 0")
	}

	if c.Relay.ShutdownTimeout <= 0 {
		return fmt.Errorf("relay shutdown_timeout must be greater than 0")
	}

	if c.Webhook.Enabled && c.Webhook.MaxAttempts <= 0 {
		return fmt.Errorf("webhook max_attempts must be greater than 0")
	}

	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.RequestQueue.Name == "" {
		return fmt.Errorf("rabbitmq request queue name is required")
	}

	if c.RabbitMQ.ResponseQueue.Name == "" {
		return fmt.Errorf("rabbitmq response queue name is required")
	}

	if c.RabbitMQ.RequestQueue.Name == c.RabbitMQ.ResponseQueue.Name {
		return fmt.Errorf("rabbitmq request and response queues must differ")
	}

	if c.RabbitMQ.Consumer.MaxRedeliveries < 0 {
		return fmt.Errorf("rabbitmq consumer max_redeliveries must not be negative")
	}

	return nil
}
