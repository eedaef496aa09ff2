package config

import (
	"time"

	"github.com/cuongbtq/compute-jobs/shared/logger"
	"github.com/cuongbtq/compute-jobs/shared/postgresql"
	"github.com/cuongbtq/compute-jobs/shared/rabbitmq"
)

// LoggerConfig maps the logging section onto the shared logger
func (c *LoggingConfig) LoggerConfig() *logger.Config {
	return &logger.Config{
		Level:        c.Level,
		Format:       c.Format,
		Output:       c.Output,
		EnableSource: c.EnableCaller,
		TimeFormat:   time.RFC3339,
	}
}

// PostgresConfig maps the database section onto the shared client
func (c *DatabaseConfig) PostgresConfig() *postgresql.Config {
	return &postgresql.Config{
		Host:            c.Host,
		Port:            c.Port,
		User:            c.User,
		Password:        c.Password,
		Database:        c.Database,
		SSLMode:         c.SSLMode,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		ConnMaxIdleTime: c.ConnMaxIdleTime,
	}
}

// ClientConfig maps the rabbitmq section onto the shared client. Both the
// request and the response queue are declared by every service so that
// startup order does not matter.
func (c *RabbitMQConfig) ClientConfig() *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:               c.Host,
		Port:               c.Port,
		User:               c.User,
		Password:           c.Password,
		VHost:              c.VHost,
		ExchangeName:       c.Exchange.Name,
		ExchangeType:       c.Exchange.Type,
		ExchangeDurable:    c.Exchange.Durable,
		ExchangeAutoDelete: c.Exchange.AutoDelete,
		DeadLetterExchange: c.DeadLetter.Exchange,
		DeadLetterSuffix:   c.DeadLetter.Suffix,
		Queues: []rabbitmq.QueueSpec{
			queueSpec(c.RequestQueue),
			queueSpec(c.ResponseQueue),
		},
		RetryAttempts:      c.Connection.RetryAttempts,
		RetryInterval:      c.Connection.RetryInterval,
		Heartbeat:          c.Connection.Heartbeat,
		ConnectionTimeout:  c.Connection.ConnectionTimeout,
		PublishRetries:     c.Publish.RetryAttempts,
		PublishRetryDelay:  c.Publish.RetryInterval,
		PublishBackoffMult: c.Publish.BackoffMultiplier,
		ConfirmTimeout:     c.Publish.ConfirmTimeout,
	}
}

func queueSpec(q QueueConfig) rabbitmq.QueueSpec {
	return rabbitmq.QueueSpec{
		Name:       q.Name,
		RoutingKey: q.RoutingKey,
		Durable:    q.Durable,
		AutoDelete: q.AutoDelete,
		Exclusive:  q.Exclusive,
	}
}
