package rabbitmq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RetryCountHeader counts application-level redeliveries of a message
const RetryCountHeader = "x-retry-count"

// RetryCount reads the retry counter from delivery headers
func RetryCount(headers amqp.Table) int {
	switch v := headers[RetryCountHeader].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case uint8:
		return int(v)
	case uint16:
		return int(v)
	case uint32:
		return int(v)
	default:
		return 0
	}
}

// RetryMessage copies a delivery into a new message with the retry counter
// incremented, so it can be published back to the tail of its queue
func RetryMessage(d amqp.Delivery, routingKey string) Message {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[RetryCountHeader] = int32(RetryCount(d.Headers) + 1)

	return Message{
		RoutingKey:    routingKey,
		CorrelationID: d.CorrelationId,
		ReplyTo:       d.ReplyTo,
		ContentType:   d.ContentType,
		Headers:       headers,
		Body:          d.Body,
	}
}

// Requeue publishes a copy of the delivery with an incremented retry
// counter and acknowledges the original once the copy is confirmed
func (c *Client) Requeue(ctx context.Context, d amqp.Delivery, routingKey string) error {
	if err := c.Publish(ctx, RetryMessage(d, routingKey)); err != nil {
		return fmt.Errorf("failed to requeue message: %w", err)
	}
	if err := d.Ack(false); err != nil {
		return fmt.Errorf("failed to ack requeued message: %w", err)
	}
	return nil
}
