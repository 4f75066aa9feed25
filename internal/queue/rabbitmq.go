package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/dvt-pipeline/shared/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitQueue adapts a RabbitMQ queue to Queue.
//
// A received message stays unacknowledged on the client's channel until
// Delete or Release. AMQP has no per-message lease: an unacked message only
// returns to the queue when it is released, when the channel closes, or when
// the broker's consumer timeout (consumer_timeout, 30 minutes by default)
// closes the channel for it. That timeout caps the effective lease and must
// exceed the longest job. Delays go through the paired delay queue and its
// per-message expiration.
type RabbitQueue struct {
	client *rabbitmq.Client
	name   string
}

// NewRabbitQueue binds a RabbitQueue to a queue declared by client
func NewRabbitQueue(client *rabbitmq.Client, name string) *RabbitQueue {
	return &RabbitQueue{client: client, name: name}
}

func (q *RabbitQueue) Send(ctx context.Context, body string, attributes map[string]string, delay time.Duration) error {
	headers := amqp.Table{}
	for k, v := range attributes {
		headers[k] = v
	}

	msg := amqp.Publishing{
		ContentType: "text/plain",
		Body:        []byte(body),
		Headers:     headers,
	}

	target := q.name
	if delay > 0 {
		target = q.client.DelayQueueName(q.name)
		msg.Expiration = strconv.FormatInt(delay.Milliseconds(), 10)
	}

	if err := q.client.Publish(ctx, target, msg); err != nil {
		return fmt.Errorf("send to %s: %w", q.name, err)
	}
	return nil
}

// Receive ignores lease; see the type comment.
func (q *RabbitQueue) Receive(ctx context.Context, _ time.Duration, wait time.Duration) (*Message, error) {
	return waitForMessage(ctx, wait, func() (*Message, error) {
		delivery, ok, err := q.client.Get(q.name)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		return deliveryToMessage(delivery), nil
	})
}

func (q *RabbitQueue) Delete(_ context.Context, receiptHandle string) error {
	generation, tag, err := parseReceipt(receiptHandle)
	if err != nil {
		return err
	}
	if err := q.client.Ack(generation, tag); err != nil {
		if errors.Is(err, rabbitmq.ErrStaleDelivery) {
			return fmt.Errorf("%w: %v", ErrReceiptExpired, err)
		}
		return err
	}
	return nil
}

// Release requeues the message at once instead of waiting for the channel
// to close
func (q *RabbitQueue) Release(_ context.Context, receiptHandle string) error {
	generation, tag, err := parseReceipt(receiptHandle)
	if err != nil {
		return err
	}
	if err := q.client.Requeue(generation, tag); err != nil && !errors.Is(err, rabbitmq.ErrStaleDelivery) {
		return err
	}
	return nil
}

// Receipt handles are "<channel generation>:<delivery tag>".
func formatReceipt(generation, tag uint64) string {
	return strconv.FormatUint(generation, 10) + ":" + strconv.FormatUint(tag, 10)
}

func parseReceipt(receiptHandle string) (generation, tag uint64, err error) {
	g, t, ok := strings.Cut(receiptHandle, ":")
	if ok {
		generation, err = strconv.ParseUint(g, 10, 64)
		if err == nil {
			tag, err = strconv.ParseUint(t, 10, 64)
		}
	}
	if !ok || err != nil {
		return 0, 0, fmt.Errorf("malformed receipt handle %q", receiptHandle)
	}
	return generation, tag, nil
}

func deliveryToMessage(d rabbitmq.Delivery) *Message {
	attrs := make(map[string]string, len(d.Headers))
	for k, v := range d.Headers {
		if s, ok := v.(string); ok {
			attrs[k] = s
		}
	}

	count := 1
	// Quorum queues track deliveries; classic queues only flag redelivery.
	if n, ok := d.Headers["x-delivery-count"].(int64); ok {
		count = int(n) + 1
	} else if d.Redelivered {
		count = 2
	}

	return &Message{
		ID:            d.MessageId,
		Body:          string(d.Body),
		Attributes:    attrs,
		ReceiptHandle: formatReceipt(d.Generation, d.DeliveryTag),
		ReceiveCount:  count,
	}
}

var (
	_ Queue    = (*RabbitQueue)(nil)
	_ Releaser = (*RabbitQueue)(nil)
)
