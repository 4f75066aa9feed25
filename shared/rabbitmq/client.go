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

var (
	// ErrNotConnected is returned when the client has been closed or never connected
	ErrNotConnected = errors.New("not connected to RabbitMQ")

	// ErrStaleDelivery is returned when acking or rejecting a delivery taken
	// from a channel that has since closed. The broker has already requeued it.
	ErrStaleDelivery = errors.New("delivery belongs to a closed channel")
)

// Config holds RabbitMQ connection configuration
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	VHost              string
	Queues             []string
	QueueDurable       bool
	DelayQueueSuffix   string
	RetryAttempts      int
	RetryInterval      time.Duration
	Heartbeat          time.Duration
	PublishRetries     int
	PublishRetryDelay  time.Duration
	PublishBackoffMult float64
}

// Client represents a RabbitMQ client. Every queue in Config.Queues is declared
// together with a delay queue that dead-letters expired messages back into it.
//
// The channel is reopened on the next operation after the broker closes it,
// for example when an unacked delivery outlives the consumer timeout. Each
// reopen starts a new generation; delivery tags are only valid within the
// generation that issued them.
type Client struct {
	config      *Config
	conn        *amqp.Connection
	channel     *amqp.Channel
	closeChan   chan *amqp.Error
	generation  uint64
	logger      *slog.Logger
	mu          sync.Mutex
	isConnected bool
}

// Delivery is a message fetched by Get together with the channel
// generation its tag belongs to
type Delivery struct {
	amqp.Delivery
	Generation uint64
}

// NewClient creates a new RabbitMQ client
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

// connect establishes connection to RabbitMQ with retry logic
func (c *Client) connect() error {
	if err := c.dial(); err != nil {
		return err
	}

	if err := c.openChannel(); err != nil {
		c.conn.Close()
		return err
	}

	c.isConnected = true

	c.logger.Info("RabbitMQ client initialized",
		slog.Any("queues", c.config.Queues),
	)

	return nil
}

func (c *Client) dial() error {
	var err error

	dsn := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		c.config.User,
		c.config.Password,
		c.config.Host,
		c.config.Port,
		c.config.VHost,
	)

	amqpConfig := amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
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

		c.conn, err = amqp.DialConfig(dsn, amqpConfig)
		if err == nil {
			c.logger.Info("Successfully connected to RabbitMQ")
			return nil
		}

		c.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)

		if attempt < attempts {
			time.Sleep(c.config.RetryInterval)
		}
	}

	return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
}

// openChannel opens a channel, declares the queues on it and watches it for
// closure. It starts a new delivery generation.
func (c *Client) openChannel() error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to create channel: %w", err)
	}

	c.channel = ch
	if err := c.setup(); err != nil {
		ch.Close()
		return fmt.Errorf("failed to setup queues: %w", err)
	}

	// Monitor channel
	c.closeChan = make(chan *amqp.Error, 1)
	c.channel.NotifyClose(c.closeChan)
	c.generation++
	return nil
}

// ensureChannel reopens the channel, and the connection under it, after the
// broker closed them. Callers hold c.mu.
func (c *Client) ensureChannel() error {
	if !c.isConnected {
		return ErrNotConnected
	}

	closed := c.channel == nil || c.channel.IsClosed()
	select {
	case reason, ok := <-c.closeChan:
		closed = true
		if ok && reason != nil {
			c.logger.Warn("RabbitMQ channel closed by broker",
				slog.Int("code", reason.Code),
				slog.String("reason", reason.Reason),
			)
		}
	default:
	}
	if !closed {
		return nil
	}

	if c.conn == nil || c.conn.IsClosed() {
		if err := c.dial(); err != nil {
			return err
		}
	}
	if err := c.openChannel(); err != nil {
		return err
	}

	c.logger.Info("RabbitMQ channel reopened", slog.Uint64("generation", c.generation))
	return nil
}

// DelayQueueName returns the name of the delay queue paired with queue
func (c *Client) DelayQueueName(queue string) string {
	suffix := c.config.DelayQueueSuffix
	if suffix == "" {
		suffix = ".delay"
	}
	return queue + suffix
}

// setup declares each work queue and its delay queue
func (c *Client) setup() error {
	for _, name := range c.config.Queues {
		_, err := c.channel.QueueDeclare(
			name,                  // name
			c.config.QueueDurable, // durable
			false,                 // auto-delete
			false,                 // exclusive
			false,                 // no-wait
			nil,                   // arguments
		)
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", name, err)
		}

		// Messages published here with an expiration are routed to the work
		// queue through the default exchange once they expire.
		_, err = c.channel.QueueDeclare(
			c.DelayQueueName(name),
			c.config.QueueDurable,
			false,
			false,
			false,
			amqp.Table{
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		)
		if err != nil {
			return fmt.Errorf("failed to declare delay queue for %s: %w", name, err)
		}
	}

	return nil
}

// Publish publishes msg to queue through the default exchange, retrying with
// exponential backoff
func (c *Client) Publish(ctx context.Context, queue string, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isConnected {
		return ErrNotConnected
	}

	maxRetries := c.config.PublishRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	baseDelay := c.config.PublishRetryDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	backoffMult := c.config.PublishBackoffMult
	if backoffMult <= 0 {
		backoffMult = 2.0
	}

	if msg.DeliveryMode == 0 {
		msg.DeliveryMode = amqp.Persistent
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	var lastErr error
	delay := baseDelay
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := c.ensureChannel()
		if err == nil {
			err = c.channel.PublishWithContext(
				ctx,
				"",    // default exchange
				queue, // routing key
				false, // mandatory
				false, // immediate
				msg,
			)
		}
		if err == nil {
			c.logger.Debug("Message published to RabbitMQ",
				slog.String("queue", queue),
				slog.Int("body_size", len(msg.Body)),
				slog.Int("attempt", attempt+1),
			)
			return nil
		}

		lastErr = err

		if attempt < maxRetries {
			c.logger.Warn("Failed to publish message to RabbitMQ, retrying...",
				slog.Int("attempt", attempt+1),
				slog.Int("max_retries", maxRetries),
				slog.Duration("retry_after", delay),
				slog.Any("error", err),
			)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * backoffMult)
		}
	}

	c.logger.Error("Failed to publish message to RabbitMQ after all retries",
		slog.Int("attempts", maxRetries+1),
		slog.Any("error", lastErr),
	)
	return fmt.Errorf("failed to publish message after %d attempts: %w", maxRetries+1, lastErr)
}

// Get fetches at most one message from queue without auto-ack. The message
// stays unacknowledged, and invisible to other consumers, until it is acked,
// rejected, or its channel closes.
func (c *Client) Get(queue string) (Delivery, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureChannel(); err != nil {
		return Delivery{}, false, err
	}

	delivery, ok, err := c.channel.Get(queue, false)
	if err != nil {
		return Delivery{}, false, fmt.Errorf("failed to get message from %s: %w", queue, err)
	}
	return Delivery{Delivery: delivery, Generation: c.generation}, ok, nil
}

// Ack acknowledges a delivery obtained from Get
func (c *Client) Ack(generation, tag uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkGeneration(generation); err != nil {
		return err
	}
	if err := c.channel.Ack(tag, false); err != nil {
		return fmt.Errorf("failed to ack delivery %d: %w", tag, err)
	}
	return nil
}

// Requeue returns a delivery obtained from Get to the head of its queue
func (c *Client) Requeue(generation, tag uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkGeneration(generation); err != nil {
		return err
	}
	if err := c.channel.Nack(tag, false, true); err != nil {
		return fmt.Errorf("failed to requeue delivery %d: %w", tag, err)
	}
	return nil
}

func (c *Client) checkGeneration(generation uint64) error {
	if err := c.ensureChannel(); err != nil {
		return err
	}
	if generation != c.generation {
		return fmt.Errorf("%w: generation %d, current %d", ErrStaleDelivery, generation, c.generation)
	}
	return nil
}

// Check reopens a closed channel and reports whether the client is usable
func (c *Client) Check() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureChannel()
}

// Close closes the RabbitMQ connection
func (c *Client) Close() error {
	c.logger.Info("Closing RabbitMQ connection")

	c.mu.Lock()
	defer c.mu.Unlock()

	c.isConnected = false

	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			c.logger.Error("Failed to close RabbitMQ channel",
				slog.Any("error", err),
			)
		}
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("Failed to close RabbitMQ connection",
				slog.Any("error", err),
			)
			return err
		}
	}

	c.logger.Info("RabbitMQ connection closed successfully")
	return nil
}

// IsConnected reports whether both the connection and the channel are open
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isConnected && c.conn != nil && !c.conn.IsClosed() &&
		c.channel != nil && !c.channel.IsClosed()
}
