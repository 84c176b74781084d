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

// ErrNotConnected is returned by operations on a closed client
var ErrNotConnected = errors.New("not connected to RabbitMQ")

// Config holds RabbitMQ connection configuration
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
	QueueName          string
	QueueDurable       bool
	QueueAutoDelete    bool
	QueueExclusive     bool
	RoutingKey         string
	RetryAttempts      int
	RetryInterval      time.Duration
	Heartbeat          time.Duration
	ConnectionTimeout  time.Duration
	// ConfirmTimeout bounds the wait for broker confirms of one publish batch
	ConfirmTimeout time.Duration
}

// Client is a RabbitMQ client with publisher confirms enabled on its channel
type Client struct {
	config      *Config
	conn        *amqp.Connection
	channel     *amqp.Channel
	logger      *slog.Logger
	closeChan   chan *amqp.Error
	publishMu   sync.Mutex
	isConnected bool
}

// NewClient creates a new RabbitMQ client
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	client := &Client{
		config:      config,
		logger:      logger,
		closeChan:   make(chan *amqp.Error),
		isConnected: false,
	}

	if err := client.connect(); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	return client, nil
}

// connect establishes connection to RabbitMQ with retry logic
func (c *Client) connect() error {
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
	if c.config.ConnectionTimeout > 0 {
		amqpConfig.Dial = amqp.DefaultDial(c.config.ConnectionTimeout)
	}

	attempts := max(c.config.RetryAttempts, 1)
	for attempt := 1; attempt <= attempts; attempt++ {
		c.logger.Info("Connecting to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)

		c.conn, err = amqp.DialConfig(dsn, amqpConfig)
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

	c.channel, err = c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	if err := c.channel.Confirm(false); err != nil {
		c.channel.Close()
		c.conn.Close()
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	if err := c.setup(); err != nil {
		c.channel.Close()
		c.conn.Close()
		return fmt.Errorf("failed to setup exchange and queue: %w", err)
	}

	c.closeChan = make(chan *amqp.Error, 1)
	c.channel.NotifyClose(c.closeChan)
	c.isConnected = true

	c.logger.Info("RabbitMQ client initialized",
		slog.String("exchange", c.config.ExchangeName),
		slog.String("queue", c.config.QueueName),
	)

	return nil
}

// setup declares exchange, queue, and bindings
func (c *Client) setup() error {
	err := c.channel.ExchangeDeclare(
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

	_, err = c.channel.QueueDeclare(
		c.config.QueueName,       // name
		c.config.QueueDurable,    // durable
		c.config.QueueAutoDelete, // auto-delete
		c.config.QueueExclusive,  // exclusive
		false,                    // no-wait
		nil,                      // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	err = c.channel.QueueBind(
		c.config.QueueName,    // queue name
		c.config.RoutingKey,   // routing key
		c.config.ExchangeName, // exchange
		false,                 // no-wait
		nil,                   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	return nil
}

// PublishConfirmed publishes msgs and waits for the broker to confirm each one.
// The returned slice has one entry per message: nil when confirmed, the failure otherwise.
func (c *Client) PublishConfirmed(ctx context.Context, msgs []amqp.Publishing) []error {
	errs := make([]error, len(msgs))
	if !c.IsConnected() {
		for i := range errs {
			errs[i] = ErrNotConnected
		}
		return errs
	}

	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	confirms := make([]*amqp.DeferredConfirmation, len(msgs))
	for i, msg := range msgs {
		if msg.DeliveryMode == 0 {
			msg.DeliveryMode = amqp.Persistent
		}
		if msg.Timestamp.IsZero() {
			msg.Timestamp = time.Now()
		}

		confirm, err := c.channel.PublishWithDeferredConfirmWithContext(
			ctx,
			c.config.ExchangeName, // exchange
			c.config.RoutingKey,   // routing key
			false,                 // mandatory
			false,                 // immediate
			msg,
		)
		if err != nil {
			c.logger.Error("Failed to publish message to RabbitMQ",
				slog.String("message_id", msg.MessageId),
				slog.Any("error", err),
			)
			errs[i] = fmt.Errorf("failed to publish message: %w", err)
			continue
		}
		confirms[i] = confirm
	}

	waitCtx := ctx
	if c.config.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, c.config.ConfirmTimeout)
		defer cancel()
	}

	for i, confirm := range confirms {
		if confirm == nil {
			continue
		}
		acked, err := confirm.WaitContext(waitCtx)
		switch {
		case err != nil:
			errs[i] = fmt.Errorf("failed to wait for publish confirm: %w", err)
		case !acked:
			errs[i] = fmt.Errorf("message %s was nacked by the broker", msgs[i].MessageId)
		}
	}

	c.logger.Debug("Messages published to RabbitMQ",
		slog.Int("count", len(msgs)),
	)
	return errs
}

// Get fetches one message from the queue without auto-ack. ok is false when the queue is empty.
func (c *Client) Get(ctx context.Context) (amqp.Delivery, bool, error) {
	if !c.IsConnected() {
		return amqp.Delivery{}, false, ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return amqp.Delivery{}, false, err
	}

	delivery, ok, err := c.channel.Get(c.config.QueueName, false)
	if err != nil {
		return amqp.Delivery{}, false, fmt.Errorf("failed to get message: %w", err)
	}
	return delivery, ok, nil
}

// Ack acknowledges a delivery
func (c *Client) Ack(tag uint64) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := c.channel.Ack(tag, false); err != nil {
		return fmt.Errorf("failed to ack delivery %d: %w", tag, err)
	}
	return nil
}

// Nack rejects a delivery, returning it to the queue when requeue is set
func (c *Client) Nack(tag uint64, requeue bool) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := c.channel.Nack(tag, false, requeue); err != nil {
		return fmt.Errorf("failed to nack delivery %d: %w", tag, err)
	}
	return nil
}

// Close closes the RabbitMQ connection
func (c *Client) Close() error {
	c.logger.Info("Closing RabbitMQ connection")

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

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	return c.isConnected && c.conn != nil && !c.conn.IsClosed()
}

// HealthCheck reports whether the channel is still open
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	select {
	case err := <-c.closeChan:
		c.isConnected = false
		return fmt.Errorf("rabbitmq channel closed: %v", err)
	default:
		return nil
	}
}
