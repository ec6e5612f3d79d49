package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"

	"github.com/echocrm/backend/pkg/config"
	"github.com/echocrm/backend/pkg/logger"
)

// AckPolicy tells the consume loop what to do with a delivery after the
// handler returns.
type AckPolicy int

const (
	// Ack acknowledges the delivery.
	Ack AckPolicy = iota
	// DropNack negatively acknowledges without requeue; the message is
	// presumed poison and discarded rather than retried indefinitely.
	DropNack
)

// Handler processes one raw message body and decides its ack policy.
type Handler func(ctx context.Context, body []byte) AckPolicy

// Publisher is the narrow publish surface services depend on.
type Publisher interface {
	Publish(ctx context.Context, queue string, v any) bool
}

// Connection abstracts the subset of the AMQP connection the client needs,
// so tests can stand in a fake.
type Connection interface {
	Channel() (Channel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
	IsClosed() bool
}

// Channel abstracts the AMQP channel operations used by the client.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// Dialer opens a broker connection. The default dials RabbitMQ.
type Dialer func(url string) (Connection, error)

func amqpDialer(url string) (Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return &amqpConnection{conn: conn}, nil
}

type amqpConnection struct {
	conn *amqp.Connection
}

func (c *amqpConnection) Channel() (Channel, error) {
	return c.conn.Channel()
}

func (c *amqpConnection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	return c.conn.NotifyClose(receiver)
}

func (c *amqpConnection) Close() error {
	return c.conn.Close()
}

func (c *amqpConnection) IsClosed() bool {
	return c.conn.IsClosed()
}

// Client owns one broker connection plus the publishing channel. It is
// injected into every consumer and controller that publishes; nothing holds
// broker state globally. Connect is retried with a fixed backoff and the
// client reconnects on connection-closed notifications, redeclaring the
// durable queues each time.
type Client struct {
	cfg    config.BrokerConfig
	logg   *logger.Logger
	dialer Dialer

	mu     sync.Mutex
	conn   Connection
	pub    Channel
	closed bool
}

// Option customizes the client.
type Option func(*Client)

// WithDialer overrides how the client opens connections.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// New builds an unconnected client. Call Connect before use.
func New(cfg config.BrokerConfig, logg *logger.Logger, opts ...Option) *Client {
	c := &Client{
		cfg:    cfg,
		logg:   logg,
		dialer: amqpDialer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect establishes the connection, declares the durable queues, and
// installs the reconnect watcher. It is idempotent and returns an error
// only after exhausting the configured retries; callers must tolerate a
// disconnected client and degrade (Publish returns false).
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("broker client is closed")
	}
	if c.conn != nil && !c.conn.IsClosed() {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	backoff := retry.WithMaxRetries(uint64(c.cfg.MaxRetries), retry.NewConstant(c.cfg.RetryDelay))
	attempt := 0

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := c.dial(ctx); err != nil {
			logCtx := c.logg.WithField(ctx, "attempt", attempt)
			c.logg.Warn(logCtx, "broker connection attempt failed")
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		c.logg.Error(ctx, "all broker connection attempts failed", err)
		return fmt.Errorf("connecting to broker: %w", err)
	}

	c.logg.Info(ctx, "broker connected and queues declared")
	return nil
}

func (c *Client) dial(ctx context.Context) error {
	conn, err := c.dialer(c.cfg.URL)
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("opening channel: %w", err)
	}

	for _, queue := range c.cfg.QueueNames() {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return fmt.Errorf("declaring queue %s: %w", queue, err)
		}
	}

	c.mu.Lock()
	c.conn = conn
	c.pub = ch
	c.mu.Unlock()

	go c.watchClose(ctx, conn)
	return nil
}

// watchClose reconnects when the broker drops the connection.
func (c *Client) watchClose(ctx context.Context, conn Connection) {
	closeCh := conn.NotifyClose(make(chan *amqp.Error, 1))
	reason, ok := <-closeCh
	if !ok {
		// Clean shutdown via Close.
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.pub = nil
	c.mu.Unlock()

	logCtx := c.logg.WithField(ctx, "reason", reason.Error())
	c.logg.Warn(logCtx, "broker connection closed, attempting to reconnect")

	if err := c.Connect(ctx); err != nil {
		c.logg.Error(ctx, "broker reconnect failed", err)
	}
}

// Ready reports whether the client currently holds a live connection.
func (c *Client) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.conn.IsClosed()
}

// Ping satisfies the health-check surface.
func (c *Client) Ping(ctx context.Context) error {
	if !c.Ready() {
		return fmt.Errorf("broker not connected")
	}
	return nil
}

// Publish marshals v as JSON and sends it to the named queue with the
// persistent delivery mode. A false return means the message is not
// guaranteed delivered; callers must treat it as a hard failure and
// compensate.
func (c *Client) Publish(ctx context.Context, queue string, v any) bool {
	c.mu.Lock()
	ch := c.pub
	c.mu.Unlock()

	if ch == nil {
		c.logg.Error(c.logg.WithQueue(ctx, queue), "broker channel not available, message not published", nil)
		return false
	}

	body, err := json.Marshal(v)
	if err != nil {
		c.logg.Error(c.logg.WithQueue(ctx, queue), "failed to marshal message", err)
		return false
	}

	err = ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		c.logg.Error(c.logg.WithQueue(ctx, queue), "failed to publish message", err)
		return false
	}
	return true
}

// Consume opens a dedicated channel with the given prefetch window and
// blocks, feeding deliveries to the handler until the context is canceled
// or the delivery stream ends (for example on a connection drop, in which
// case the caller should retry after the client reconnects).
func (c *Client) Consume(ctx context.Context, queue string, prefetch int, handler Handler) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("broker not connected")
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("opening consumer channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("setting prefetch: %w", err)
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("starting consumer on %s: %w", queue, err)
	}

	logCtx := c.logg.WithQueue(ctx, queue)
	c.logg.Info(logCtx, "consumer waiting for messages")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery stream for %s closed", queue)
			}
			switch handler(ctx, d.Body) {
			case Ack:
				if err := d.Ack(false); err != nil {
					c.logg.Error(logCtx, "failed to ack delivery", err)
				}
			case DropNack:
				if err := d.Nack(false, false); err != nil {
					c.logg.Error(logCtx, "failed to nack delivery", err)
				}
			}
		}
	}
}

// Close shuts the publishing channel and the connection down.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	var err error
	if c.pub != nil {
		err = multierr.Append(err, c.pub.Close())
		c.pub = nil
	}
	if c.conn != nil {
		err = multierr.Append(err, c.conn.Close())
		c.conn = nil
	}
	return err
}
