package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echocrm/backend/pkg/config"
	"github.com/echocrm/backend/pkg/logger"
)

type fakeChannel struct {
	mu        sync.Mutex
	declared  []string
	published []amqp.Publishing
	routes    []string
	qos       int
	delivery  chan amqp.Delivery
	pubErr    error
	closed    bool
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !durable {
		return amqp.Queue{}, errors.New("expected durable queue")
	}
	f.declared = append(f.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pubErr != nil {
		return f.pubErr
	}
	f.published = append(f.published, msg)
	f.routes = append(f.routes, key)
	return nil
}

func (f *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.qos = prefetchCount
	return nil
}

func (f *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	return f.delivery, nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeConnection struct {
	mu       sync.Mutex
	channels []*fakeChannel
	notify   chan *amqp.Error
	closed   bool
}

func (f *fakeConnection) Channel() (Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := &fakeChannel{delivery: make(chan amqp.Delivery, 16)}
	f.channels = append(f.channels, ch)
	return ch, nil
}

func (f *fakeConnection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notify = receiver
	return receiver
}

func (f *fakeConnection) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	if f.notify != nil {
		close(f.notify)
		f.notify = nil
	}
	return nil
}

func (f *fakeConnection) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type recordingAcker struct {
	mu     sync.Mutex
	acks   int
	nacks  int
	done   chan struct{}
	expect int
}

func (r *recordingAcker) bump() {
	if r.acks+r.nacks == r.expect {
		close(r.done)
	}
}

func (r *recordingAcker) Ack(tag uint64, multiple bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acks++
	r.bump()
	return nil
}

func (r *recordingAcker) Nack(tag uint64, multiple, requeue bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if requeue {
		return errors.New("requeue must be false")
	}
	r.nacks++
	r.bump()
	return nil
}

func (r *recordingAcker) Reject(tag uint64, requeue bool) error {
	return nil
}

func testBrokerConfig() config.BrokerConfig {
	return config.BrokerConfig{
		URL:                  "amqp://test",
		MaxRetries:           3,
		RetryDelay:           time.Millisecond,
		DataIngestionQueue:   "echo_data_ingestion_queue",
		DeliveryReceiptQueue: "echo_delivery_receipt_queue",
		CampaignQueue:        "echo_campaign_processing_queue",
	}
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: discard{}})
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestConnectDeclaresDurableQueues(t *testing.T) {
	conn := &fakeConnection{}
	client := New(testBrokerConfig(), testLogger(), WithDialer(func(url string) (Connection, error) {
		return conn, nil
	}))

	require.NoError(t, client.Connect(context.Background()))
	require.Len(t, conn.channels, 1)
	assert.ElementsMatch(t, []string{
		"echo_data_ingestion_queue",
		"echo_delivery_receipt_queue",
		"echo_campaign_processing_queue",
	}, conn.channels[0].declared)
	assert.True(t, client.Ready())
}

func TestConnectRetriesWithBackoff(t *testing.T) {
	attempts := 0
	conn := &fakeConnection{}
	client := New(testBrokerConfig(), testLogger(), WithDialer(func(url string) (Connection, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("connection refused")
		}
		return conn, nil
	}))

	require.NoError(t, client.Connect(context.Background()))
	assert.Equal(t, 3, attempts)
}

func TestConnectGivesUpAfterMaxRetries(t *testing.T) {
	attempts := 0
	client := New(testBrokerConfig(), testLogger(), WithDialer(func(url string) (Connection, error) {
		attempts++
		return nil, errors.New("connection refused")
	}))

	err := client.Connect(context.Background())
	require.Error(t, err)
	// Initial attempt plus MaxRetries.
	assert.Equal(t, 4, attempts)
	assert.False(t, client.Ready())
}

func TestPublishMarksMessagesPersistent(t *testing.T) {
	conn := &fakeConnection{}
	client := New(testBrokerConfig(), testLogger(), WithDialer(func(url string) (Connection, error) {
		return conn, nil
	}))
	require.NoError(t, client.Connect(context.Background()))

	ok := client.Publish(context.Background(), "echo_campaign_processing_queue", map[string]string{
		"campaignDefinitionId": "abc-123",
	})
	require.True(t, ok)

	ch := conn.channels[0]
	require.Len(t, ch.published, 1)
	msg := ch.published[0]
	assert.Equal(t, uint8(amqp.Persistent), msg.DeliveryMode)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, "echo_campaign_processing_queue", ch.routes[0])

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(msg.Body, &decoded))
	assert.Equal(t, "abc-123", decoded["campaignDefinitionId"])
}

func TestPublishReturnsFalseWhenDisconnected(t *testing.T) {
	client := New(testBrokerConfig(), testLogger(), WithDialer(func(url string) (Connection, error) {
		return nil, errors.New("unreachable")
	}))
	_ = client.Connect(context.Background())

	ok := client.Publish(context.Background(), "echo_campaign_processing_queue", map[string]string{"a": "b"})
	assert.False(t, ok)
}

func TestConsumeHonorsAckPolicy(t *testing.T) {
	conn := &fakeConnection{}
	client := New(testBrokerConfig(), testLogger(), WithDialer(func(url string) (Connection, error) {
		return conn, nil
	}))
	require.NoError(t, client.Connect(context.Background()))

	acker := &recordingAcker{done: make(chan struct{}), expect: 3}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumeErr := make(chan error, 1)
	go func() {
		consumeErr <- client.Consume(ctx, "echo_data_ingestion_queue", 5, func(ctx context.Context, body []byte) AckPolicy {
			if string(body) == "poison" {
				return DropNack
			}
			return Ack
		})
	}()

	// The consumer channel is the second one opened on the connection.
	var consumerCh *fakeChannel
	require.Eventually(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		if len(conn.channels) < 2 {
			return false
		}
		consumerCh = conn.channels[1]
		return true
	}, time.Second, time.Millisecond)

	assert.Equal(t, 5, consumerCh.qos)

	consumerCh.delivery <- amqp.Delivery{Acknowledger: acker, Body: []byte("good")}
	consumerCh.delivery <- amqp.Delivery{Acknowledger: acker, Body: []byte("poison")}
	consumerCh.delivery <- amqp.Delivery{Acknowledger: acker, Body: []byte("good")}

	select {
	case <-acker.done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for deliveries to be settled")
	}

	acker.mu.Lock()
	assert.Equal(t, 2, acker.acks)
	assert.Equal(t, 1, acker.nacks)
	acker.mu.Unlock()

	cancel()
	require.ErrorIs(t, <-consumeErr, context.Canceled)
}

func TestReconnectOnConnectionClose(t *testing.T) {
	first := &fakeConnection{}
	second := &fakeConnection{}
	dials := 0
	client := New(testBrokerConfig(), testLogger(), WithDialer(func(url string) (Connection, error) {
		dials++
		if dials == 1 {
			return first, nil
		}
		return second, nil
	}))

	require.NoError(t, client.Connect(context.Background()))

	// The close watcher registers its channel from a goroutine, so wait for
	// it before injecting the close event.
	require.Eventually(t, func() bool {
		first.mu.Lock()
		defer first.mu.Unlock()
		return first.notify != nil
	}, time.Second, time.Millisecond)

	first.mu.Lock()
	notify := first.notify
	first.mu.Unlock()
	notify <- &amqp.Error{Code: amqp.ConnectionForced, Reason: "server shutdown"}

	require.Eventually(t, func() bool {
		return dials == 2 && client.Ready()
	}, time.Second, time.Millisecond)

	second.mu.Lock()
	declared := append([]string(nil), second.channels[0].declared...)
	second.mu.Unlock()
	assert.Len(t, declared, 3)
}
