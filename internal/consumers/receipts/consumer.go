// Package receipts consumes vendor delivery receipts and applies them to
// the delivery logs in batches.
package receipts

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/echocrm/backend/internal/delivery"
	"github.com/echocrm/backend/internal/events"
	"github.com/echocrm/backend/pkg/broker"
	"github.com/echocrm/backend/pkg/enums"
	"github.com/echocrm/backend/pkg/logger"
	"github.com/echocrm/backend/pkg/metrics"
)

const flushTimeout = 30 * time.Second

type receiptApplier interface {
	BulkApplyReceipts(ctx context.Context, receipts []delivery.Receipt) error
}

// Consumer accumulates receipts in memory and flushes them as one bulk
// update when the batch fills or the linger interval elapses, whichever
// comes first. Messages are acknowledged on enqueue: a crash between ack
// and flush loses that batch, an accepted at-least-once trade-off.
type Consumer struct {
	repo     receiptApplier
	logg     *logger.Logger
	metrics  *metrics.ConsumerMetrics
	queue    string
	prefetch int
	size     int
	interval time.Duration

	mu    sync.Mutex
	batch []delivery.Receipt
	timer *time.Timer
}

// NewConsumer builds the receipt consumer.
func NewConsumer(repo receiptApplier, logg *logger.Logger, consumerMetrics *metrics.ConsumerMetrics, queue string, prefetch, batchSize int, interval time.Duration) (*Consumer, error) {
	if repo == nil {
		return nil, fmt.Errorf("delivery repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("batch interval must be positive")
	}
	return &Consumer{
		repo:     repo,
		logg:     logg,
		metrics:  consumerMetrics,
		queue:    queue,
		prefetch: prefetch,
		size:     batchSize,
		interval: interval,
	}, nil
}

// Run blocks consuming the receipt queue until the context is canceled or
// the delivery stream drops. Buffered receipts are flushed on the way out.
func (c *Consumer) Run(ctx context.Context, client *broker.Client) error {
	err := client.Consume(ctx, c.queue, c.prefetch, c.Handle)
	c.Flush()
	return err
}

// Handle parses one receipt message and enqueues it for the next flush.
// Unusable receipts are dropped with a warning; they carry no retryable
// work.
func (c *Consumer) Handle(ctx context.Context, body []byte) broker.AckPolicy {
	logCtx := c.logg.WithQueue(ctx, c.queue)

	var envelope events.Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode receipt envelope", err)
		c.metrics.IncDropped(c.queue)
		return broker.DropNack
	}
	if envelope.Type != events.TypeDeliveryReceiptUpdate {
		c.logg.Warn(c.logg.WithField(logCtx, "message_type", envelope.Type), "unexpected message type on receipt queue, dropping")
		c.metrics.IncProcessed(c.queue)
		return broker.Ack
	}

	var payload events.ReceiptPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		c.logg.Error(logCtx, "failed to decode receipt payload", err)
		c.metrics.IncDropped(c.queue)
		return broker.DropNack
	}

	logID, err := uuid.Parse(payload.MessageID)
	if err != nil {
		c.logg.Warn(c.logg.WithField(logCtx, "message_id", payload.MessageID), "receipt references a malformed log id, dropping")
		c.metrics.IncProcessed(c.queue)
		return broker.Ack
	}
	status, err := enums.ParseDeliveryStatus(payload.Status)
	if err != nil {
		c.logg.Warn(c.logg.WithField(logCtx, "status", payload.Status), "receipt carries an unknown status, dropping")
		c.metrics.IncProcessed(c.queue)
		return broker.Ack
	}

	receipt := delivery.Receipt{
		LogID:         logID,
		Status:        status,
		FailureReason: payload.FailureReason,
	}
	if payload.Timestamp != nil {
		receipt.Timestamp = *payload.Timestamp
	}

	c.enqueue(receipt)
	c.metrics.IncProcessed(c.queue)
	return broker.Ack
}

func (c *Consumer) enqueue(receipt delivery.Receipt) {
	c.mu.Lock()
	c.batch = append(c.batch, receipt)

	if len(c.batch) >= c.size {
		batch := c.takeBatchLocked()
		c.mu.Unlock()
		c.flush(batch)
		return
	}

	if len(c.batch) == 1 {
		// First unflushed item arms the linger timer.
		c.timer = time.AfterFunc(c.interval, c.Flush)
	}
	c.mu.Unlock()
}

// takeBatchLocked detaches the current batch and disarms the timer. The
// caller must hold the mutex.
func (c *Consumer) takeBatchLocked() []delivery.Receipt {
	batch := c.batch
	c.batch = nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	return batch
}

// Flush applies whatever is buffered right now.
func (c *Consumer) Flush() {
	c.mu.Lock()
	batch := c.takeBatchLocked()
	c.mu.Unlock()
	c.flush(batch)
}

// flush applies one batch. A store error is logged and the batch dropped;
// the receipts were already acknowledged and are not redelivered.
func (c *Consumer) flush(batch []delivery.Receipt) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if err := c.repo.BulkApplyReceipts(ctx, batch); err != nil {
		c.logg.Error(c.logg.WithField(ctx, "batch_size", len(batch)), "failed to apply receipt batch, dropping", err)
		return
	}

	c.metrics.ObserveBatchSize(len(batch))
	c.logg.Info(c.logg.WithField(ctx, "batch_size", len(batch)), "applied receipt batch")
}
