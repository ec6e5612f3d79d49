// Package ingestion consumes customer and order ingest messages from the
// data ingestion queue and applies them to the store.
package ingestion

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/echocrm/backend/internal/events"
	"github.com/echocrm/backend/pkg/broker"
	pkgerrors "github.com/echocrm/backend/pkg/errors"
	"github.com/echocrm/backend/pkg/logger"
	"github.com/echocrm/backend/pkg/metrics"
)

type customerIngester interface {
	Ingest(ctx context.Context, payload events.CustomerPayload) error
}

type orderIngester interface {
	Ingest(ctx context.Context, payload events.OrderPayload) error
}

// Consumer routes ingestion envelopes to the customer and order services.
type Consumer struct {
	customers customerIngester
	orders    orderIngester
	logg      *logger.Logger
	metrics   *metrics.ConsumerMetrics
	queue     string
	prefetch  int
}

// NewConsumer builds the ingestion consumer.
func NewConsumer(customers customerIngester, orders orderIngester, logg *logger.Logger, consumerMetrics *metrics.ConsumerMetrics, queue string, prefetch int) (*Consumer, error) {
	if customers == nil {
		return nil, fmt.Errorf("customer service required")
	}
	if orders == nil {
		return nil, fmt.Errorf("order service required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		customers: customers,
		orders:    orders,
		logg:      logg,
		metrics:   consumerMetrics,
		queue:     queue,
		prefetch:  prefetch,
	}, nil
}

// Run blocks consuming the ingestion queue until the context is canceled or
// the delivery stream drops.
func (c *Consumer) Run(ctx context.Context, client *broker.Client) error {
	return client.Consume(ctx, c.queue, c.prefetch, c.Handle)
}

// Handle processes one raw ingestion message. Malformed payloads and
// business rejections are dropped with a warning; infrastructure errors
// discard the message as poison (no dead-letter queue exists).
func (c *Consumer) Handle(ctx context.Context, body []byte) broker.AckPolicy {
	logCtx := c.logg.WithQueue(ctx, c.queue)

	var envelope events.Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode ingestion envelope", err)
		c.metrics.IncDropped(c.queue)
		return broker.DropNack
	}

	logCtx = c.logg.WithField(logCtx, "message_type", envelope.Type)

	var err error
	switch envelope.Type {
	case events.TypeCustomerIngest:
		var payload events.CustomerPayload
		if err = json.Unmarshal(envelope.Payload, &payload); err == nil {
			err = c.customers.Ingest(ctx, payload)
		}
	case events.TypeOrderIngest:
		var payload events.OrderPayload
		if err = json.Unmarshal(envelope.Payload, &payload); err == nil {
			err = c.orders.Ingest(ctx, payload)
		}
	default:
		c.logg.Warn(logCtx, "unknown ingestion message type, dropping")
		c.metrics.IncProcessed(c.queue)
		return broker.Ack
	}

	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			switch typed.Code() {
			case pkgerrors.CodeValidation, pkgerrors.CodeNotFound:
				c.logg.Warn(c.logg.WithField(logCtx, "reason", typed.Message()), "rejected ingestion message, dropping")
				c.metrics.IncProcessed(c.queue)
				return broker.Ack
			}
		}
		c.logg.Error(logCtx, "failed to process ingestion message", err)
		c.metrics.IncDropped(c.queue)
		return broker.DropNack
	}

	c.metrics.IncProcessed(c.queue)
	return broker.Ack
}
