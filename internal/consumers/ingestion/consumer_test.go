package ingestion

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echocrm/backend/internal/events"
	"github.com/echocrm/backend/pkg/broker"
	pkgerrors "github.com/echocrm/backend/pkg/errors"
	"github.com/echocrm/backend/pkg/logger"
)

type fakeCustomerIngester struct {
	payloads []events.CustomerPayload
	err      error
}

func (f *fakeCustomerIngester) Ingest(ctx context.Context, payload events.CustomerPayload) error {
	if f.err != nil {
		return f.err
	}
	f.payloads = append(f.payloads, payload)
	return nil
}

type fakeOrderIngester struct {
	payloads []events.OrderPayload
	err      error
}

func (f *fakeOrderIngester) Ingest(ctx context.Context, payload events.OrderPayload) error {
	if f.err != nil {
		return f.err
	}
	f.payloads = append(f.payloads, payload)
	return nil
}

func quietLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func newConsumer(t *testing.T, customers *fakeCustomerIngester, orders *fakeOrderIngester) *Consumer {
	t.Helper()
	consumer, err := NewConsumer(customers, orders, quietLogger(), nil, "echo_data_ingestion_queue", 5)
	require.NoError(t, err)
	return consumer
}

func encodeEnvelope(t *testing.T, msgType string, payload any) []byte {
	t.Helper()
	envelope, err := events.NewEnvelope(msgType, payload)
	require.NoError(t, err)
	body, err := json.Marshal(envelope)
	require.NoError(t, err)
	return body
}

func TestHandleRoutesCustomerIngest(t *testing.T) {
	customers := &fakeCustomerIngester{}
	consumer := newConsumer(t, customers, &fakeOrderIngester{})

	body := encodeEnvelope(t, events.TypeCustomerIngest, events.CustomerPayload{
		Name:  "Ada",
		Email: "ada@example.com",
	})

	policy := consumer.Handle(context.Background(), body)
	assert.Equal(t, broker.Ack, policy)
	require.Len(t, customers.payloads, 1)
	assert.Equal(t, "ada@example.com", customers.payloads[0].Email)
}

func TestHandleRoutesOrderIngest(t *testing.T) {
	orders := &fakeOrderIngester{}
	consumer := newConsumer(t, &fakeCustomerIngester{}, orders)

	body := encodeEnvelope(t, events.TypeOrderIngest, events.OrderPayload{
		CustomerID:  "abc",
		OrderNumber: "ORD-1",
	})

	policy := consumer.Handle(context.Background(), body)
	assert.Equal(t, broker.Ack, policy)
	require.Len(t, orders.payloads, 1)
	assert.Equal(t, "ORD-1", orders.payloads[0].OrderNumber)
}

func TestHandleAcksUnknownType(t *testing.T) {
	customers := &fakeCustomerIngester{}
	orders := &fakeOrderIngester{}
	consumer := newConsumer(t, customers, orders)

	body := encodeEnvelope(t, "mystery_event", map[string]string{"a": "b"})

	policy := consumer.Handle(context.Background(), body)
	assert.Equal(t, broker.Ack, policy)
	assert.Empty(t, customers.payloads)
	assert.Empty(t, orders.payloads)
}

func TestHandleAcksValidationRejections(t *testing.T) {
	orders := &fakeOrderIngester{err: pkgerrors.New(pkgerrors.CodeValidation, "malformed customer id")}
	consumer := newConsumer(t, &fakeCustomerIngester{}, orders)

	body := encodeEnvelope(t, events.TypeOrderIngest, events.OrderPayload{CustomerID: "nope"})

	policy := consumer.Handle(context.Background(), body)
	assert.Equal(t, broker.Ack, policy)
}

func TestHandleNacksProcessingErrors(t *testing.T) {
	customers := &fakeCustomerIngester{err: pkgerrors.New(pkgerrors.CodeInternal, "db down")}
	consumer := newConsumer(t, customers, &fakeOrderIngester{})

	body := encodeEnvelope(t, events.TypeCustomerIngest, events.CustomerPayload{Email: "x@example.com"})

	policy := consumer.Handle(context.Background(), body)
	assert.Equal(t, broker.DropNack, policy)
}

func TestHandleNacksMalformedJSON(t *testing.T) {
	consumer := newConsumer(t, &fakeCustomerIngester{}, &fakeOrderIngester{})

	policy := consumer.Handle(context.Background(), []byte("{not json"))
	assert.Equal(t, broker.DropNack, policy)
}
