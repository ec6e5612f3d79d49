package orders

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/echocrm/backend/internal/customers"
	"github.com/echocrm/backend/internal/events"
	"github.com/echocrm/backend/pkg/db"
	"github.com/echocrm/backend/pkg/db/dbtest"
	"github.com/echocrm/backend/pkg/db/models"
	pkgerrors "github.com/echocrm/backend/pkg/errors"
	"github.com/echocrm/backend/pkg/logger"
)

type fakePublisher struct {
	mu     sync.Mutex
	queues []string
	fail   bool
}

func (f *fakePublisher) Publish(ctx context.Context, queue string, v any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return false
	}
	f.queues = append(f.queues, queue)
	return true
}

func quietLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func setupService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	conn := dbtest.Open(t)
	svc, err := NewService(
		NewRepository(conn),
		customers.NewRepository(conn),
		db.NewFromGorm(conn),
		&fakePublisher{},
		quietLogger(),
		"echo_data_ingestion_queue",
	)
	require.NoError(t, err)
	return svc, conn
}

func mustCreateCustomer(t *testing.T, conn *gorm.DB) *models.Customer {
	t.Helper()
	customer := &models.Customer{
		ID:    uuid.New(),
		Name:  "Buyer",
		Email: uuid.NewString() + "@example.com",
	}
	require.NoError(t, conn.Create(customer).Error)
	return customer
}

func orderPayload(customerID string, orderNumber string) events.OrderPayload {
	orderDate := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	return events.OrderPayload{
		CustomerID:  customerID,
		OrderNumber: orderNumber,
		OrderDate:   &orderDate,
		Items: []events.OrderItemPayload{
			{ProductID: "p1", ProductName: "Widget", Quantity: 3, Price: 20},
		},
	}
}

func TestIngestStoresOrderAndBumpsAggregates(t *testing.T) {
	svc, conn := setupService(t)
	ctx := context.Background()
	customer := mustCreateCustomer(t, conn)

	require.NoError(t, svc.Ingest(ctx, orderPayload(customer.ID.String(), "ORD-100")))

	var order models.Order
	require.NoError(t, conn.Where("order_number = ?", "ORD-100").First(&order).Error)
	assert.InDelta(t, 60.0, order.TotalAmount, 0.001)

	var updated models.Customer
	require.NoError(t, conn.Where("id = ?", customer.ID).First(&updated).Error)
	assert.InDelta(t, 60.0, updated.TotalSpends, 0.001)
	assert.Equal(t, 1, updated.VisitCount)
	require.NotNil(t, updated.LastPurchaseDate)
}

func TestIngestIsIdempotentOnOrderNumber(t *testing.T) {
	svc, conn := setupService(t)
	ctx := context.Background()
	customer := mustCreateCustomer(t, conn)
	payload := orderPayload(customer.ID.String(), "ORD-200")

	require.NoError(t, svc.Ingest(ctx, payload))
	// Re-delivery of the same message must not duplicate the order or
	// double-count the aggregates.
	require.NoError(t, svc.Ingest(ctx, payload))

	var orderCount int64
	require.NoError(t, conn.Model(&models.Order{}).Count(&orderCount).Error)
	assert.Equal(t, int64(1), orderCount)

	var updated models.Customer
	require.NoError(t, conn.Where("id = ?", customer.ID).First(&updated).Error)
	assert.InDelta(t, 60.0, updated.TotalSpends, 0.001)
	assert.Equal(t, 1, updated.VisitCount)
}

func TestIngestRejectsMalformedCustomerID(t *testing.T) {
	svc, _ := setupService(t)

	err := svc.Ingest(context.Background(), orderPayload("not-a-uuid", "ORD-300"))
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
}

func TestIngestRejectsUnknownCustomer(t *testing.T) {
	svc, _ := setupService(t)

	err := svc.Ingest(context.Background(), orderPayload(uuid.NewString(), "ORD-400"))
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeNotFound, typed.Code())
}

func TestQueueFailsWhenBrokerDown(t *testing.T) {
	conn := dbtest.Open(t)
	svc, err := NewService(
		NewRepository(conn),
		customers.NewRepository(conn),
		db.NewFromGorm(conn),
		&fakePublisher{fail: true},
		quietLogger(),
		"q",
	)
	require.NoError(t, err)

	err = svc.Queue(context.Background(), orderPayload(uuid.NewString(), "ORD-500"))
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeDependency, typed.Code())
}
