package customers

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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
	bodies []any
	fail   bool
}

func (f *fakePublisher) Publish(ctx context.Context, queue string, v any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return false
	}
	f.queues = append(f.queues, queue)
	f.bodies = append(f.bodies, v)
	return true
}

func quietLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func newTestService(t *testing.T, publisher *fakePublisher) Service {
	t.Helper()
	conn := dbtest.Open(t)
	svc, err := NewService(NewRepository(conn), db.NewFromGorm(conn), publisher, quietLogger(), "echo_data_ingestion_queue")
	require.NoError(t, err)
	return svc
}

func TestQueuePublishesEnvelope(t *testing.T) {
	publisher := &fakePublisher{}
	svc := newTestService(t, publisher)

	err := svc.Queue(context.Background(), events.CustomerPayload{
		Name:  "Ada",
		Email: "ada@example.com",
	})
	require.NoError(t, err)

	require.Len(t, publisher.bodies, 1)
	assert.Equal(t, "echo_data_ingestion_queue", publisher.queues[0])

	envelope, ok := publisher.bodies[0].(events.Envelope)
	require.True(t, ok)
	assert.Equal(t, events.TypeCustomerIngest, envelope.Type)

	var payload events.CustomerPayload
	require.NoError(t, json.Unmarshal(envelope.Payload, &payload))
	assert.Equal(t, "ada@example.com", payload.Email)
}

func TestQueueFailsWhenBrokerDown(t *testing.T) {
	publisher := &fakePublisher{fail: true}
	svc := newTestService(t, publisher)

	err := svc.Queue(context.Background(), events.CustomerPayload{Email: "x@example.com"})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeDependency, typed.Code())
}

func TestIngestInsertsThenUpdates(t *testing.T) {
	publisher := &fakePublisher{}
	conn := dbtest.Open(t)
	svc, err := NewService(NewRepository(conn), db.NewFromGorm(conn), publisher, quietLogger(), "q")
	require.NoError(t, err)
	ctx := context.Background()

	spends := 100.0
	require.NoError(t, svc.Ingest(ctx, events.CustomerPayload{
		Name:        "Ada Lovelace",
		Email:       "ADA@Example.com",
		TotalSpends: &spends,
		Tags:        []string{" VIP "},
	}))

	var created models.Customer
	require.NoError(t, conn.Where("email = ?", "ada@example.com").First(&created).Error)
	assert.Equal(t, "Ada Lovelace", created.Name)
	assert.InDelta(t, 100.0, created.TotalSpends, 0.001)
	assert.Equal(t, []string{"vip"}, []string(created.Tags))
	originalCreatedAt := created.CreatedAt

	// Second ingest for the same email must update, not insert.
	visits := 7
	require.NoError(t, svc.Ingest(ctx, events.CustomerPayload{
		Email:      "ada@example.com",
		VisitCount: &visits,
	}))

	var count int64
	require.NoError(t, conn.Model(&models.Customer{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	var updated models.Customer
	require.NoError(t, conn.Where("email = ?", "ada@example.com").First(&updated).Error)
	assert.Equal(t, 7, updated.VisitCount)
	assert.Equal(t, "Ada Lovelace", updated.Name)
	assert.InDelta(t, 100.0, updated.TotalSpends, 0.001)
	assert.True(t, updated.CreatedAt.Equal(originalCreatedAt))
}

func TestIngestRequiresEmail(t *testing.T) {
	svc := newTestService(t, &fakePublisher{})

	err := svc.Ingest(context.Background(), events.CustomerPayload{Name: "No Email"})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
}

func TestCountMatching(t *testing.T) {
	publisher := &fakePublisher{}
	conn := dbtest.Open(t)
	svc, err := NewService(NewRepository(conn), db.NewFromGorm(conn), publisher, quietLogger(), "q")
	require.NoError(t, err)
	ctx := context.Background()

	mustCreateCustomer(t, conn, "rich@example.com", 500, 1)
	mustCreateCustomer(t, conn, "poor@example.com", 5, 1)

	count, err := svc.CountMatching(ctx, []models.Rule{
		{Field: "totalSpends", Operator: ">", Value: 100.0, Logical: ""},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	all, err := svc.CountMatching(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, all)
}
