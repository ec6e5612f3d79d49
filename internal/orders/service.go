package orders

import (
	"context"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/echocrm/backend/internal/customers"
	"github.com/echocrm/backend/internal/events"
	"github.com/echocrm/backend/pkg/broker"
	"github.com/echocrm/backend/pkg/db"
	"github.com/echocrm/backend/pkg/db/models"
	pkgerrors "github.com/echocrm/backend/pkg/errors"
	"github.com/echocrm/backend/pkg/logger"
)

// Service exposes order ingestion and read operations.
type Service interface {
	Queue(ctx context.Context, payload events.OrderPayload) error
	Ingest(ctx context.Context, payload events.OrderPayload) error
	Get(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.Order, error)
}

type service struct {
	repo           Repository
	customerRepo   customers.Repository
	dbClient       *db.Client
	publisher      broker.Publisher
	logg           *logger.Logger
	ingestionQueue string
	now            func() time.Time
}

// NewService wires the order service.
func NewService(repo Repository, customerRepo customers.Repository, dbClient *db.Client, publisher broker.Publisher, logg *logger.Logger, ingestionQueue string) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("order repository required")
	}
	if customerRepo == nil {
		return nil, fmt.Errorf("customer repository required")
	}
	if dbClient == nil {
		return nil, fmt.Errorf("db client required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("broker publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:           repo,
		customerRepo:   customerRepo,
		dbClient:       dbClient,
		publisher:      publisher,
		logg:           logg,
		ingestionQueue: ingestionQueue,
		now:            time.Now,
	}, nil
}

func (s *service) Queue(ctx context.Context, payload events.OrderPayload) error {
	envelope, err := events.NewEnvelope(events.TypeOrderIngest, payload)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to encode order ingest message")
	}
	if !s.publisher.Publish(ctx, s.ingestionQueue, envelope) {
		return pkgerrors.New(pkgerrors.CodeDependency, "failed to enqueue order ingest")
	}
	return nil
}

// Ingest stores one order and applies its aggregate effect on the customer
// in the same transaction. Re-delivery of an already stored order number is
// a success no-op.
func (s *service) Ingest(ctx context.Context, payload events.OrderPayload) error {
	customerID, err := uuid.Parse(strings.TrimSpace(payload.CustomerID))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed customer id")
	}

	orderNumber := strings.TrimSpace(payload.OrderNumber)
	if orderNumber == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order number is required")
	}

	if _, err := s.repo.FindByOrderNumber(ctx, orderNumber); err == nil {
		s.logg.Warn(s.logg.WithField(ctx, "order_number", orderNumber), "order already ingested, skipping")
		return nil
	} else if !stdErrors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	if _, err := s.customerRepo.FindByID(ctx, customerID); err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order references an unknown customer")
		}
		return err
	}

	orderDate := s.now()
	if payload.OrderDate != nil {
		orderDate = *payload.OrderDate
	}
	status := strings.TrimSpace(payload.Status)
	if status == "" {
		status = "Pending"
	}

	order := &models.Order{
		ID:          uuid.New(),
		CustomerID:  customerID,
		OrderNumber: orderNumber,
		OrderDate:   orderDate,
		Status:      status,
	}
	for _, item := range payload.Items {
		order.Items = append(order.Items, models.OrderItem{
			ID:          uuid.New(),
			OrderID:     order.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			Price:       item.Price,
		})
	}

	err = s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
			return err
		}
		return s.customerRepo.WithTx(tx).IncrementAggregates(ctx, customerID, order.TotalAmount, orderDate)
	})
	if err != nil {
		// A concurrent delivery of the same order number beat this one.
		if db.IsUniqueViolation(err) {
			s.logg.Warn(s.logg.WithField(ctx, "order_number", orderNumber), "order already ingested, skipping")
			return nil
		}
		return err
	}
	return nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, err
	}
	return order, nil
}

func (s *service) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.Order, error) {
	return s.repo.ListByCustomer(ctx, customerID)
}
