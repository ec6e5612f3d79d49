package customers

import (
	"context"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/echocrm/backend/internal/events"
	"github.com/echocrm/backend/internal/segments"
	"github.com/echocrm/backend/pkg/broker"
	"github.com/echocrm/backend/pkg/db"
	"github.com/echocrm/backend/pkg/db/models"
	dbtypes "github.com/echocrm/backend/pkg/db/types"
	pkgerrors "github.com/echocrm/backend/pkg/errors"
	"github.com/echocrm/backend/pkg/logger"
	"github.com/echocrm/backend/pkg/pagination"
)

// Service exposes customer ingestion and read operations. Writes arrive
// through the ingestion queue; the HTTP surface only enqueues.
type Service interface {
	Queue(ctx context.Context, payload events.CustomerPayload) error
	Ingest(ctx context.Context, payload events.CustomerPayload) error
	Get(ctx context.Context, id uuid.UUID) (*models.Customer, error)
	List(ctx context.Context, input ListInput) (*CustomerList, error)
	CountMatching(ctx context.Context, rules []models.Rule) (int, error)
}

type service struct {
	repo           Repository
	dbClient       *db.Client
	publisher      broker.Publisher
	logg           *logger.Logger
	ingestionQueue string
	now            func() time.Time
}

// NewService wires the customer service.
func NewService(repo Repository, dbClient *db.Client, publisher broker.Publisher, logg *logger.Logger, ingestionQueue string) (Service, error) {
	if repo == nil {
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
		dbClient:       dbClient,
		publisher:      publisher,
		logg:           logg,
		ingestionQueue: ingestionQueue,
		now:            time.Now,
	}, nil
}

func (s *service) Queue(ctx context.Context, payload events.CustomerPayload) error {
	envelope, err := events.NewEnvelope(events.TypeCustomerIngest, payload)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to encode customer ingest message")
	}
	if !s.publisher.Publish(ctx, s.ingestionQueue, envelope) {
		return pkgerrors.New(pkgerrors.CodeDependency, "failed to enqueue customer ingest")
	}
	return nil
}

// Ingest upserts the customer by lower-cased email. Only fields present in
// the payload are written; created_at is seeded solely on insert.
func (s *service) Ingest(ctx context.Context, payload events.CustomerPayload) error {
	email := strings.ToLower(strings.TrimSpace(payload.Email))
	if email == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "customer email is required")
	}

	return s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		existing, err := repo.FindByEmail(ctx, email)
		if err != nil && !stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if existing == nil {
			customer := &models.Customer{
				ID:           uuid.New(),
				Name:         strings.TrimSpace(payload.Name),
				Email:        email,
				Tags:         dbtypes.StringArray(payload.Tags).Normalize(),
				CustomFields: dbtypes.JSONMap(payload.CustomFields),
			}
			if payload.Phone != "" {
				phone := payload.Phone
				customer.Phone = &phone
			}
			if payload.TotalSpends != nil {
				customer.TotalSpends = *payload.TotalSpends
			}
			if payload.VisitCount != nil {
				customer.VisitCount = *payload.VisitCount
			}
			customer.LastSeen = payload.LastSeen
			customer.LastPurchaseDate = payload.LastPurchaseDate

			_, err := repo.Create(ctx, customer)
			return err
		}

		updates := map[string]any{}
		if name := strings.TrimSpace(payload.Name); name != "" {
			updates["name"] = name
		}
		if payload.Phone != "" {
			updates["phone"] = payload.Phone
		}
		if payload.TotalSpends != nil {
			updates["total_spends"] = *payload.TotalSpends
		}
		if payload.VisitCount != nil {
			updates["visit_count"] = *payload.VisitCount
		}
		if payload.LastSeen != nil {
			updates["last_seen"] = *payload.LastSeen
		}
		if payload.LastPurchaseDate != nil {
			updates["last_purchase_date"] = *payload.LastPurchaseDate
		}
		if payload.Tags != nil {
			updates["tags"] = dbtypes.StringArray(payload.Tags).Normalize()
		}
		if payload.CustomFields != nil {
			updates["custom_fields"] = dbtypes.JSONMap(payload.CustomFields)
		}
		return repo.Update(ctx, existing.ID, updates)
	})
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	customer, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "customer not found")
		}
		return nil, err
	}
	return customer, nil
}

func (s *service) List(ctx context.Context, input ListInput) (*CustomerList, error) {
	if _, err := pagination.ParseCursor(input.Cursor); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid pagination cursor")
	}
	return s.repo.List(ctx, pagination.Params{Limit: input.Limit, Cursor: input.Cursor}, input.Search)
}

// CountMatching answers segment preview queries.
func (s *service) CountMatching(ctx context.Context, rules []models.Rule) (int, error) {
	pred := segments.Compile(rules)
	matched, err := s.repo.FindMatching(ctx, pred, s.now())
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}
