package customers

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/echocrm/backend/internal/segments"
	"github.com/echocrm/backend/pkg/db/models"
	"github.com/echocrm/backend/pkg/pagination"
)

// Repository defines persistence operations for the customer store.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, customer *models.Customer) (*models.Customer, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	FindByEmail(ctx context.Context, email string) (*models.Customer, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Customer, error)
	List(ctx context.Context, params pagination.Params, search string) (*CustomerList, error)
	FindMatching(ctx context.Context, pred segments.Predicate, now time.Time) ([]models.Customer, error)
	IncrementAggregates(ctx context.Context, id uuid.UUID, amount float64, orderDate time.Time) error
}
