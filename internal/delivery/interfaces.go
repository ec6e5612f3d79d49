package delivery

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/echocrm/backend/pkg/db/models"
	"github.com/echocrm/backend/pkg/enums"
)

// Receipt is one vendor delivery-status update addressed to a log row.
type Receipt struct {
	LogID         uuid.UUID
	Status        enums.DeliveryStatus
	Timestamp     time.Time
	FailureReason string
}

// StatusCount is one per-status aggregate for a campaign.
type StatusCount struct {
	Status enums.DeliveryStatus `json:"status"`
	Count  int64                `json:"count"`
}

// Repository defines persistence operations for delivery logs.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreatePending(ctx context.Context, log *models.DeliveryLog) (*models.DeliveryLog, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	BulkApplyReceipts(ctx context.Context, receipts []Receipt) error
	CountByStatus(ctx context.Context, campaignID uuid.UUID) ([]StatusCount, error)
	ListRecent(ctx context.Context, campaignID uuid.UUID, limit int) ([]models.DeliveryLog, error)
}
