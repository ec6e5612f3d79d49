package campaigns

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/echocrm/backend/pkg/db/models"
	"github.com/echocrm/backend/pkg/enums"
	"github.com/echocrm/backend/pkg/pagination"
)

// Repository defines persistence operations for campaign definitions and
// the per-owner quota counter.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, campaign *models.Campaign) (*models.Campaign, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status enums.CampaignStatus) error
	List(ctx context.Context, params pagination.Params, createdBy *uuid.UUID) (*CampaignPage, error)
	QuotaCount(ctx context.Context, ownerID uuid.UUID) (int, error)
	AdjustQuota(ctx context.Context, ownerID uuid.UUID, delta int) error
}

// CampaignPage is one cursor page of campaign definitions.
type CampaignPage struct {
	Campaigns  []models.Campaign
	NextCursor string
	HasMore    bool
}
