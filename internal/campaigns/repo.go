package campaigns

import (
	"context"
	stdErrors "errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/echocrm/backend/pkg/db/models"
	"github.com/echocrm/backend/pkg/enums"
	"github.com/echocrm/backend/pkg/pagination"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds a campaign repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, campaign *models.Campaign) (*models.Campaign, error) {
	if err := r.db.WithContext(ctx).Create(campaign).Error; err != nil {
		return nil, err
	}
	return campaign, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	var campaign models.Campaign
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&campaign).Error
	if err != nil {
		return nil, err
	}
	return &campaign, nil
}

func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.CampaignStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.Campaign{}).
		Where("id = ?", id).
		Update("status", status).Error
}

func (r *repository) List(ctx context.Context, params pagination.Params, createdBy *uuid.UUID) (*CampaignPage, error) {
	limit := pagination.NormalizeLimit(params.Limit)

	query := r.db.WithContext(ctx).Model(&models.Campaign{})
	if createdBy != nil {
		query = query.Where("created_by = ?", *createdBy)
	}

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}
	if cursor != nil {
		query = query.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}

	var rows []models.Campaign
	err = query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit + 1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	page := &CampaignPage{Campaigns: rows}
	if len(rows) > limit {
		page.Campaigns = rows[:limit]
		page.HasMore = true
		last := page.Campaigns[limit-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}
	return page, nil
}

func (r *repository) QuotaCount(ctx context.Context, ownerID uuid.UUID) (int, error) {
	var quota models.CampaignQuota
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		First(&quota).Error
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return quota.CampaignCount, nil
}

// AdjustQuota moves the owner's campaign counter by delta, creating the row
// on first use. The counter never drops below zero.
func (r *repository) AdjustQuota(ctx context.Context, ownerID uuid.UUID, delta int) error {
	tx := r.db.WithContext(ctx).
		Model(&models.CampaignQuota{}).
		Where("owner_id = ?", ownerID).
		Update("campaign_count", gorm.Expr(
			"CASE WHEN campaign_count + ? < 0 THEN 0 ELSE campaign_count + ? END",
			delta, delta,
		))
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected > 0 {
		return nil
	}

	count := delta
	if count < 0 {
		count = 0
	}
	return r.db.WithContext(ctx).Create(&models.CampaignQuota{
		OwnerID:       ownerID,
		CampaignCount: count,
	}).Error
}
