package models

import (
	"time"

	"github.com/google/uuid"
)

// CampaignQuota counts campaigns created per owner for free-tier limiting.
// The count is decremented again when queueing a campaign fails.
type CampaignQuota struct {
	OwnerID       uuid.UUID `gorm:"column:owner_id;type:uuid;primaryKey" json:"ownerId"`
	CampaignCount int       `gorm:"column:campaign_count;not null;default:0" json:"campaignCount"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// TableName pins the table name; gorm's pluralizer treats "quota" as already
// plural, while the migrations create "campaign_quotas".
func (CampaignQuota) TableName() string { return "campaign_quotas" }
