package models

import (
	"time"

	"github.com/google/uuid"

	dbtypes "github.com/echocrm/backend/pkg/db/types"
)

// Customer is the ingested customer profile the segmentation engine reads.
// Aggregate fields are only mutated by the ingestion pipeline.
type Customer struct {
	ID               uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name             string              `gorm:"column:name;not null" json:"name"`
	Email            string              `gorm:"column:email;not null;uniqueIndex:idx_customers_email" json:"email"`
	Phone            *string             `gorm:"column:phone" json:"phone,omitempty"`
	TotalSpends      float64             `gorm:"column:total_spends;not null;default:0" json:"totalSpends"`
	VisitCount       int                 `gorm:"column:visit_count;not null;default:0" json:"visitCount"`
	LastSeen         *time.Time          `gorm:"column:last_seen" json:"lastSeen,omitempty"`
	LastPurchaseDate *time.Time          `gorm:"column:last_purchase_date" json:"lastPurchaseDate,omitempty"`
	Tags             dbtypes.StringArray `gorm:"column:tags;type:jsonb" json:"tags"`
	CustomFields     dbtypes.JSONMap     `gorm:"column:custom_fields;type:jsonb" json:"customFields,omitempty"`
	CreatedAt        time.Time           `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt        time.Time           `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// DaysSinceLastSeen returns whole days since the customer was last seen,
// or -1 when never seen.
func (c Customer) DaysSinceLastSeen(now time.Time) int {
	if c.LastSeen == nil {
		return -1
	}
	return int(now.Sub(*c.LastSeen).Hours() / 24)
}
