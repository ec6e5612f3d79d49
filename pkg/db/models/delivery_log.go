package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/echocrm/backend/pkg/enums"
)

// DeliveryLog tracks one campaign's message to one customer. The unique
// (campaign_id, customer_id) pair is the idempotency key for the whole
// delivery pipeline.
type DeliveryLog struct {
	ID              uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	CampaignID      uuid.UUID            `gorm:"column:campaign_id;type:uuid;not null;index;uniqueIndex:idx_delivery_logs_campaign_customer" json:"campaignId"`
	CustomerID      uuid.UUID            `gorm:"column:customer_id;type:uuid;not null;index;uniqueIndex:idx_delivery_logs_campaign_customer" json:"customerId"`
	Message         string               `gorm:"column:message;not null" json:"message"`
	Status          enums.DeliveryStatus `gorm:"column:status;not null;default:'PENDING';index" json:"status"`
	VendorMessageID *string              `gorm:"column:vendor_message_id;index" json:"vendorMessageId,omitempty"`
	SentAt          *time.Time           `gorm:"column:sent_at" json:"sentAt,omitempty"`
	DeliveredAt     *time.Time           `gorm:"column:delivered_at" json:"deliveredAt,omitempty"`
	FailedReason    *string              `gorm:"column:failed_reason" json:"failedReason,omitempty"`
	CreatedAt       time.Time            `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt       time.Time            `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}
