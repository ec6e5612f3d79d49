package delivery

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/echocrm/backend/pkg/db/models"
	"github.com/echocrm/backend/pkg/enums"
)

// maxReasonLength caps failed_reason at the column width.
const maxReasonLength = 255

// statusRank orders delivery statuses for monotonic updates: a receipt may
// only move a row forward. FAILED and DELIVERED share a rank so neither
// terminal outcome overwrites the other when receipts race.
var statusRank = map[enums.DeliveryStatus]int{
	enums.DeliveryStatusPending:   0,
	enums.DeliveryStatusSent:      1,
	enums.DeliveryStatusFailed:    2,
	enums.DeliveryStatusDelivered: 2,
	enums.DeliveryStatusOpened:    3,
	enums.DeliveryStatusClicked:   4,
}

func overwritableStatuses(next enums.DeliveryStatus) []enums.DeliveryStatus {
	rank := statusRank[next]
	var out []enums.DeliveryStatus
	for status, r := range statusRank {
		if r < rank {
			out = append(out, status)
		}
	}
	return out
}

// truncateReason clips to the column width without splitting a multi-byte
// rune at the cut.
func truncateReason(reason string) string {
	if len(reason) <= maxReasonLength {
		return reason
	}
	cut := maxReasonLength
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a delivery-log repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// CreatePending inserts the row with status PENDING. A second insert for
// the same (campaign, customer) pair fails with a unique violation; that
// constraint is the pipeline's only double-send protection.
func (r *repository) CreatePending(ctx context.Context, log *models.DeliveryLog) (*models.DeliveryLog, error) {
	log.Status = enums.DeliveryStatusPending
	if err := r.db.WithContext(ctx).Create(log).Error; err != nil {
		return nil, err
	}
	return log, nil
}

func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return r.db.WithContext(ctx).
		Model(&models.DeliveryLog{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        enums.DeliveryStatusFailed,
			"failed_reason": truncateReason(reason),
		}).Error
}

// BulkApplyReceipts applies one batch of vendor receipts in a single
// transaction, one conditional update per row keyed by log id. Updates are
// monotonic: a stale receipt never regresses a row that already moved on.
func (r *repository) BulkApplyReceipts(ctx context.Context, receipts []Receipt) error {
	if len(receipts) == 0 {
		return nil
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, receipt := range receipts {
			updates := map[string]any{"status": receipt.Status}

			timestamp := receipt.Timestamp
			if timestamp.IsZero() {
				timestamp = time.Now()
			}
			switch receipt.Status {
			case enums.DeliveryStatusSent:
				updates["sent_at"] = timestamp
			case enums.DeliveryStatusDelivered:
				updates["delivered_at"] = timestamp
			case enums.DeliveryStatusFailed:
				updates["failed_reason"] = truncateReason(receipt.FailureReason)
			}

			err := tx.Model(&models.DeliveryLog{}).
				Where("id = ? AND status IN ?", receipt.LogID, overwritableStatuses(receipt.Status)).
				Updates(updates).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *repository) CountByStatus(ctx context.Context, campaignID uuid.UUID) ([]StatusCount, error) {
	var counts []StatusCount
	err := r.db.WithContext(ctx).
		Model(&models.DeliveryLog{}).
		Select("status, COUNT(*) AS count").
		Where("campaign_id = ?", campaignID).
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func (r *repository) ListRecent(ctx context.Context, campaignID uuid.UUID, limit int) ([]models.DeliveryLog, error) {
	if limit <= 0 {
		limit = 25
	}
	var logs []models.DeliveryLog
	err := r.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}
