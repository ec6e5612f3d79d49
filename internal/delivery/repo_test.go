package delivery

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/echocrm/backend/pkg/db"
	"github.com/echocrm/backend/pkg/db/dbtest"
	"github.com/echocrm/backend/pkg/db/models"
	"github.com/echocrm/backend/pkg/enums"
)

func mustCreateLog(t *testing.T, conn *gorm.DB, repo Repository, campaignID, customerID uuid.UUID) *models.DeliveryLog {
	t.Helper()
	log := &models.DeliveryLog{
		ID:         uuid.New(),
		CampaignID: campaignID,
		CustomerID: customerID,
		Message:    "Hi there",
	}
	created, err := repo.CreatePending(context.Background(), log)
	require.NoError(t, err)
	return created
}

func TestCreatePendingEnforcesUniquePair(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	campaignID, customerID := uuid.New(), uuid.New()

	first := mustCreateLog(t, conn, repo, campaignID, customerID)
	assert.Equal(t, enums.DeliveryStatusPending, first.Status)

	_, err := repo.CreatePending(context.Background(), &models.DeliveryLog{
		ID:         uuid.New(),
		CampaignID: campaignID,
		CustomerID: customerID,
		Message:    "duplicate",
	})
	require.Error(t, err)
	assert.True(t, db.IsUniqueViolation(err))
}

func TestMarkFailedTruncatesReason(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	log := mustCreateLog(t, conn, repo, uuid.New(), uuid.New())

	longReason := strings.Repeat("x", 400)
	require.NoError(t, repo.MarkFailed(context.Background(), log.ID, longReason))

	var updated models.DeliveryLog
	require.NoError(t, conn.Where("id = ?", log.ID).First(&updated).Error)
	assert.Equal(t, enums.DeliveryStatusFailed, updated.Status)
	require.NotNil(t, updated.FailedReason)
	assert.Len(t, *updated.FailedReason, 255)
}

func TestMarkFailedKeepsReasonOnRuneBoundary(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	log := mustCreateLog(t, conn, repo, uuid.New(), uuid.New())

	// 200 two-byte runes; a byte-exact cut at 255 would split one.
	longReason := strings.Repeat("é", 200)
	require.NoError(t, repo.MarkFailed(context.Background(), log.ID, longReason))

	var updated models.DeliveryLog
	require.NoError(t, conn.Where("id = ?", log.ID).First(&updated).Error)
	require.NotNil(t, updated.FailedReason)
	assert.True(t, utf8.ValidString(*updated.FailedReason))
	assert.Equal(t, 254, len(*updated.FailedReason))
}

func TestBulkApplyReceiptsSetsStatusFields(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	campaignID := uuid.New()

	delivered := mustCreateLog(t, conn, repo, campaignID, uuid.New())
	failed := mustCreateLog(t, conn, repo, campaignID, uuid.New())
	sent := mustCreateLog(t, conn, repo, campaignID, uuid.New())

	now := time.Date(2026, 5, 5, 9, 0, 0, 0, time.UTC)
	err := repo.BulkApplyReceipts(ctx, []Receipt{
		{LogID: delivered.ID, Status: enums.DeliveryStatusDelivered, Timestamp: now},
		{LogID: failed.ID, Status: enums.DeliveryStatusFailed, FailureReason: strings.Repeat("r", 300)},
		{LogID: sent.ID, Status: enums.DeliveryStatusSent, Timestamp: now},
	})
	require.NoError(t, err)

	// Fresh destination per lookup; a reused struct keeps its primary key
	// and gorm folds it into the next query's conditions.
	var deliveredRow models.DeliveryLog
	require.NoError(t, conn.Where("id = ?", delivered.ID).First(&deliveredRow).Error)
	assert.Equal(t, enums.DeliveryStatusDelivered, deliveredRow.Status)
	require.NotNil(t, deliveredRow.DeliveredAt)

	var failedRow models.DeliveryLog
	require.NoError(t, conn.Where("id = ?", failed.ID).First(&failedRow).Error)
	assert.Equal(t, enums.DeliveryStatusFailed, failedRow.Status)
	require.NotNil(t, failedRow.FailedReason)
	assert.Len(t, *failedRow.FailedReason, 255)

	var sentRow models.DeliveryLog
	require.NoError(t, conn.Where("id = ?", sent.ID).First(&sentRow).Error)
	assert.Equal(t, enums.DeliveryStatusSent, sentRow.Status)
	require.NotNil(t, sentRow.SentAt)
}

func TestBulkApplyReceiptsNeverRegressesStatus(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	log := mustCreateLog(t, conn, repo, uuid.New(), uuid.New())

	require.NoError(t, repo.BulkApplyReceipts(ctx, []Receipt{
		{LogID: log.ID, Status: enums.DeliveryStatusDelivered, Timestamp: time.Now()},
	}))

	// A stale FAILED receipt must not overwrite the DELIVERED outcome.
	require.NoError(t, repo.BulkApplyReceipts(ctx, []Receipt{
		{LogID: log.ID, Status: enums.DeliveryStatusFailed, FailureReason: "late failure"},
	}))

	var row models.DeliveryLog
	require.NoError(t, conn.Where("id = ?", log.ID).First(&row).Error)
	assert.Equal(t, enums.DeliveryStatusDelivered, row.Status)
	assert.Nil(t, row.FailedReason)

	// Forward progress is still allowed.
	require.NoError(t, repo.BulkApplyReceipts(ctx, []Receipt{
		{LogID: log.ID, Status: enums.DeliveryStatusOpened},
	}))
	require.NoError(t, conn.Where("id = ?", log.ID).First(&row).Error)
	assert.Equal(t, enums.DeliveryStatusOpened, row.Status)
}

func TestCountByStatusAndListRecent(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	campaignID := uuid.New()

	a := mustCreateLog(t, conn, repo, campaignID, uuid.New())
	b := mustCreateLog(t, conn, repo, campaignID, uuid.New())
	mustCreateLog(t, conn, repo, campaignID, uuid.New())

	require.NoError(t, repo.BulkApplyReceipts(ctx, []Receipt{
		{LogID: a.ID, Status: enums.DeliveryStatusDelivered, Timestamp: time.Now()},
		{LogID: b.ID, Status: enums.DeliveryStatusFailed, FailureReason: "bounced"},
	}))

	counts, err := repo.CountByStatus(ctx, campaignID)
	require.NoError(t, err)

	byStatus := map[enums.DeliveryStatus]int64{}
	for _, c := range counts {
		byStatus[c.Status] = c.Count
	}
	assert.Equal(t, int64(1), byStatus[enums.DeliveryStatusDelivered])
	assert.Equal(t, int64(1), byStatus[enums.DeliveryStatusFailed])
	assert.Equal(t, int64(1), byStatus[enums.DeliveryStatusPending])

	recent, err := repo.ListRecent(ctx, campaignID, 2)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}
