package campaigns

import (
	"github.com/google/uuid"

	"github.com/echocrm/backend/internal/delivery"
	"github.com/echocrm/backend/pkg/db/models"
)

// CreateInput holds the validated payload to create and launch a campaign.
type CreateInput struct {
	Name            string
	Description     string
	Rules           []models.Rule
	Objective       string
	MessageTemplate string
	CreatedBy       uuid.UUID
}

// HistoryInput carries the campaign history query from the API.
type HistoryInput struct {
	Limit     int
	Cursor    string
	CreatedBy *uuid.UUID
}

// HistoryItem is one campaign with its per-status delivery stats.
type HistoryItem struct {
	Campaign models.Campaign        `json:"campaign"`
	Stats    []delivery.StatusCount `json:"stats"`
	Total    int64                  `json:"total"`
}

// HistoryResult is one cursor page of campaign history.
type HistoryResult struct {
	Items      []HistoryItem `json:"items"`
	NextCursor string        `json:"nextCursor,omitempty"`
	HasMore    bool          `json:"hasMore"`
}

// Details is the full view of one campaign: definition, delivery stats, and
// a sample of recent log rows.
type Details struct {
	Campaign   models.Campaign        `json:"campaign"`
	Stats      []delivery.StatusCount `json:"stats"`
	Total      int64                  `json:"total"`
	RecentLogs []models.DeliveryLog   `json:"recentLogs"`
}
