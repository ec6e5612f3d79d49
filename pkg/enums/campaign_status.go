package enums

import "fmt"

// CampaignStatus tracks a campaign definition through its delivery lifecycle.
type CampaignStatus string

const (
	CampaignStatusDraft         CampaignStatus = "DRAFT"
	CampaignStatusProcessing    CampaignStatus = "PROCESSING"
	CampaignStatusActive        CampaignStatus = "ACTIVE"
	CampaignStatusCompleted     CampaignStatus = "COMPLETED"
	CampaignStatusArchived      CampaignStatus = "ARCHIVED"
	CampaignStatusFailedToQueue CampaignStatus = "FAILED_TO_QUEUE"
)

var validCampaignStatuses = []CampaignStatus{
	CampaignStatusDraft,
	CampaignStatusProcessing,
	CampaignStatusActive,
	CampaignStatusCompleted,
	CampaignStatusArchived,
	CampaignStatusFailedToQueue,
}

// String implements fmt.Stringer.
func (c CampaignStatus) String() string {
	return string(c)
}

// IsValid reports whether the value is known.
func (c CampaignStatus) IsValid() bool {
	for _, candidate := range validCampaignStatuses {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseCampaignStatus converts raw input into a CampaignStatus.
func ParseCampaignStatus(value string) (CampaignStatus, error) {
	for _, candidate := range validCampaignStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid campaign status %q", value)
}
