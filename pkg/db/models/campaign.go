package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/echocrm/backend/pkg/enums"
)

// Rule is one atomic audience filter chained to the previous rule in the
// list by Logical ("" for the first rule, otherwise "AND"/"OR").
type Rule struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
	Logical  string `json:"logical"`
}

// RuleList stores the ordered rule list as a JSON column.
type RuleList []Rule

func (r *RuleList) Scan(src any) error {
	if src == nil {
		*r = RuleList{}
		return nil
	}
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("RuleList: unsupported Scan type %T", src)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "[]" || raw == "null" {
		*r = RuleList{}
		return nil
	}
	var out []Rule
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return fmt.Errorf("RuleList: parse: %w", err)
	}
	*r = RuleList(out)
	return nil
}

func (r RuleList) Value() (driver.Value, error) {
	if len(r) == 0 {
		return "[]", nil
	}
	raw, err := json.Marshal([]Rule(r))
	if err != nil {
		return nil, fmt.Errorf("RuleList: marshal: %w", err)
	}
	return string(raw), nil
}

// Campaign is a stored segment definition plus the message template and
// delivery lifecycle status. Name is unique per owner.
type Campaign struct {
	ID              uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name            string               `gorm:"column:name;not null;uniqueIndex:idx_campaigns_name_created_by" json:"name"`
	Description     string               `gorm:"column:description" json:"description,omitempty"`
	Rules           RuleList             `gorm:"column:rules;type:jsonb;not null" json:"rules"`
	Objective       string               `gorm:"column:objective" json:"objective,omitempty"`
	MessageTemplate string               `gorm:"column:message_template" json:"messageTemplate"`
	CreatedBy       uuid.UUID            `gorm:"column:created_by;type:uuid;not null;index;uniqueIndex:idx_campaigns_name_created_by" json:"createdBy"`
	Status          enums.CampaignStatus `gorm:"column:status;not null;default:'DRAFT'" json:"status"`
	LastLaunchedAt  *time.Time           `gorm:"column:last_launched_at" json:"lastLaunchedAt,omitempty"`
	CreatedAt       time.Time            `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt       time.Time            `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}
