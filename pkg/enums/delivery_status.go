package enums

import (
	"fmt"
	"strings"
)

// DeliveryStatus tracks one delivery-log row from creation through vendor
// receipt reconciliation.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "PENDING"
	DeliveryStatusSent      DeliveryStatus = "SENT"
	DeliveryStatusFailed    DeliveryStatus = "FAILED"
	DeliveryStatusDelivered DeliveryStatus = "DELIVERED"
	DeliveryStatusOpened    DeliveryStatus = "OPENED"
	DeliveryStatusClicked   DeliveryStatus = "CLICKED"
)

var validDeliveryStatuses = []DeliveryStatus{
	DeliveryStatusPending,
	DeliveryStatusSent,
	DeliveryStatusFailed,
	DeliveryStatusDelivered,
	DeliveryStatusOpened,
	DeliveryStatusClicked,
}

// String implements fmt.Stringer.
func (d DeliveryStatus) String() string {
	return string(d)
}

// IsValid reports whether the value is known.
func (d DeliveryStatus) IsValid() bool {
	for _, candidate := range validDeliveryStatuses {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDeliveryStatus converts raw input into a DeliveryStatus. Vendor
// receipts arrive in mixed case, so the input is upper-cased first.
func ParseDeliveryStatus(value string) (DeliveryStatus, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	for _, candidate := range validDeliveryStatuses {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid delivery status %q", value)
}
