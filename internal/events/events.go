// Package events defines the message payloads exchanged over the broker
// queues. Every message is a JSON object; ingestion and receipt messages
// carry a type discriminator so consumers can route without guessing.
package events

import (
	"encoding/json"
	"time"
)

// Message type discriminators.
const (
	TypeCustomerIngest        = "customer_ingest"
	TypeOrderIngest           = "order_ingest"
	TypeDeliveryReceiptUpdate = "delivery_receipt_update"
)

// Envelope wraps a typed payload. Payload stays raw until the type is known.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// CustomerPayload is the body of a customer_ingest message. Zero-valued
// optional fields are left untouched on upsert.
type CustomerPayload struct {
	Name             string         `json:"name"`
	Email            string         `json:"email"`
	Phone            string         `json:"phone,omitempty"`
	TotalSpends      *float64       `json:"totalSpends,omitempty"`
	VisitCount       *int           `json:"visitCount,omitempty"`
	LastSeen         *time.Time     `json:"lastSeen,omitempty"`
	LastPurchaseDate *time.Time     `json:"lastPurchaseDate,omitempty"`
	Tags             []string       `json:"tags,omitempty"`
	CustomFields     map[string]any `json:"customFields,omitempty"`
}

// OrderItemPayload is one line of an order_ingest message.
type OrderItemPayload struct {
	ProductID   string  `json:"productId"`
	ProductName string  `json:"productName"`
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price"`
}

// OrderPayload is the body of an order_ingest message.
type OrderPayload struct {
	CustomerID  string             `json:"customerId"`
	OrderNumber string             `json:"orderNumber"`
	TotalAmount float64            `json:"totalAmount"`
	OrderDate   *time.Time         `json:"orderDate,omitempty"`
	Status      string             `json:"status,omitempty"`
	Items       []OrderItemPayload `json:"items"`
}

// CampaignJob asks the orchestrator to deliver one campaign.
type CampaignJob struct {
	CampaignDefinitionID string `json:"campaignDefinitionId"`
}

// ReceiptPayload is the body of a delivery_receipt_update message. MessageID
// is the delivery log id the vendor echoes back.
type ReceiptPayload struct {
	MessageID     string     `json:"messageId"`
	Status        string     `json:"status"`
	Timestamp     *time.Time `json:"timestamp,omitempty"`
	FailureReason string     `json:"failureReason,omitempty"`
}

// NewEnvelope marshals payload under the given type.
func NewEnvelope(msgType string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: msgType, Payload: raw}, nil
}
