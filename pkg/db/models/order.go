package models

import (
	"time"

	"github.com/google/uuid"
)

// Order belongs to exactly one customer and carries its line items. The
// total is always recomputed from the items, never trusted from input.
type Order struct {
	ID          uuid.UUID   `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	CustomerID  uuid.UUID   `gorm:"column:customer_id;type:uuid;not null;index" json:"customerId"`
	OrderNumber string      `gorm:"column:order_number;not null;uniqueIndex:idx_orders_order_number" json:"orderNumber"`
	Items       []OrderItem `gorm:"foreignKey:OrderID" json:"items"`
	TotalAmount float64     `gorm:"column:total_amount;not null;default:0" json:"totalAmount"`
	OrderDate   time.Time   `gorm:"column:order_date;index" json:"orderDate"`
	Status      string      `gorm:"column:status;not null;default:'Pending'" json:"status"`
	CreatedAt   time.Time   `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time   `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// OrderItem is a line item snapshot within an order.
type OrderItem struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"-"`
	OrderID     uuid.UUID `gorm:"column:order_id;type:uuid;not null;index" json:"-"`
	ProductID   string    `gorm:"column:product_id;not null" json:"productId"`
	ProductName string    `gorm:"column:product_name;not null" json:"productName"`
	Quantity    int       `gorm:"column:quantity;not null" json:"quantity"`
	Price       float64   `gorm:"column:price;not null" json:"price"`
}

// ComputeTotal sums quantity times price across the items.
func (o Order) ComputeTotal() float64 {
	total := 0.0
	for _, item := range o.Items {
		total += float64(item.Quantity) * item.Price
	}
	return total
}
