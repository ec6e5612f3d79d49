package customers

import "github.com/echocrm/backend/pkg/db/models"

// CustomerList is one cursor page of customers.
type CustomerList struct {
	Customers  []models.Customer `json:"customers"`
	NextCursor string            `json:"nextCursor,omitempty"`
	HasMore    bool              `json:"hasMore"`
}

// ListInput carries the customer list query from the API.
type ListInput struct {
	Limit  int
	Cursor string
	Search string
}
