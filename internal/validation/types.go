package validation

import "time"

// Item represents a single order line item.
type Item struct {
	SKU      string  `json:"sku" validate:"required"`            // stock keeping unit
	Quantity int     `json:"quantity" validate:"required,min=1"` // must be >= 1
	Price    float64 `json:"price" validate:"required,gt=0"`     // price per unit
}

// CreateOrderRequest is the payload for POST /orders
type CreateOrderRequest struct {
	CustomerID string                 `json:"customer_id" validate:"required"`      // business id for customer
	DisplayID  string                 `json:"display_id,omitempty"`                 // optional short reference shown to staff
	Items      []Item                 `json:"items" validate:"required,min=1,dive"` // at least one item
	Amount     float64                `json:"amount" validate:"required,gt=0"`      // total amount client claims
	Metadata   map[string]interface{} `json:"metadata,omitempty"`                   // optional free-form metadata
	CreatedAt  *time.Time             `json:"created_at,omitempty"`                 // optional client timestamp
}

// WorkflowUpdateRequest is the payload for POST /store/orders/:id/workflow-update.
type WorkflowUpdateRequest struct {
	Status  string `json:"status" validate:"required,nonblank"`
	Message string `json:"message,omitempty"`
}

// LegacyWorkflowUpdateRequest is the payload for POST /demo. The order id
// travels in the body instead of the path.
type LegacyWorkflowUpdateRequest struct {
	OrderID string `json:"orderId" validate:"required,nonblank"`
	Status  string `json:"status" validate:"required,nonblank"`
	Message string `json:"message,omitempty"`
}
