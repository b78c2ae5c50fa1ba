package orders

import (
	"fmt"
	"time"
)

// Order statuses
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// Order represents the item stored in the Orders DynamoDB table.
type Order struct {
	OrderID    string                   `dynamodbav:"order_id"`              // PK
	DisplayID  string                   `dynamodbav:"display_id,omitempty"`  // short customer-facing reference
	CustomerID string                   `dynamodbav:"customer_id,omitempty"` // customer reference
	Status     string                   `dynamodbav:"status"`                // PENDING | PROCESSING | COMPLETED | FAILED
	Amount     float64                  `dynamodbav:"amount"`
	Items      []map[string]interface{} `dynamodbav:"items,omitempty"`
	Metadata   map[string]interface{}   `dynamodbav:"metadata,omitempty"` // free-form; workflow_* keys are owned by the workflow subsystem
	CreatedAt  time.Time                `dynamodbav:"created_at"`
	UpdatedAt  time.Time                `dynamodbav:"updated_at"`
	Attempts   int                      `dynamodbav:"attempts,omitempty"`
}

// MetaString returns the metadata value for key as a string, or "" when absent.
func (o *Order) MetaString(key string) string {
	if o == nil || o.Metadata == nil {
		return ""
	}
	switch v := o.Metadata[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// PlacedEvent is the payload sent from the API -> SQS -> trigger when an order is placed.
type PlacedEvent struct {
	OrderID        string `json:"order_id"`
	IdempotencyKey string `json:"idempotency_key"`
	CorrelationID  string `json:"correlation_id,omitempty"`
}
