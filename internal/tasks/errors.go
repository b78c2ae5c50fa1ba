package tasks

import (
	"context"
	"fmt"
)

// InsufficientInventoryError reports that an order cannot be reserved
// because stock is unavailable. It is a business outcome, not a transport
// failure.
type InsufficientInventoryError struct {
	OrderID string
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("inventory not available for order %s - items out of stock", e.OrderID)
}

// Compensator reacts to an out-of-stock order, for example by starting a
// refund or backorder. The job is failed afterwards regardless of the result.
type Compensator interface {
	Compensate(ctx context.Context, job Job, cause *InsufficientInventoryError) error
}

// CompensatorFunc adapts a function to Compensator.
type CompensatorFunc func(ctx context.Context, job Job, cause *InsufficientInventoryError) error

func (f CompensatorFunc) Compensate(ctx context.Context, job Job, cause *InsufficientInventoryError) error {
	return f(ctx, job, cause)
}
