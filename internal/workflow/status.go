// Package workflow holds the vocabulary shared by the storefront API, the
// trigger and the task workers: workflow statuses, task types and the order
// metadata keys they write.
package workflow

import "math"

// Status is the storefront-visible stage of an order's workflow.
type Status string

const (
	StatusPending           Status = "pending"
	StatusStarted           Status = "started"
	StatusPaymentVerified   Status = "payment_verified"
	StatusInventoryReserved Status = "inventory_reserved"
	StatusCompleted         Status = "completed"
)

// Order metadata keys written by this subsystem.
const (
	MetaStatus    = "workflow_status"
	MetaInstance  = "workflow_instance"
	MetaMessage   = "workflow_message"
	MetaError     = "workflow_error"
	MetaStartedAt = "workflow_started_at"
	MetaUpdatedAt = "last_updated"
)

// Step describes one stage of the workflow as shown to customers.
type Step struct {
	Key         Status `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Steps lists the stages in the order they are expected to advance.
var Steps = []Step{
	{Key: StatusStarted, Name: "Order Received", Description: "Your order has been received and is being processed"},
	{Key: StatusPaymentVerified, Name: "Payment Confirmed", Description: "Payment has been verified successfully"},
	{Key: StatusInventoryReserved, Name: "Items Reserved", Description: "Inventory has been reserved for your order"},
	{Key: StatusCompleted, Name: "Order Complete", Description: "Your order is complete and ready for shipping"},
}

// Index returns the position of s in Steps, or -1 when s is not a known stage.
func Index(s Status) int {
	for i, step := range Steps {
		if step.Key == s {
			return i
		}
	}
	return -1
}

// Progress summarises how far an order has advanced through Steps.
type Progress struct {
	Current    int `json:"current"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

// ProgressOf computes the progress for status s. Unknown statuses report 0.
func ProgressOf(s Status) Progress {
	current := Index(s) + 1
	total := len(Steps)
	return Progress{
		Current:    current,
		Total:      total,
		Percentage: int(math.Round(float64(current) / float64(total) * 100)),
	}
}

// StepState is the customer-facing state of a single step.
type StepState string

const (
	StepCompleted StepState = "completed"
	StepCurrent   StepState = "current"
	StepPending   StepState = "pending"
)

// StepStates returns the state of every step for an order currently at s.
func StepStates(s Status) []StepState {
	current := Index(s)
	out := make([]StepState, len(Steps))
	for i := range Steps {
		switch {
		case current == -1 || i > current:
			out[i] = StepPending
		case i < current:
			out[i] = StepCompleted
		default:
			out[i] = StepCurrent
		}
	}
	return out
}
