// Package tasks executes the order workflow's service tasks: it runs the
// handler registered for a job's type, reports the resulting stage to the
// storefront and chat, and signals the outcome back to the engine.
package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/imrishuroy/go-orderflow-workflow/internal/workflow"
)

// Job variable names shared with the process definition.
const (
	VarOrderID   = "orderId"
	VarDisplayID = "displayId"
	VarWarehouse = "warehouse"
)

// Hints passed to the engine when a job fails.
const (
	FailRetries      int32 = 3
	FailRetryBackoff       = 5 * time.Second
)

// Job is one unit of work handed out by the engine.
type Job struct {
	Key       int64
	Type      workflow.TaskType
	Retries   int32
	Variables map[string]interface{}
}

// Var returns variable name as a string, or "" when it is absent.
func (j Job) Var(name string) string {
	switch v := j.Variables[name].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// OrderID is the order the job belongs to. It is not validated here; an
// empty id makes the status report fail downstream.
func (j Job) OrderID() string { return j.Var(VarOrderID) }

// DisplayID is the optional short order reference.
func (j Job) DisplayID() string { return j.Var(VarDisplayID) }

// Failure is what the engine is told when a job fails. Retries and
// RetryBackoff are hints; the engine owns the retry policy.
type Failure struct {
	ErrorMessage string
	Retries      int32
	RetryBackoff time.Duration
}

// NewFailure returns the failure sent for err with the standard hints.
func NewFailure(err error) Failure {
	return Failure{
		ErrorMessage: err.Error(),
		Retries:      FailRetries,
		RetryBackoff: FailRetryBackoff,
	}
}

// Signaler acknowledges jobs to the engine.
type Signaler interface {
	Complete(ctx context.Context, jobKey int64, variables map[string]interface{}) error
	Fail(ctx context.Context, jobKey int64, f Failure) error
}

// State is where a job is in its lifecycle inside this process.
type State string

const (
	StateReceived  State = "received"
	StateWorking   State = "working"
	StateReporting State = "reporting"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)
