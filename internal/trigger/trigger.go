// Package trigger starts one order workflow instance per placed order.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultProcessID is the BPMN process started for new orders.
const DefaultProcessID = "order-fulfillment-poc"

// ErrEmptyOrderID is returned before any engine call when no order id is given.
var ErrEmptyOrderID = errors.New("order id is required")

// Starter creates process instances in the orchestration engine.
type Starter interface {
	CreateInstance(ctx context.Context, processID string, variables map[string]interface{}) (string, error)
}

// ProcessInstance identifies a started workflow.
type ProcessInstance struct {
	Key string
}

// Trigger starts the order workflow.
type Trigger struct {
	starter   Starter
	processID string
	nowFunc   func() time.Time
	log       *zap.Logger
}

// New returns a Trigger for processID, or DefaultProcessID when empty.
func New(starter Starter, processID string, log *zap.Logger) *Trigger {
	if processID == "" {
		processID = DefaultProcessID
	}
	return &Trigger{
		starter:   starter,
		processID: processID,
		nowFunc:   time.Now,
		log:       log,
	}
}

// StartOrderWorkflow creates a process instance for orderID with the
// variables orderId and timestamp. Engine errors are returned wrapped but
// otherwise untouched.
func (t *Trigger) StartOrderWorkflow(ctx context.Context, orderID string) (ProcessInstance, error) {
	if orderID == "" {
		return ProcessInstance{}, ErrEmptyOrderID
	}

	vars := map[string]interface{}{
		"orderId":   orderID,
		"timestamp": t.nowFunc().UTC().Format(time.RFC3339),
	}
	key, err := t.starter.CreateInstance(ctx, t.processID, vars)
	if err != nil {
		return ProcessInstance{}, fmt.Errorf("start %s for order %s: %w", t.processID, orderID, err)
	}

	t.log.Info("order workflow started",
		zap.String("order_id", orderID),
		zap.String("process_id", t.processID),
		zap.String("process_instance_key", key))
	return ProcessInstance{Key: key}, nil
}
