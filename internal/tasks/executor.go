package tasks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-orderflow-workflow/internal/metrics"
	"github.com/imrishuroy/go-orderflow-workflow/internal/notifier"
	"github.com/imrishuroy/go-orderflow-workflow/internal/workflow"
)

// StatusUpdater records a workflow stage on the order in the storefront.
type StatusUpdater interface {
	Update(ctx context.Context, orderID string, status workflow.Status, message string) error
}

// Executor runs jobs through their registered handler. Jobs for the same
// order are serialized; jobs for different orders run concurrently.
type Executor struct {
	registry    *Registry
	status      StatusUpdater
	notify      notifier.Sender
	metrics     metrics.Recorder
	compensator Compensator
	locks       *orderLocks
	log         *zap.Logger
}

// ExecutorOption customises an Executor.
type ExecutorOption func(*Executor)

// WithCompensator sets the strategy run for out-of-stock orders.
func WithCompensator(c Compensator) ExecutorOption {
	return func(e *Executor) { e.compensator = c }
}

// WithMetrics sets the recorder for task outcomes.
func WithMetrics(r metrics.Recorder) ExecutorOption {
	return func(e *Executor) { e.metrics = r }
}

// NewExecutor creates an Executor.
func NewExecutor(registry *Registry, status StatusUpdater, notify notifier.Sender, log *zap.Logger, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry: registry,
		status:   status,
		notify:   notify,
		metrics:  metrics.Nop{},
		locks:    newOrderLocks(),
		log:      log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs job and acknowledges it through sig. Within one job the order
// is strictly: work, status report, chat notification, engine signal. It
// returns the terminal state; a failed acknowledgement is logged and left to
// the engine's job timeout.
func (e *Executor) Execute(ctx context.Context, sig Signaler, job Job) State {
	orderID := job.OrderID()
	log := e.log.With(
		zap.Int64("job_key", job.Key),
		zap.String("task_type", string(job.Type)),
		zap.String("order_id", orderID))
	log.Info("job received", zap.Int32("retries", job.Retries))

	spec, err := workflow.Spec(job.Type)
	if err != nil {
		return e.fail(ctx, log, sig, job, "", err)
	}
	handler, ok := e.registry.Get(job.Type)
	if !ok {
		return e.fail(ctx, log, sig, job, spec.Stage, fmt.Errorf("no handler registered for task type %q", job.Type))
	}

	unlock := e.locks.Lock(orderID)
	defer unlock()

	log.Debug("job state", zap.String("state", string(StateWorking)))
	res, err := handler.Handle(ctx, job)
	if err != nil {
		return e.fail(ctx, log, sig, job, spec.Stage, err)
	}

	log.Debug("job state", zap.String("state", string(StateReporting)))
	if err := e.status.Update(ctx, orderID, spec.Status, res.Message); err != nil {
		return e.fail(ctx, log, sig, job, spec.Stage, err)
	}
	e.notify.Notify(ctx, res.Notification)

	if err := sig.Complete(ctx, job.Key, res.Variables); err != nil {
		log.Error("failed to complete job", zap.Error(err))
	}
	e.metrics.Incr(ctx, metrics.TaskCompleted, map[string]string{metrics.DimensionTaskType: string(job.Type)})
	log.Info("job completed", zap.String("status", string(spec.Status)))
	return StateCompleted
}

func (e *Executor) fail(ctx context.Context, log *zap.Logger, sig Signaler, job Job, stage string, cause error) State {
	log.Error("job failed", zap.String("stage", stage), zap.Error(cause))

	var inv *InsufficientInventoryError
	if errors.As(cause, &inv) && e.compensator != nil {
		if err := e.compensator.Compensate(ctx, job, inv); err != nil {
			log.Error("compensation failed", zap.Error(err))
		}
	}

	if stage != "" {
		e.notify.Notify(ctx, notifier.WorkflowError(job.OrderID(), job.DisplayID(), stage, cause.Error()))
	}

	if err := sig.Fail(ctx, job.Key, NewFailure(cause)); err != nil {
		log.Error("failed to fail job", zap.Error(err))
	}
	e.metrics.Incr(ctx, metrics.TaskFailed, map[string]string{metrics.DimensionTaskType: string(job.Type)})
	return StateFailed
}
