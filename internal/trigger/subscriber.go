package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-orderflow-workflow/internal/idempotency"
	"github.com/imrishuroy/go-orderflow-workflow/internal/metrics"
	"github.com/imrishuroy/go-orderflow-workflow/internal/orders"
	"github.com/imrishuroy/go-orderflow-workflow/internal/workflow"
)

// WorkflowStarter is implemented by Trigger.
type WorkflowStarter interface {
	StartOrderWorkflow(ctx context.Context, orderID string) (ProcessInstance, error)
}

// Subscriber consumes order-placed messages from SQS and starts a workflow
// for each order exactly once.
type Subscriber struct {
	orders     *orders.Store
	idempStore *idempotency.Store
	starter    WorkflowStarter
	metrics    metrics.Recorder
	nowFunc    func() time.Time
	log        *zap.Logger
}

// NewSubscriber wires a Subscriber. idempStore may be nil, in which case
// the stored response of the placing request is left untouched.
func NewSubscriber(orderStore *orders.Store, idempStore *idempotency.Store, starter WorkflowStarter, rec metrics.Recorder, log *zap.Logger) *Subscriber {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Subscriber{
		orders:     orderStore,
		idempStore: idempStore,
		starter:    starter,
		metrics:    rec,
		nowFunc:    time.Now,
		log:        log,
	}
}

// Handle processes an SQS batch. Records that fail are reported as batch
// item failures so only they are redelivered.
func (s *Subscriber) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := s.processMessage(ctx, rec); err != nil {
			s.log.Error("order-placed message failed", zap.String("message_id", rec.MessageId), zap.Error(err))
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (s *Subscriber) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var msg orders.PlacedEvent
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}
	log := s.log.With(zap.String("order_id", msg.OrderID), zap.String("correlation_id", msg.CorrelationID))
	log.Info("order placed event received")

	order, err := s.orders.Get(ctx, msg.OrderID)
	if err != nil {
		return fmt.Errorf("fetch order: %w", err)
	}
	if order == nil {
		return fmt.Errorf("order %s: %w", msg.OrderID, orders.ErrNotFound)
	}

	// PENDING -> PROCESSING claims the order for this delivery.
	err = s.orders.UpdateStatus(ctx, msg.OrderID, orders.StatusPending, orders.StatusProcessing)
	if errors.Is(err, orders.ErrStatusMismatch) {
		current, getErr := s.orders.Get(ctx, msg.OrderID)
		if getErr != nil {
			return fmt.Errorf("re-read order: %w", getErr)
		}
		if current == nil {
			return fmt.Errorf("order %s: %w", msg.OrderID, orders.ErrNotFound)
		}
		if instance := current.MetaString(workflow.MetaInstance); instance != "" {
			log.Info("duplicate order placed event, workflow already started", zap.String("workflow_instance", instance))
			return nil
		}
		switch current.Status {
		case orders.StatusProcessing:
			// An earlier delivery claimed the order but never recorded an instance.
			log.Warn("order claimed without workflow instance, retrying start")
		case orders.StatusCompleted:
			log.Info("order already completed")
			return nil
		default:
			return fmt.Errorf("unexpected status for order %s: %s", msg.OrderID, current.Status)
		}
	} else if err != nil {
		return fmt.Errorf("update status to PROCESSING: %w", err)
	}

	if err := s.orders.IncrementAttempts(ctx, msg.OrderID); err != nil {
		return err
	}

	instance, err := s.starter.StartOrderWorkflow(ctx, msg.OrderID)
	now := s.nowFunc().UTC().Format(time.RFC3339)
	if err != nil {
		s.metrics.Incr(ctx, metrics.WorkflowStartFailed, nil)
		if _, mErr := s.orders.MergeMetadata(ctx, msg.OrderID, map[string]string{
			workflow.MetaError:     err.Error(),
			workflow.MetaUpdatedAt: now,
		}); mErr != nil {
			log.Error("failed to record workflow error", zap.Error(mErr))
		}
		return err
	}

	// The first recorded instance wins; a concurrent delivery that also
	// started one leaves it unrecorded.
	current, err := s.orders.RecordInstance(ctx, msg.OrderID, workflow.MetaInstance, map[string]string{
		workflow.MetaInstance:  instance.Key,
		workflow.MetaStartedAt: now,
		workflow.MetaUpdatedAt: now,
	}, map[string]string{
		workflow.MetaStatus: string(workflow.StatusStarted),
	})
	if errors.Is(err, orders.ErrInstanceRecorded) {
		log.Warn("workflow instance already recorded by another delivery, leaving new instance unrecorded",
			zap.String("workflow_instance", current.MetaString(workflow.MetaInstance)),
			zap.String("unrecorded_instance", instance.Key))
		return nil
	}
	if err != nil {
		return fmt.Errorf("record workflow instance %s: %w", instance.Key, err)
	}
	s.metrics.Incr(ctx, metrics.WorkflowStarted, nil)

	if s.idempStore != nil && msg.IdempotencyKey != "" {
		body, _ := json.Marshal(map[string]string{
			"order_id":          msg.OrderID,
			"status":            orders.StatusProcessing,
			"workflow_instance": instance.Key,
		})
		if err := s.idempStore.MarkDone(ctx, msg.IdempotencyKey, string(body), http.StatusCreated); err != nil {
			log.Warn("failed to refresh idempotency response", zap.Error(err))
		}
	}

	log.Info("workflow recorded on order", zap.String("workflow_instance", instance.Key))
	return nil
}
