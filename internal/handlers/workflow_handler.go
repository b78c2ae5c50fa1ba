package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-orderflow-workflow/internal/orders"
	"github.com/imrishuroy/go-orderflow-workflow/internal/reporter"
	"github.com/imrishuroy/go-orderflow-workflow/internal/validation"
	"github.com/imrishuroy/go-orderflow-workflow/internal/workflow"
)

// orderWorkflowStore is the part of orders.Store the workflow routes need.
type orderWorkflowStore interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	MergeMetadata(ctx context.Context, orderID string, fields map[string]string) (*orders.Order, error)
	SetStatus(ctx context.Context, orderID, status string) error
}

type workflowHandler struct {
	store    orderWorkflowStore
	validate *validatorv10.Validate
	log      *zap.Logger
	nowFunc  func() time.Time
}

// RegisterWorkflowRoutes registers the routes task workers report progress to
// and the customer-facing workflow status route.
func RegisterWorkflowRoutes(r *gin.Engine, cfg HandlerConfig) {
	h := &workflowHandler{
		store:    orders.NewStore(cfg.DynamoDBClient, cfg.OrdersTable),
		validate: validation.New(),
		log:      cfg.logger(),
		nowFunc:  time.Now,
	}
	h.register(r, RequireWorkerKey(cfg.WorkerAPIKey))
}

func (h *workflowHandler) register(r *gin.Engine, auth gin.HandlerFunc) {
	r.POST("/store/orders/:id/workflow-update", auth, h.update)
	r.GET("/store/orders/:id/workflow-status", h.status)
	r.POST("/demo", auth, h.legacyUpdate)
	r.GET("/demo", h.legacyInfo)
}

// RequireWorkerKey rejects requests whose X-Worker-Api-Key header does not
// match key. An empty key disables the check.
func RequireWorkerKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.Next()
			return
		}
		got := c.GetHeader(reporter.APIKeyHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (h *workflowHandler) update(c *gin.Context) {
	orderID := c.Param("id")

	var req validation.WorkflowUpdateRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		return
	}
	if !h.apply(c, orderID, req.Status, req.Message) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "order_id": orderID, "status": req.Status})
}

// legacyUpdate serves the older endpoint that carries the order id in the body.
func (h *workflowHandler) legacyUpdate(c *gin.Context) {
	var req validation.LegacyWorkflowUpdateRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		return
	}
	h.log.Warn("deprecated workflow update endpoint used", zap.String("order_id", req.OrderID))
	if !h.apply(c, req.OrderID, req.Status, req.Message) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "orderId": req.OrderID, "status": req.Status})
}

func (h *workflowHandler) legacyInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "POC API ready (deprecated - use /health)",
		"timestamp": h.nowFunc().UTC().Format(time.RFC3339),
		"notice":    "POST /demo is deprecated, use POST /store/orders/:id/workflow-update",
	})
}

// apply records the reported stage on the order and writes the error
// response itself when it fails. It reports whether the caller should go on.
func (h *workflowHandler) apply(c *gin.Context, orderID, status, message string) bool {
	ctx := c.Request.Context()
	orderID = strings.TrimSpace(orderID)
	log := h.log.With(zap.String("order_id", orderID), zap.String("workflow_status", status))

	_, err := h.store.MergeMetadata(ctx, orderID, map[string]string{
		workflow.MetaStatus:    status,
		workflow.MetaMessage:   message,
		workflow.MetaUpdatedAt: h.nowFunc().UTC().Format(time.RFC3339),
	})
	if err == nil && workflow.Status(status) == workflow.StatusCompleted {
		err = h.store.SetStatus(ctx, orderID, orders.StatusCompleted)
	}

	switch {
	case err == nil:
		log.Info("workflow status updated")
		return true
	case errors.Is(err, orders.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Order not found: %s", orderID)})
	default:
		log.Error("failed to update workflow status", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "message": err.Error()})
	}
	return false
}

type stepView struct {
	workflow.Step
	Status workflow.StepState `json:"status"`
}

func (h *workflowHandler) status(c *gin.Context) {
	orderID := c.Param("id")

	order, err := h.store.Get(c.Request.Context(), orderID)
	if err != nil {
		h.log.Error("failed to load order", zap.String("order_id", orderID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "message": err.Error()})
		return
	}
	if order == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Order not found: %s", orderID)})
		return
	}

	current := workflow.Status(order.MetaString(workflow.MetaStatus))
	if current == "" {
		current = workflow.StatusPending
	}

	states := workflow.StepStates(current)
	steps := make([]stepView, len(workflow.Steps))
	for i, step := range workflow.Steps {
		steps[i] = stepView{Step: step, Status: states[i]}
	}

	c.JSON(http.StatusOK, gin.H{
		"order_id": orderID,
		"workflow": gin.H{
			"instance_id":  nullable(order.MetaString(workflow.MetaInstance)),
			"status":       current,
			"message":      nullable(order.MetaString(workflow.MetaMessage)),
			"error":        nullable(order.MetaString(workflow.MetaError)),
			"started_at":   nullable(order.MetaString(workflow.MetaStartedAt)),
			"last_updated": nullable(order.MetaString(workflow.MetaUpdatedAt)),
		},
		"steps":    steps,
		"progress": workflow.ProgressOf(current),
	})
}

// nullable renders empty metadata values as JSON null.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
