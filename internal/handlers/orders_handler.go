package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-orderflow-workflow/internal/aws"
	"github.com/imrishuroy/go-orderflow-workflow/internal/idempotency"
	"github.com/imrishuroy/go-orderflow-workflow/internal/orders"
	"github.com/imrishuroy/go-orderflow-workflow/internal/validation"
)

// HandlerConfig groups dependencies for the storefront handlers.
type HandlerConfig struct {
	DynamoDBClient   aws.DynamoDBAPI
	SQSClient        aws.SQSAPI
	IdempotencyTable string
	OrdersTable      string
	QueueURL         string
	TTLWindow        time.Duration
	// WorkerAPIKey, when set, must be sent as X-Worker-Api-Key on workflow updates.
	WorkerAPIKey string
	Logger       *zap.Logger
}

// RegisterOrdersRoutes registers routes for order API.
func RegisterOrdersRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()
	idempStore := idempotency.NewStore(cfg.DynamoDBClient, cfg.IdempotencyTable, cfg.TTLWindow)
	ordersStore := orders.NewStore(cfg.DynamoDBClient, cfg.OrdersTable)
	publisher := aws.NewPublisher(cfg.SQSClient, cfg.QueueURL)
	log := cfg.logger()

	r.POST("/orders", func(c *gin.Context) {
		ctx := c.Request.Context()

		// Bind + validate request
		var req validation.CreateOrderRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		// Require idempotency key header
		idempKey := c.GetHeader("Idempotency-Key")
		if idempKey == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing_idempotency_key"})
			return
		}

		// Generate order id
		orderID := uuid.NewString()

		// Idempotency item, written in the same transaction as the order
		now := time.Now().UTC()
		idempItem := map[string]interface{}{
			"idempotency_key": idempKey,
			"status":          idempotency.StatusInProgress,
			"created_at":      now.Format(time.RFC3339),
			"updated_at":      now.Format(time.RFC3339),
			"order_id":        orderID,
		}

		// Build order object
		order := orders.Order{
			OrderID:    orderID,
			DisplayID:  req.DisplayID,
			CustomerID: req.CustomerID,
			Status:     orders.StatusPending,
			Amount:     req.Amount,
			Metadata:   req.Metadata,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		items := make([]map[string]interface{}, 0, len(req.Items))
		for _, it := range req.Items {
			items = append(items, map[string]interface{}{
				"sku":      it.SKU,
				"quantity": it.Quantity,
				"price":    it.Price,
			})
		}
		order.Items = items

		err := ordersStore.CreateWithIdempotencyTransaction(ctx, cfg.DynamoDBClient, cfg.IdempotencyTable, idempItem, order, cfg.TTLWindow)
		if err != nil {
			// The key already exists: answer from its record.
			rec, getErr := idempStore.Get(ctx, idempKey)
			if getErr != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "idempotency_check_failed", "detail": getErr.Error()})
				return
			}
			if rec == nil {
				// Unexpected: transaction failed but no record found
				c.JSON(http.StatusInternalServerError, gin.H{"error": "transaction_failed_no_idempotency_record", "detail": err.Error()})
				return
			}
			switch rec.Status {
			case idempotency.StatusDone:
				if status, body, ok := rec.Replay(); ok {
					c.Data(status, "application/json", body)
					return
				}
				c.JSON(http.StatusOK, gin.H{"order_id": rec.OrderID})
				return
			case idempotency.StatusInProgress:
				c.JSON(http.StatusAccepted, gin.H{"message": "request already in progress", "order_id": rec.OrderID})
				return
			case idempotency.StatusFailed:
				// let client retry
				c.JSON(http.StatusInternalServerError, gin.H{"error": "previous_attempt_failed", "order_id": rec.OrderID})
				return
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "unknown_idempotency_status"})
				return
			}
		}

		// Records exist; publish the order-placed event. A failed publish marks the key FAILED so the client can retry.
		correlationID := c.GetHeader("X-Request-Id")
		if correlationID == "" {
			correlationID = uuid.NewString()
		}
		event := orders.PlacedEvent{
			OrderID:        orderID,
			IdempotencyKey: idempKey,
			CorrelationID:  correlationID,
		}
		attrs := map[string]string{
			"idempotency_key": idempKey,
			"order_id":        orderID,
			"correlation_id":  correlationID,
		}

		if err := publisher.Publish(ctx, event, attrs); err != nil {
			log.Error("failed to publish order placed event", zap.String("order_id", orderID), zap.Error(err))
			_ = idempStore.MarkFailed(ctx, idempKey, fmt.Sprintf("sqs_send_failed: %v", err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue_failed", "detail": err.Error()})
			return
		}

		// Store the response so duplicates replay it
		responseBody, _ := json.Marshal(gin.H{"order_id": orderID, "status": orders.StatusPending})
		if err := idempStore.MarkDone(ctx, idempKey, string(responseBody), http.StatusCreated); err != nil {
			log.Warn("failed to store idempotent response", zap.String("order_id", orderID), zap.Error(err))
		}
		log.Info("order placed", zap.String("order_id", orderID), zap.String("correlation_id", correlationID))

		c.Header("Location", fmt.Sprintf("/orders/%s", orderID))
		c.JSON(http.StatusCreated, gin.H{"order_id": orderID, "status": orders.StatusPending})
	})
}

func (cfg HandlerConfig) logger() *zap.Logger {
	if cfg.Logger == nil {
		return zap.NewNop()
	}
	return cfg.Logger
}
