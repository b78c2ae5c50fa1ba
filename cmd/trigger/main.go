package main

import (
	"context"
	"encoding/json"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-orderflow-workflow/internal/aws"
	"github.com/imrishuroy/go-orderflow-workflow/internal/config"
	"github.com/imrishuroy/go-orderflow-workflow/internal/engine"
	"github.com/imrishuroy/go-orderflow-workflow/internal/idempotency"
	"github.com/imrishuroy/go-orderflow-workflow/internal/logging"
	"github.com/imrishuroy/go-orderflow-workflow/internal/metrics"
	"github.com/imrishuroy/go-orderflow-workflow/internal/orders"
	"github.com/imrishuroy/go-orderflow-workflow/internal/trigger"
)

func main() {
	cfg, err := config.LoadTrigger()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	clients, err := aws.NewAWSClients(ctx)
	if err != nil {
		logger.Fatal("failed to init aws clients", zap.Error(err))
	}

	eng, err := engine.New(cfg.Zeebe, logger.Named("engine"))
	if err != nil {
		logger.Fatal("failed to connect to zeebe", zap.Error(err))
	}
	defer func() { _ = eng.Close() }()

	var idempStore *idempotency.Store
	if cfg.IdempotencyTable != "" {
		idempStore = idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, 0)
	}

	sub := trigger.NewSubscriber(
		orders.NewStore(clients.DynamoDB, cfg.OrdersTable),
		idempStore,
		trigger.New(eng, cfg.BPMNProcessID, logger.Named("trigger")),
		metrics.New(clients.CloudWatch, cfg.Metrics.Namespace, logger),
		logger.Named("subscriber"),
	)

	// RUN_LOCAL=true runs one simulated SQS event and exits.
	if cfg.RunLocal {
		body := cfg.LocalSQSBody
		if body == "" {
			raw, _ := json.Marshal(orders.PlacedEvent{OrderID: "local-order-1", IdempotencyKey: "local-key-1"})
			body = string(raw)
		}
		resp, err := sub.Handle(ctx, events.SQSEvent{
			Records: []events.SQSMessage{{MessageId: "local-1", Body: body}},
		})
		if err != nil || len(resp.BatchItemFailures) > 0 {
			logger.Fatal("local event failed", zap.Error(err), zap.Int("failures", len(resp.BatchItemFailures)))
		}
		return
	}

	lambda.Start(sub.Handle)
}
