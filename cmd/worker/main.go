package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-orderflow-workflow/internal/aws"
	"github.com/imrishuroy/go-orderflow-workflow/internal/config"
	"github.com/imrishuroy/go-orderflow-workflow/internal/engine"
	"github.com/imrishuroy/go-orderflow-workflow/internal/logging"
	"github.com/imrishuroy/go-orderflow-workflow/internal/metrics"
	"github.com/imrishuroy/go-orderflow-workflow/internal/notifier"
	"github.com/imrishuroy/go-orderflow-workflow/internal/reporter"
	"github.com/imrishuroy/go-orderflow-workflow/internal/tasks"
)

func main() {
	cfg, err := config.LoadWorker()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("worker stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Worker, logger *zap.Logger) error {
	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Jobs outlive the signal so in-flight work can finish while workers drain.
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	rec := metrics.Recorder(metrics.Nop{})
	if cfg.Metrics.Namespace != "" {
		clients, err := aws.NewAWSClients(jobCtx)
		if err != nil {
			return err
		}
		rec = metrics.New(clients.CloudWatch, cfg.Metrics.Namespace, logger)
	}

	status := reporter.New(reporter.Config{
		BaseURL: cfg.Storefront.BaseURL,
		APIKey:  cfg.Storefront.WorkerAPIKey,
		Retries: cfg.Storefront.Retries,
	}, logger.Named("reporter"))

	notify := notifier.New(cfg.Slack.WebhookURL, cfg.Slack.AdminURL, logger.Named("notifier"))
	if !notify.Enabled() {
		logger.Warn("SLACK_WEBHOOK_URL not set, chat notifications disabled")
	}

	registry := tasks.DefaultSimulation(cfg.InventoryPassRate).NewRegistry()
	exec := tasks.NewExecutor(registry, status, notify, logger.Named("tasks"),
		tasks.WithMetrics(rec),
		tasks.WithCompensator(tasks.CompensatorFunc(func(ctx context.Context, job tasks.Job, cause *tasks.InsufficientInventoryError) error {
			logger.Warn("order needs backorder or refund", zap.String("order_id", cause.OrderID), zap.Int32("retries", job.Retries))
			return nil
		})))

	eng, err := engine.New(cfg.Zeebe, logger.Named("engine"))
	if err != nil {
		return err
	}
	hostname, _ := os.Hostname()
	eng.Register(jobCtx, registry, exec, engine.WorkerOptions{
		Name:          "order-worker-" + hostname,
		MaxJobsActive: cfg.MaxJobsActive,
		Concurrency:   cfg.Concurrency,
		Timeout:       cfg.JobTimeout,
	})
	logger.Info("workers started",
		zap.String("storefront", cfg.Storefront.BaseURL),
		zap.Float64("inventory_pass_rate", cfg.InventoryPassRate))

	<-signalCtx.Done()
	logger.Info("shutting down, waiting for in-flight jobs")
	return eng.Close()
}
