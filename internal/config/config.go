// Package config reads each binary's settings from the environment once at
// start-up.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Zeebe holds the orchestration engine connection settings.
type Zeebe struct {
	Address                string `envconfig:"ZEEBE_ADDRESS" default:"localhost:26500"`
	ClientID               string `envconfig:"ZEEBE_CLIENT_ID" default:""`
	ClientSecret           string `envconfig:"ZEEBE_CLIENT_SECRET" default:""`
	AuthorizationServerURL string `envconfig:"ZEEBE_AUTHORIZATION_SERVER_URL" default:"https://login.cloud.camunda.io/oauth/token"`
	Audience               string `envconfig:"ZEEBE_TOKEN_AUDIENCE" default:"zeebe.camunda.io"`
	Plaintext              bool   `envconfig:"ZEEBE_PLAINTEXT" default:"false"`
}

// Storefront holds how workers reach the storefront's order-update endpoints.
type Storefront struct {
	BaseURL      string `envconfig:"MEDUSA_BACKEND_URL" default:"http://localhost:9000"`
	WorkerAPIKey string `envconfig:"WORKER_API_KEY" default:""`
	Retries      int    `envconfig:"STATUS_UPDATE_RETRIES" default:"3"`
}

// Slack holds the chat notification settings. An empty WebhookURL disables notifications.
type Slack struct {
	WebhookURL string `envconfig:"SLACK_WEBHOOK_URL" default:""`
	AdminURL   string `envconfig:"SLACK_ADMIN_URL" default:"http://localhost:9000/app"`
}

// Metrics holds the CloudWatch settings. An empty Namespace disables metrics.
type Metrics struct {
	Namespace string `envconfig:"METRICS_NAMESPACE" default:""`
}

// Worker is the configuration of cmd/worker.
type Worker struct {
	LogLevel          string `envconfig:"LOG_LEVEL" default:"info"`
	Zeebe             Zeebe
	Storefront        Storefront
	Slack             Slack
	Metrics           Metrics
	InventoryPassRate float64       `envconfig:"INVENTORY_PASS_RATE" default:"0.95"`
	MaxJobsActive     int           `envconfig:"WORKER_MAX_JOBS_ACTIVE" default:"32"`
	Concurrency       int           `envconfig:"WORKER_CONCURRENCY" default:"4"`
	JobTimeout        time.Duration `envconfig:"WORKER_JOB_TIMEOUT" default:"5m"`
}

// Trigger is the configuration of cmd/trigger.
type Trigger struct {
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
	Zeebe         Zeebe
	Metrics       Metrics
	BPMNProcessID string `envconfig:"BPMN_PROCESS_ID" default:"order-fulfillment-poc"`
	OrdersTable   string `envconfig:"ORDERS_TABLE" required:"true"`
	// IdempotencyTable, when set, gets the stored response refreshed with the instance key.
	IdempotencyTable string `envconfig:"IDEMPOTENCY_TABLE" default:""`
	RunLocal         bool   `envconfig:"RUN_LOCAL" default:"false"`
	// LocalSQSBody replaces the sample order event sent when RunLocal is set.
	LocalSQSBody string `envconfig:"LOCAL_SQS_BODY" default:""`
}

// API is the configuration of cmd/api.
type API struct {
	LogLevel         string        `envconfig:"LOG_LEVEL" default:"info"`
	Addr             string        `envconfig:"HTTP_ADDR" default:":8080"`
	IdempotencyTable string        `envconfig:"IDEMPOTENCY_TABLE" required:"true"`
	OrdersTable      string        `envconfig:"ORDERS_TABLE" required:"true"`
	QueueURL         string        `envconfig:"ORDERS_QUEUE_URL" required:"true"`
	TTLWindow        time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"48h"`
	WorkerAPIKey     string        `envconfig:"WORKER_API_KEY" default:""`
	RunLocal         bool          `envconfig:"RUN_LOCAL" default:"false"`
}

// LoadWorker reads the worker configuration from the environment.
func LoadWorker() (*Worker, error) {
	cfg := new(Worker)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("load worker config: %w", err)
	}
	if cfg.InventoryPassRate < 0 || cfg.InventoryPassRate > 1 {
		return nil, fmt.Errorf("INVENTORY_PASS_RATE must be within [0,1], got %v", cfg.InventoryPassRate)
	}
	if cfg.Storefront.Retries < 1 {
		return nil, fmt.Errorf("STATUS_UPDATE_RETRIES must be at least 1, got %d", cfg.Storefront.Retries)
	}
	return cfg, nil
}

// LoadTrigger reads the trigger configuration from the environment.
func LoadTrigger() (*Trigger, error) {
	cfg := new(Trigger)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("load trigger config: %w", err)
	}
	return cfg, nil
}

// LoadAPI reads the storefront API configuration from the environment.
func LoadAPI() (*API, error) {
	cfg := new(API)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("load api config: %w", err)
	}
	return cfg, nil
}
