// Package reporter pushes workflow-stage updates to the storefront's order
// update endpoint, retrying with exponential backoff and falling back to the
// legacy endpoint when the current one is not deployed.
package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-orderflow-workflow/internal/workflow"
)

const (
	defaultRetries        = 3
	defaultRequestTimeout = 5 * time.Second
	initialBackoff        = 1 * time.Second

	// APIKeyHeader carries the shared worker key when one is configured.
	APIKeyHeader = "X-Worker-Api-Key"
)

// Outcome is how a single delivery attempt ended.
type Outcome int

const (
	// OutcomeFailed means neither endpoint accepted the update.
	OutcomeFailed Outcome = iota
	// OutcomePrimary means the current workflow-update endpoint accepted it.
	OutcomePrimary
	// OutcomeFallback means the current endpoint returned 404 and the legacy one accepted it.
	OutcomeFallback
)

func (o Outcome) String() string {
	switch o {
	case OutcomePrimary:
		return "primary"
	case OutcomeFallback:
		return "fallback"
	default:
		return "failed"
	}
}

// StatusError is returned when the storefront answers with a non-2xx status.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Route decides what to do after the primary endpoint answered with err.
// A nil error is a primary success, a 404 means try the legacy endpoint, and
// anything else fails the attempt.
func Route(err error) Outcome {
	if err == nil {
		return OutcomePrimary
	}
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
		return OutcomeFallback
	}
	return OutcomeFailed
}

// Config configures a Client.
type Config struct {
	BaseURL string
	// APIKey is sent as X-Worker-Api-Key when non-empty.
	APIKey string
	// Retries is the total number of attempts. Values below 1 use 3.
	Retries int
	// Timeout bounds each HTTP request. Zero uses 5s.
	Timeout time.Duration
}

// Client is the status reporter. It is safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	retries    int
	timeout    time.Duration
	httpClient *http.Client
	timer      backoff.Timer
	log        *zap.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimer replaces the timer used to wait between attempts.
func WithTimer(t backoff.Timer) Option {
	return func(c *Client) { c.timer = t }
}

// New returns a Client for cfg.
func New(cfg Config, log *zap.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		retries:    cfg.Retries,
		timeout:    cfg.Timeout,
		httpClient: &http.Client{},
		log:        log,
	}
	if c.retries < 1 {
		c.retries = defaultRetries
	}
	if c.timeout <= 0 {
		c.timeout = defaultRequestTimeout
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type updateBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type legacyUpdateBody struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Update records status and message against the order. It makes up to the
// configured number of attempts, waiting 1s, 2s, 4s... between them, and
// returns the error of the last attempt when all of them fail.
func (c *Client) Update(ctx context.Context, orderID string, status workflow.Status, message string) error {
	attempt := 0
	op := func() error {
		attempt++
		outcome, err := c.Attempt(ctx, orderID, status, message)
		if err != nil {
			return err
		}
		c.log.Info("order status updated",
			zap.String("order_id", orderID),
			zap.String("status", string(status)),
			zap.Stringer("endpoint", outcome),
			zap.Int("attempt", attempt))
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.log.Warn("order status update failed, retrying",
			zap.String("order_id", orderID),
			zap.String("status", string(status)),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	if err := backoff.RetryNotifyWithTimer(op, c.newBackOff(ctx), notify, c.timer); err != nil {
		c.log.Error("order status update gave up",
			zap.String("order_id", orderID),
			zap.String("status", string(status)),
			zap.Int("attempts", attempt),
			zap.Error(err))
		return fmt.Errorf("update order %s to %s: %w", orderID, status, err)
	}
	return nil
}

// Attempt performs one delivery: the primary endpoint, then the legacy one
// if the primary answered 404.
func (c *Client) Attempt(ctx context.Context, orderID string, status workflow.Status, message string) (Outcome, error) {
	primaryURL := fmt.Sprintf("%s/store/orders/%s/workflow-update", c.baseURL, url.PathEscape(orderID))
	err := c.post(ctx, primaryURL, updateBody{Status: string(status), Message: message})

	switch Route(err) {
	case OutcomePrimary:
		return OutcomePrimary, nil
	case OutcomeFallback:
		c.log.Debug("workflow-update endpoint not found, using legacy endpoint", zap.String("order_id", orderID))
		legacy := legacyUpdateBody{OrderID: orderID, Status: string(status), Message: message}
		if err := c.post(ctx, c.baseURL+"/demo", legacy); err != nil {
			return OutcomeFailed, fmt.Errorf("legacy update: %w", err)
		}
		return OutcomeFallback, nil
	default:
		return OutcomeFailed, err
	}
}

func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = time.Hour
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.retries-1)), ctx)
}

func (c *Client) post(ctx context.Context, endpoint string, payload interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set(APIKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", endpoint, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
