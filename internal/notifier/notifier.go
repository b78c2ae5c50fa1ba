// Package notifier posts workflow progress to a Slack incoming webhook.
// Delivery is best effort: failures are logged and never returned.
package notifier

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

const defaultTimeout = 5 * time.Second

// Kind selects the message shape.
type Kind string

const (
	KindPaymentVerified   Kind = "payment_verified"
	KindInventoryReserved Kind = "inventory_reserved"
	KindOrderCompleted    Kind = "order_completed"
	KindWorkflowError     Kind = "workflow_error"
)

// Event is one notification about an order.
type Event struct {
	Kind    Kind
	OrderID string
	// DisplayID is the short order reference staff know. Optional.
	DisplayID string
	// Warehouse is set for KindInventoryReserved.
	Warehouse string
	// Stage and Error are set for KindWorkflowError.
	Stage string
	Error string
}

// PaymentVerified builds the event sent after payment verification.
func PaymentVerified(orderID, displayID string) Event {
	return Event{Kind: KindPaymentVerified, OrderID: orderID, DisplayID: displayID}
}

// InventoryReserved builds the event sent after a reservation at warehouse.
func InventoryReserved(orderID, displayID, warehouse string) Event {
	return Event{Kind: KindInventoryReserved, OrderID: orderID, DisplayID: displayID, Warehouse: warehouse}
}

// OrderCompleted builds the event sent once the last stage finished.
func OrderCompleted(orderID, displayID string) Event {
	return Event{Kind: KindOrderCompleted, OrderID: orderID, DisplayID: displayID}
}

// WorkflowError builds the event sent when stage failed with errText.
func WorkflowError(orderID, displayID, stage, errText string) Event {
	return Event{Kind: KindWorkflowError, OrderID: orderID, DisplayID: displayID, Stage: stage, Error: errText}
}

// Sender is implemented by Notifier. Task handlers depend on it.
type Sender interface {
	Notify(ctx context.Context, ev Event)
}

// Notifier is safe for concurrent use. Build it once per process.
type Notifier struct {
	webhookURL string
	adminURL   string
	httpClient *http.Client
	log        *zap.Logger
}

// New returns a Notifier. An empty webhookURL disables delivery.
func New(webhookURL, adminURL string, log *zap.Logger) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		adminURL:   adminURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		log:        log,
	}
}

// Enabled reports whether a webhook is configured.
func (n *Notifier) Enabled() bool {
	return n.webhookURL != ""
}

// Notify sends ev. It never fails and returns once the webhook answered or
// the 5s timeout expired.
func (n *Notifier) Notify(ctx context.Context, ev Event) {
	if !n.Enabled() {
		n.log.Info("slack webhook not configured, skipping notification",
			zap.String("kind", string(ev.Kind)),
			zap.String("order_id", ev.OrderID))
		return
	}

	msg, err := n.message(ev)
	if err != nil {
		n.log.Error("failed to build slack notification", zap.String("order_id", ev.OrderID), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := slack.PostWebhookCustomHTTPContext(ctx, n.webhookURL, n.httpClient, msg); err != nil {
		n.log.Error("failed to send slack notification",
			zap.String("kind", string(ev.Kind)),
			zap.String("order_id", ev.OrderID),
			zap.Error(err))
		return
	}
	n.log.Debug("slack notification sent", zap.String("kind", string(ev.Kind)), zap.String("order_id", ev.OrderID))
}

// orderLink renders a mrkdwn deep link into the admin order page.
func (n *Notifier) orderLink(orderID, displayID string) string {
	return fmt.Sprintf("<%s/orders/%s|#%s>", n.adminURL, orderID, displayRef(orderID, displayID))
}

func displayRef(orderID, displayID string) string {
	if displayID != "" {
		return displayID
	}
	if len(orderID) > 8 {
		return orderID[:8]
	}
	return orderID
}

func (n *Notifier) message(ev Event) (*slack.WebhookMessage, error) {
	ref := ev.DisplayID
	if ref == "" {
		ref = ev.OrderID
	}
	link := n.orderLink(ev.OrderID, ev.DisplayID)

	var text string
	var blocks []slack.Block
	switch ev.Kind {
	case KindPaymentVerified:
		text = fmt.Sprintf("Payment verified for Order %s", ref)
		blocks = []slack.Block{
			section(fmt.Sprintf("💳 *Payment Verified*\n\nOrder %s payment has been successfully verified.", link)),
			contextBlock("⏱️ Workflow Stage: *1 of 3* | Next: Reserve Inventory"),
		}
	case KindInventoryReserved:
		text = fmt.Sprintf("Inventory reserved for Order %s", ref)
		blocks = []slack.Block{
			section(fmt.Sprintf("📦 *Inventory Reserved*\n\nOrder %s inventory has been reserved at *%s* warehouse.", link, ev.Warehouse)),
			contextBlock("⏱️ Workflow Stage: *2 of 3* | Next: Send Notification"),
		}
	case KindOrderCompleted:
		text = fmt.Sprintf("Order %s workflow completed!", ref)
		blocks = []slack.Block{
			section(fmt.Sprintf("🎉 *Order Complete!*\n\nOrder %s has completed all workflow stages and customer has been notified.", link)),
			contextBlock("✅ Workflow Stage: *3 of 3* | Status: Complete"),
		}
	case KindWorkflowError:
		text = fmt.Sprintf("⚠️ Workflow error for Order %s", ref)
		blocks = []slack.Block{
			section(fmt.Sprintf("🚨 *Workflow Error*\n\nOrder %s encountered an error during *%s*.", link, ev.Stage)),
			section("```" + ev.Error + "```"),
			contextBlock("❌ Manual intervention may be required"),
		}
	default:
		return nil, fmt.Errorf("unknown notification kind %q", ev.Kind)
	}

	return &slack.WebhookMessage{
		Text:   text,
		Blocks: &slack.Blocks{BlockSet: blocks},
	}, nil
}

func section(text string) *slack.SectionBlock {
	return slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil)
}

func contextBlock(text string) *slack.ContextBlock {
	return slack.NewContextBlock("", slack.NewTextBlockObject(slack.MarkdownType, text, false, false))
}
