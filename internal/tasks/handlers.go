package tasks

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/imrishuroy/go-orderflow-workflow/internal/notifier"
	"github.com/imrishuroy/go-orderflow-workflow/internal/workflow"
)

// Warehouses are the locations inventory is reserved from.
var Warehouses = []string{"Mumbai", "Delhi", "Bangalore", "Chennai"}

// Simulation stands in for the payment provider, the inventory service and
// the customer mailer. Its delays and randomness are injectable for tests.
type Simulation struct {
	PaymentDelay      time.Duration
	InventoryDelay    time.Duration
	ReservationDelay  time.Duration
	ProcessingDelay   time.Duration
	NotificationDelay time.Duration
	// PassRate is the probability that stock is available, within [0,1].
	PassRate float64

	// Sleep waits for d or until ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
	// Float returns a number in [0,1).
	Float func() float64
	// Intn returns a number in [0,n).
	Intn func(n int) int
	Now  func() time.Time
}

// DefaultSimulation returns the timings used against a real engine.
func DefaultSimulation(passRate float64) *Simulation {
	return &Simulation{
		PaymentDelay:      2 * time.Second,
		InventoryDelay:    500 * time.Millisecond,
		ReservationDelay:  1 * time.Second,
		ProcessingDelay:   1500 * time.Millisecond,
		NotificationDelay: 1500 * time.Millisecond,
		PassRate:          passRate,
		Sleep:             sleepContext,
		Float:             rand.Float64,
		Intn:              rand.Intn,
		Now:               time.Now,
	}
}

// NewRegistry returns a registry with the payment, inventory and
// notification handlers bound to sim.
func (s *Simulation) NewRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(workflow.TaskVerifyPayment, HandlerFunc(s.VerifyPayment))
	_ = r.Register(workflow.TaskReserveInventory, HandlerFunc(s.ReserveInventory))
	_ = r.Register(workflow.TaskSendNotification, HandlerFunc(s.SendNotification))
	return r
}

// VerifyPayment checks the order's payment. It always succeeds until a real
// provider is wired in.
func (s *Simulation) VerifyPayment(ctx context.Context, job Job) (Result, error) {
	if err := s.Sleep(ctx, s.PaymentDelay); err != nil {
		return Result{}, err
	}
	return Result{
		Message:      "Payment verified successfully",
		Notification: notifier.PaymentVerified(job.OrderID(), job.DisplayID()),
		Variables: map[string]interface{}{
			"paymentVerified": true,
			"verifiedAt":      s.timestamp(),
		},
	}, nil
}

// ReserveInventory checks availability and reserves stock at one warehouse.
// Unavailable stock returns *InsufficientInventoryError.
func (s *Simulation) ReserveInventory(ctx context.Context, job Job) (Result, error) {
	orderID := job.OrderID()

	if err := s.Sleep(ctx, s.InventoryDelay); err != nil {
		return Result{}, err
	}
	available := s.Float() < s.PassRate
	warehouse := Warehouses[s.Intn(len(Warehouses))]
	if !available {
		return Result{}, &InsufficientInventoryError{OrderID: orderID}
	}

	if err := s.Sleep(ctx, s.ReservationDelay); err != nil {
		return Result{}, err
	}
	if err := s.Sleep(ctx, s.ProcessingDelay); err != nil {
		return Result{}, err
	}

	return Result{
		Message:      fmt.Sprintf("Inventory reserved at %s warehouse", warehouse),
		Notification: notifier.InventoryReserved(orderID, job.DisplayID(), warehouse),
		Variables: map[string]interface{}{
			"inventoryReserved": true,
			VarWarehouse:        warehouse,
			"reservedAt":        s.timestamp(),
		},
	}, nil
}

// SendNotification tells the customer the order is complete.
func (s *Simulation) SendNotification(ctx context.Context, job Job) (Result, error) {
	if err := s.Sleep(ctx, s.NotificationDelay); err != nil {
		return Result{}, err
	}

	message := "Customer notified - Order complete!"
	if w := job.Var(VarWarehouse); w != "" {
		message += " Shipping from " + w
	}
	return Result{
		Message:      message,
		Notification: notifier.OrderCompleted(job.OrderID(), job.DisplayID()),
		Variables: map[string]interface{}{
			"notificationSent": true,
			"sentAt":           s.timestamp(),
		},
	}, nil
}

func (s *Simulation) timestamp() string {
	return s.Now().UTC().Format(time.RFC3339)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
