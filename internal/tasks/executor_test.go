package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-orderflow-workflow/internal/metrics"
	"github.com/imrishuroy/go-orderflow-workflow/internal/notifier"
	"github.com/imrishuroy/go-orderflow-workflow/internal/workflow"
)

// trace records the order of side effects across the fakes.
type trace struct {
	mu     sync.Mutex
	events []string
}

func (t *trace) add(e string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, e)
}

func (t *trace) list() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.events...)
}

type statusCall struct {
	OrderID string
	Status  workflow.Status
	Message string
}

type fakeStatus struct {
	trace *trace
	mu    sync.Mutex
	calls []statusCall
	err   error
}

func (f *fakeStatus) Update(ctx context.Context, orderID string, status workflow.Status, message string) error {
	f.mu.Lock()
	f.calls = append(f.calls, statusCall{orderID, status, message})
	f.mu.Unlock()
	f.trace.add("status:" + string(status))
	return f.err
}

type fakeNotifier struct {
	trace  *trace
	mu     sync.Mutex
	events []notifier.Event
}

func (f *fakeNotifier) Notify(ctx context.Context, ev notifier.Event) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
	f.trace.add("notify:" + string(ev.Kind))
}

type fakeSignaler struct {
	trace       *trace
	mu          sync.Mutex
	completed   map[int64]map[string]interface{}
	failed      map[int64]Failure
	completeErr error
}

func newFakeSignaler(tr *trace) *fakeSignaler {
	return &fakeSignaler{
		trace:     tr,
		completed: map[int64]map[string]interface{}{},
		failed:    map[int64]Failure{},
	}
}

func (f *fakeSignaler) Complete(ctx context.Context, jobKey int64, vars map[string]interface{}) error {
	f.mu.Lock()
	f.completed[jobKey] = vars
	f.mu.Unlock()
	f.trace.add("complete")
	return f.completeErr
}

func (f *fakeSignaler) Fail(ctx context.Context, jobKey int64, fl Failure) error {
	f.mu.Lock()
	f.failed[jobKey] = fl
	f.mu.Unlock()
	f.trace.add("fail")
	return nil
}

type fakeRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (f *fakeRecorder) Incr(ctx context.Context, metric string, dims map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts == nil {
		f.counts = map[string]int{}
	}
	f.counts[metric+"/"+dims[metrics.DimensionTaskType]]++
}

var fixedNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

// instantSimulation never sleeps, always finds stock and picks Mumbai.
func instantSimulation() *Simulation {
	return &Simulation{
		PassRate: 0.95,
		Sleep:    func(context.Context, time.Duration) error { return nil },
		Float:    func() float64 { return 0.1 },
		Intn:     func(int) int { return 0 },
		Now:      func() time.Time { return fixedNow },
	}
}

type fixture struct {
	trace    *trace
	status   *fakeStatus
	notify   *fakeNotifier
	sig      *fakeSignaler
	recorder *fakeRecorder
	exec     *Executor
}

func newFixture(registry *Registry, opts ...ExecutorOption) *fixture {
	tr := &trace{}
	f := &fixture{
		trace:    tr,
		status:   &fakeStatus{trace: tr},
		notify:   &fakeNotifier{trace: tr},
		sig:      newFakeSignaler(tr),
		recorder: &fakeRecorder{},
	}
	opts = append([]ExecutorOption{WithMetrics(f.recorder)}, opts...)
	f.exec = NewExecutor(registry, f.status, f.notify, zap.NewNop(), opts...)
	return f
}

func job(key int64, t workflow.TaskType, vars map[string]interface{}) Job {
	return Job{Key: key, Type: t, Retries: 3, Variables: vars}
}

func TestExecute_VerifyPaymentCompletes(t *testing.T) {
	f := newFixture(instantSimulation().NewRegistry())

	state := f.exec.Execute(context.Background(), f.sig, job(1, workflow.TaskVerifyPayment, map[string]interface{}{"orderId": "ord_123"}))

	assert.Equal(t, StateCompleted, state)
	assert.Equal(t, []statusCall{{"ord_123", workflow.StatusPaymentVerified, "Payment verified successfully"}}, f.status.calls)
	require.Len(t, f.notify.events, 1)
	assert.Equal(t, notifier.PaymentVerified("ord_123", ""), f.notify.events[0])
	assert.Equal(t, map[string]interface{}{
		"paymentVerified": true,
		"verifiedAt":      "2025-03-01T10:00:00Z",
	}, f.sig.completed[1])
	assert.Empty(t, f.sig.failed)
	assert.Equal(t, []string{"status:payment_verified", "notify:payment_verified", "complete"}, f.trace.list())
	assert.Equal(t, 1, f.recorder.counts["TaskCompleted/verify-payment"])
}

func TestExecute_ReserveInventoryCompletes(t *testing.T) {
	sim := instantSimulation()
	sim.Intn = func(int) int { return 2 }
	f := newFixture(sim.NewRegistry())

	state := f.exec.Execute(context.Background(), f.sig, job(2, workflow.TaskReserveInventory, map[string]interface{}{"orderId": "ord_123", "displayId": "1001"}))

	assert.Equal(t, StateCompleted, state)
	assert.Equal(t, []statusCall{{"ord_123", workflow.StatusInventoryReserved, "Inventory reserved at Bangalore warehouse"}}, f.status.calls)
	assert.Equal(t, notifier.InventoryReserved("ord_123", "1001", "Bangalore"), f.notify.events[0])
	assert.Equal(t, "Bangalore", f.sig.completed[2]["warehouse"])
	assert.Equal(t, true, f.sig.completed[2]["inventoryReserved"])
}

func TestExecute_SendNotificationMentionsWarehouse(t *testing.T) {
	f := newFixture(instantSimulation().NewRegistry())

	state := f.exec.Execute(context.Background(), f.sig, job(3, workflow.TaskSendNotification, map[string]interface{}{"orderId": "ord_123", "warehouse": "Delhi"}))

	assert.Equal(t, StateCompleted, state)
	assert.Equal(t, []statusCall{{"ord_123", workflow.StatusCompleted, "Customer notified - Order complete! Shipping from Delhi"}}, f.status.calls)
	assert.Equal(t, notifier.KindOrderCompleted, f.notify.events[0].Kind)
	assert.Equal(t, true, f.sig.completed[3]["notificationSent"])
}

func TestExecute_SendNotificationWithoutWarehouse(t *testing.T) {
	f := newFixture(instantSimulation().NewRegistry())

	f.exec.Execute(context.Background(), f.sig, job(3, workflow.TaskSendNotification, map[string]interface{}{"orderId": "ord_123"}))

	assert.Equal(t, "Customer notified - Order complete!", f.status.calls[0].Message)
}

func TestExecute_InventoryUnavailableFailsJob(t *testing.T) {
	sim := instantSimulation()
	sim.Float = func() float64 { return 0.99 }

	var compensated []*InsufficientInventoryError
	f := newFixture(sim.NewRegistry(), WithCompensator(CompensatorFunc(func(ctx context.Context, j Job, cause *InsufficientInventoryError) error {
		compensated = append(compensated, cause)
		return errors.New("refund service down")
	})))

	state := f.exec.Execute(context.Background(), f.sig, job(7, workflow.TaskReserveInventory, map[string]interface{}{"orderId": "ord_123"}))

	assert.Equal(t, StateFailed, state)
	assert.Empty(t, f.sig.completed)
	require.Contains(t, f.sig.failed, int64(7))
	fl := f.sig.failed[7]
	assert.Equal(t, int32(3), fl.Retries)
	assert.Equal(t, 5*time.Second, fl.RetryBackoff)
	assert.Equal(t, "inventory not available for order ord_123 - items out of stock", fl.ErrorMessage)

	assert.Empty(t, f.status.calls)
	require.Len(t, f.notify.events, 1)
	ev := f.notify.events[0]
	assert.Equal(t, notifier.KindWorkflowError, ev.Kind)
	assert.Equal(t, "Inventory Reservation", ev.Stage)
	assert.Equal(t, "ord_123", ev.OrderID)

	require.Len(t, compensated, 1)
	assert.Equal(t, "ord_123", compensated[0].OrderID)
	assert.Equal(t, 1, f.recorder.counts["TaskFailed/reserve-inventory"])
}

func TestExecute_ReporterFailureFailsJob(t *testing.T) {
	f := newFixture(instantSimulation().NewRegistry())
	f.status.err = errors.New("storefront returned status 500")

	state := f.exec.Execute(context.Background(), f.sig, job(9, workflow.TaskVerifyPayment, map[string]interface{}{"orderId": "ord_9"}))

	assert.Equal(t, StateFailed, state)
	assert.Equal(t, []string{"status:payment_verified", "notify:workflow_error", "fail"}, f.trace.list())
	assert.Equal(t, "Payment Verification", f.notify.events[0].Stage)
	assert.Equal(t, "storefront returned status 500", f.notify.events[0].Error)
	assert.Equal(t, "storefront returned status 500", f.sig.failed[9].ErrorMessage)
}

func TestExecute_CompensatorOnlyForInventoryErrors(t *testing.T) {
	called := false
	f := newFixture(instantSimulation().NewRegistry(), WithCompensator(CompensatorFunc(func(context.Context, Job, *InsufficientInventoryError) error {
		called = true
		return nil
	})))
	f.status.err = errors.New("timeout")

	f.exec.Execute(context.Background(), f.sig, job(1, workflow.TaskReserveInventory, map[string]interface{}{"orderId": "ord_1"}))
	assert.False(t, called)
}

func TestExecute_UnknownTaskType(t *testing.T) {
	f := newFixture(instantSimulation().NewRegistry())

	state := f.exec.Execute(context.Background(), f.sig, job(4, "ship-order", map[string]interface{}{"orderId": "ord_1"}))

	assert.Equal(t, StateFailed, state)
	assert.Contains(t, f.sig.failed, int64(4))
	assert.Empty(t, f.notify.events)
	assert.Empty(t, f.status.calls)
}

func TestExecute_UnregisteredHandler(t *testing.T) {
	f := newFixture(NewRegistry())

	state := f.exec.Execute(context.Background(), f.sig, job(5, workflow.TaskVerifyPayment, map[string]interface{}{"orderId": "ord_1"}))

	assert.Equal(t, StateFailed, state)
	require.Len(t, f.notify.events, 1)
	assert.Equal(t, "Payment Verification", f.notify.events[0].Stage)
}

func TestExecute_CompleteErrorIsNotFatal(t *testing.T) {
	f := newFixture(instantSimulation().NewRegistry())
	f.sig.completeErr = errors.New("job not found")

	state := f.exec.Execute(context.Background(), f.sig, job(6, workflow.TaskVerifyPayment, map[string]interface{}{"orderId": "ord_1"}))
	assert.Equal(t, StateCompleted, state)
	assert.Empty(t, f.sig.failed)
}

func TestExecute_MissingOrderIDStillReports(t *testing.T) {
	f := newFixture(instantSimulation().NewRegistry())
	f.status.err = errors.New("404 page not found")

	state := f.exec.Execute(context.Background(), f.sig, job(8, workflow.TaskVerifyPayment, nil))

	assert.Equal(t, StateFailed, state)
	assert.Equal(t, "", f.status.calls[0].OrderID)
}

// blockingRegistry returns a registry whose payment handler signals entry on
// entered and waits for release.
func blockingRegistry(entered chan<- string, release <-chan struct{}) *Registry {
	r := NewRegistry()
	_ = r.Register(workflow.TaskVerifyPayment, HandlerFunc(func(ctx context.Context, j Job) (Result, error) {
		entered <- j.OrderID()
		<-release
		return Result{Notification: notifier.PaymentVerified(j.OrderID(), "")}, nil
	}))
	return r
}

func TestExecute_SerializesJobsForSameOrder(t *testing.T) {
	entered := make(chan string, 2)
	release := make(chan struct{})
	f := newFixture(blockingRegistry(entered, release))

	var wg sync.WaitGroup
	for i := int64(1); i <= 2; i++ {
		wg.Add(1)
		go func(key int64) {
			defer wg.Done()
			f.exec.Execute(context.Background(), f.sig, job(key, workflow.TaskVerifyPayment, map[string]interface{}{"orderId": "ord_same"}))
		}(i)
	}

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("first job never started")
	}
	select {
	case <-entered:
		t.Fatal("second job for the same order ran concurrently")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("second job never started")
	}
	wg.Wait()
	assert.Len(t, f.sig.completed, 2)
	assert.Equal(t, 0, f.exec.locks.size())
}

func TestExecute_DifferentOrdersRunConcurrently(t *testing.T) {
	entered := make(chan string, 2)
	release := make(chan struct{})
	f := newFixture(blockingRegistry(entered, release))

	var wg sync.WaitGroup
	for i, id := range []string{"ord_a", "ord_b"} {
		wg.Add(1)
		go func(key int64, orderID string) {
			defer wg.Done()
			f.exec.Execute(context.Background(), f.sig, job(key, workflow.TaskVerifyPayment, map[string]interface{}{"orderId": orderID}))
		}(int64(i+1), id)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-entered:
		case <-time.After(time.Second):
			close(release)
			t.Fatal("jobs for different orders did not overlap")
		}
	}
	close(release)
	wg.Wait()
	assert.Len(t, f.sig.completed, 2)
}
