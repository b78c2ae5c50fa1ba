package workflow

import "fmt"

// TaskType is the job type the orchestration engine dispatches to a worker.
type TaskType string

const (
	TaskVerifyPayment    TaskType = "verify-payment"
	TaskReserveInventory TaskType = "reserve-inventory"
	TaskSendNotification TaskType = "send-notification"
)

// TaskSpec describes what a task type does to an order.
type TaskSpec struct {
	Type TaskType
	// Stage is the human-readable stage name used in error notifications.
	Stage string
	// Status is written to the order once the task succeeds.
	Status Status
}

var taskSpecs = map[TaskType]TaskSpec{
	TaskVerifyPayment:    {Type: TaskVerifyPayment, Stage: "Payment Verification", Status: StatusPaymentVerified},
	TaskReserveInventory: {Type: TaskReserveInventory, Stage: "Inventory Reservation", Status: StatusInventoryReserved},
	TaskSendNotification: {Type: TaskSendNotification, Stage: "Customer Notification", Status: StatusCompleted},
}

// TaskTypes returns every task type in process order.
func TaskTypes() []TaskType {
	return []TaskType{TaskVerifyPayment, TaskReserveInventory, TaskSendNotification}
}

// Spec returns the TaskSpec registered for t.
func Spec(t TaskType) (TaskSpec, error) {
	spec, ok := taskSpecs[t]
	if !ok {
		return TaskSpec{}, fmt.Errorf("unknown task type %q", t)
	}
	return spec, nil
}

// MustSpec is like Spec but panics on an unknown task type.
func MustSpec(t TaskType) TaskSpec {
	spec, err := Spec(t)
	if err != nil {
		panic(err)
	}
	return spec
}
