package tasks

import (
	"context"
	"fmt"
	"sync"

	"github.com/imrishuroy/go-orderflow-workflow/internal/notifier"
	"github.com/imrishuroy/go-orderflow-workflow/internal/workflow"
)

// Result is what a handler produced for a successful job.
type Result struct {
	// Message is stored as workflow_message on the order.
	Message string
	// Notification is sent to chat after the status report succeeded.
	Notification notifier.Event
	// Variables are returned to the engine on completion.
	Variables map[string]interface{}
}

// Handler performs the work of one task type.
type Handler interface {
	Handle(ctx context.Context, job Job) (Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job Job) (Result, error)

func (f HandlerFunc) Handle(ctx context.Context, job Job) (Result, error) { return f(ctx, job) }

// Registry maps task types to handlers. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[workflow.TaskType]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[workflow.TaskType]Handler)}
}

// Register binds h to t. t must be a known task type and may only be
// registered once.
func (r *Registry) Register(t workflow.TaskType, h Handler) error {
	if _, err := workflow.Spec(t); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[t]; ok {
		return fmt.Errorf("handler for %q already registered", t)
	}
	r.handlers[t] = h
	return nil
}

// Get returns the handler for t.
func (r *Registry) Get(t workflow.TaskType) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	return h, ok
}

// Types returns the registered task types in process order.
func (r *Registry) Types() []workflow.TaskType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []workflow.TaskType
	for _, t := range workflow.TaskTypes() {
		if _, ok := r.handlers[t]; ok {
			out = append(out, t)
		}
	}
	return out
}
