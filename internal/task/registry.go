package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Handler executes one attempt of a task. It receives the task's opaque
// request payload and a progress tracker bound to the task, and returns the
// opaque result payload. The error's string message is the sole input to
// failure classification, so handlers should surface the underlying cause in
// it. Handlers must tolerate at-least-once execution.
type Handler func(ctx context.Context, payload json.RawMessage, progress *Progress) (json.RawMessage, error)

// Registry maps task type strings to their handlers. Handlers are registered
// by the surrounding application at startup; registration after workers have
// started is safe but unusual.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register associates a handler with a task type.
// Returns an error if the type already has a handler or the handler is nil.
func (r *Registry) Register(taskType string, handler Handler) error {
	if taskType == "" {
		return fmt.Errorf("task type cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler for task type %q cannot be nil", taskType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[taskType]; exists {
		return fmt.Errorf("handler for task type %q already registered", taskType)
	}

	r.handlers[taskType] = handler
	return nil
}

// Resolve returns the handler for a task type, and whether one is registered.
func (r *Registry) Resolve(taskType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[taskType]
	return handler, ok
}

// Types returns the registered task types, for startup logging.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for taskType := range r.handlers {
		types = append(types, taskType)
	}
	return types
}
