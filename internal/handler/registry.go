// Package handler maps handler-reference strings to statically registered
// job handlers. References are resolved at schedule time, so a bad
// handlerRef fails the schedule request instead of surfacing at fire time.
package handler

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Execution is the record handed to a handler for one fired trigger.
type Execution struct {
	JobName    string
	JobGroup   string
	HandlerRef string
	Topic      string
	FiredAt    time.Time
	Payload    map[string]any
}

// Identity is the (name, group) job key.
func (e Execution) Identity() (name, group string) { return e.JobName, e.JobGroup }

type JobHandler interface {
	Execute(ctx context.Context, exec Execution) error
}

// JobHandlerFunc adapts a function to JobHandler.
type JobHandlerFunc func(ctx context.Context, exec Execution) error

func (f JobHandlerFunc) Execute(ctx context.Context, exec Execution) error { return f(ctx, exec) }

// Registry is the handlerRef -> JobHandler mapping. Registration happens
// once at startup; Resolve is called on the schedule and firing paths.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]JobHandler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]JobHandler{}}
}

func (r *Registry) Register(ref string, h JobHandler) {
	r.mu.Lock()
	r.handlers[ref] = h
	r.mu.Unlock()
}

func (r *Registry) Resolve(ref string) (JobHandler, bool) {
	r.mu.RLock()
	h, ok := r.handlers[ref]
	r.mu.RUnlock()
	return h, ok
}

func (r *Registry) Refs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for ref := range r.handlers {
		out = append(out, ref)
	}
	sort.Strings(out)
	return out
}
