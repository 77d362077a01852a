// Package registry holds the action specs and handlers an endpoint serves.
// Tables are filled at startup and read concurrently afterwards.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Mindburn-Labs/duplex/pkg/action"
)

var ErrDuplicate = errors.New("registry: already registered")

// Specs is the action spec table.
type Specs struct {
	mu    sync.RWMutex
	specs map[string]action.Spec
}

func NewSpecs() *Specs {
	return &Specs{specs: make(map[string]action.Spec)}
}

// Register adds spec. A method may be registered once.
func (r *Specs) Register(spec action.Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.specs[spec.Method]; exists {
		return fmt.Errorf("%w: action %s", ErrDuplicate, spec.Method)
	}
	r.specs[spec.Method] = spec
	return nil
}

func (r *Specs) LookupSpec(method string) (action.Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[method]
	return spec, ok
}

// List returns every spec sorted by method.
func (r *Specs) List() []action.Spec {
	r.mu.RLock()
	out := make([]action.Spec, 0, len(r.specs))
	for _, s := range r.specs {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Method < out[j].Method })
	return out
}

func (r *Specs) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.specs)
}

type handlerKey struct {
	method string
	phase  action.Phase
}

// Handlers maps (method, phase) to the handler that runs in that phase.
type Handlers struct {
	mu       sync.RWMutex
	handlers map[handlerKey]action.Handler
}

func NewHandlers() *Handlers {
	return &Handlers{handlers: make(map[handlerKey]action.Handler)}
}

// Handle registers h for method in phase, replacing any previous handler.
func (h *Handlers) Handle(method string, phase action.Phase, handler action.Handler) error {
	if method == "" {
		return fmt.Errorf("registry: handler has no method")
	}
	if !phase.Valid() {
		return fmt.Errorf("registry: handler for %s has unknown phase %q", method, phase)
	}
	if handler == nil {
		return fmt.Errorf("registry: nil handler for %s/%s", method, phase)
	}
	h.mu.Lock()
	h.handlers[handlerKey{method, phase}] = handler
	h.mu.Unlock()
	return nil
}

func (h *Handlers) LookupHandler(method string, phase action.Phase) (action.Handler, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	handler, ok := h.handlers[handlerKey{method, phase}]
	return handler, ok
}
