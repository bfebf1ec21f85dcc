// Package capability implements the named-operation registry. A capability is
// a schema-described operation a client may invoke through the bridge; the
// registry owns name→handler resolution and untyped-argument coercion.
package capability

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mattjoyce/hostbridge/internal/log"
)

// Handler executes a capability with already-coerced arguments. Handlers run
// on the exclusive execution context, never concurrently with each other.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// ParamSpec describes one declared parameter of a capability.
type ParamSpec struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"` // string | integer | number | boolean | array | object
	Required bool     `json:"required"`
	Default  any      `json:"default,omitempty"`
	Enum     []string `json:"enum,omitempty"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	ItemType string   `json:"item_type,omitempty"` // element type for arrays
}

// Descriptor is the schema-facing description of a capability.
type Descriptor struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Category    string      `json:"category"`
	Parameters  []ParamSpec `json:"parameters"`
}

type entry struct {
	desc    Descriptor
	handler Handler
}

// Source supplies the full registration set on (re)build. The host passes one
// at construction; Refresh replays it into a clean table. This replaces
// marker-scanning discovery with an explicit registration call.
type Source interface {
	RegisterCapabilities(r *Registry)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(r *Registry)

func (f SourceFunc) RegisterCapabilities(r *Registry) { f(r) }

// Registry maps capability names to descriptors and handlers. Lookups are
// read-mostly; the lock is only contended during Refresh.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	source  Source
}

// NewRegistry builds a registry populated from source. A nil source yields an
// empty registry (useful in tests that call Register directly).
func NewRegistry(source Source) *Registry {
	r := &Registry{
		entries: make(map[string]entry),
		source:  source,
	}
	if source != nil {
		source.RegisterCapabilities(r)
	}
	return r
}

// Register adds a capability. Duplicate names are rejected: the first
// registration wins and the duplicate is logged.
func (r *Registry) Register(desc Descriptor, handler Handler) error {
	if desc.Name == "" {
		return fmt.Errorf("capability name is empty")
	}
	if handler == nil {
		return fmt.Errorf("capability %q has nil handler", desc.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[desc.Name]; exists {
		log.WithComponent("capability").Warn("duplicate capability registration ignored", "name", desc.Name)
		return fmt.Errorf("capability %q already registered", desc.Name)
	}
	r.entries[desc.Name] = entry{desc: desc, handler: handler}
	return nil
}

// Refresh rebuilds the table from the registration source, discarding all
// current entries. Without a source it degrades to a plain clear.
func (r *Registry) Refresh() {
	r.mu.Lock()
	r.entries = make(map[string]entry)
	r.mu.Unlock()

	if r.source != nil {
		r.source.RegisterCapabilities(r)
	}
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Get returns the descriptor for name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.desc, ok
}

// Descriptors returns all descriptors sorted by name, for schema export.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Invoke coerces args against the declared parameter list and calls the
// handler. Handler panics and errors both surface as *HandlerError so the
// caller never sees a raw downstream failure type.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (result any, err error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{Name: name}
	}

	coerced, cerr := CoerceArgs(e.desc.Parameters, args)
	if cerr != nil {
		return nil, cerr
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = &HandlerError{Capability: name, Message: fmt.Sprintf("panic: %v", rec)}
		}
	}()

	result, herr := e.handler(ctx, coerced)
	if herr != nil {
		return nil, &HandlerError{Capability: name, Message: herr.Error(), Err: herr}
	}
	return result, nil
}
