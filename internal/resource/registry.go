// Package resource exposes named readable data to clients. Resources are the
// read-only counterpart of capabilities: discovery via resource/list, content
// via resource/read, no side effects.
package resource

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mattjoyce/hostbridge/internal/log"
)

// Reader produces the current content of a resource.
type Reader func(ctx context.Context) ([]byte, error)

// Descriptor describes a resource for listing.
type Descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	MIMEType    string `json:"mime_type"`
}

// NotFoundError reports a read against an unregistered resource name.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("resource %q not found", e.Name)
}

type entry struct {
	desc   Descriptor
	reader Reader
}

// Registry maps resource names to readers. Same discipline as the capability
// registry: duplicates rejected, first registration wins.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a resource.
func (r *Registry) Register(desc Descriptor, reader Reader) error {
	if desc.Name == "" {
		return fmt.Errorf("resource name is empty")
	}
	if reader == nil {
		return fmt.Errorf("resource %q has nil reader", desc.Name)
	}
	if desc.MIMEType == "" {
		desc.MIMEType = "application/json"
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[desc.Name]; exists {
		log.WithComponent("resource").Warn("duplicate resource registration ignored", "name", desc.Name)
		return fmt.Errorf("resource %q already registered", desc.Name)
	}
	r.entries[desc.Name] = entry{desc: desc, reader: reader}
	return nil
}

// Descriptors returns all resource descriptors sorted by name.
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

// Read returns the descriptor and current content of the named resource.
func (r *Registry) Read(ctx context.Context, name string) (Descriptor, []byte, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return Descriptor{}, nil, &NotFoundError{Name: name}
	}

	content, err := e.reader(ctx)
	if err != nil {
		return Descriptor{}, nil, fmt.Errorf("read resource %q: %w", name, err)
	}
	return e.desc, content, nil
}
