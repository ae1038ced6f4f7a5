package mcp

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is the concurrency-safe table of registered capabilities.
// Registration normally happens at startup, but the table tolerates
// concurrent registration and lookup.
type Registry struct {
	mu      sync.RWMutex
	methods map[string]*MethodDescriptor
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		methods: make(map[string]*MethodDescriptor),
	}
}

// Register adds a descriptor. Duplicate names and nil handlers are rejected.
func (r *Registry) Register(desc *MethodDescriptor) error {
	if desc == nil {
		return fmt.Errorf("descriptor must not be nil")
	}
	if desc.Name == "" {
		return fmt.Errorf("descriptor name is required")
	}
	if desc.Handler == nil {
		return fmt.Errorf("descriptor %s has no handler", desc.Name)
	}
	if desc.Kind == "" {
		desc.Kind = KindTool
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.methods[desc.Name]; exists {
		return fmt.Errorf("method %s already registered", desc.Name)
	}
	r.methods[desc.Name] = desc
	return nil
}

// MustRegister registers a descriptor and panics on error; intended for
// startup wiring where a failure is a programming bug.
func (r *Registry) MustRegister(desc *MethodDescriptor) {
	if err := r.Register(desc); err != nil {
		panic(err)
	}
}

// Lookup returns the descriptor for a method name
func (r *Registry) Lookup(name string) (*MethodDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.methods[name]
	return desc, ok
}

// Tools returns the registered tool descriptors sorted by name
func (r *Registry) Tools() []*MethodDescriptor {
	return r.byKind(KindTool)
}

// Resources returns the registered resource descriptors sorted by name
func (r *Registry) Resources() []*MethodDescriptor {
	return r.byKind(KindResource)
}

// Prompts returns the registered prompt descriptors sorted by name
func (r *Registry) Prompts() []*MethodDescriptor {
	return r.byKind(KindPrompt)
}

// byKind snapshots matching descriptors under the read lock. Listings are
// computed per call; the table is small and callers are infrequent.
func (r *Registry) byKind(kind Kind) []*MethodDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*MethodDescriptor
	for _, desc := range r.methods {
		if desc.Kind == kind {
			out = append(out, desc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
