package mcp

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ResourceProvider produces a resource's content when it is read.
type ResourceProvider func(ctx context.Context) (string, error)

// Resource is a read-only document offered to agents.
type Resource struct {
	URI         string
	Name        string
	Description string
	MIMEType    string
	Provider    ResourceProvider
}

// Resources is a registry of resources keyed by URI.
type Resources struct {
	mu        sync.RWMutex
	resources map[string]Resource
	onChange  func()
}

// NewResources creates an empty registry.
func NewResources() *Resources {
	return &Resources{resources: make(map[string]Resource)}
}

// RegisterResource adds res. A URI can only be registered once.
func (r *Resources) RegisterResource(res Resource) error {
	if res.URI == "" {
		return fmt.Errorf("resource has no uri")
	}
	if res.Provider == nil {
		return fmt.Errorf("resource %s has no provider", res.URI)
	}

	r.mu.Lock()
	if _, exists := r.resources[res.URI]; exists {
		r.mu.Unlock()
		return fmt.Errorf("resource %s already registered", res.URI)
	}
	r.resources[res.URI] = res
	notify := r.onChange
	r.mu.Unlock()

	if notify != nil {
		notify()
	}
	return nil
}

// ReplaceResource removes any resource at res.URI and registers res.
func (r *Resources) ReplaceResource(res Resource) error {
	r.mu.Lock()
	delete(r.resources, res.URI)
	r.mu.Unlock()
	return r.RegisterResource(res)
}

// Get returns the resource at uri.
func (r *Resources) Get(uri string) (Resource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.resources[uri]
	return res, ok
}

// List returns all resources ordered by URI.
func (r *Resources) List() []Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Resource, 0, len(r.resources))
	for _, res := range r.resources {
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

// Len returns the number of resources.
func (r *Resources) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.resources)
}

func (r *Resources) setOnChange(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}
