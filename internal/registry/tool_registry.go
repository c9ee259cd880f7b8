// Package registry implements the Tool Registry and Permission Profile
// Service. The tool registry is consumed by the executor. Both are
// external collaborators per the runtime's boundary contract, but a
// concrete in-memory/on-disk implementation is provided here so the
// runtime can be exercised standalone.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"toolrun/internal/runtimeerr"
)

// ToolMetadata describes a registered tool. Immutable after registration.
type ToolMetadata struct {
	ID                  string                 `json:"id"`
	Name                string                 `json:"name"`
	Description         string                 `json:"description"`
	Version             string                 `json:"version"`
	Category            string                 `json:"category"`
	ParameterSchema     map[string]interface{} `json:"parameter_schema,omitempty"`
	RequiredCapabilities []string              `json:"required_capabilities,omitempty"`
	RequiredPermissions  []string              `json:"required_permissions,omitempty"`
}

// Provider is the value a caller supplies to Create; BaseExecutor invokes
// it directly as an executor.ToolFunc for the tool ID. The registry
// treats it as an opaque handle.
type Provider interface{}

// ToolRegistry is the registry boundary: register, unregister, get, list,
// search, create.
type ToolRegistry interface {
	Register(meta ToolMetadata, provider Provider) error
	Unregister(id string) error
	Get(id string) (ToolMetadata, Provider, error)
	List(filter func(ToolMetadata) bool) []ToolMetadata
	Search(term string) []ToolMetadata
	Create(id string, provider Provider) error
}

// InMemoryToolRegistry is a thread-safe ToolRegistry implementation.
type InMemoryToolRegistry struct {
	mu        sync.RWMutex
	tools     map[string]ToolMetadata
	providers map[string]Provider
}

// NewInMemoryToolRegistry creates an empty registry.
func NewInMemoryToolRegistry() *InMemoryToolRegistry {
	return &InMemoryToolRegistry{
		tools:     make(map[string]ToolMetadata),
		providers: make(map[string]Provider),
	}
}

// Register adds a tool. Returns an error if the ID is already registered.
func (r *InMemoryToolRegistry) Register(meta ToolMetadata, provider Provider) error {
	if meta.ID == "" {
		return runtimeerr.New(runtimeerr.CodeInvalidArgument, "tool id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[meta.ID]; exists {
		return runtimeerr.Newf(runtimeerr.CodeToolAlreadyExists, "tool already registered: %s", meta.ID)
	}
	r.tools[meta.ID] = meta
	r.providers[meta.ID] = provider
	return nil
}

// Unregister removes a tool by ID.
func (r *InMemoryToolRegistry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[id]; !exists {
		return runtimeerr.Newf(runtimeerr.CodeToolNotFound, "tool not found: %s", id)
	}
	delete(r.tools, id)
	delete(r.providers, id)
	return nil
}

// Get returns a tool's metadata and provider.
func (r *InMemoryToolRegistry) Get(id string) (ToolMetadata, Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, exists := r.tools[id]
	if !exists {
		return ToolMetadata{}, nil, runtimeerr.Newf(runtimeerr.CodeToolNotFound, "tool not found: %s", id)
	}
	return meta, r.providers[id], nil
}

// List returns all tools matching filter, sorted by ID. A nil filter
// returns everything.
func (r *InMemoryToolRegistry) List(filter func(ToolMetadata) bool) []ToolMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolMetadata, 0, len(r.tools))
	for _, m := range r.tools {
		if filter == nil || filter(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Search performs a case-insensitive substring match over name and
// description, sorted by ID.
func (r *InMemoryToolRegistry) Search(term string) []ToolMetadata {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return r.List(nil)
	}
	return r.List(func(m ToolMetadata) bool {
		return strings.Contains(strings.ToLower(m.Name), term) ||
			strings.Contains(strings.ToLower(m.Description), term)
	})
}

// Create registers a bare provider under id with minimal metadata; used
// by discovery paths that don't yet have full ToolMetadata.
func (r *InMemoryToolRegistry) Create(id string, provider Provider) error {
	return r.Register(ToolMetadata{ID: id, Name: id}, provider)
}

// String renders a human-readable summary, useful for CLI/debug output.
func (r *InMemoryToolRegistry) String() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fmt.Sprintf("ToolRegistry{tools=%d}", len(r.tools))
}
