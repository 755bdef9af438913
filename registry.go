package toolserve

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Registry is a concurrency-safe catalog of tools keyed by name.
// Registering a name that already exists is rejected with ErrDuplicateTool.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty Registry. Each server instance owns its own.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a fully built tool. Safe for concurrent use with lookups and listings.
func (r *Registry) Register(t *Tool) error {
	if t == nil {
		return fmt.Errorf("%w: nil tool", ErrInvalidSchema)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateTool, t.name)
	}
	r.tools[t.name] = t
	return nil
}

// MustRegister registers every tool and panics on the first error.
func (r *Registry) MustRegister(tools ...*Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the tool with the given name, or (nil, false) if not found.
func (r *Registry) Lookup(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Tools returns the registered tools sorted by name, filtered by profile when profile is non-empty.
// The returned slice is owned by the caller; the tools themselves are immutable.
func (r *Registry) Tools(profile string) []*Tool {
	r.mu.RLock()
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		if profile == "" || t.HasProfile(profile) {
			out = append(out, t)
		}
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Tool) int { return strings.Compare(a.name, b.name) })
	return out
}

// List returns independent descriptor snapshots sorted by name, filtered case-insensitively by profile.
func (r *Registry) List(profile string) []ToolInfo {
	tools := r.Tools(profile)
	out := make([]ToolInfo, len(tools))
	for i, t := range tools {
		out[i] = t.Info()
	}
	return out
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
