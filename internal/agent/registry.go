package agent

import (
	"sort"
	"sync"

	"github.com/weftai/weft/internal/wferrors"
)

// Registry is an in-memory Resolver. The engine's tests and programmatic
// embedders use it directly; the CLI layers it over a DirResolver so config
// overrides win.
type Registry struct {
	agents map[string]*Agent
	mu     sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		agents: make(map[string]*Agent),
	}
}

// Register inserts an agent under its name. Last registration wins.
func (r *Registry) Register(a *Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.Name] = a
}

// Resolve implements Resolver.
func (r *Registry) Resolve(name string) (*Agent, error) {
	r.mu.RLock()
	a, ok := r.agents[name]
	r.mu.RUnlock()
	if !ok {
		return nil, wferrors.NewNotFound("agent", name, r.List(), "")
	}
	return a, nil
}

// List implements Resolver.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Chain resolves against each resolver in order, first hit wins. Lookup
// failures only surface after every resolver has missed, with the union of
// available names.
type Chain []Resolver

// Resolve implements Resolver.
func (c Chain) Resolve(name string) (*Agent, error) {
	for _, r := range c {
		if a, err := r.Resolve(name); err == nil {
			return a, nil
		}
	}
	return nil, wferrors.NewNotFound("agent", name, c.List(), "")
}

// List implements Resolver.
func (c Chain) List() []string {
	seen := make(map[string]bool)
	var names []string
	for _, r := range c {
		for _, name := range r.List() {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}
