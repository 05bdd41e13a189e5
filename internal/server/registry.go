package server

import (
	"sort"
	"sync"

	"github.com/weftai/weft/internal/ast"
)

// WorkflowRegistry holds the validated workflow definitions the server is
// willing to run, keyed by workflow id.
type WorkflowRegistry struct {
	mu        sync.RWMutex
	workflows map[string]*ast.Workflow
}

// NewWorkflowRegistry creates an empty registry.
func NewWorkflowRegistry() *WorkflowRegistry {
	return &WorkflowRegistry{workflows: make(map[string]*ast.Workflow)}
}

// Register adds a workflow, replacing any previous definition under the
// same id.
func (r *WorkflowRegistry) Register(id string, workflow *ast.Workflow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workflows[id] = workflow
}

// Get retrieves a workflow by id.
func (r *WorkflowRegistry) Get(id string) (*ast.Workflow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workflows[id]
	return w, ok
}

// List returns the registered workflow ids, sorted.
func (r *WorkflowRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.workflows))
	for id := range r.workflows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of registered workflows.
func (r *WorkflowRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workflows)
}
