package engine

import (
	"sort"
	"sync"

	"github.com/weftai/weft/internal/ast"
	"github.com/weftai/weft/internal/execcontext"
	"github.com/weftai/weft/internal/wferrors"
)

// StepExecutor runs one step kind. Execute converts every expected failure
// into a StepResult with Success false; it never returns an error. Route picks
// the next step id from the step, its result and the updated context, or ""
// to end the workflow.
type StepExecutor interface {
	Execute(rc execcontext.RunContext, step *ast.Step, execCtx *execcontext.Context) *execcontext.StepResult
	Route(step *ast.Step, result *execcontext.StepResult, execCtx *execcontext.Context) string
}

// Registry maps step kinds to their executors.
type Registry struct {
	mu        sync.RWMutex
	executors map[ast.StepType]StepExecutor
}

// NewRegistry creates an empty executor registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[ast.StepType]StepExecutor),
	}
}

// Register binds an executor to a step kind. Last registration wins.
func (r *Registry) Register(kind ast.StepType, executor StepExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[kind] = executor
}

// Get returns the executor for a step kind. A miss names the known kinds.
func (r *Registry) Get(kind ast.StepType) (StepExecutor, error) {
	r.mu.RLock()
	executor, ok := r.executors[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, wferrors.NewNotFound("executor for step kind", string(kind), r.Types(), "")
	}
	return executor, nil
}

// Types enumerates the registered step kinds, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.executors))
	for kind := range r.executors {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)
	return kinds
}
