package parser

import (
	"fmt"
	"strings"

	"github.com/weftai/weft/internal/ast"
	"github.com/weftai/weft/internal/expression"
)

// longWorkflowThreshold is the step count past which a workflow earns a
// long_workflow warning.
const longWorkflowThreshold = 50

// SemanticValidator runs every static check the engine relies on: unique
// ids, kind-specific required fields, reference resolution, input-dependency
// cycles, and the advisory reachability and error-handler checks.
type SemanticValidator struct{}

// NewSemanticValidator creates a new semantic validator
func NewSemanticValidator() *SemanticValidator {
	return &SemanticValidator{}
}

// ValidateWorkflow performs the full semantic pass and returns every finding.
// Errors make the workflow unrunnable; warnings are advisory.
func (sv *SemanticValidator) ValidateWorkflow(w *ast.Workflow) *ast.ValidationResult {
	result := ast.NewValidationResult()

	structural := ast.NewValidator().ValidateStructure(w)
	result.Errors = append(result.Errors, structural.Errors...)
	result.Valid = result.Valid && structural.Valid
	if len(w.Steps) == 0 {
		return result
	}

	ctx := sv.buildContext(w)

	sv.validateUniqueIDs(ctx, result)
	sv.validateLimits(ctx, result)
	sv.validateStepFields(ctx, result)
	sv.validateReferences(ctx, result)
	sv.validateInputCycles(ctx, result)
	sv.checkReachability(ctx, result)
	sv.checkErrorHandlers(ctx, result)
	sv.checkWorkflowLength(ctx, result)

	return result
}

// stepEntry pairs a step with its document path for error reporting.
type stepEntry struct {
	step   *ast.Step
	path   string
	parent *ast.Step
}

// validationContext holds the cross-step indexes one pass builds and the
// later passes share.
type validationContext struct {
	workflow *ast.Workflow
	entries  []stepEntry
	steps    map[string]*ast.Step
	paths    map[string]string
	children map[string]*ast.Step // child id -> its parallel parent
}

func (sv *SemanticValidator) buildContext(w *ast.Workflow) *validationContext {
	ctx := &validationContext{
		workflow: w,
		steps:    make(map[string]*ast.Step),
		paths:    make(map[string]string),
		children: make(map[string]*ast.Step),
	}

	for i, step := range w.Steps {
		path := fmt.Sprintf("steps[%d]", i)
		ctx.entries = append(ctx.entries, stepEntry{step: step, path: path})
		for j, child := range step.Steps {
			childPath := fmt.Sprintf("%s.steps[%d]", path, j)
			ctx.entries = append(ctx.entries, stepEntry{step: child, path: childPath, parent: step})
		}
	}

	// First definition wins, so reference checks still work on workflows
	// with duplicate ids.
	for _, entry := range ctx.entries {
		if entry.step.ID == "" {
			continue
		}
		if _, seen := ctx.steps[entry.step.ID]; !seen {
			ctx.steps[entry.step.ID] = entry.step
			ctx.paths[entry.step.ID] = entry.path
		}
		if entry.parent != nil {
			ctx.children[entry.step.ID] = entry.parent
		}
	}

	return ctx
}

func (sv *SemanticValidator) validateUniqueIDs(ctx *validationContext, result *ast.ValidationResult) {
	seen := make(map[string]string)
	for _, entry := range ctx.entries {
		id := entry.step.ID
		if id == "" {
			continue
		}
		if first, dup := seen[id]; dup {
			result.AddFieldError(ast.ErrInvalidValue, entry.path, "id",
				fmt.Sprintf("duplicate step id %q (first defined at %s)", id, first))
			continue
		}
		seen[id] = entry.path
	}
}

func (sv *SemanticValidator) validateLimits(ctx *validationContext, result *ast.ValidationResult) {
	w := ctx.workflow

	if w.MaxIterations < 0 {
		result.AddFieldError(ast.ErrInvalidValue, "", "max_iterations",
			fmt.Sprintf("max_iterations must not be negative, got %d", w.MaxIterations))
	}
	if w.MaxDuration != nil && w.MaxDuration.Duration < 0 {
		result.AddFieldError(ast.ErrInvalidValue, "", "max_duration_ms",
			"max_duration_ms must not be negative")
	}
	if w.MaxContextSize < 0 {
		result.AddFieldError(ast.ErrInvalidValue, "", "max_context_size",
			fmt.Sprintf("max_context_size must not be negative, got %d", w.MaxContextSize))
	}
	if w.ContextRetention != "" && !w.ContextRetention.Valid() {
		result.AddFieldError(ast.ErrInvalidValue, "", "context_retention",
			fmt.Sprintf("unknown retention mode %q (known modes: all, recent, referenced)", w.ContextRetention))
	}

	for _, entry := range ctx.entries {
		step := entry.step
		if step.MaxRetries != nil && *step.MaxRetries < 0 {
			result.AddFieldError(ast.ErrInvalidValue, entry.path, "max_retries",
				fmt.Sprintf("max_retries must not be negative, got %d", *step.MaxRetries))
		}
		if step.RetryDelay != nil && step.RetryDelay.Duration < 0 {
			result.AddFieldError(ast.ErrInvalidValue, entry.path, "retry_delay_ms",
				"retry_delay_ms must not be negative")
		}
		if step.Timeout != nil && step.Timeout.Duration < 0 {
			result.AddFieldError(ast.ErrInvalidValue, entry.path, "timeout_ms",
				"timeout_ms must not be negative")
		}
	}
}

// validateStepFields checks the kind-specific required fields of every step.
func (sv *SemanticValidator) validateStepFields(ctx *validationContext, result *ast.ValidationResult) {
	for _, entry := range ctx.entries {
		step, path := entry.step, entry.path

		switch step.Type {
		case ast.StepAgent:
			if step.Agent == "" {
				result.AddFieldError(ast.ErrMissingField, path, "agent",
					fmt.Sprintf("agent step %q must name an agent", step.ID))
			}

		case ast.StepTransform:
			if step.Transform == "" {
				result.AddFieldError(ast.ErrMissingField, path, "transform",
					fmt.Sprintf("transform step %q must define a transform expression", step.ID))
			} else if err := expression.Validate(step.Transform); err != nil {
				result.AddFieldError(ast.ErrInvalidValue, path, "transform",
					fmt.Sprintf("invalid transform expression: %v", err))
			}

		case ast.StepCondition:
			if step.Condition == "" {
				result.AddFieldError(ast.ErrMissingField, path, "condition",
					fmt.Sprintf("condition step %q must define a condition expression", step.ID))
			} else if err := expression.Validate(step.Condition); err != nil {
				result.AddFieldError(ast.ErrInvalidValue, path, "condition",
					fmt.Sprintf("invalid condition expression: %v", err))
			}
			if step.Then == "" {
				result.AddFieldError(ast.ErrMissingField, path, "then",
					fmt.Sprintf("condition step %q must name a then target", step.ID))
			}

		case ast.StepApproval:
			if step.Message == "" {
				result.AddFieldError(ast.ErrMissingField, path, "message",
					fmt.Sprintf("approval step %q must define a message", step.ID))
			}

		case ast.StepParallel:
			if len(step.Steps) == 0 {
				result.AddFieldError(ast.ErrMissingField, path, "steps",
					fmt.Sprintf("parallel step %q must define at least one child step", step.ID))
			}
			if step.MinSuccess != nil && (*step.MinSuccess < 0 || *step.MinSuccess > len(step.Steps)) {
				result.AddFieldError(ast.ErrInvalidValue, path, "min_success",
					fmt.Sprintf("min_success %d out of range for %d child steps", *step.MinSuccess, len(step.Steps)))
			}
			for j, child := range step.Steps {
				if child.Type == ast.StepParallel {
					result.AddFieldError(ast.ErrInvalidType, fmt.Sprintf("%s.steps[%d]", path, j), "type",
						fmt.Sprintf("parallel step %q cannot nest another parallel step", step.ID))
				}
			}
		}

		if step.Type != ast.StepParallel && len(step.Steps) > 0 {
			result.AddFieldError(ast.ErrInvalidValue, path, "steps",
				fmt.Sprintf("%s step %q cannot define child steps", step.Type, step.ID))
		}
	}
}

// validateReferences checks that every id-valued field names an existing
// step. An input reference into a parallel group is rejected even though the
// id exists: child results are only recorded under their parent group, so
// the reference could never produce data.
func (sv *SemanticValidator) validateReferences(ctx *validationContext, result *ast.ValidationResult) {
	for _, entry := range ctx.entries {
		step, path := entry.step, entry.path

		refs := []struct {
			field  string
			target string
		}{
			{"next", step.Next},
			{"on_error", step.OnError},
			{"then", step.Then},
			{"else", step.Else},
			{"on_approve", step.OnApprove},
			{"on_reject", step.OnReject},
			{"input", step.Input},
		}

		for _, ref := range refs {
			if ref.target == "" {
				continue
			}
			if _, ok := ctx.steps[ref.target]; !ok {
				result.AddFieldError(ast.ErrInvalidReference, path, ref.field,
					fmt.Sprintf("step %q references unknown step %q", step.ID, ref.target))
				continue
			}
			if ref.field == "input" {
				if parent, isChild := ctx.children[ref.target]; isChild {
					result.AddFieldError(ast.ErrInvalidReference, path, ref.field,
						fmt.Sprintf("step %q takes input from %q, but that result is only recorded under its parallel group %q",
							step.ID, ref.target, parent.ID))
				}
			}
		}
	}
}

// validateInputCycles detects cycles in the input back-reference graph.
// Routing cycles are legal (loops are how workflows iterate); a cycle in the
// data-dependency graph can never be satisfied.
func (sv *SemanticValidator) validateInputCycles(ctx *validationContext, result *ast.ValidationResult) {
	deps := make(map[string]string)
	for _, entry := range ctx.entries {
		if entry.step.Input == "" {
			continue
		}
		if _, ok := ctx.steps[entry.step.Input]; !ok {
			continue // already reported as an invalid reference
		}
		deps[entry.step.ID] = entry.step.Input
	}

	reported := make(map[string]bool)
	for start := range deps {
		if reported[start] {
			continue
		}

		// Each node has at most one input edge, so cycle detection is a
		// pointer chase with a visited set.
		seen := map[string]int{}
		chain := []string{start}
		seen[start] = 0

		current := start
		for {
			next, ok := deps[current]
			if !ok {
				break
			}
			if at, visited := seen[next]; visited {
				cycle := append(chain[at:], next)
				for _, id := range cycle {
					reported[id] = true
				}
				result.AddFieldError(ast.ErrCircularDependency, ctx.paths[next], "input",
					fmt.Sprintf("circular input dependency: %s", strings.Join(cycle, " -> ")))
				break
			}
			seen[next] = len(chain)
			chain = append(chain, next)
			current = next
		}
	}
}

// checkReachability walks the routing graph from the entry step and warns
// about steps execution can never reach. Input references are data
// dependencies, not routes, and confer no reachability.
func (sv *SemanticValidator) checkReachability(ctx *validationContext, result *ast.ValidationResult) {
	entry := ctx.workflow.EntryStep()
	if entry == nil {
		return
	}

	reached := make(map[string]bool)
	queue := []*ast.Step{entry}
	for len(queue) > 0 {
		step := queue[0]
		queue = queue[1:]
		if step.ID == "" || reached[step.ID] {
			continue
		}
		reached[step.ID] = true

		for _, target := range step.RoutingTargets() {
			if next, ok := ctx.steps[target]; ok {
				queue = append(queue, next)
			}
		}
		// A parallel step reaches all of its children.
		queue = append(queue, step.Steps...)
	}

	for _, se := range ctx.entries {
		id := se.step.ID
		if id == "" || reached[id] {
			continue
		}
		result.AddWarning(ast.WarnUnusedStep, se.path,
			fmt.Sprintf("step %q is unreachable from the entry step %q", id, entry.ID))
	}
}

// checkErrorHandlers warns about top-level agent steps without an on_error
// route. Parallel children are exempt: their failures are absorbed into the
// group result.
func (sv *SemanticValidator) checkErrorHandlers(ctx *validationContext, result *ast.ValidationResult) {
	for _, entry := range ctx.entries {
		if entry.parent != nil {
			continue
		}
		step := entry.step
		if step.Type == ast.StepAgent && step.OnError == "" {
			result.AddWarning(ast.WarnMissingErrorHandler, entry.path,
				fmt.Sprintf("agent step %q has no on_error handler; a failure ends the workflow", step.ID))
		}
	}
}

func (sv *SemanticValidator) checkWorkflowLength(ctx *validationContext, result *ast.ValidationResult) {
	if count := len(ctx.entries); count > longWorkflowThreshold {
		result.AddWarning(ast.WarnLongWorkflow, "steps",
			fmt.Sprintf("workflow has %d steps; consider splitting workflows beyond %d steps", count, longWorkflowThreshold))
	}
}
