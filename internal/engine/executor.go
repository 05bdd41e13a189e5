package engine

import (
	"github.com/weftai/weft/internal/ast"
	"github.com/weftai/weft/internal/execcontext"
	pkgEvents "github.com/weftai/weft/pkg/events"
)

func noopEmit(pkgEvents.ExecutionEvent) {}

// defaultRoute is the routing rule every step kind shares: next on success,
// on_error on failure, "" when the matching field is empty.
func defaultRoute(step *ast.Step, result *execcontext.StepResult) string {
	if result.Success {
		return step.Next
	}
	return step.OnError
}

// buildAgentInput assembles the input document for an agent step: the
// workflow input under "input", the data of every successful step keyed by id
// under "context", and one highlighted back-reference under its own id. The
// back-reference is the step named by the input field, falling back to the
// most recently executed step. A referenced step that failed or was pruned
// contributes nothing.
func buildAgentInput(step *ast.Step, execCtx *execcontext.Context) map[string]interface{} {
	input := map[string]interface{}{
		"input":   execCtx.Input(),
		"context": execCtx.BuildContextObject(),
	}

	ref := step.Input
	if ref == "" {
		if prev := execCtx.PreviousSteps(); len(prev) > 0 {
			ref = prev[len(prev)-1]
		}
	}
	if ref != "" {
		if res, ok := execCtx.GetResult(ref); ok && res.Success {
			input[ref] = res.Data
		}
	}
	return input
}

// buildExpressionScope exposes workflow state to transform and condition
// expressions: every successful step's data under its step id, plus the
// workflow input under "input".
func buildExpressionScope(execCtx *execcontext.Context) map[string]interface{} {
	scope := execCtx.BuildContextObject()
	scope["input"] = execCtx.Input()
	return scope
}
