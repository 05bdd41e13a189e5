// Package engine provides a public API for executing weft workflows
// programmatically. This package allows third-party applications to embed
// weft workflow execution directly in their codebase without shelling out
// to the CLI.
//
// The main functionality includes:
//   - Running workflows from definition files or in-memory documents
//   - Configuring execution through functional options
//   - Monitoring workflow progress through event listeners
//
// Example usage:
//
//	input := map[string]interface{}{
//		"message": "Hello, World!",
//	}
//
//	// Run a workflow from a file
//	result, err := RunWorkflow("review.weft.json", input)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if result.Success {
//		fmt.Println(result.Output)
//	}
//
//	// Run with progress monitoring
//	listener := &MyProgressListener{}
//	result, err = RunWorkflow("review.weft.json", input, WithProgressListener(listener))
package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/weftai/weft/internal/agent"
	"github.com/weftai/weft/internal/ast"
	"github.com/weftai/weft/internal/config"
	"github.com/weftai/weft/internal/engine"
	"github.com/weftai/weft/internal/execcontext"
	"github.com/weftai/weft/internal/parser"
	"github.com/weftai/weft/internal/session"
	"github.com/weftai/weft/pkg/events"
)

// Result carries the outcome of a workflow run.
//
// Success reports whether the run reached a settled state with its final
// step succeeding. A run whose last step failed with no rescue route, or
// that was stopped by a guard, reports Success as false with the reason in
// Error. Output holds the data produced by the final step.
type Result struct {
	// RunID uniquely identifies this run.
	RunID string

	// WorkflowID is the id declared in the workflow definition.
	WorkflowID string

	// Success reports whether the run settled with its final step succeeding.
	Success bool

	// FinalStep is the id of the last step the run executed.
	FinalStep string

	// Output is the data produced by the final step, or nil if it failed.
	Output interface{}

	// Error describes why the run failed. Empty on success.
	Error string

	// Duration is the wall-clock time the run took.
	Duration time.Duration
}

// runOptions collects the knobs the functional options set.
type runOptions struct {
	listener   events.Listener
	sessionURL string
	agentDirs  []string
	timeout    time.Duration
}

// Option represents a functional option for configuring workflow execution.
// Options allow customization of the workflow runner behavior, such as
// adding progress listeners or pointing the run at a different session
// service.
//
// Options follow the functional options pattern, allowing for flexible
// and extensible configuration of the workflow execution engine.
type Option func(*runOptions)

// WithProgressListener creates an Option that configures a progress listener
// for monitoring workflow execution events in real-time.
//
// The provided listener will receive execution events throughout the workflow
// lifecycle, including workflow start/completion, step progress, errors, and
// retry attempts. This enables real-time monitoring and logging of workflow
// execution progress.
//
// Parameters:
//   - listener: An implementation of events.Listener that will receive execution events
//
// Returns:
//   - Option: A functional option that can be passed to RunWorkflow
//
// Example:
//
//	type MyListener struct{}
//
//	func (l *MyListener) StartListening(progressChan <-chan events.ExecutionEvent) {
//		go func() {
//			for event := range progressChan {
//				fmt.Printf("Event: %s at %s\n", event.Type, event.Timestamp)
//			}
//		}()
//	}
//
//	func (l *MyListener) StopListening() {
//		fmt.Println("Progress tracking stopped")
//	}
//
//	listener := &MyListener{}
//	result, err := RunWorkflow("review.weft.json", input, WithProgressListener(listener))
func WithProgressListener(listener events.Listener) Option {
	return func(o *runOptions) {
		o.listener = listener
	}
}

// WithSessionURL creates an Option that overrides the session service base
// URL for this run. Agent steps are executed against the session service at
// this address instead of the one named by the loaded configuration.
//
// Parameters:
//   - url: Base URL of the session service, e.g. "http://127.0.0.1:4096"
//
// Returns:
//   - Option: A functional option that can be passed to RunWorkflow
func WithSessionURL(url string) Option {
	return func(o *runOptions) {
		o.sessionURL = url
	}
}

// WithAgentDirs creates an Option that prepends extra agent definition
// directories to the resolver chain. Directories given here take priority
// over the project and user agent directories from the configuration.
//
// Parameters:
//   - dirs: Directories containing agent definition files
//
// Returns:
//   - Option: A functional option that can be passed to RunWorkflow
func WithAgentDirs(dirs ...string) Option {
	return func(o *runOptions) {
		o.agentDirs = append(o.agentDirs, dirs...)
	}
}

// WithTimeout creates an Option that bounds the whole run with a deadline.
// When the deadline passes, in-flight steps are cancelled and the run fails.
// A zero or negative duration leaves the run unbounded.
//
// Parameters:
//   - d: Maximum wall-clock duration for the run
//
// Returns:
//   - Option: A functional option that can be passed to RunWorkflow
func WithTimeout(d time.Duration) Option {
	return func(o *runOptions) {
		o.timeout = d
	}
}

// RunWorkflow executes a weft workflow from a definition file with the
// provided input and configuration options.
//
// This is the primary entry point for executing weft workflows
// programmatically. The function loads the workflow definition, validates
// it, and executes its steps following the routing each step declares.
//
// The workflow execution includes:
//   - Structural and semantic validation of the definition
//   - Routing between steps, including conditional and rescue routes
//   - Retry with exponential backoff for steps that declare it
//   - Safety guards that stop runaway runs
//   - Context accumulation across steps
//
// Parameters:
//   - workflowFile: Path to the workflow definition (.json, .yaml or .yml)
//   - input: Values available to the workflow's steps under the "input"
//     scope. May be nil when the workflow needs none.
//   - options: Variadic functional options for configuring execution behavior
//
// Returns:
//   - *Result: The run outcome, including the final step's output. A run
//     whose final step failed still returns a Result; Success is false and
//     Error carries the reason.
//   - error: Any error that occurred during loading, validation, or a guard
//     stop. When error is non-nil the Result is nil.
//
// Errors can occur due to:
//   - Invalid workflow file path or format
//   - Workflow validation failures (unknown references, cycles, etc.)
//   - Execution disabled by configuration
//   - A safety guard stopping the run
//
// Example:
//
//	input := map[string]interface{}{
//		"text": "Process this content",
//	}
//
//	result, err := RunWorkflow("triage.weft.json", input)
//	if err != nil {
//		return fmt.Errorf("workflow failed: %w", err)
//	}
//	if !result.Success {
//		return fmt.Errorf("workflow %s failed: %s", result.WorkflowID, result.Error)
//	}
//
//	fmt.Println(result.Output)
func RunWorkflow(workflowFile string, input map[string]interface{}, options ...Option) (*Result, error) {
	workflow, err := parser.New().ParseFile(workflowFile)
	if err != nil {
		return nil, err
	}
	return run(workflow, input, options)
}

// RunWorkflowDefinition executes a weft workflow from an in-memory document
// with the provided input and configuration options. The document format
// (JSON or YAML) is detected from the content.
//
// This entry point serves applications that assemble or template workflow
// definitions at runtime rather than loading them from disk. Execution
// behaves exactly as RunWorkflow.
//
// Parameters:
//   - definition: The workflow document as bytes
//   - input: Values available to the workflow's steps under the "input" scope
//   - options: Variadic functional options for configuring execution behavior
//
// Returns:
//   - *Result: The run outcome, as for RunWorkflow
//   - error: Any error that occurred during parsing, validation, or a guard stop
func RunWorkflowDefinition(definition []byte, input map[string]interface{}, options ...Option) (*Result, error) {
	workflow, err := parser.New().ParseBytes(definition)
	if err != nil {
		return nil, err
	}
	return run(workflow, input, options)
}

func run(workflow *ast.Workflow, input map[string]interface{}, options []Option) (*Result, error) {
	opts := &runOptions{}
	for _, option := range options {
		option(opts)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Enabled {
		source := cfg.Source
		if source == "" {
			source = "config"
		}
		return nil, fmt.Errorf("workflow execution is disabled by %s", source)
	}
	if opts.sessionURL != "" {
		cfg.SessionURL = opts.sessionURL
	}

	client := session.NewClient(session.DefaultConfig(cfg.SessionURL), buildResolver(cfg, opts.agentDirs))

	ctx := context.Background()
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	runner := engine.NewRunner(client, opts.listener)
	runResult, err := runner.Run(execcontext.RunContext{
		Context: ctx,
		StdOut:  io.Discard,
		StdErr:  io.Discard,
	}, workflow, input)
	if err != nil {
		return nil, err
	}
	return toResult(runResult), nil
}

// buildResolver mirrors the CLI's resolver chain: option-supplied
// directories first, then the project directory, then the user directory,
// with configuration overrides wrapped around the whole chain.
func buildResolver(cfg *config.Config, extraDirs []string) agent.Resolver {
	chain := agent.Chain{}
	for _, dir := range extraDirs {
		chain = append(chain, agent.NewDirResolver(dir))
	}
	chain = append(chain, agent.NewDirResolver(cfg.AgentsDir))
	if home, err := os.UserHomeDir(); err == nil {
		userDir := filepath.Join(home, ".weft", "agents")
		if userDir != cfg.AgentsDir {
			chain = append(chain, agent.NewDirResolver(userDir))
		}
	}
	return cfg.WrapResolver(chain)
}

func toResult(r *engine.WorkflowResult) *Result {
	result := &Result{
		RunID:      r.RunID,
		WorkflowID: r.WorkflowID,
		FinalStep:  r.FinalStepID,
		Success:    r.Success && (r.FinalStepID == "" || r.FinalStepSuccess),
		Duration:   r.Duration.Duration,
	}
	if r.Context != nil {
		for _, step := range r.Context.Results {
			if step.StepID != r.FinalStepID {
				continue
			}
			if step.Success {
				result.Output = step.Data
			} else if step.Error != nil {
				result.Error = step.Error.Message
			}
		}
	}
	if !result.Success && result.Error == "" {
		result.Error = r.Error
	}
	return result
}
