package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/weftai/weft/internal/agent"
	"github.com/weftai/weft/internal/ast"
	"github.com/weftai/weft/internal/config"
	"github.com/weftai/weft/internal/engine"
	"github.com/weftai/weft/internal/execcontext"
	"github.com/weftai/weft/internal/parser"
	"github.com/weftai/weft/internal/session"
	"github.com/weftai/weft/internal/style"
	pkgEvents "github.com/weftai/weft/pkg/events"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [workflow.weft.json]",
	Short: "Execute a workflow file",
	Long: `Execute a workflow definition with real-time progress reporting.

This command:
- Parses and validates the workflow definition
- Resolves agents and connects to the configured session service
- Executes steps with retries, timeouts and safety guards
- Provides real-time progress updates
- Supports graceful shutdown on interruption signals

Examples:
  weft run review.weft.json                    # Run workflow with default settings
  weft run review.weft.json --input key=value  # Provide input parameters
  weft run review.weft.json --dry-run          # Validate without execution
  weft run review.weft.json --output json      # JSON output for automation
  weft run review.weft.json --save-state       # Persist final context for debugging`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		input := make(map[string]interface{}, len(inputs))
		for k, v := range inputs {
			input[k] = parseInputValue(v)
		}
		os.Exit(executeWorkflow(args[0], input, execOptions{
			timeout:   timeout,
			dryRun:    dryRun,
			saveState: saveState,
			trace:     trace,
		}))
	},
}

var (
	// Input parameters
	inputs map[string]string

	// Execution options
	dryRun    bool
	saveState bool
	trace     bool
	timeout   time.Duration
)

func init() {
	rootCmd.AddCommand(runCmd)

	// Input flags
	runCmd.Flags().StringToStringVarP(&inputs, "input", "i", map[string]string{}, "input parameters (key=value)")

	// Execution flags
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate and plan without executing")
	runCmd.Flags().BoolVar(&saveState, "save-state", false, "persist the final context under .weft/runs for debugging")
	runCmd.Flags().BoolVar(&trace, "trace", false, "record a per-step audit trail in the result")
	runCmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "overall execution timeout")
}

// execOptions carries the run tunables shared by the run and workflow
// commands.
type execOptions struct {
	timeout   time.Duration
	dryRun    bool
	saveState bool
	trace     bool
}

// ExecutionResult is the run outcome as printed by the CLI.
type ExecutionResult struct {
	WorkflowFile   string                    `json:"workflow_file" yaml:"workflow_file"`
	WorkflowID     string                    `json:"workflow_id" yaml:"workflow_id"`
	RunID          string                    `json:"run_id" yaml:"run_id"`
	Status         string                    `json:"status" yaml:"status"`
	StartTime      time.Time                 `json:"start_time" yaml:"start_time"`
	EndTime        time.Time                 `json:"end_time" yaml:"end_time"`
	Duration       ast.Millis                `json:"duration_ms" yaml:"duration_ms"`
	FinalStepID    string                    `json:"final_step_id,omitempty" yaml:"final_step_id,omitempty"`
	Inputs         map[string]interface{}    `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Output         interface{}               `json:"output,omitempty" yaml:"output,omitempty"`
	Steps          []*execcontext.StepResult `json:"steps,omitempty" yaml:"steps,omitempty"`
	Stats          execcontext.Stats         `json:"stats" yaml:"stats"`
	Error          string                    `json:"error,omitempty" yaml:"error,omitempty"`
	LeakedSessions []string                  `json:"leaked_sessions,omitempty" yaml:"leaked_sessions,omitempty"`
	Trace          []*execcontext.TraceEntry `json:"trace,omitempty" yaml:"trace,omitempty"`
}

// executeWorkflow runs one workflow file end to end and returns the process
// exit code. Both `weft run` and `weft workflow` land here.
func executeWorkflow(workflowFile string, input map[string]interface{}, opts execOptions) int {
	startTime := time.Now()

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		<-sigChan
		log.Info().Msg("Received interrupt signal, shutting down gracefully...")
		cancel()
	}()

	// Apply timeout if specified
	if opts.timeout > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, opts.timeout)
		defer timeoutCancel()
	}

	// Parse workflow
	workflow, err := parser.New().ParseFile(workflowFile)
	if err != nil {
		printLoadFailure(workflowFile, err)
		return 1
	}
	if opts.trace {
		workflow.Trace = true
	}

	log.Info().
		Str("workflow", workflowFile).
		Str("id", workflow.ID).
		Int("steps", len(workflow.Steps)).
		Msg("Workflow loaded and validated")

	cfg, err := config.Load()
	if err != nil {
		Error(fmt.Sprintf("Failed to load config: %v", err))
		return 1
	}
	if !cfg.Enabled {
		source := cfg.Source
		if source == "" {
			source = "config"
		}
		Error(fmt.Sprintf("Workflow execution is disabled by %s", source))
		return 1
	}

	// Show workflow info
	textOutput := !viper.GetBool("quiet") && viper.GetString("output") == "text"
	if textOutput {
		printWorkflowInfo(workflow)
	}

	// Dry run mode
	if opts.dryRun {
		printExecutionPlan(workflow)
		if !viper.GetBool("quiet") {
			Success("Workflow validation completed (dry-run mode)")
		}
		return 0
	}

	client := session.NewClient(session.DefaultConfig(cfg.SessionURL), buildResolver(cfg))

	var listener pkgEvents.Listener
	if textOutput {
		listener = engine.NewCLIProgressTracker(os.Stdout)
	}

	runner := engine.NewRunner(client, listener,
		engine.WithApprovalHandler(&terminalApprover{in: os.Stdin, out: os.Stdout}))

	rc := execcontext.RunContext{Context: ctx, StdOut: os.Stdout, StdErr: os.Stderr}
	runResult, runErr := runner.Run(rc, workflow, input)

	result := buildExecutionResult(workflowFile, input, startTime, runResult, runErr)
	result.LeakedSessions = client.LeakedSessions()

	if runErr != nil {
		log.Error().
			Err(runErr).
			Str("run_id", result.RunID).
			Dur("duration", result.Duration.Duration).
			Msg("Workflow execution failed")
	} else {
		log.Info().
			Str("run_id", result.RunID).
			Dur("duration", result.Duration.Duration).
			Int("steps", result.Stats.Total).
			Msg("Workflow execution completed")
	}

	if opts.saveState && runResult != nil {
		if path, err := saveRunState(runResult); err != nil {
			Warning(fmt.Sprintf("Failed to save run state: %v", err))
		} else if textOutput {
			fmt.Printf("%s Saved run state to %s\n", style.InfoIcon(), style.MutedStyle.Render(path))
		}
	}

	outputResults(result)

	if result.Status != "completed" {
		return 1
	}
	return 0
}

// buildResolver assembles the agent lookup chain: configured directory first,
// then the user-level agents directory, with config overrides applied on top.
func buildResolver(cfg *config.Config) agent.Resolver {
	chain := agent.Chain{agent.NewDirResolver(cfg.AgentsDir)}
	if home, err := os.UserHomeDir(); err == nil {
		userDir := filepath.Join(home, ".weft", "agents")
		if userDir != cfg.AgentsDir {
			chain = append(chain, agent.NewDirResolver(userDir))
		}
	}
	return cfg.WrapResolver(chain)
}

func buildExecutionResult(workflowFile string, input map[string]interface{}, startTime time.Time, runResult *engine.WorkflowResult, runErr error) ExecutionResult {
	result := ExecutionResult{
		WorkflowFile: workflowFile,
		Status:       "completed",
		StartTime:    startTime,
		Inputs:       input,
	}

	if runResult != nil {
		result.WorkflowID = runResult.WorkflowID
		result.RunID = runResult.RunID
		result.StartTime = runResult.StartTime
		result.EndTime = runResult.EndTime
		result.Duration = runResult.Duration
		result.FinalStepID = runResult.FinalStepID
		result.Stats = runResult.Stats
		result.Trace = runResult.Trace
		if runResult.Context != nil {
			result.Steps = runResult.Context.Results
			for _, step := range runResult.Context.Results {
				if step.StepID != runResult.FinalStepID {
					continue
				}
				if step.Success {
					result.Output = step.Data
				} else if step.Error != nil {
					result.Error = step.Error.Message
				}
			}
		}
		// A run that ends on an unrescued step failure is a failed run, even
		// though the loop itself settled.
		if !runResult.Success || (runResult.FinalStepID != "" && !runResult.FinalStepSuccess) {
			result.Status = "failed"
			if runResult.Error != "" {
				result.Error = runResult.Error
			}
		}
	}

	if runErr != nil {
		result.Status = "failed"
		if result.Error == "" {
			result.Error = runErr.Error()
		}
	}
	if result.EndTime.IsZero() {
		result.EndTime = time.Now()
		result.Duration = ast.Millis{Duration: result.EndTime.Sub(result.StartTime)}
	}
	return result
}

// saveRunState persists the final context snapshot under .weft/runs.
func saveRunState(result *engine.WorkflowResult) (string, error) {
	dir := filepath.Join(".weft", "runs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	path := filepath.Join(dir, result.RunID+".json")
	data, err := json.MarshalIndent(result.Context, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// parseInputValue upgrades flag values from strings to JSON types when they
// parse as JSON: numbers, booleans, arrays and objects come through typed.
func parseInputValue(raw string) interface{} {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return raw
	}
	switch trimmed[0] {
	case '{', '[', '"', 't', 'f', 'n', '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var v interface{}
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v
		}
	}
	return raw
}

// terminalApprover asks the operator for approval decisions on stdin.
type terminalApprover struct {
	in  io.Reader
	out io.Writer
}

func (a *terminalApprover) Decide(rc execcontext.RunContext, step *ast.Step, message string, contextData map[string]interface{}) (bool, error) {
	if viper.GetString("output") != "text" || viper.GetBool("quiet") {
		// Non-interactive outputs cannot prompt; reject so the workflow takes
		// its on_reject path instead of hanging.
		return false, nil
	}

	fmt.Fprintf(a.out, "\n%s %s\n", style.WarningIcon(), style.WarningStyle.Render(message))
	fmt.Fprint(a.out, "Approve? [y/N]: ")

	reader := bufio.NewReader(a.in)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

func printLoadFailure(workflowFile string, err error) {
	var multi *parser.MultiError
	if errors.As(err, &multi) {
		result := NewFileValidation(workflowFile)
		result.CollectError(err)
		printValidationSummary(ValidationSummary{
			Total:   1,
			Invalid: 1,
			Results: []FileValidation{*result},
		})
		return
	}
	Error(fmt.Sprintf("Failed to load workflow: %v", err))
}

func printWorkflowInfo(workflow *ast.Workflow) {
	name := workflow.ID
	if name == "" {
		name = "untitled"
	}
	fmt.Printf("\nRunning %s (%d steps)\n\n", style.InfoStyle.Render(name), len(workflow.Steps))
}

func printExecutionPlan(workflow *ast.Workflow) {
	if viper.GetBool("quiet") || viper.GetString("output") != "text" {
		return
	}

	fmt.Printf("Execution plan:\n")
	for i, step := range workflow.Steps {
		marker := "├─"
		if i == len(workflow.Steps)-1 {
			marker = "└─"
		}
		detail := ""
		switch step.Type {
		case ast.StepAgent:
			detail = "agent=" + step.Agent
		case ast.StepCondition:
			detail = "then=" + step.Then
			if step.Else != "" {
				detail += " else=" + step.Else
			}
		case ast.StepParallel:
			detail = fmt.Sprintf("%d children", len(step.Steps))
		}
		fmt.Printf("  %s %s %s %s\n",
			style.MutedStyle.Render(marker),
			step.ID,
			style.MutedStyle.Render(string(step.Type)),
			style.MutedStyle.Render(detail))
	}
	fmt.Println()
}

func outputResults(result ExecutionResult) {
	switch viper.GetString("output") {
	case "json":
		printJSON(result)
	case "yaml":
		printYAML(result)
	default:
		printExecutionSummary(result)
	}
}

func printExecutionSummary(result ExecutionResult) {
	if viper.GetBool("quiet") {
		return
	}

	fmt.Printf("\n")

	if result.Status == "completed" {
		fmt.Printf("%s Workflow completed %s (%d steps, %dms)\n",
			style.SuccessIcon(),
			style.SuccessStyle.Render("successfully"),
			result.Stats.Total,
			result.Duration.Duration.Milliseconds())
	} else {
		fmt.Printf("%s Workflow failed (%d steps, %dms)\n",
			style.ErrorIcon(),
			result.Stats.Total,
			result.Duration.Duration.Milliseconds())
		if result.Error != "" {
			fmt.Printf("\n%s\n", style.ErrorStyle.Render(result.Error))
		}
	}

	if result.Output != nil {
		fmt.Printf("\n%s\n", style.TitleStyle.Render("Output"))
		printJSON(result.Output)
	}

	if len(result.LeakedSessions) > 0 {
		fmt.Printf("\n%s %d session(s) could not be cleaned up: %s\n",
			style.WarningIcon(),
			len(result.LeakedSessions),
			strings.Join(result.LeakedSessions, ", "))
	}
}
