package engine

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/weftai/weft/internal/ast"
	"github.com/weftai/weft/internal/execcontext"
	"github.com/weftai/weft/internal/style"
	pkgEvents "github.com/weftai/weft/pkg/events"
)

const eventBufferSize = 100

// Runner couples an Engine with a progress listener. It owns the event
// channel: Run starts the listener, executes the workflow, then shuts the
// listener down once the engine has gone quiet.
type Runner struct {
	engine   *Engine
	listener pkgEvents.Listener
	events   chan pkgEvents.ExecutionEvent
}

// NewRunner builds a runner that reports progress to listener. A nil
// listener runs quietly. Engine options are applied on top of the runner's
// event wiring.
func NewRunner(sessions AgentRunner, listener pkgEvents.Listener, opts ...Option) *Runner {
	if listener == nil {
		listener = &pkgEvents.NoopListener{}
	}
	ch := make(chan pkgEvents.ExecutionEvent, eventBufferSize)
	engineOpts := append([]Option{WithEventChannel(ch)}, opts...)
	return &Runner{
		engine:   New(sessions, engineOpts...),
		listener: listener,
		events:   ch,
	}
}

// Engine returns the wrapped engine.
func (r *Runner) Engine() *Engine { return r.engine }

// Run executes one workflow while the listener drains progress events. A
// Runner handles one execution at a time.
func (r *Runner) Run(rc execcontext.RunContext, workflow *ast.Workflow, input map[string]interface{}) (*WorkflowResult, error) {
	r.listener.StartListening(r.events)
	defer r.listener.StopListening()
	return r.engine.Execute(rc, workflow, input)
}

// CLIProgressTracker renders execution events as terminal progress: a
// spinner while steps run, one outcome line per finished step, and a summary
// line when the workflow settles. Parallel children collapse into a single
// "n steps running" spinner.
type CLIProgressTracker struct {
	writer io.Writer

	mu              sync.Mutex
	spinner         style.Spinner
	active          map[string]string
	pendingApproval bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewCLIProgressTracker creates a tracker writing to w.
func NewCLIProgressTracker(w io.Writer) *CLIProgressTracker {
	return &CLIProgressTracker{
		writer: w,
		active: make(map[string]string),
	}
}

// StartListening consumes events until StopListening is called. Events still
// buffered at stop time are rendered before the listener exits.
func (t *CLIProgressTracker) StartListening(progressChan <-chan pkgEvents.ExecutionEvent) {
	t.stop = make(chan struct{})
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			select {
			case event, ok := <-progressChan:
				if !ok {
					return
				}
				t.handle(event)
			case <-t.stop:
				for {
					select {
					case event, ok := <-progressChan:
						if !ok {
							return
						}
						t.handle(event)
					default:
						return
					}
				}
			}
		}
	}()
}

// StopListening drains the channel and stops the spinner.
func (t *CLIProgressTracker) StopListening() {
	if t.stop == nil {
		return
	}
	close(t.stop)
	t.wg.Wait()
	t.stop = nil

	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopSpinnerLocked()
}

func (t *CLIProgressTracker) handle(event pkgEvents.ExecutionEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch event.Type {
	case pkgEvents.EventWorkflowStarted:
		fmt.Fprintf(t.writer, "%s %s\n",
			style.AccentStyle.Render("▸"),
			style.TitleStyle.Render("Running workflow "+event.WorkflowID))

	case pkgEvents.EventStepStarted:
		t.active[event.StepID] = event.Text
		t.refreshSpinnerLocked()

	case pkgEvents.EventStepProgress:
		if _, ok := t.active[event.StepID]; ok {
			t.active[event.StepID] = event.Text
			t.refreshSpinnerLocked()
		}

	case pkgEvents.EventStepRetrying:
		t.active[event.StepID] = fmt.Sprintf("%s: attempt %d, %s", event.StepID, event.Attempt+1, event.Text)
		t.refreshSpinnerLocked()

	case pkgEvents.EventStepCompleted:
		delete(t.active, event.StepID)
		t.stopSpinnerLocked()
		fmt.Fprintf(t.writer, "%s %s %s\n",
			style.SuccessIcon(), event.StepID,
			style.MutedStyle.Render("("+formatDuration(event.Duration)+")"))
		t.refreshSpinnerLocked()

	case pkgEvents.EventStepFailed:
		delete(t.active, event.StepID)
		t.stopSpinnerLocked()
		fmt.Fprintf(t.writer, "%s %s: %s\n", style.ErrorIcon(), event.StepID, event.Error)
		t.refreshSpinnerLocked()

	case pkgEvents.EventApprovalRequested:
		// The approval handler owns the terminal until the decision lands.
		t.pendingApproval = true
		t.stopSpinnerLocked()
		fmt.Fprintf(t.writer, "%s %s\n", style.WarningIcon(), event.Text)

	case pkgEvents.EventApprovalDecided:
		t.pendingApproval = false
		fmt.Fprintf(t.writer, "%s %s %s\n", style.InfoIcon(), event.StepID, event.Text)
		t.refreshSpinnerLocked()

	case pkgEvents.EventWorkflowCompleted:
		t.stopSpinnerLocked()
		fmt.Fprintf(t.writer, "%s Workflow %s completed in %s\n",
			style.SuccessIcon(), event.WorkflowID, formatDuration(event.Duration))

	case pkgEvents.EventWorkflowFailed:
		t.stopSpinnerLocked()
		fmt.Fprintf(t.writer, "%s Workflow %s failed: %s\n",
			style.ErrorIcon(), event.WorkflowID, event.Error)
	}
}

func (t *CLIProgressTracker) refreshSpinnerLocked() {
	if len(t.active) == 0 || t.pendingApproval {
		t.stopSpinnerLocked()
		return
	}

	suffix := ""
	if len(t.active) == 1 {
		for _, text := range t.active {
			suffix = " " + text
		}
	} else {
		suffix = fmt.Sprintf(" %d steps running...", len(t.active))
	}

	if t.spinner == nil {
		t.spinner = style.NewSpinner(t.writer)
		t.spinner.SetSuffix(suffix)
		t.spinner.Start()
		return
	}
	t.spinner.SetSuffix(suffix)
}

func (t *CLIProgressTracker) stopSpinnerLocked() {
	if t.spinner == nil {
		return
	}
	t.spinner.SetFinalMSG("")
	t.spinner.Stop()
	t.spinner = nil
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
