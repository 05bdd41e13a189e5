package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/weftai/weft/internal/ast"
	"github.com/weftai/weft/internal/engine"
	"github.com/weftai/weft/internal/execcontext"
	"github.com/weftai/weft/internal/utils"
	pkgEvents "github.com/weftai/weft/pkg/events"
)

// listWorkflows returns a summary of every loaded workflow.
func (s *Server) listWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows := make(map[string]interface{})

	for _, id := range s.registry.List() {
		workflow, _ := s.registry.Get(id)
		entry := ""
		if step := workflow.EntryStep(); step != nil {
			entry = step.ID
		}
		workflows[id] = map[string]interface{}{
			"description": workflow.Description,
			"steps":       len(workflow.Steps),
			"entry":       entry,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"workflows": workflows,
	})
}

// runWorkflow starts an asynchronous run and returns its id immediately. The
// caller polls /runs/{runID} or subscribes to /runs/{runID}/events to follow
// it.
func (s *Server) runWorkflow(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	workflowID := vars["id"]

	workflow, exists := s.registry.Get(workflowID)
	if !exists {
		http.Error(w, fmt.Sprintf("Workflow %q not found", workflowID), http.StatusNotFound)
		return
	}

	if !s.manager.CanStartExecution() {
		http.Error(w, "Server at capacity, try again later", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		Input map[string]interface{} `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	runID := utils.GenerateRunID()
	status := s.manager.StartExecution(runID, workflowID, req.Input)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"run_id":      runID,
		"workflow_id": workflowID,
		"status":      status.Status,
		"started_at":  status.StartTime,
	})

	go s.executeAsync(workflow, runID, req.Input)
}

// executeAsync runs the workflow off the request goroutine. The request
// context dies when the response is written, so the run gets its own,
// bounded by the configured execution timeout.
func (s *Server) executeAsync(workflow *ast.Workflow, runID string, input map[string]interface{}) {
	ctx := context.Background()
	var cancel context.CancelFunc = func() {}
	if s.config.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
	}
	defer cancel()

	rc := execcontext.RunContext{
		Context: ctx,
		StdOut:  io.Discard,
		StdErr:  io.Discard,
		RunID:   runID,
	}

	runner := engine.NewRunner(s.config.Sessions, newProgressForwarder(s.manager))
	result, err := runner.Run(rc, workflow, input)

	s.manager.FinishExecution(runID, result, err)

	log.Info().
		Str("run_id", runID).
		Str("workflow_id", workflow.ID).
		Err(err).
		Msg("Workflow run settled")
}

// getRun reports the current state of one run.
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	runID := vars["runID"]

	snapshot, exists := s.manager.Snapshot(runID)
	if !exists {
		http.Error(w, fmt.Sprintf("Run %q not found", runID), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snapshot)
}

// streamRunEvents streams a run's execution events over a WebSocket. Events
// recorded before the client connected are replayed first; the terminal
// workflow event arrives through the same stream and the server closes the
// connection once the run settles.
func (s *Server) streamRunEvents(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	runID := vars["runID"]

	if _, exists := s.manager.Snapshot(runID); !exists {
		http.Error(w, fmt.Sprintf("Run %q not found", runID), http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	status, ok := s.manager.ReplayAndSubscribe(runID, conn)
	if !ok {
		return
	}
	defer s.manager.Unsubscribe(runID, conn)

	// A settled run emits nothing further; the replay already carried its
	// terminal event.
	if status != "running" {
		return
	}

	// Block until the run settles, which closes the connection, or the
	// client hangs up.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// healthCheck reports liveness plus load counters.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":            "healthy",
		"workflows_loaded":  s.registry.Count(),
		"active_executions": s.manager.Active(),
		"timestamp":         time.Now(),
	})
}

// progressForwarder bridges engine events into the execution manager, which
// records them and fans them out to WebSocket subscribers.
type progressForwarder struct {
	manager *ExecutionManager

	stop chan struct{}
	wg   sync.WaitGroup
}

func newProgressForwarder(manager *ExecutionManager) *progressForwarder {
	return &progressForwarder{manager: manager}
}

// StartListening consumes events until StopListening is called. Events still
// buffered at stop time are forwarded before the listener exits, so the
// manager holds the complete log when the run settles.
func (f *progressForwarder) StartListening(progressChan <-chan pkgEvents.ExecutionEvent) {
	f.stop = make(chan struct{})
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for {
			select {
			case event, ok := <-progressChan:
				if !ok {
					return
				}
				f.manager.AddProgressEvent(event.RunID, event)
			case <-f.stop:
				for {
					select {
					case event, ok := <-progressChan:
						if !ok {
							return
						}
						f.manager.AddProgressEvent(event.RunID, event)
					default:
						return
					}
				}
			}
		}
	}()
}

// StopListening drains the channel and stops the forwarder.
func (f *progressForwarder) StopListening() {
	if f.stop == nil {
		return
	}
	close(f.stop)
	f.wg.Wait()
	f.stop = nil
}
