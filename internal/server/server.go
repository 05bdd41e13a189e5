// Package server exposes loaded workflows over HTTP: a REST surface to start
// and inspect runs, a WebSocket stream of execution events, and prometheus
// metrics. Runs live in process memory only; restarting the server forgets
// them.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/weftai/weft/internal/ast"
	"github.com/weftai/weft/internal/engine"
	"github.com/weftai/weft/internal/parser"
	pkgEvents "github.com/weftai/weft/pkg/events"
)

const wsWriteTimeout = 10 * time.Second

// Config holds the server configuration.
type Config struct {
	Host          string
	Port          int
	Concurrency   int
	Timeout       time.Duration
	EnableMetrics bool
	EnableCORS    bool
	WorkflowFiles []string
	WorkflowDir   string

	// Sessions is the agent surface runs execute against. Required.
	Sessions engine.AgentRunner

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            8080,
		Concurrency:     5,
		Timeout:         30 * time.Minute,
		EnableMetrics:   true,
		EnableCORS:      true,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// RunStatus is the serializable state of one run as the API reports it.
type RunStatus struct {
	RunID      string                     `json:"run_id"`
	WorkflowID string                     `json:"workflow_id"`
	Status     string                     `json:"status"`
	StartTime  time.Time                  `json:"start_time"`
	EndTime    *time.Time                 `json:"end_time,omitempty"`
	Duration   ast.Millis                 `json:"duration_ms"`
	Input      map[string]interface{}     `json:"input,omitempty"`
	Output     interface{}                `json:"output,omitempty"`
	Error      string                     `json:"error,omitempty"`
	Stats      *execStats                 `json:"stats,omitempty"`
	Progress   []pkgEvents.ExecutionEvent `json:"progress,omitempty"`
}

type execStats struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// ExecutionManager tracks in-flight and finished runs, enforces the
// concurrency cap, and fans execution events out to WebSocket subscribers.
//
// One mutex guards the run records, the subscriber map and the connection
// writes. Serializing writes under it keeps a live broadcast from
// interleaving with a replay on the same connection.
type ExecutionManager struct {
	mu             sync.RWMutex
	runs           map[string]*RunStatus
	clients        map[string]map[*websocket.Conn]bool
	currentCount   int
	maxConcurrency int

	totalExecutions   prometheus.Counter
	activeExecutions  prometheus.Gauge
	executionDuration *prometheus.HistogramVec
	executionStatus   *prometheus.CounterVec
}

// NewExecutionManager creates a manager registered with the default
// prometheus registerer.
func NewExecutionManager(maxConcurrency int) *ExecutionManager {
	return NewExecutionManagerWithRegistry(maxConcurrency, prometheus.DefaultRegisterer)
}

// NewExecutionManagerWithRegistry creates a manager with a custom registerer.
// A nil registerer keeps the metrics unregistered, which tests use to avoid
// duplicate registration panics.
func NewExecutionManagerWithRegistry(maxConcurrency int, registerer prometheus.Registerer) *ExecutionManager {
	em := &ExecutionManager{
		runs:           make(map[string]*RunStatus),
		clients:        make(map[string]map[*websocket.Conn]bool),
		maxConcurrency: maxConcurrency,

		totalExecutions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weft_executions_total",
			Help: "Workflow runs started since the server came up",
		}),
		activeExecutions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "weft_executions_active",
			Help: "Workflow runs currently in flight",
		}),
		executionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "weft_execution_duration_seconds",
			Help: "Run duration in seconds by workflow and terminal status",
		}, []string{"workflow_id", "status"}),
		executionStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weft_execution_status_total",
			Help: "Settled runs by workflow and terminal status",
		}, []string{"workflow_id", "status"}),
	}

	if registerer != nil {
		registerer.MustRegister(em.totalExecutions)
		registerer.MustRegister(em.activeExecutions)
		registerer.MustRegister(em.executionDuration)
		registerer.MustRegister(em.executionStatus)
	}

	return em
}

// CanStartExecution reports whether the concurrency cap leaves room for
// another run.
func (em *ExecutionManager) CanStartExecution() bool {
	em.mu.RLock()
	defer em.mu.RUnlock()
	return em.currentCount < em.maxConcurrency
}

// StartExecution records a new running execution.
func (em *ExecutionManager) StartExecution(runID, workflowID string, input map[string]interface{}) *RunStatus {
	em.mu.Lock()
	defer em.mu.Unlock()

	status := &RunStatus{
		RunID:      runID,
		WorkflowID: workflowID,
		Status:     "running",
		StartTime:  time.Now(),
		Input:      input,
	}

	em.runs[runID] = status
	em.currentCount++

	em.totalExecutions.Inc()
	em.activeExecutions.Inc()

	return status
}

// FinishExecution settles a run and closes its subscribers. The terminal
// status follows the CLI rule: a run fails on an engine error, on an
// unsettled loop, and on an unrescued final step failure. The final step's
// data becomes the run output.
func (em *ExecutionManager) FinishExecution(runID string, result *engine.WorkflowResult, err error) {
	em.mu.Lock()
	defer em.mu.Unlock()

	status, exists := em.runs[runID]
	if !exists {
		return
	}

	now := time.Now()
	status.EndTime = &now
	status.Duration = ast.Millis{Duration: now.Sub(status.StartTime)}
	status.Status = "completed"

	if result != nil {
		status.Duration = result.Duration
		status.Stats = &execStats{
			Total:      result.Stats.Total,
			Successful: result.Stats.Successful,
			Failed:     result.Stats.Failed,
		}
		if result.Context != nil {
			for _, step := range result.Context.Results {
				if step.StepID != result.FinalStepID {
					continue
				}
				if step.Success {
					status.Output = step.Data
				} else if step.Error != nil {
					status.Error = step.Error.Message
				}
			}
		}
		if !result.Success || (result.FinalStepID != "" && !result.FinalStepSuccess) {
			status.Status = "failed"
			if result.Error != "" {
				status.Error = result.Error
			}
		}
	}
	if err != nil {
		status.Status = "failed"
		if status.Error == "" {
			status.Error = err.Error()
		}
	}

	em.currentCount--
	em.activeExecutions.Dec()
	em.executionDuration.WithLabelValues(status.WorkflowID, status.Status).Observe(status.Duration.Seconds())
	em.executionStatus.WithLabelValues(status.WorkflowID, status.Status).Inc()

	// Subscribers got the terminal workflow event through AddProgressEvent;
	// closing unblocks their read loops.
	for conn := range em.clients[runID] {
		_ = conn.Close()
	}
	delete(em.clients, runID)
}

// Snapshot returns a copy of the run state safe to serialize while the run
// keeps mutating.
func (em *ExecutionManager) Snapshot(runID string) (RunStatus, bool) {
	em.mu.RLock()
	defer em.mu.RUnlock()

	status, exists := em.runs[runID]
	if !exists {
		return RunStatus{}, false
	}

	snapshot := *status
	snapshot.Progress = make([]pkgEvents.ExecutionEvent, len(status.Progress))
	copy(snapshot.Progress, status.Progress)
	return snapshot, true
}

// AddProgressEvent appends an event to the run's progress log and broadcasts
// it to subscribed clients.
func (em *ExecutionManager) AddProgressEvent(runID string, event pkgEvents.ExecutionEvent) {
	em.mu.Lock()
	defer em.mu.Unlock()

	status, exists := em.runs[runID]
	if !exists {
		return
	}
	status.Progress = append(status.Progress, event)

	clients := em.clients[runID]
	if len(clients) == 0 {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	for conn := range clients {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		_ = conn.WriteMessage(websocket.TextMessage, payload)
	}
}

// ReplayAndSubscribe sends every event recorded so far on conn and registers
// it for live events, all under the manager lock so a concurrent broadcast
// can neither interleave with the replay nor slip between replay and
// registration. It returns the run's status at subscription time.
func (em *ExecutionManager) ReplayAndSubscribe(runID string, conn *websocket.Conn) (string, bool) {
	em.mu.Lock()
	defer em.mu.Unlock()

	status, exists := em.runs[runID]
	if !exists {
		return "", false
	}

	for _, event := range status.Progress {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			break
		}
	}

	if em.clients[runID] == nil {
		em.clients[runID] = make(map[*websocket.Conn]bool)
	}
	em.clients[runID][conn] = true
	return status.Status, true
}

// Unsubscribe removes a WebSocket connection.
func (em *ExecutionManager) Unsubscribe(runID string, conn *websocket.Conn) {
	em.mu.Lock()
	defer em.mu.Unlock()
	delete(em.clients[runID], conn)
	if len(em.clients[runID]) == 0 {
		delete(em.clients, runID)
	}
}

// Active returns the number of in-flight runs.
func (em *ExecutionManager) Active() int {
	em.mu.RLock()
	defer em.mu.RUnlock()
	return em.currentCount
}

// Server serves loaded workflows over HTTP.
type Server struct {
	config   *Config
	registry *WorkflowRegistry
	manager  *ExecutionManager
	server   *http.Server
	upgrader websocket.Upgrader
	addr     string
}

// New creates a server for the given configuration. Zero timeout and
// concurrency fields fall back to the defaults, so a caller only has to fill
// in what it cares about.
func New(config *Config) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Sessions == nil {
		return nil, fmt.Errorf("server config needs a session runner")
	}

	cfg := *config
	defs := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defs.Concurrency
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defs.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defs.WriteTimeout
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = defs.IdleTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defs.ShutdownTimeout
	}

	return &Server{
		config:   &cfg,
		registry: NewWorkflowRegistry(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return cfg.EnableCORS
			},
		},
	}, nil
}

// initializeManager creates the execution manager unless a test injected one.
func (s *Server) initializeManager() {
	if s.manager == nil {
		s.manager = NewExecutionManager(s.config.Concurrency)
	}
}

// LoadWorkflows parses and validates every configured workflow file and
// registers each under its workflow id.
func (s *Server) LoadWorkflows() error {
	files := s.config.WorkflowFiles
	if s.config.WorkflowDir != "" {
		dirFiles, err := findWorkflowFiles(s.config.WorkflowDir)
		if err != nil {
			return fmt.Errorf("failed to scan workflow directory: %w", err)
		}
		files = append(files, dirFiles...)
	}
	if len(files) == 0 {
		return fmt.Errorf("no workflow files specified")
	}

	p := parser.New()
	for _, file := range files {
		workflow, err := p.ParseFile(file)
		if err != nil {
			return fmt.Errorf("failed to parse workflow %s: %w", file, err)
		}
		if existing, dup := s.registry.Get(workflow.ID); dup {
			return fmt.Errorf("duplicate workflow id %q: %s and %s", workflow.ID, existing.SourceFile, file)
		}
		s.registry.Register(workflow.ID, workflow)

		log.Info().
			Str("workflow_id", workflow.ID).
			Str("file", file).
			Int("steps", len(workflow.Steps)).
			Msg("Registered workflow")
	}
	return nil
}

// Start binds the listener and serves in the background. A taken port fails
// here, synchronously.
func (s *Server) Start() error {
	s.initializeManager()

	router := mux.NewRouter()

	if s.config.EnableCORS {
		router.Use(s.corsMiddleware)
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.loggingMiddleware)

	api.HandleFunc("/workflows", s.listWorkflows).Methods(http.MethodGet)
	api.HandleFunc("/workflows/{id}/run", s.runWorkflow).Methods(http.MethodPost)
	api.HandleFunc("/runs/{runID}", s.getRun).Methods(http.MethodGet)
	api.HandleFunc("/runs/{runID}/events", s.streamRunEvents).Methods(http.MethodGet)

	if s.config.EnableCORS {
		api.Methods(http.MethodOptions).HandlerFunc(s.handleOptions)
	}

	if s.config.EnableMetrics {
		router.Handle("/metrics", promhttp.Handler())
	}

	router.HandleFunc("/health", s.healthCheck)

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.config.Host, s.config.Port))
	if err != nil {
		return fmt.Errorf("binding listener: %w", err)
	}
	s.addr = ln.Addr().String()

	s.server = &http.Server{
		Handler:      router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	log.Info().
		Str("addr", s.addr).
		Int("workflows", s.registry.Count()).
		Int("concurrency", s.config.Concurrency).
		Bool("metrics", s.config.EnableMetrics).
		Msg("Weft server listening")

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	return nil
}

// Stop shuts the HTTP server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// WaitForShutdown blocks until SIGINT or SIGTERM, then drains in-flight
// requests for up to ShutdownTimeout.
func (s *Server) WaitForShutdown() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Shutdown requested")

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		return fmt.Errorf("draining server: %w", err)
	}

	log.Info().Msg("Server stopped")
	return nil
}

// Addr returns the address the server listens on: the configured address
// before Start, the bound one after. They differ when the configured port
// is 0.
func (s *Server) Addr() string {
	if s.addr != "" {
		return s.addr
	}
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// WorkflowCount returns the number of loaded workflows.
func (s *Server) WorkflowCount() int {
	return s.registry.Count()
}

// findWorkflowFiles collects workflow definition files under dir.
func findWorkflowFiles(dir string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && parser.IsWorkflowFile(path) {
			files = append(files, path)
		}
		return nil
	})

	return files, err
}

// handleOptions answers CORS preflight requests; the headers are set by the
// middleware.
func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
