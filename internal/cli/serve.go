package cli

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/weftai/weft/internal/config"
	"github.com/weftai/weft/internal/execcontext"
	"github.com/weftai/weft/internal/parser"
	"github.com/weftai/weft/internal/server"
	"github.com/weftai/weft/internal/session"
	"github.com/weftai/weft/internal/style"
)

var (
	servePort        int
	serveHost        string
	serveConcurrency int
	serveTimeout     time.Duration
	serveWorkflows   []string
	serveWorkflowDir string
	serveMetrics     bool
	serveCORS        bool
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve [workflow files...]",
	Short: "Serve workflows over an HTTP API",
	Long: `Serve the named workflows over a REST API.

Definitions are parsed once at startup. Executions triggered through the API
run on the same engine as 'weft run', with live progress streamed over
WebSocket and Prometheus metrics exposed on /metrics.

Examples:
  weft serve review.weft.json                    # Serve single workflow
  weft serve review.weft.json triage.weft.json   # Serve multiple workflows
  weft serve --workflow-dir .weft/workflows      # Serve all workflows in directory
  weft serve --port 8080 --host 0.0.0.0          # Custom host and port
  weft serve --concurrency 10 review.weft.json   # Allow 10 concurrent executions`,
	Run: func(cmd *cobra.Command, args []string) {
		runCtx := execcontext.RunContext{
			Context: cmd.Context(),
			StdOut:  cmd.OutOrStdout(),
			StdErr:  cmd.OutOrStderr(),
		}

		files := append(args, serveWorkflows...)
		if serveWorkflowDir != "" {
			dirFiles, err := findWorkflowFiles(serveWorkflowDir)
			if err != nil {
				style.Error(runCtx, fmt.Sprintf("Failed to scan workflow directory: %v", err))
				os.Exit(1)
			}
			files = append(files, dirFiles...)
		}

		if len(files) == 0 {
			style.Error(runCtx, "No workflow files given. Pass them as arguments or use --workflow-dir")
			os.Exit(1)
		}

		startServer(runCtx, files)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "port to listen on")
	serveCmd.Flags().StringVar(&serveHost, "host", "localhost", "interface to bind")
	serveCmd.Flags().IntVar(&serveConcurrency, "concurrency", 5, "maximum concurrent runs")
	serveCmd.Flags().DurationVar(&serveTimeout, "timeout", 30*time.Minute, "per-run execution timeout")
	serveCmd.Flags().StringSliceVarP(&serveWorkflows, "workflow", "w", []string{}, "workflow file to serve (repeatable)")
	serveCmd.Flags().StringVar(&serveWorkflowDir, "workflow-dir", "", "directory to scan for workflow files")
	serveCmd.Flags().BoolVar(&serveMetrics, "metrics", true, "expose prometheus metrics on /metrics")
	serveCmd.Flags().BoolVar(&serveCORS, "cors", true, "send CORS headers")
}

func startServer(runCtx execcontext.RunContext, workflowFiles []string) {
	orchestratorCfg, err := config.Load()
	if err != nil {
		style.Error(runCtx, fmt.Sprintf("Failed to load config: %v", err))
		os.Exit(1)
	}
	if !orchestratorCfg.Enabled {
		style.Error(runCtx, "Workflow execution is disabled by config")
		os.Exit(1)
	}

	sessions := session.NewClient(session.DefaultConfig(orchestratorCfg.SessionURL), buildResolver(orchestratorCfg))

	cfg := &server.Config{
		Host:          serveHost,
		Port:          servePort,
		Concurrency:   serveConcurrency,
		Timeout:       serveTimeout,
		EnableMetrics: serveMetrics,
		EnableCORS:    serveCORS,
		WorkflowFiles: workflowFiles,
		Sessions:      sessions,
	}

	srv, err := server.New(cfg)
	if err != nil {
		style.Error(runCtx, fmt.Sprintf("Server setup failed: %v", err))
		os.Exit(1)
	}

	if err := srv.LoadWorkflows(); err != nil {
		style.Error(runCtx, fmt.Sprintf("Workflow loading failed: %v", err))
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		style.Error(runCtx, fmt.Sprintf("Server failed to start: %v", err))
		os.Exit(1)
	}

	// The banner prints after the bind so it carries the real address even
	// when the configured port is 0.
	if !viper.GetBool("quiet") {
		style.Success(runCtx, fmt.Sprintf("Weft server listening at http://%s", srv.Addr()))
		fmt.Fprintf(runCtx, "%s Loaded workflows: %d\n", style.InfoIcon(), srv.WorkflowCount())
		fmt.Fprintf(runCtx, "%s API: http://%s/api/v1/workflows\n", style.InfoIcon(), srv.Addr())
		if serveMetrics {
			fmt.Fprintf(runCtx, "%s Metrics: http://%s/metrics\n", style.InfoIcon(), srv.Addr())
		}
	}

	if err := srv.WaitForShutdown(); err != nil {
		style.Error(runCtx, fmt.Sprintf("Server exited with error: %v", err))
		os.Exit(1)
	}
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
