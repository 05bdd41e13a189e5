package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// workflowCmd runs a workflow by name from the conventional directories.
var workflowCmd = &cobra.Command{
	Use:   "workflow <name> [key=value...]",
	Short: "Run a named workflow",
	Long: `Run a workflow by name. The name resolves to .weft/workflows/<name> in the
working directory first, then ~/.weft/workflows/<name>.

Remaining arguments become the workflow input: key=value pairs are split into
named inputs, bare arguments are collected under "args".

Examples:
  weft workflow review                        # Run .weft/workflows/review.weft.json
  weft workflow review pr=42 urgency=high     # Run with named inputs
  weft workflow triage "fix the login bug"    # Bare args land under "args"`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]
		file, err := resolveWorkflowName(name)
		if err != nil {
			Error(err.Error())
			os.Exit(1)
		}

		input := parseWorkflowArgs(args[1:])
		os.Exit(executeWorkflow(file, input, execOptions{timeout: workflowTimeout}))
	},
}

var workflowTimeout time.Duration

func init() {
	rootCmd.AddCommand(workflowCmd)

	workflowCmd.Flags().DurationVar(&workflowTimeout, "timeout", 30*time.Minute, "overall execution timeout")
}

// workflowExtensions are tried in order when resolving a workflow name.
var workflowExtensions = []string{".weft.json", ".weft.yaml", ".json", ".yaml", ".yml"}

// resolveWorkflowName maps a bare name to a definition file: project-level
// .weft/workflows first, then the user-level directory.
func resolveWorkflowName(name string) (string, error) {
	dirs := []string{filepath.Join(".weft", "workflows")}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".weft", "workflows"))
	}

	var tried []string
	for _, dir := range dirs {
		for _, ext := range workflowExtensions {
			path := filepath.Join(dir, name+ext)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path, nil
			}
			tried = append(tried, path)
		}
	}

	return "", fmt.Errorf("workflow %q not found, tried:\n  %s", name, strings.Join(tried, "\n  "))
}

// parseWorkflowArgs splits trailing arguments into the workflow input object.
// key=value pairs become named inputs with JSON-typed values; everything else
// is collected in order under "args".
func parseWorkflowArgs(args []string) map[string]interface{} {
	input := make(map[string]interface{})
	var bare []interface{}

	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if ok && key != "" {
			input[key] = parseInputValue(value)
			continue
		}
		bare = append(bare, arg)
	}

	if len(bare) > 0 {
		input["args"] = bare
	}
	return input
}
