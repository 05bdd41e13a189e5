package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/weftai/weft/internal/ast"
	"github.com/weftai/weft/internal/parser"
	"github.com/weftai/weft/internal/style"
)

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:   "validate [files...]",
	Short: "Validate workflow definitions",
	Long: `Validate workflow files for syntax errors and semantic correctness.

This command checks:
- JSON/YAML syntax validity
- Required fields and step kinds
- Step id uniqueness and reference resolution
- Input back-reference ordering and cycles
- Reachability and error handler coverage

Examples:
  weft validate review.weft.json             # Validate single file
  weft validate *.weft.json                  # Validate multiple files
  weft validate --recursive ./workflows      # Validate directory recursively
  weft validate --strict review.weft.json    # Treat warnings as failures
  weft validate --output json review.weft.json  # JSON output for CI/CD`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		validateWorkflows(args)
	},
}

var (
	recursive bool
	showAll   bool
	strict    bool
)

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "recursively validate files in directories")
	validateCmd.Flags().BoolVar(&showAll, "show-all", false, "show all validation results, including successful ones")
	validateCmd.Flags().BoolVar(&strict, "strict", false, "treat warnings as validation failures")
}

// ValidationFinding is one error or warning from validating a file.
type ValidationFinding struct {
	Severity string `json:"severity" yaml:"severity"`
	Kind     string `json:"kind,omitempty" yaml:"kind,omitempty"`
	Path     string `json:"path,omitempty" yaml:"path,omitempty"`
	Message  string `json:"message" yaml:"message"`
}

// FileValidation is the validation outcome for one workflow file.
type FileValidation struct {
	File     string              `json:"file" yaml:"file"`
	Valid    bool                `json:"valid" yaml:"valid"`
	Duration time.Duration       `json:"duration_ms" yaml:"duration_ms"`
	Errors   []ValidationFinding `json:"errors,omitempty" yaml:"errors,omitempty"`
	Warnings []ValidationFinding `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// NewFileValidation returns a passing result for file.
func NewFileValidation(file string) *FileValidation {
	return &FileValidation{File: file, Valid: true}
}

// CollectError folds a load failure into the result. MultiError findings are
// flattened so each parse error shows up on its own line.
func (fv *FileValidation) CollectError(err error) {
	fv.Valid = false

	var multi *parser.MultiError
	if errors.As(err, &multi) {
		for _, item := range multi.Errors {
			fv.collectSingle(item)
		}
		return
	}
	fv.collectSingle(err)
}

func (fv *FileValidation) collectSingle(err error) {
	var parseErr *parser.ParseError
	if errors.As(err, &parseErr) {
		fv.Errors = append(fv.Errors, ValidationFinding{
			Severity: "error",
			Kind:     parseErr.Kind,
			Path:     parseErr.Position.String(),
			Message:  parseErr.Message,
		})
		return
	}
	fv.Errors = append(fv.Errors, ValidationFinding{Severity: "error", Message: err.Error()})
}

// CollectResult folds semantic findings into the result.
func (fv *FileValidation) CollectResult(result *ast.ValidationResult) {
	for _, ve := range result.Errors {
		fv.Valid = false
		fv.Errors = append(fv.Errors, ValidationFinding{
			Severity: "error",
			Kind:     string(ve.Kind),
			Path:     ve.Path,
			Message:  ve.Message,
		})
	}
	for _, vw := range result.Warnings {
		fv.Warnings = append(fv.Warnings, ValidationFinding{
			Severity: "warning",
			Kind:     string(vw.Kind),
			Path:     vw.Path,
			Message:  vw.Message,
		})
	}
}

// ValidationSummary aggregates results across all validated files.
type ValidationSummary struct {
	Total    int              `json:"total" yaml:"total"`
	Valid    int              `json:"valid" yaml:"valid"`
	Invalid  int              `json:"invalid" yaml:"invalid"`
	Warnings int              `json:"warnings" yaml:"warnings"`
	Duration time.Duration    `json:"total_duration_ms" yaml:"total_duration_ms"`
	Results  []FileValidation `json:"results" yaml:"results"`
}

func validateWorkflows(args []string) {
	start := time.Now()

	// Collect files to validate
	files, err := collectFiles(args, recursive)
	if err != nil {
		Error(fmt.Sprintf("Failed to collect files: %v", err))
		os.Exit(1)
	}

	if len(files) == 0 {
		Warning("No workflow files found to validate")
		return
	}

	p := parser.New()

	// Validate each file
	results := make([]FileValidation, 0, len(files))
	textOutput := !viper.GetBool("quiet") && viper.GetString("output") == "text"

	for _, file := range files {
		result := validateSingleFile(p, file)
		results = append(results, result)

		if textOutput {
			printFileValidation(result)
		}
	}

	// Create summary
	summary := ValidationSummary{
		Total:    len(results),
		Duration: time.Since(start),
		Results:  results,
	}

	for _, result := range results {
		summary.Warnings += len(result.Warnings)
		if result.Valid {
			summary.Valid++
		} else {
			summary.Invalid++
		}
	}

	// Output results
	switch viper.GetString("output") {
	case "json":
		printJSON(summary)
	case "yaml":
		printYAML(summary)
	default:
		printValidationSummary(summary)
	}

	// Exit with error code if any validations failed
	if summary.Invalid > 0 {
		os.Exit(1)
	}
	if strict && summary.Warnings > 0 {
		os.Exit(1)
	}
}

func validateSingleFile(p *parser.WorkflowParser, filename string) FileValidation {
	start := time.Now()
	result := NewFileValidation(filename)

	findings, err := p.ValidateFile(filename)
	result.Duration = time.Since(start)

	if err != nil {
		result.CollectError(err)
		return *result
	}
	result.CollectResult(findings)

	if strict && len(result.Warnings) > 0 {
		result.Valid = false
	}

	log.Debug().
		Str("file", filename).
		Bool("valid", result.Valid).
		Int("errors", len(result.Errors)).
		Int("warnings", len(result.Warnings)).
		Dur("duration", result.Duration).
		Msg("Validated workflow file")

	return *result
}

func collectFiles(args []string, recursive bool) ([]string, error) {
	var files []string

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}

		if info.IsDir() {
			if !recursive {
				return nil, fmt.Errorf("%s is a directory, use --recursive to validate directories", arg)
			}
			err := filepath.Walk(arg, func(path string, info os.FileInfo, err error) error {
				if err != nil {
					return err
				}
				if !info.IsDir() && parser.IsWorkflowFile(path) {
					files = append(files, path)
				}
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("error walking directory %s: %w", arg, err)
			}
		} else if parser.IsWorkflowFile(arg) {
			files = append(files, arg)
		} else {
			return nil, fmt.Errorf("%s is not a workflow file (expected %v)", arg, parser.SupportedExtensions())
		}
	}

	return files, nil
}

func printFileValidation(result FileValidation) {
	if result.Valid && len(result.Warnings) == 0 {
		if showAll {
			Success(fmt.Sprintf("%s (%v)", result.File, result.Duration))
		}
		return
	}

	if result.Valid {
		Warning(fmt.Sprintf("%s (%v)", result.File, result.Duration))
	} else {
		Error(fmt.Sprintf("%s (%v)", result.File, result.Duration))
	}

	for _, finding := range result.Errors {
		printFinding("error", finding)
	}
	for _, finding := range result.Warnings {
		printFinding("warning", finding)
	}
}

func printFinding(severity string, finding ValidationFinding) {
	location := finding.Path
	if location != "" {
		location = style.PositionStyle.Render(location) + " "
	}
	fmt.Printf("  %s %s%s\n", style.GetSeverityIcon(severity), location, finding.Message)
}

func printValidationSummary(summary ValidationSummary) {
	if viper.GetBool("quiet") {
		return
	}

	fmt.Printf("\n")
	if summary.Invalid == 0 {
		Success(fmt.Sprintf("All %d workflow(s) are valid (%v)", summary.Total, summary.Duration))
		if summary.Warnings > 0 {
			Warning(fmt.Sprintf("%d warning(s) found", summary.Warnings))
		}
	} else {
		Error(fmt.Sprintf("%d of %d workflow(s) failed validation (%v)", summary.Invalid, summary.Total, summary.Duration))
	}

	if viper.GetBool("verbose") {
		fmt.Printf("\nDetailed results:\n")
		headers := []string{"File", "Status", "Errors", "Warnings", "Duration"}
		rows := make([][]string, len(summary.Results))

		for i, result := range summary.Results {
			status := "valid"
			if !result.Valid {
				status = "invalid"
			}
			rows[i] = []string{
				result.File,
				status,
				fmt.Sprintf("%d", len(result.Errors)),
				fmt.Sprintf("%d", len(result.Warnings)),
				result.Duration.String(),
			}
		}

		printTable(headers, rows)
	}
}
