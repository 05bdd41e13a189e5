package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init [project-name]",
	Short: "Initialize a new weft project",
	Long: `Initialize a new weft project with a workflow, an agent definition and
configuration.

This command creates:
- Project directory structure (.weft/workflows, .weft/agents)
- Example workflow definition
- Example agent definition
- Configuration file (.weft/config.json)
- README with getting started instructions

Templates available:
- basic: Two-step agent workflow
- review: Condition, approval and retry handling
- pipeline: Parallel fan-out with a transform summary

Examples:
  weft init my-project                   # Create project with basic template
  weft init --template review my-bot     # Create with review template
  weft init --no-git my-project          # Skip git scaffolding`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		projectName := "weft-project"
		if len(args) > 0 {
			projectName = args[0]
		}
		initializeProject(projectName)
	},
}

var (
	templateName string
	noGit        bool
	force        bool
)

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().StringVarP(&templateName, "template", "t", "basic", "project template (basic, review, pipeline)")
	initCmd.Flags().BoolVar(&noGit, "no-git", false, "skip git scaffolding")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite existing project directory")
}

// ProjectTemplate represents a project template
type ProjectTemplate struct {
	Name        string
	Description string
	// Files maps project-relative paths to contents.
	Files map[string]string
}

var templates = map[string]ProjectTemplate{
	"basic": {
		Name:        "Basic",
		Description: "Two-step agent workflow",
		Files: map[string]string{
			".weft/workflows/hello.weft.json": basicWorkflow,
			".weft/agents/assistant.md":       assistantAgent,
			"README.md":                       basicReadme,
		},
	},
	"review": {
		Name:        "Review",
		Description: "Condition, approval and retry handling",
		Files: map[string]string{
			".weft/workflows/review.weft.json": reviewWorkflow,
			".weft/agents/reviewer.md":         reviewerAgent,
			"README.md":                        reviewReadme,
		},
	},
	"pipeline": {
		Name:        "Pipeline",
		Description: "Parallel fan-out with a transform summary",
		Files: map[string]string{
			".weft/workflows/pipeline.weft.json": pipelineWorkflow,
			".weft/agents/assistant.md":          assistantAgent,
			"README.md":                          pipelineReadme,
		},
	},
}

func initializeProject(projectName string) {
	// Validate project name
	if !isValidProjectName(projectName) {
		Error("Project name must contain only letters, numbers, hyphens, and underscores")
		os.Exit(1)
	}

	// Check if template exists
	template, exists := templates[templateName]
	if !exists {
		Error(fmt.Sprintf("Unknown template: %s", templateName))
		fmt.Println("Available templates:")
		for name, tmpl := range templates {
			fmt.Printf("  %s: %s\n", name, tmpl.Description)
		}
		os.Exit(1)
	}

	// Check if directory exists
	if _, err := os.Stat(projectName); err == nil && !force {
		Error(fmt.Sprintf("Directory %s already exists, use --force to overwrite", projectName))
		os.Exit(1)
	}

	Info(fmt.Sprintf("Creating new weft project: %s", projectName))
	Info(fmt.Sprintf("Using template: %s", template.Name))

	// Create project directories
	for _, dir := range []string{
		projectName,
		filepath.Join(projectName, ".weft", "workflows"),
		filepath.Join(projectName, ".weft", "agents"),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			Error(fmt.Sprintf("Failed to create %s: %v", dir, err))
			os.Exit(1)
		}
	}

	// Create config file
	configPath := filepath.Join(projectName, ".weft", "config.json")
	if err := os.WriteFile(configPath, []byte(defaultConfigJSON), 0644); err != nil {
		Error(fmt.Sprintf("Failed to create config file: %v", err))
		os.Exit(1)
	}

	// Create template files
	for filename, content := range template.Files {
		filePath := filepath.Join(projectName, filename)
		content = strings.ReplaceAll(content, "{{PROJECT_NAME}}", projectName)

		if err := os.WriteFile(filePath, []byte(content), 0644); err != nil {
			Error(fmt.Sprintf("Failed to create %s: %v", filename, err))
			os.Exit(1)
		}
	}

	// Git scaffolding
	if !noGit {
		if err := writeGitScaffolding(projectName); err != nil {
			Warning(fmt.Sprintf("Failed to write git scaffolding: %v", err))
		}
	}

	workflowName := strings.TrimSuffix(filepath.Base(firstWorkflowFile(template)), ".weft.json")

	Success(fmt.Sprintf("Project %s created successfully!", projectName))
	fmt.Println()
	fmt.Printf("Next steps:\n")
	fmt.Printf("  cd %s\n", projectName)
	fmt.Printf("  weft validate .weft/workflows/%s.weft.json\n", workflowName)
	fmt.Printf("  weft workflow %s\n", workflowName)
	fmt.Println()
	fmt.Printf("Learn more at https://weft.ai/docs\n")
}

func firstWorkflowFile(template ProjectTemplate) string {
	for path := range template.Files {
		if strings.HasSuffix(path, ".weft.json") {
			return path
		}
	}
	return "workflow.weft.json"
}

func isValidProjectName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}

	for _, r := range name {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_') {
			return false
		}
	}

	return true
}

func writeGitScaffolding(projectDir string) error {
	gitignorePath := filepath.Join(projectDir, ".gitignore")
	gitignoreContent := `# weft
.weft/runs/
*.log

# Environment
.env
.env.local

# IDE
.vscode/
.idea/
*.swp

# OS
.DS_Store
`

	return os.WriteFile(gitignorePath, []byte(gitignoreContent), 0644)
}

// Template content
const defaultConfigJSON = `{
  "enabled": true,
  "agents_dir": ".weft/agents",
  "session_url": "http://127.0.0.1:4096",
  "show_version_popup": true
}
`

const assistantAgent = `---
description: General-purpose assistant for drafting and editing text.
model: sonnet
---
You are a helpful assistant. Keep replies short and concrete, and answer with
JSON when the task asks for structured output.
`

const reviewerAgent = `---
description: Reviews changes and scores them for risk.
model: sonnet
---
You are a careful reviewer. Given a change description, reply with JSON of the
shape {"score": <0-10>, "summary": "<one line>", "concerns": ["..."]}. Higher
scores mean safer changes.
`

const basicWorkflow = `{
  "id": "hello",
  "description": "Draft a note, then polish the draft.",
  "steps": [
    {
      "id": "draft",
      "type": "agent",
      "agent": "assistant",
      "next": "polish",
      "on_error": "report"
    },
    {
      "id": "polish",
      "type": "agent",
      "agent": "assistant",
      "input": "draft",
      "on_error": "report"
    },
    {
      "id": "report",
      "type": "transform",
      "transform": "{status: \"failed\", note: \"an agent step did not complete\"}"
    }
  ]
}
`

const basicReadme = `# {{PROJECT_NAME}}

A basic weft workflow project.

## Getting Started

1. **Validate the workflow:**
` + "```bash" + `
   weft validate .weft/workflows/hello.weft.json
` + "```" + `

2. **Run the workflow:**
` + "```bash" + `
   weft workflow hello topic="release notes"
` + "```" + `

3. **Customize:**
   - Edit ` + "`.weft/workflows/hello.weft.json`" + ` to change the steps
   - Add agents under ` + "`.weft/agents/`" + `
   - Adjust defaults in ` + "`.weft/config.json`" + `

## Learn More

- [weft Documentation](https://weft.ai/docs)
`

const reviewWorkflow = `{
  "id": "review",
  "description": "Score a change, gate risky ones behind an approval.",
  "max_iterations": 25,
  "steps": [
    {
      "id": "analyze",
      "type": "agent",
      "agent": "reviewer",
      "max_retries": 2,
      "timeout_ms": 120000,
      "next": "verdict",
      "on_error": "escalate"
    },
    {
      "id": "verdict",
      "type": "condition",
      "condition": "analyze.score >= 7",
      "then": "summarize",
      "else": "gate"
    },
    {
      "id": "gate",
      "type": "approval",
      "message": "The change scored below 7. Proceed anyway?",
      "on_approve": "summarize"
    },
    {
      "id": "summarize",
      "type": "transform",
      "transform": "{verdict: analyze.score >= 7 ? \"pass\" : \"manual\", score: analyze.score, summary: analyze.summary}"
    },
    {
      "id": "escalate",
      "type": "transform",
      "transform": "{verdict: \"error\", note: \"the review agent failed, escalate manually\"}"
    }
  ]
}
`

const reviewReadme = `# {{PROJECT_NAME}}

A review workflow: an agent scores the change, a condition routes on the
score, and low scores pause for human approval.

## Usage

` + "```bash" + `
weft workflow review change="swap the cache eviction policy"
` + "```" + `

Rejecting the approval ends the workflow; approving continues to the summary
step. Use ` + "`--output json`" + ` for machine-readable results.
`

const pipelineWorkflow = `{
  "id": "pipeline",
  "description": "Fan out three perspectives, then merge them.",
  "steps": [
    {
      "id": "perspectives",
      "type": "parallel",
      "min_success": 2,
      "next": "merge",
      "steps": [
        { "id": "optimist", "type": "agent", "agent": "assistant" },
        { "id": "skeptic", "type": "agent", "agent": "assistant" },
        { "id": "pragmatist", "type": "agent", "agent": "assistant" }
      ]
    },
    {
      "id": "merge",
      "type": "transform",
      "transform": "{views: perspectives, input: input}"
    }
  ]
}
`

const pipelineReadme = `# {{PROJECT_NAME}}

A fan-out workflow: three agents answer in parallel, two must succeed, and a
transform merges whatever came back.

## Usage

` + "```bash" + `
weft workflow pipeline question="should we rewrite the importer?"
` + "```" + `
`
