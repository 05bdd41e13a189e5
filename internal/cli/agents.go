package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/weftai/weft/internal/agent"
	"github.com/weftai/weft/internal/config"
)

// agentsCmd lists the agents the resolver can see.
var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List available agents",
	Long: `List the agents workflow steps can reference, with the model and
description from their definitions.

Agents are loaded from the configured agents directory (default .weft/agents),
then from ~/.weft/agents. Config defaults and overrides are applied.`,
	Run: func(cmd *cobra.Command, args []string) {
		listAgents()
	},
}

func init() {
	rootCmd.AddCommand(agentsCmd)
}

func listAgents() {
	cfg, err := config.Load()
	if err != nil {
		Error(fmt.Sprintf("Failed to load config: %v", err))
		os.Exit(1)
	}

	resolver := buildResolver(cfg)
	names := resolver.List()

	if len(names) == 0 {
		Warning(fmt.Sprintf("No agents found in %s or ~/.weft/agents", cfg.AgentsDir))
		return
	}

	agents := make([]*agent.Agent, 0, len(names))
	for _, name := range names {
		a, err := resolver.Resolve(name)
		if err != nil {
			// Listed but unloadable, e.g. malformed frontmatter.
			agents = append(agents, &agent.Agent{Name: name, Description: "(unreadable: " + err.Error() + ")"})
			continue
		}
		agents = append(agents, a)
	}

	switch viper.GetString("output") {
	case "json":
		printJSON(agents)
	case "yaml":
		printYAML(agents)
	default:
		headers := []string{"Name", "Model", "Description"}
		rows := make([][]string, len(agents))
		for i, a := range agents {
			model := a.Model
			if model == "" {
				model = "-"
			}
			rows[i] = []string{a.Name, model, truncate(a.Description, 60)}
		}
		printTable(headers, rows)
	}
}

func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
