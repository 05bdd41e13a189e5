package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/weftai/weft/internal/style"
	"github.com/weftai/weft/pkg/schema"
)

// schemaCmd represents the schema command
var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Output JSON schema and expression definitions",
	Long: `Output the workflow definition JSON schema and the expression forms
accepted by transform and condition steps. Editor integrations consume this
to drive completion and inline validation.`,
	Hidden: true,
	Run: func(cmd *cobra.Command, args []string) {
		out, err := schema.GetSchema()
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error generating schema: %v\n", err)
			os.Exit(1)
		}

		style.PrintJSON(cmd.OutOrStdout(), out)
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}
