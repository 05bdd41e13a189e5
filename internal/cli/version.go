package cli

import (
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/weftai/weft/internal/style"
)

// Build-time variables, injected through ldflags by the release pipeline.
var (
	Version   = "dev"
	Commit    = "unknown"
	Date      = "unknown"
	GoVersion = runtime.Version()
)

// VersionInfo is the structured payload behind `weft version`.
type VersionInfo struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	Date      string `json:"date" yaml:"date"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Platform  string `json:"platform" yaml:"platform"`
}

func buildVersionInfo() VersionInfo {
	return VersionInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: GoVersion,
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  `Display the weft version. With --verbose the command also prints the commit, build date, Go version, and platform.`,
	Example: `
  weft version                # Just the version string
  weft version --verbose      # Full build details
  weft version --output json  # Structured output`,
	Run: func(cmd *cobra.Command, args []string) {
		showVersion(cmd)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func showVersion(cmd *cobra.Command) {
	info := buildVersionInfo()

	switch viper.GetString("output") {
	case "json":
		style.PrintJSON(cmd.OutOrStdout(), info)
	case "yaml":
		style.PrintYAML(cmd.OutOrStdout(), info)
	default:
		printVersionText(cmd.OutOrStdout(), info)
	}
}

func printVersionText(w io.Writer, info VersionInfo) {
	fmt.Fprintln(w, info.Version)
	if !viper.GetBool("verbose") {
		return
	}
	fmt.Fprintf(w, "  commit:   %s\n", info.Commit)
	fmt.Fprintf(w, "  built:    %s\n", info.Date)
	fmt.Fprintf(w, "  go:       %s\n", info.GoVersion)
	fmt.Fprintf(w, "  platform: %s\n", info.Platform)
}
