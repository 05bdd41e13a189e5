package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/weftai/weft/internal/config"
	"github.com/weftai/weft/internal/style"
)

var (
	cfgFile      string
	logLevel     string
	outputFormat string
	quiet        bool
	verbose      bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "weft",
	Short: "Weft - declarative multi-agent workflows",
	Long: `Weft runs declarative multi-agent workflows: JSON or YAML definitions whose
steps prompt remote agents, transform data, branch, pause for approval, or
fan out in parallel.

Visit https://weft.ai/docs for documentation and examples.`,
	Version: versionLine(),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()

		// Refresh the release cache off the critical path; printUpdateHint
		// reads whatever landed by the time the command finishes.
		go func() { _, _ = refreshUpdateCache() }()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		printUpdateHint()
	},
}

// Execute runs the root command through fang, which renders help and errors
// with the shared palette. Called once from main.
func Execute() error {
	return fang.Execute(context.Background(), rootCmd, fang.WithColorSchemeFunc(style.FangScheme))
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.weft/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "disabled", "log level: debug, info, warn, error, or disabled")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "text", "output format (text, json, yaml)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-essential output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig points viper at the optional config file and the WEFT_*
// environment. An explicit --config path wins over the search paths.
func initConfig() {
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home + "/.weft")
		viper.AddConfigPath(".")
		viper.AddConfigPath(".weft")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("WEFT")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && !quiet {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// setupLogging applies the configured level to the global zerolog logger.
// Unrecognized levels disable logging rather than spam a default.
func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(viper.GetString("log-level"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.Disabled
	}
	zerolog.SetGlobalLevel(level)

	if !viper.GetBool("quiet") && outputFormat == "text" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// versionLine builds the one-line string cobra prints for --version.
func versionLine() string {
	return fmt.Sprintf("%s (commit: %s, built: %s, go: %s)", Version, Commit, Date, GoVersion)
}

// printUpdateHint prints a one-line upgrade hint after a command finishes.
// It reads only the cache, never the network.
func printUpdateHint() {
	if viper.GetBool("quiet") {
		return
	}

	// The orchestrator config can turn the hint off entirely.
	if cfg, err := config.Load(); err == nil && !cfg.ShowVersionPopup {
		return
	}

	if info := ShouldShowUpdateNotification(); info != nil {
		fmt.Fprintf(os.Stderr, "\n%s weft %s is available. Run 'weft update' to upgrade.\n",
			style.InfoIcon(), info.LatestVersion)
	}
}
