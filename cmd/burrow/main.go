package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/burrowq/burrow/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	flagConfig  string
	flagDataDir string
	flagBackend string
	flagLog     string
	flagJSON    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "burrow",
	Short: "Burrow - lease-based task dispatch for worker pools",
	Long: `Burrow is a task dispatch and orchestration service for pools of
ephemeral workers. Projects hold task types and tasks; workers pull
tasks under time-bounded leases, report success or failure, and the
reaper reclaims tasks from dead workers.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := flagLog
		if level == "" {
			level = "warn" // keep CLI output clean unless asked
		}
		log.Init(log.Config{Level: log.Level(level), JSONOutput: false, Output: os.Stderr})
		return nil
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Burrow version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to config file (default burrow.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "Data directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagBackend, "backend", "", "Storage backend: file, bolt or memory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagLog, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Print raw JSON results")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initCmd)
	addRegistryCommands(rootCmd)
}
