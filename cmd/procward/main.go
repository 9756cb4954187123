// Procward: a process sandbox supervisor with live resource monitoring.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "procward",
	Short: "Procward: launch, attach, throttle and observe one process at a time.",
	Long: `Procward supervises a single process. It launches shell commands inside a
shared sandbox directory, attaches to any PID, samples system and process
resources once a second, adjusts priority and CPU affinity, gates outbound
network access and exports the session transcript as a report.`,
	RunE:          runSupervisor, // Default to run mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ~/.procward/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.AddCommand(runCmd, sessionsCmd, sandboxCmd, configCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
