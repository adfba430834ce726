package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configFile string

	rootCmd = &cobra.Command{
		Use:   "upkeep",
		Short: "Periodic maintenance for a WordPress site",
		Long: `upkeep applies plugin and theme updates, clears caches, collects the
day's error-log lines and site metrics, and mails an HTML report on a schedule.`,
		SilenceUsage: true,
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the admin HTTP API",
		RunE:  runServe,
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Perform one maintenance run now",
		RunE:  runOnce,
	}
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Print the last run, next run and last metrics",
		RunE:  runStatus,
	}
	purgeCmd = &cobra.Command{
		Use:   "purge",
		Short: "Delete all persisted run state",
		RunE:  runPurge,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to configuration file (TOML)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(purgeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
