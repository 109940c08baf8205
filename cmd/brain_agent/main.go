// Package main provides the entry point for the knowledge brain API server, queue worker and stall detector.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "brain_agent",
	Short: "Knowledge brain pipeline",
	Long: `Turns a subject's uploaded documents into a versioned knowledge brain and scores submissions against it.

Documents are analyzed asynchronously by queue workers, assembled into a brain once every document has an
outcome, and watched by a stall detector that re-triggers jobs which stop making progress.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML/JSON config file (defaults to ./configs/brain.yaml or ./brain.yaml when present)")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
