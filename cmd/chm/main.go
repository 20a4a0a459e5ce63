// Package main provides the entry point for the CHM pipeline health monitor.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "chm",
	Short: "Client pipeline Health Monitor",
	Long:  "CHM monitors client data pipelines: it ingests run outcomes from the partner API, stores them idempotently, and serves health and alerting data via REST API.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
