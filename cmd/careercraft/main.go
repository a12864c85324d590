// Package main provides the careercraft CLI: the upload pipeline, the saved
// resume collection and the HTTP API server.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "careercraft",
	Short: "Resume ingestion for the careercraft assistant",
	Long: `careercraft uploads resumes to the ingestion backend, tracks their progress through
parsing, chunking, embedding and indexing, and keeps the collection of saved resumes.

Configuration is read from --config (JSON), then environment variables, then defaults.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.json file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error (overrides config)")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
