// Groundd answers questions over a project's documents, in the asker's
// language and by voice, and measures answer quality against gold answers.
//
// Usage:
//
//	# Serve the HTTP API with in-process ingestion and test runs
//	groundd serve
//
//	# Run ingestion and test runs on a Temporal worker instead
//	GROUNDD_TEMPORAL_HOST_PORT=localhost:7233 groundd serve
//	GROUNDD_TEMPORAL_HOST_PORT=localhost:7233 groundd worker
//
//	# Index a directory and keep it indexed
//	groundd ingest ./docs --project 3f2c --watch
//
//	# Load gold questions from a spreadsheet
//	groundd testrun import questions.xlsx --suite 9a1b
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// configPath is the YAML configuration file; empty uses the default location.
var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "groundd",
	Short: "Grounded multilingual question answering over project documents",
	Long: `groundd answers questions in chats using only the documents indexed into
a project, translating to and from the asker's language and optionally
speaking the answer. Test runs replay gold questions and score the answers.`,
	Version:       fmt.Sprintf("%s (commit %s, built %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/groundd/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(testrunCmd)
	rootCmd.AddCommand(projectCmd)
}
