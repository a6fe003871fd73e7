// Package cli implements the slideforge command-line interface using Cobra.
// serve and genstub run the backend and the generation-service stub; the
// remaining commands are clients of a running backend's HTTP API.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/slideforge/slideforge/internal/logger"
)

var (
	apiURL   string
	logLevel string
	logJSON  bool
)

var rootCmd = &cobra.Command{
	Use:   "slideforge",
	Short: "slideforge: AI presentation generation backend",
	Long: `slideforge accepts presentation requests, runs one or more generation
samples per task against the generation service and streams progress to
subscribers over WebSocket.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	def := os.Getenv("SLIDEFORGE_API")
	if def == "" {
		def = "http://localhost:8000"
	}
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", def, "Backend base URL")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit logs as JSON")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newLogger builds the process logger. Flags set on the command line win
// over the configured values.
func newLogger(cmd *cobra.Command, level string, json bool) logger.Logger {
	if cmd.Flags().Changed("log-level") || level == "" {
		level = logLevel
	}
	if cmd.Flags().Changed("log-json") {
		json = logJSON
	}
	cfg := logger.DefaultConfig()
	cfg.Level = logger.ParseLevel(level)
	cfg.JSON = json
	return logger.NewLogger(cfg)
}
