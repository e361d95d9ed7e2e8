package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/snarg/ai-relay/internal/config"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var overrides config.Overrides

	root := &cobra.Command{
		Use:   "ai-relay",
		Short: "Relay for AI rewriting, transcription and AI-content detection",
		Long: `ai-relay fronts several AI providers behind one HTTP API.
Each request runs through an ordered provider chain with fallback, and
/ws/transcribe streams audio for real-time transcription.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(overrides)
		},
	}

	f := root.Flags()
	f.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file (default .env)")
	f.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (overrides HTTP_ADDR)")
	f.StringVar(&overrides.LogLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	f.StringVar(&overrides.DatabaseURL, "database-url", "", "PostgreSQL URL for the audit log (overrides DATABASE_URL)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "ai-relay", version)
		},
	})
	return root
}
