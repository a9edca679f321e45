// Package cli wires the deskgate commands. Every effectful path goes
// through the safety gate; the commands here only differ in what they read
// and which mode they run the core in.
package cli

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	rootDir     string
	safetyPath  string
	rootVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "deskgate",
	Short: "Safety-gated desktop automation orchestrator",
	Long: "Coordinates independent automation workflows around one shared resource\n" +
		"(control of the mouse and keyboard) through a persisted ownership lease,\n" +
		"a fail-closed safety gate, and a durable deferred-action queue.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := zerolog.InfoLevel
		if rootVerbose {
			level = zerolog.DebugLevel
		}
		zerolog.SetGlobalLevel(level)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", ".", "Base directory for state, logs, and config")
	rootCmd.PersistentFlags().StringVar(&safetyPath, "safety-config", "", "Path to safety policy YAML (default: <root>/config/safety.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&rootVerbose, "verbose", "v", false, "Debug logging")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// logger builds the console logger commands share.
func logger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger()
}
