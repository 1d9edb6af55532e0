// Package commands provides the CLI commands for claudia.
package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/claudia/internal/config"
	"github.com/opencode-ai/claudia/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	printLogs bool
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "claudia",
	Short: "claudia - streaming session controller for the claude CLI",
	Long: `claudia drives the claude CLI in stream-json mode. It follows each
turn's output, queues prompts submitted while a turn is running, keeps
checkpoints of the files the agent touched and serves it all over HTTP.

Run 'claudia chat' for an interactive session, 'claudia run' for a single
headless prompt, or 'claudia serve' to start the API server.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	// Global flags available to all commands
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")

	// Version template
	rootCmd.SetVersionTemplate(fmt.Sprintf("claudia %s (%s)\n", Version, BuildTime))

	// Add subcommands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(debugCmd)
}

// Execute runs the root command.
func Execute() error {
	defer logging.Close()
	return rootCmd.Execute()
}

// setupLogging sends logs to stderr with --print-logs and to a file under the
// state directory otherwise, so they never mix with command output.
func setupLogging(cmd *cobra.Command, args []string) error {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.ParseLevel(logLevel)
	if printLogs {
		cfg.Pretty = true
	} else {
		paths := config.GetPaths()
		if err := os.MkdirAll(paths.LogPath(), 0755); err != nil {
			return err
		}
		cfg.Output = io.Discard
		cfg.LogToFile = true
		cfg.LogDir = paths.LogPath()
	}
	logging.Init(cfg)
	return nil
}

// logLevelFlagSet reports whether --log-level was given explicitly, in which
// case it wins over the configured logLevel.
func logLevelFlagSet() bool {
	return rootCmd.PersistentFlags().Changed("log-level")
}

// GetWorkDir returns the working directory from flag or current directory.
func GetWorkDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}
