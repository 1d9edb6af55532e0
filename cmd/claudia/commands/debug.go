package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/claudia/internal/config"
	"github.com/opencode-ai/claudia/internal/launcher"
	"github.com/opencode-ai/claudia/internal/logging"
)

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Debug utilities",
	Long:  `Debug utilities for troubleshooting claudia configuration and setup.`,
}

var debugConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show effective configuration and its sources",
	RunE:  runDebugConfig,
}

var debugPathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "Show system paths",
	RunE:  runDebugPaths,
}

var debugBinaryCmd = &cobra.Command{
	Use:   "binary",
	Short: "Show which claude binary would be launched",
	RunE:  runDebugBinary,
}

func init() {
	debugCmd.AddCommand(debugConfigCmd)
	debugCmd.AddCommand(debugPathsCmd)
	debugCmd.AddCommand(debugBinaryCmd)
}

func runDebugConfig(cmd *cobra.Command, args []string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return err
	}

	// Load configuration
	appConfig, err := config.Load(workDir)
	if err != nil {
		return err
	}

	fmt.Println("Sources (later wins):")
	for _, path := range config.Sources(workDir) {
		state := "missing"
		if _, err := os.Stat(path); err == nil {
			state = "loaded"
		}
		fmt.Printf("  %s (%s)\n", path, state)
	}
	fmt.Println()

	// Output as JSON
	data, err := json.MarshalIndent(appConfig, "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(data))
	return nil
}

func runDebugPaths(cmd *cobra.Command, args []string) error {
	paths := config.GetPaths()

	fmt.Println("claudia System Paths:")
	fmt.Println()
	fmt.Printf("  Config:   %s\n", paths.Config)
	fmt.Printf("  Data:     %s\n", paths.Data)
	fmt.Printf("  Cache:    %s\n", paths.Cache)
	fmt.Printf("  State:    %s\n", paths.State)
	fmt.Printf("  Storage:  %s\n", paths.StoragePath())
	fmt.Printf("  Logs:     %s\n", paths.LogPath())
	if path := logging.GetLogFilePath(); path != "" {
		fmt.Printf("  Log file: %s\n", path)
	}
	fmt.Println()

	fmt.Println("Agent Paths:")
	fmt.Printf("  Home:     %s\n", config.ClaudeDir())
	fmt.Printf("  Projects: %s\n", config.ClaudeProjectsPath())

	return nil
}

func runDebugBinary(cmd *cobra.Command, args []string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return err
	}
	appConfig, err := config.Load(workDir)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tVERSION\tPATH\t")
	for _, inst := range launcher.Discover(cmd.Context(), os.Getenv("HOME")) {
		fmt.Fprintf(w, "%s\t%s\t%s\t\n", inst.Source, inst.Version, inst.Path)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Println()

	binary, err := launcher.FindBinary(cmd.Context(), appConfig.ClaudePath)
	if err != nil {
		return err
	}
	fmt.Printf("Selected: %s\n", binary)
	return nil
}
