package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/claudia/internal/headless"
)

var (
	// Headless mode flags
	runPrompt       string
	runWorkDir      string
	runOutputFormat string
	runTimeout      string
	runStdin        bool
	runSessionID    string
	runContinue     bool
	runFiles        []string
	runQuiet        bool
	runVerbose      bool
	runModel        string
)

var runCmd = &cobra.Command{
	Use:   "run [prompt...]",
	Short: "Run one prompt headless",
	Long: `Run one prompt through the claude CLI without an interactive session.

The turn's messages are printed as they stream in, in the selected format
(text, json, or jsonl). The exit code reports how the turn ended.

Examples:
  # Simple prompt
  claudia run "Fix the bug in main.go"

  # With timeout and JSON output
  claudia run -o json -t 5m "Run tests and fix failures"

  # Read prompt from stdin
  echo "Fix linting errors" | claudia run --stdin

  # Resume a session, or continue the last conversation of the project
  claudia run -s 3f0c... "Now add tests"
  claudia run -c "Now add tests for what you just implemented"

  # With context files
  claudia run -f design.md -f api.yaml "Implement the API described in design.md"

  # Stream JSONL events for programmatic consumption
  claudia run -o jsonl "Implement feature X" | jq -r '.type'`,
	RunE: runHeadless,
}

func init() {
	// Prompt input
	runCmd.Flags().StringVarP(&runPrompt, "prompt", "p", "", "Prompt/instruction to execute")
	runCmd.Flags().BoolVar(&runStdin, "stdin", false, "Read prompt from stdin")
	runCmd.Flags().StringArrayVarP(&runFiles, "file", "f", nil, "File(s) to attach as context")

	// Working directory and session
	runCmd.Flags().StringVarP(&runWorkDir, "workdir", "w", "", "Working directory")
	runCmd.Flags().StringVarP(&runSessionID, "session", "s", "", "Resume existing session ID")
	runCmd.Flags().BoolVarP(&runContinue, "continue", "c", false, "Continue the last conversation")

	// Output format
	runCmd.Flags().StringVarP(&runOutputFormat, "output-format", "o", "text", "Output format: text, json, jsonl")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Only print the assistant's text")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Show all events, including hidden ones")

	// Execution limits and model
	runCmd.Flags().StringVarP(&runTimeout, "timeout", "t", "30m", "Maximum execution time (e.g., 5m, 1h)")
	runCmd.Flags().StringVarP(&runModel, "model", "m", "", "Model alias or full model id")
}

func runHeadless(cmd *cobra.Command, args []string) error {
	// Determine working directory
	workDir, err := GetWorkDir(runWorkDir)
	if err != nil {
		return err
	}

	// Parse timeout
	timeout, err := time.ParseDuration(runTimeout)
	if err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}

	outputFormat := headless.OutputFormat(strings.ToLower(runOutputFormat))
	if !outputFormat.Valid() {
		return fmt.Errorf("invalid output format: %s (must be text, json, or jsonl)", runOutputFormat)
	}

	// Build prompt from args if not provided via flag
	prompt := runPrompt
	if prompt == "" && len(args) > 0 {
		prompt = strings.Join(args, " ")
	}
	if prompt == "" && !runStdin {
		return errors.New("prompt required. Provide via argument, --prompt flag, or --stdin")
	}

	a, err := newApp(workDir)
	if err != nil {
		return err
	}
	defer a.close()

	cfg := &headless.Config{
		Prompt:       prompt,
		WorkDir:      workDir,
		OutputFormat: outputFormat,
		Timeout:      timeout,
		ReadStdin:    runStdin,
		SessionID:    runSessionID,
		ContinueLast: runContinue,
		Files:        runFiles,
		Quiet:        runQuiet,
		Verbose:      runVerbose,
		Model:        runModel,
	}

	runner := headless.NewRunner(cfg, headless.Deps{
		Options: a.sessionOptions(),
		Records: a.records,
		History: a.history,
	})
	result, err := runner.Run(cmd.Context(), os.Stdout)

	// Exit with appropriate code
	if result != nil && result.ExitCode != headless.ExitSuccess {
		a.close()
		os.Exit(int(result.ExitCode))
	}
	return err
}
