package commands

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/opencode-ai/claudia/pkg/types"
)

var checkpointDir string

var checkpointCmd = &cobra.Command{
	Use:     "checkpoint",
	Aliases: []string{"cp"},
	Short:   "Inspect, restore and fork session checkpoints",
}

var checkpointListCmd = &cobra.Command{
	Use:   "list <sessionID>",
	Short: "List the checkpoints of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointList,
}

var checkpointDiffCmd = &cobra.Command{
	Use:   "diff <sessionID> <checkpointID>",
	Short: "Show the file changes captured by a checkpoint",
	Args:  cobra.ExactArgs(2),
	RunE:  runCheckpointDiff,
}

var checkpointRestoreCmd = &cobra.Command{
	Use:   "restore <sessionID> <checkpointID>",
	Short: "Rewrite project files to a checkpoint",
	Args:  cobra.ExactArgs(2),
	RunE:  runCheckpointRestore,
}

var checkpointForkCmd = &cobra.Command{
	Use:   "fork <sessionID> <checkpointID> <name>",
	Short: "Start a new session from a checkpoint",
	Args:  cobra.ExactArgs(3),
	RunE:  runCheckpointFork,
}

var checkpointPolicyCmd = &cobra.Command{
	Use:   "policy <sessionID> [strategy] [auto]",
	Short: "Show or set a session's checkpoint policy",
	Long: `Show or set a session's checkpoint policy.

Strategies: manual, per_prompt, per_tool_use, smart. The optional third
argument enables or disables automatic checkpoints (true/false).`,
	Args: cobra.RangeArgs(1, 3),
	RunE: runCheckpointPolicy,
}

func init() {
	checkpointCmd.PersistentFlags().StringVar(&checkpointDir, "directory", "", "Project directory")

	checkpointCmd.AddCommand(checkpointListCmd)
	checkpointCmd.AddCommand(checkpointDiffCmd)
	checkpointCmd.AddCommand(checkpointRestoreCmd)
	checkpointCmd.AddCommand(checkpointForkCmd)
	checkpointCmd.AddCommand(checkpointPolicyCmd)
}

func checkpointApp() (*app, error) {
	workDir, err := GetWorkDir(checkpointDir)
	if err != nil {
		return nil, err
	}
	return newApp(workDir)
}

func runCheckpointList(cmd *cobra.Command, args []string) error {
	a, err := checkpointApp()
	if err != nil {
		return err
	}
	defer a.close()

	checkpoints, err := a.checkpoints.List(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if len(checkpoints) == 0 {
		fmt.Println("No checkpoints.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tID\tSTRATEGY\tFILES\tMESSAGES\tCREATED\tPROMPT\t")
	for _, cp := range checkpoints {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%s\t%s\t\n",
			cp.Index, cp.ID, cp.Strategy, len(cp.Files), cp.MessageCount,
			formatMillis(cp.Created), truncate(cp.Prompt, 40))
	}
	return w.Flush()
}

func runCheckpointDiff(cmd *cobra.Command, args []string) error {
	a, err := checkpointApp()
	if err != nil {
		return err
	}
	defer a.close()

	projectPath := a.workDir
	if rec, err := a.records.Get(cmd.Context(), args[0]); err == nil && rec.ProjectPath != "" {
		projectPath = rec.ProjectPath
	}

	diffs, err := a.checkpoints.Diff(cmd.Context(), args[0], args[1], projectPath)
	if err != nil {
		return err
	}
	if len(diffs) == 0 {
		fmt.Println("No file changes.")
		return nil
	}

	added := color.New(color.FgGreen).SprintFunc()
	removed := color.New(color.FgRed).SprintFunc()
	for _, d := range diffs {
		fmt.Printf("%s %s %s\n", d.Path, added("+"+strconv.Itoa(d.Additions)), removed("-"+strconv.Itoa(d.Deletions)))
		if d.Diff != "" {
			fmt.Println(d.Diff)
		}
	}
	return nil
}

func runCheckpointRestore(cmd *cobra.Command, args []string) error {
	a, err := checkpointApp()
	if err != nil {
		return err
	}
	defer a.close()

	files, err := a.checkpoints.Restore(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Printf("Restored %d file(s)\n", len(files))
	for _, f := range files {
		fmt.Printf("  %s\n", f)
	}
	return nil
}

func runCheckpointFork(cmd *cobra.Command, args []string) error {
	a, err := checkpointApp()
	if err != nil {
		return err
	}
	defer a.close()

	fork := types.ForkRequest{
		CheckpointID:    args[1],
		SourceSessionID: args[0],
		ProjectID:       types.ProjectID(a.workDir),
		ProjectPath:     a.workDir,
		NewSessionID:    uuid.NewString(),
		NewName:         args[2],
	}
	if rec, err := a.records.Get(cmd.Context(), args[0]); err == nil {
		fork.ProjectID = rec.ProjectID
		fork.ProjectPath = rec.ProjectPath
	}

	rec, err := a.checkpoints.Fork(cmd.Context(), fork)
	if err != nil {
		return err
	}
	fmt.Printf("Forked %s as %s (%q)\n", args[0], rec.ID, rec.Name)
	fmt.Printf("Resume it with: claudia chat -s %s\n", rec.ID)
	return nil
}

func runCheckpointPolicy(cmd *cobra.Command, args []string) error {
	a, err := checkpointApp()
	if err != nil {
		return err
	}
	defer a.close()

	sessionID := args[0]
	policy, err := a.checkpoints.GetPolicy(cmd.Context(), sessionID, "", "")
	if err != nil {
		return err
	}

	if len(args) > 1 {
		policy.Strategy = types.CheckpointStrategy(args[1])
		if len(args) > 2 {
			auto, err := strconv.ParseBool(args[2])
			if err != nil {
				return fmt.Errorf("invalid auto flag %q: %w", args[2], err)
			}
			policy.AutoEnabled = auto
		}
		if err := a.checkpoints.SetPolicy(cmd.Context(), sessionID, policy); err != nil {
			return err
		}
	}

	fmt.Printf("strategy: %s\nauto:     %t\n", policy.Strategy, policy.AutoEnabled)
	return nil
}
