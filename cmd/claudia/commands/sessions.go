package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/claudia/pkg/types"
)

var (
	sessionsAll bool
	sessionsDir string
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage sessions",
	Long: `List and manage the sessions claudia has recorded, and browse the
transcripts the claude CLI keeps for every project.`,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded sessions of the project",
	RunE:  runSessionsList,
}

var sessionsHistoryCmd = &cobra.Command{
	Use:   "history [projectID]",
	Short: "List agent projects, or the transcripts of one project",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSessionsHistory,
}

var sessionsRenameCmd = &cobra.Command{
	Use:   "rename <sessionID> <name>",
	Short: "Rename a recorded session",
	Args:  cobra.ExactArgs(2),
	RunE:  runSessionsRename,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <sessionID>",
	Short: "Delete a session record and its checkpoints",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

func init() {
	sessionsCmd.PersistentFlags().StringVar(&sessionsDir, "directory", "", "Project directory")
	sessionsListCmd.Flags().BoolVarP(&sessionsAll, "all", "a", false, "List sessions of every project")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsHistoryCmd)
	sessionsCmd.AddCommand(sessionsRenameCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
}

func sessionsApp() (*app, error) {
	workDir, err := GetWorkDir(sessionsDir)
	if err != nil {
		return nil, err
	}
	return newApp(workDir)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	a, err := sessionsApp()
	if err != nil {
		return err
	}
	defer a.close()

	projectID := types.ProjectID(a.workDir)
	if sessionsAll {
		projectID = ""
	}
	records, err := a.records.List(cmd.Context(), projectID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No sessions recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPARENT\tCREATED\tPROJECT\t")
	for _, rec := range records {
		parent := ""
		if rec.ParentID != nil {
			parent = truncate(*rec.ParentID, 8)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t\n",
			rec.ID, rec.Name, parent, formatMillis(rec.Created), rec.ProjectPath)
	}
	return w.Flush()
}

func runSessionsHistory(cmd *cobra.Command, args []string) error {
	a, err := sessionsApp()
	if err != nil {
		return err
	}
	defer a.close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	if len(args) == 0 {
		projects, err := a.history.Projects(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "PROJECT\tSESSIONS\tMODIFIED\tPATH\t")
		for _, p := range projects {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t\n", p.ID, p.Sessions, formatMillis(p.Modified), p.Path)
		}
		return w.Flush()
	}

	sessions, err := a.history.Sessions(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "SESSION\tMODIFIED\tFIRST PROMPT\t")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t\n", s.ID, formatMillis(s.Modified), truncate(s.FirstPrompt, 60))
	}
	return w.Flush()
}

func runSessionsRename(cmd *cobra.Command, args []string) error {
	a, err := sessionsApp()
	if err != nil {
		return err
	}
	defer a.close()

	rec, err := a.records.Rename(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Printf("Renamed %s to %q\n", rec.ID, rec.Name)
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	a, err := sessionsApp()
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.records.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted %s\n", args[0])
	return nil
}

// formatMillis renders a Unix millisecond timestamp.
func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Format("2006-01-02 15:04")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
