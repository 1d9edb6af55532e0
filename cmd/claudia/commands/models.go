package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/claudia/internal/config"
	"github.com/opencode-ai/claudia/internal/model"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List model aliases",
	Long: `List the model aliases the claude CLI accepts. Any full model id is
accepted as well; the default comes from the "model" config key.`,
	RunE: runModels,
}

func runModels(cmd *cobra.Command, args []string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return err
	}
	appConfig, err := config.Load(workDir)
	if err != nil {
		return err
	}
	defaultModel := appConfig.DefaultModelOrFallback()

	// Create table writer
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ALIAS\tDESCRIPTION\tDEFAULT\t")
	for _, alias := range model.Aliases() {
		mark := ""
		if alias.Name == defaultModel {
			mark = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t\n", alias.Name, alias.Description, mark)
	}
	return w.Flush()
}
