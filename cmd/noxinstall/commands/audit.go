package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/noxsuite/noxinstall/pkg/ux"
)

func newAuditCommand(opts *globalOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "audit [log]",
		Short: "Analyze a previous installation log",
		Long: `Read the structured records of a session log and classify the failures
against the known issue categories. The result drives recovery mode.

Without an argument the configured session log is analyzed.`,
		Example: `  # Analyze the default session log
  noxinstall audit

  # Analyze a log copied from another machine
  noxinstall audit ./noxsuite_installer.log --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(opts)
			if err != nil {
				return err
			}
			path := settings.LogFile
			if len(args) > 0 {
				path = args[0]
			}

			analysis := analyzeLog(settings, path)
			if jsonOutput {
				return writeJSON(opts, analysis)
			}

			term := ux.NewTerminal(opts.stdout, opts.ascii)
			if !analysis.LogFound {
				term.Notice("No installation log found at " + path)
				return nil
			}
			if !analysis.HasFailures() {
				term.Notice("No failed steps recorded in " + path)
				return nil
			}

			rows := make([][]string, 0, len(analysis.FailedSteps))
			for _, f := range analysis.FailedSteps {
				rows = append(rows, []string{f.Timestamp, f.Step, f.ErrorType, f.Error})
			}
			term.Table([]string{"Time", "Step", "Type", "Error"}, rows)

			categories := make([]string, 0, len(analysis.CategoryCounts))
			for c, n := range analysis.CategoryCounts {
				categories = append(categories, fmt.Sprintf("%s (%d)", c, n))
			}
			sort.Strings(categories)
			for _, c := range categories {
				term.Notice("Matched " + c)
			}
			for _, r := range analysis.Recommendations {
				term.Notice(r)
			}
			for _, s := range analysis.RecoverySuggestions {
				term.Notice(s)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	return cmd
}
