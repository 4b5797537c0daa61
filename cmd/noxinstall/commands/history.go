package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/noxsuite/noxinstall/pkg/engine"
	"github.com/noxsuite/noxinstall/pkg/stores"
	"github.com/noxsuite/noxinstall/pkg/ux"
)

func newHistoryCommand(opts *globalOptions) *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent installer runs",
		Long: `List the runs recorded in the install history, newest first. Each run
records its session, mode, outcome and target directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			settings, err := loadSettings(opts)
			if err != nil {
				return err
			}
			if settings.HistoryDB == "" {
				return engine.NewConfigurationError("install history is disabled", nil)
			}

			store, err := stores.Open(ctx, settings.HistoryDB)
			if err != nil {
				return engine.NewConfigurationError("failed to open install history", err).
					WithDetail("path", settings.HistoryDB)
			}
			defer store.Close()

			runs, err := store.ListRuns(ctx, limit, 0)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(opts, runs)
			}

			term := ux.NewTerminal(opts.stdout, opts.ascii)
			if len(runs) == 0 {
				term.Notice("No installer runs recorded yet")
				return nil
			}
			term.Table([]string{"Started", "Session", "Mode", "Status", "Duration", "Directory", "Error"}, historyRows(runs))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to list")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	return cmd
}

func historyRows(runs []*stores.Run) [][]string {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		duration := "-"
		if d := r.Duration(); d > 0 {
			duration = d.Round(time.Second).String()
		}
		errMsg := ""
		if r.Error != nil {
			errMsg = *r.Error
			if r.ErrorKind != nil {
				errMsg = fmt.Sprintf("%s: %s", *r.ErrorKind, errMsg)
			}
		}
		rows = append(rows, []string{
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			r.SessionID,
			r.Mode,
			string(r.Status),
			duration,
			r.InstallDirectory,
			errMsg,
		})
	}
	return rows
}
