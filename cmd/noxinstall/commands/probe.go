package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/noxsuite/noxinstall/pkg/audit"
)

func newProbeCommand(opts *globalOptions, version string) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Detect host capabilities",
		Long: `Detect the capabilities the installer relies on:
  - operating system, architecture and runtime
  - memory and CPU cores
  - external tools and package managers
  - console encoding and write permissions`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			envOpts := *opts
			if jsonOutput {
				envOpts.stdout = io.Discard
			}
			env, err := newEnvironment(&envOpts, version)
			if err != nil {
				return err
			}
			defer env.close()

			info := env.detect(cmd.Context())
			if jsonOutput {
				return writeJSON(opts, info)
			}
			env.term.Welcome(info, audit.NewAnalysis())
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	return cmd
}

func writeJSON(opts *globalOptions, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(opts.stdout, string(data))
	return err
}
