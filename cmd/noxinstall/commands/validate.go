package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noxsuite/noxinstall/pkg/engine"
)

func newValidateCommand(opts *globalOptions, version string) *cobra.Command {
	var services bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check an existing installation",
		Long: `Check an existing installation against its summary:
  - required directories exist
  - generated configuration files exist and match their schemas
  - the compose file is accepted by the container runtime`,
		Example: `  # Validate the default installation
  noxinstall validate

  # Validate an installation in a custom directory
  noxinstall validate --dir /srv/noxsuite --services=false`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := newEnvironment(opts, version)
			if err != nil {
				return err
			}
			defer env.close()

			info := env.detect(ctx)
			summary, err := env.installation(info)
			if err != nil {
				return err
			}

			res, err := env.validator(summary, info, services).Validate(ctx)
			if err != nil {
				return err
			}
			env.term.Validation(res, nil)
			if !res.OK() {
				return engine.NewValidationError(fmt.Sprintf("%d checks failed", len(res.Failures)), nil).
					WithDetail("directory", summary.Configuration.InstallDirectory)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&services, "services", true, "check the compose file with the container runtime")
	return cmd
}

func newHealCommand(opts *globalOptions, version string) *cobra.Command {
	var services bool

	cmd := &cobra.Command{
		Use:   "heal",
		Short: "Repair an existing installation without reinstalling",
		Long: `Validate an existing installation and repair what can be repaired:
missing directories are recreated and missing or corrupted configuration
files are regenerated from the recorded install plan. Failures that cannot
be repaired automatically are reported.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := newEnvironment(opts, version)
			if err != nil {
				return err
			}
			defer env.close()

			info := env.detect(ctx)
			summary, err := env.installation(info)
			if err != nil {
				return err
			}

			res, heal, err := env.validator(summary, info, services).Heal(ctx)
			if err != nil {
				return err
			}
			env.term.Validation(res, heal)
			if heal != nil && len(heal.Unrecoverable) > 0 {
				return engine.NewValidationError(fmt.Sprintf("%d problems could not be healed", len(heal.Unrecoverable)), nil)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&services, "services", true, "check the compose file with the container runtime")
	return cmd
}
