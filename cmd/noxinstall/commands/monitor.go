package commands

import (
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/noxsuite/noxinstall/pkg/monitor"
	"github.com/noxsuite/noxinstall/pkg/validate"
)

func newMonitorCommand(opts *globalOptions, version string) *cobra.Command {
	var (
		interval    time.Duration
		autoHeal    bool
		watch       bool
		services    bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Re-validate an installation in the background",
		Long: `Validate an existing installation on a fixed interval until interrupted.
Changes to the configuration directory trigger an early check. With --heal,
problems found by a check are repaired automatically.

Every check also evaluates the installed configuration against the plan
policies. Edits to the policy directory are picked up without a restart and
trigger an early check.

With a metrics address the installer metrics are served for Prometheus.`,
		Example: `  # Check every minute and repair what breaks
  noxinstall monitor --interval 1m --heal

  # Expose metrics while monitoring
  noxinstall monitor --metrics-addr :9464`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			settings, err := loadSettings(opts)
			if err != nil {
				return err
			}
			if metricsAddr != "" {
				settings.Monitor.MetricsAddr = metricsAddr
			}
			env, err := buildEnvironment(opts, settings, version)
			if err != nil {
				return err
			}
			defer env.close()

			info := env.detect(ctx)
			summary, err := env.installation(info)
			if err != nil {
				return err
			}

			if interval <= 0 {
				interval = settings.Monitor.Interval
			}
			monOpts := []monitor.Option{
				monitor.WithInterval(interval),
				monitor.WithAutoHeal(autoHeal),
				monitor.WithHandler(func(c monitor.Check) {
					if c.Result != nil && (!c.Result.OK() || c.Healing != nil) {
						env.term.Validation(c.Result, c.Healing)
					}
				}),
			}
			if watch {
				monOpts = append(monOpts, monitor.WithWatch(filepath.Join(summary.Configuration.InstallDirectory, "config")))
			}
			if settings.Monitor.MetricsAddr != "" {
				monOpts = append(monOpts, monitor.WithMetricsServer(env.tel.Metrics.NewMetricsServer()))
			}

			var valOpts []validate.Option
			policies := env.policies(ctx)
			if policies != nil {
				valOpts = append(valOpts, validate.WithPolicies(policies))
			}
			mon := monitor.New(env.validator(summary, info, services, valOpts...), env.tel, monOpts...)

			if policies != nil && settings.PolicyDir != "" {
				recheck := func() { mon.Recheck(monitor.TriggerPolicy) }
				if err := watchPolicies(ctx, policies, settings.PolicyDir, env.tel, recheck); err != nil {
					env.tel.Session.Warning("Policy hot reload unavailable: "+err.Error(), map[string]interface{}{
						"dir": settings.PolicyDir,
					})
				}
			}

			env.term.Notice("Monitoring " + summary.Configuration.InstallDirectory + " every " + interval.String())
			return mon.Run(ctx)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "polling interval (default from settings)")
	cmd.Flags().BoolVar(&autoHeal, "heal", false, "repair problems found by a check")
	cmd.Flags().BoolVar(&watch, "watch", true, "check early when configuration files change")
	cmd.Flags().BoolVar(&services, "services", true, "check the compose file with the container runtime")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve metrics on this address")
	return cmd
}
