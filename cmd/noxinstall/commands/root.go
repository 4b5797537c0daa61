package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/noxsuite/noxinstall/pkg/engine"
)

// Exit codes returned by the binary.
const (
	ExitOK        = 0
	ExitFailure   = 1
	ExitCancelled = 130
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath     string
	logFile        string
	historyDB      string
	traceExporter  string
	installDir     string
	nonInteractive bool
	assumeYes      bool
	ascii          bool

	stdin  *os.File
	stdout io.Writer
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

// ExitCode maps a command error to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case engine.IsUserAbort(err), errors.Is(err, context.Canceled):
		return ExitCancelled
	default:
		return ExitFailure
	}
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	return newRootCommandWithIO(os.Stdin, os.Stdout, version, commit, buildDate)
}

func newRootCommandWithIO(stdin *os.File, stdout io.Writer, version, commit, buildDate string) *cobra.Command {
	opts := &globalOptions{stdin: stdin, stdout: stdout}

	rootCmd := &cobra.Command{
		Use:   "noxinstall [mode]",
		Short: "NoxSuite self-healing installer",
		Long: `noxinstall installs the NoxSuite platform and keeps it healthy.

Installation modes:
  guided     interactive wizard (default)
  fast       recommended defaults, no questions
  dry_run    plan and report without touching the system
  safe       minimal configuration, no AI, no auto start
  recovery   reuse the analysis of the previous failed run

Every run is logged to a session log, recorded in the install history and
rolled back if a step fails.`,
		Example: `  # Interactive installation
  noxinstall

  # Unattended installation with defaults
  noxinstall fast --yes

  # See what an installation would do
  noxinstall dry_run --dir /opt/noxsuite`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := ""
			if len(args) > 0 {
				mode = args[0]
			}
			return runInstall(cmd, opts, mode, version)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "installer settings file (YAML)")
	pf.StringVar(&opts.logFile, "log-file", "", "session log path")
	pf.StringVar(&opts.historyDB, "history-db", "", "install history database, \"off\" disables history")
	pf.StringVar(&opts.traceExporter, "trace-exporter", "", "span exporter: none, stdout or otlp")
	pf.StringVarP(&opts.installDir, "dir", "d", "", "installation directory")
	pf.BoolVar(&opts.nonInteractive, "non-interactive", false, "answer every prompt with its default")
	pf.BoolVarP(&opts.assumeYes, "yes", "y", false, "answer every confirmation with yes")
	pf.BoolVar(&opts.ascii, "ascii", false, "use ASCII symbols on the console")

	rootCmd.AddCommand(newProbeCommand(opts, version))
	rootCmd.AddCommand(newAuditCommand(opts))
	rootCmd.AddCommand(newValidateCommand(opts, version))
	rootCmd.AddCommand(newHealCommand(opts, version))
	rootCmd.AddCommand(newHistoryCommand(opts))
	rootCmd.AddCommand(newMonitorCommand(opts, version))

	return rootCmd
}
