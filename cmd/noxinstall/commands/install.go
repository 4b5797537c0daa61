package commands

import (
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/noxsuite/noxinstall/pkg/engine"
	"github.com/noxsuite/noxinstall/pkg/pipeline"
)

// parseMode resolves the positional mode. Unknown modes fall back to guided.
func parseMode(arg string) (engine.InstallMode, bool) {
	if arg == "" {
		return engine.ModeGuided, true
	}
	return engine.ParseInstallMode(arg)
}

func runInstall(cmd *cobra.Command, opts *globalOptions, arg, version string) error {
	ctx := cmd.Context()
	mode, known := parseMode(arg)

	settings, err := loadSettings(opts)
	if err != nil {
		return err
	}
	// The previous session is audited before this session appends to the log.
	prev := analyzeLog(settings, settings.LogFile)

	env, err := buildEnvironment(opts, settings, version)
	if err != nil {
		return err
	}
	defer env.close()

	if !known {
		env.tel.Session.Warning("Unknown mode "+arg+", using guided", map[string]interface{}{"requested": arg})
	}

	info := env.detect(ctx)

	pipeOpts := []pipeline.Option{
		pipeline.WithPresenter(env.term),
		pipeline.WithReporter(env.term),
		pipeline.WithPolicies(env.policies(ctx)),
	}
	if opts.installDir != "" {
		dir, err := filepath.Abs(opts.installDir)
		if err != nil {
			return engine.NewConfigurationError("invalid installation directory "+opts.installDir, err)
		}
		pipeOpts = append(pipeOpts, pipeline.WithInstallDirectory(dir))
	}
	if store := env.history(ctx, mode); store != nil {
		defer store.Close()
		pipeOpts = append(pipeOpts, pipeline.WithHistory(store))
	}

	p := pipeline.New(info, env.run, env.tel, env.decider(), env.settings, prev, pipeOpts...)
	report, err := p.Run(ctx, mode)
	if err != nil {
		env.term.Failure(err, env.tel.Session.Path())
		return err
	}
	log.Debug().
		Str("session", report.SessionID).
		Dur("duration", report.Duration).
		Msg("Installation finished")
	return nil
}
