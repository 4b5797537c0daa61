// Package pipeline sequences a NoxSuite installation.
//
// A run walks a fixed set of phases: plan configuration, pre-installation
// checks, dependency resolution, directory scaffolding, core install, AI
// model provisioning, configuration generation, service setup, validation
// with auto-healing and finalization. Phases declare the phases they depend
// on and run one at a time in engine.StepGraph order. Each phase is tracked as an
// engine.InstallStep, traced as a span and counted in metrics. The first
// failing phase ends the run; operations recorded on the rollback stack are
// then undone newest first. In dry-run mode every mutating phase only logs
// what it would do.
//
// The summary written at finalize (INSTALLATION_SUMMARY.json) is the state
// later validate, heal and monitor runs start from.
package pipeline
