// Package engine provides the core types shared by every stage of the NoxSuite installer.
//
// # Overview
//
// An installation run moves through a fixed sequence of phases:
//
// 1. Configuration - resolve an InstallConfig for the selected InstallMode
// 2. Pre-installation checks - compatibility, disk, permissions, existing install, network
// 3. Dependencies - make external tools (docker, git, node) available
// 4. Scaffolding - create the directory layout transactionally
// 5. Core components, AI provisioning, configuration generation, services
// 6. Validation - verify the result and heal recoverable gaps
// 7. Finalize - persist the installation summary
//
// # Core Domain Types
//
//   - SystemInfo: immutable snapshot of host capabilities, produced once per run
//   - InstallConfig: the confirmed install plan, read-only after the wizard returns it
//   - InstallStep: lifecycle record of a single pipeline phase
//   - AtomicOperation: an action bundled with its own rollback
//   - StepGraph: the declared dependencies between steps and their execution order
//
// # Error Classification
//
// Every failure carries an ErrorKind so the pipeline can decide between retry,
// abort and rollback:
//
//   - validation_error: a critical pre-flight check failed, never retried
//   - dependency_error: an external tool could not be satisfied, retried up to the bound
//   - scaffold_error: a filesystem mutation failed and was rolled back
//   - configuration_error: the install plan is malformed, never retried
//   - user_abort: explicit cancellation, a clean short-circuit
//   - automation_fault: anything else, triggers rollback of in-flight operations
//
//	if engine.IsRetryable(err) {
//	    // try the strategy chain again
//	}
//
// # Decisions
//
// Components never read stdin directly. Questions go through a Decider so
// unattended runs can plug in a FixedDecider without code changes.
package engine
