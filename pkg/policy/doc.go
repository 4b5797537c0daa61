// Package policy evaluates install plans against Rego policies using the
// Open Policy Agent.
//
// Every policy exposes a "deny" set in its package. Each element is either a
// message string or an object with "message", "code" and "severity" keys.
// The built-in policies produce the warnings shown in the install preview:
// low memory with AI enabled, a large disk footprint, paths with spaces on
// Windows, missing administrator rights and weak Unicode support.
//
// Operators may add policies by pointing the installer at a policy directory:
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//		return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"/etc/noxsuite/policies"}); err != nil {
//		return err
//	}
//	result, err := eng.EvaluatePlan(ctx, &policy.PlanInput{Plan: cfg, System: info})
//
// Findings with error or critical severity set Result.Allowed to false.
// Engine.Watch keeps the operator policies in step with the directory, which
// the monitor command uses so edits apply without a restart.
package policy
