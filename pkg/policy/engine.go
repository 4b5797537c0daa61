package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
)

// Engine evaluates install plans against Rego policies. The active set is
// the built-in policies plus the operator policies of the last load; it is
// swapped as a whole, so an evaluation never sees a half-loaded set.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
}

type compiledPolicy struct {
	policy *Policy
	query  rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the built-in plan policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{logger: logger.With().Str("component", "policy-engine").Logger()}
	if err := e.install(context.Background(), nil); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}
	return e, nil
}

// EvaluatePlan evaluates every enabled policy against the plan. A policy
// that fails to evaluate is reported in Result.Errors and skipped.
func (e *Engine) EvaluatePlan(ctx context.Context, input *PlanInput) (*Result, error) {
	if input == nil {
		return nil, fmt.Errorf("plan input is required")
	}
	if input.Context == nil {
		input.Context = &PolicyContext{Timestamp: time.Now(), Operation: "plan"}
	}

	startTime := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{
		Allowed:           true,
		Violations:        []Violation{},
		EvaluatedPolicies: make([]string, 0, len(e.policies)),
	}

	for _, cp := range e.sortedPolicies() {
		if !cp.policy.Enabled {
			continue
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, cp.policy.Name)

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", cp.policy.Name).
				Msg("Policy evaluation failed")
			result.Errors = append(result.Errors, fmt.Sprintf("Policy %s evaluation failed: %v", cp.policy.Name, err))
			continue
		}
		result.Violations = append(result.Violations, violations...)
	}

	for _, v := range result.Violations {
		if v.Severity.Blocking() {
			result.Allowed = false
			break
		}
	}

	result.EvaluatedAt = time.Now()
	result.Duration = time.Since(startTime)

	e.logger.Debug().
		Str("directory", input.Plan.InstallDirectory).
		Int("violations", len(result.Violations)).
		Dur("duration", result.Duration).
		Msg("Plan policy evaluation completed")

	return result, nil
}

func (e *Engine) sortedPolicies() []*compiledPolicy {
	out := make([]*compiledPolicy, 0, len(e.policies))
	for _, cp := range e.policies {
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].policy.Name < out[j].policy.Name
	})
	return out
}

// LoadPolicies replaces the operator policies with those found below paths.
// An operator policy named like a built-in overrides it.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	custom, err := NewSource(e.logger, paths...).Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return e.install(ctx, custom)
}

// Watch reloads the operator policies below paths whenever a policy file
// changes, until ctx is done. A reload that fails keeps the previous set.
// onReload, when set, receives the number of operator policies now active
// or the reload error.
func (e *Engine) Watch(ctx context.Context, paths []string, onReload func(int, error)) error {
	return NewSource(e.logger, paths...).Watch(ctx, func(custom []Policy, err error) {
		if err == nil {
			err = e.install(ctx, custom)
		}
		if err != nil {
			e.logger.Warn().Err(err).Msg("Policy reload failed, keeping previous policies")
		} else {
			e.logger.Info().Int("custom", len(custom)).Msg("Policies reloaded")
		}
		if onReload != nil {
			onReload(len(custom), err)
		}
	})
}

// Names returns the active policy names in evaluation order.
func (e *Engine) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.policies))
	for _, cp := range e.sortedPolicies() {
		names = append(names, cp.policy.Name)
	}
	return names
}

// install compiles the built-ins plus custom into a fresh set and makes it
// active. Nothing changes when any policy fails to compile.
func (e *Engine) install(ctx context.Context, custom []Policy) error {
	all := append(GetBuiltinPolicies(), custom...)
	set := make(map[string]*compiledPolicy, len(all))
	for i := range all {
		cp, err := compile(ctx, &all[i])
		if err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", all[i].Name, err)
		}
		set[all[i].Name] = cp
	}

	e.mu.Lock()
	e.policies = set
	e.mu.Unlock()

	e.logger.Debug().
		Int("builtin", len(all)-len(custom)).
		Int("custom", len(custom)).
		Msg("Policy set installed")
	return nil
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *PlanInput) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(cp.policy, d))
		}
	}

	sort.SliceStable(violations, func(i, j int) bool {
		return violations[i].Message < violations[j].Message
	})
	return violations, nil
}

// extractPackageName extracts the package name from Rego code.
func extractPackageName(rego string) string {
	for _, line := range strings.Split(rego, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "noxsuite.policies"
}

// createViolation builds a Violation from one element of a deny set.
func createViolation(policy *Policy, result interface{}) Violation {
	violation := Violation{
		Policy:   policy.Name,
		Severity: policy.Severity,
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
		if code, ok := v["code"].(string); ok {
			violation.Code = code
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compile parses and prepares the deny query of one policy.
func compile(ctx context.Context, policy *Policy) (*compiledPolicy, error) {
	if _, err := ast.ParseModule(policy.Name, policy.Rego); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	query, err := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Query(fmt.Sprintf("data.%s.deny", extractPackageName(policy.Rego))),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}
	return &compiledPolicy{policy: policy, query: query}, nil
}
