package policy

import (
	"time"

	"github.com/noxsuite/noxinstall/pkg/engine"
)

// Severity represents the severity level of a policy finding.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is shown in the install preview but never blocks.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the install plan.
	SeverityError Severity = "error"

	// SeverityCritical blocks the install plan.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether findings of this severity reject a plan.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. Findings are read from the
	// package's "deny" set.
	Rego string `json:"rego"`

	// Severity is the default severity for findings.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	Tags     []string               `json:"tags,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Violation is a single policy finding.
type Violation struct {
	// Policy is the name of the policy that produced the finding.
	Policy string `json:"policy"`

	// Code is a short stable identifier, e.g. "low_memory_ai".
	Code string `json:"code,omitempty"`

	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Result represents the outcome of evaluating an install plan.
type Result struct {
	// Allowed is false when any finding is blocking.
	Allowed bool `json:"allowed"`

	// Violations lists every finding in policy name order.
	Violations []Violation `json:"violations"`

	// Errors lists policies that failed to evaluate. They never block.
	Errors []string `json:"errors,omitempty"`

	EvaluatedPolicies []string      `json:"evaluated_policies"`
	EvaluatedAt       time.Time     `json:"evaluated_at"`
	Duration          time.Duration `json:"duration"`
}

// Messages returns the finding messages in order.
func (r *Result) Messages() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		out = append(out, v.Message)
	}
	return out
}

// Blocking returns the findings that reject the plan.
func (r *Result) Blocking() []Violation {
	if r == nil {
		return nil
	}
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity.Blocking() {
			out = append(out, v)
		}
	}
	return out
}

// PlanInput is the document policies are evaluated against.
type PlanInput struct {
	Plan   engine.InstallConfig `json:"plan"`
	System engine.SystemInfo    `json:"system"`

	// EstimatedSizeGB is the projected disk footprint of the plan.
	EstimatedSizeGB float64 `json:"estimated_size_gb"`

	// EstimatedMemoryGB is the projected memory footprint of the selected models.
	EstimatedMemoryGB float64 `json:"estimated_memory_gb"`

	Context *PolicyContext `json:"context"`
}

// PolicyContext provides context information for policy evaluation.
type PolicyContext struct {
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation,omitempty"`
	DryRun    bool      `json:"dry_run"`
}
