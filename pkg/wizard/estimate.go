package wizard

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/noxsuite/noxinstall/pkg/engine"
	"github.com/noxsuite/noxinstall/pkg/policy"
	"github.com/noxsuite/noxinstall/pkg/probe"
)

// Unit costs for the size and duration estimates.
const (
	baseSizeGB        = 0.5
	moduleSizeGB      = 0.1
	modelSizeGB       = 4.0
	imagesSizeGB      = 2.0
	baseMinutes       = 5
	moduleMinutes     = 2
	modelMinutes      = 10
	dependencyMinutes = 10
)

// EstimateSizeGB returns the projected disk footprint of a plan, rounded
// to one decimal.
func EstimateSizeGB(cfg engine.InstallConfig) float64 {
	size := baseSizeGB + moduleSizeGB*float64(len(cfg.Modules)) + imagesSizeGB
	if cfg.EnableAI {
		size += modelSizeGB * float64(len(cfg.AIModels))
	}
	return math.Round(size*10) / 10
}

// EstimateMinutes returns the projected install duration in minutes.
func EstimateMinutes(cfg engine.InstallConfig) int {
	minutes := baseMinutes + moduleMinutes*len(cfg.Modules) + dependencyMinutes
	if cfg.EnableAI {
		minutes += modelMinutes * len(cfg.AIModels)
	}
	return minutes
}

// EstimateMemoryGB returns the projected memory use of the selected models.
func EstimateMemoryGB(cfg engine.InstallConfig) float64 {
	if !cfg.EnableAI {
		return 0
	}
	return ModelFootprintGB * float64(len(cfg.AIModels))
}

// Preview is what the user confirms before a guided install starts.
type Preview struct {
	Config           engine.InstallConfig `json:"config"`
	EstimatedSizeGB  float64              `json:"estimated_size_gb"`
	EstimatedMinutes int                  `json:"estimated_minutes"`
	Warnings         []string             `json:"warnings"`
}

// BuildPreview computes estimates and collects plan warnings from the
// policy engine. A nil engine yields no policy warnings. A plan with an
// error or critical finding is rejected with a ConfigurationError.
func BuildPreview(ctx context.Context, cfg engine.InstallConfig, info engine.SystemInfo, policies *policy.Engine, freeSpace func(string) (float64, error)) (*Preview, error) {
	p := &Preview{
		Config:           cfg,
		EstimatedSizeGB:  EstimateSizeGB(cfg),
		EstimatedMinutes: EstimateMinutes(cfg),
		Warnings:         []string{},
	}

	warnings, err := CheckPolicies(ctx, cfg, info, policies)
	if err != nil {
		return nil, err
	}
	p.Warnings = append(p.Warnings, warnings...)

	if freeSpace == nil {
		freeSpace = probe.FreeSpaceGB
	}
	if free, err := freeSpace(cfg.InstallDirectory); err == nil && free < p.EstimatedSizeGB {
		p.Warnings = append(p.Warnings, fmt.Sprintf("Only %.1fGB free for an estimated ~%vGB installation", free, p.EstimatedSizeGB))
	}

	return p, nil
}

// CheckPolicies evaluates cfg against the policy engine and returns the
// finding messages. Blocking findings reject the plan.
func CheckPolicies(ctx context.Context, cfg engine.InstallConfig, info engine.SystemInfo, policies *policy.Engine) ([]string, error) {
	if policies == nil {
		return nil, nil
	}
	res, err := policies.EvaluatePlan(ctx, &policy.PlanInput{
		Plan:              cfg,
		System:            info,
		EstimatedSizeGB:   EstimateSizeGB(cfg),
		EstimatedMemoryGB: EstimateMemoryGB(cfg),
		Context:           &policy.PolicyContext{Timestamp: time.Now(), Operation: "preview", DryRun: cfg.Mode == engine.ModeDryRun},
	})
	if err != nil {
		return nil, err
	}

	if blocking := res.Blocking(); len(blocking) > 0 {
		msgs := make([]string, 0, len(blocking))
		names := make([]string, 0, len(blocking))
		for _, v := range blocking {
			msgs = append(msgs, v.Message)
			names = append(names, v.Policy)
		}
		return nil, engine.NewConfigurationError("install plan rejected by policy: "+strings.Join(msgs, "; "), nil).
			WithDetail("policies", names)
	}
	return res.Messages(), nil
}
