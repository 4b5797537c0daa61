package engine

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// MaxStepRetries bounds how often a single step may be retried.
const MaxStepRetries = 3

// EncodingSupport describes what the host console can render.
type EncodingSupport struct {
	// UTF8 is true when the console and locale can handle UTF-8 output.
	UTF8 bool `json:"utf8"`

	// ConsoleEncoding is the detected console encoding name.
	ConsoleEncoding string `json:"console_encoding"`

	// Locale is the raw locale string (LANG/LC_ALL on Unix).
	Locale string `json:"locale,omitempty"`
}

// PermissionSupport describes what the current user may write to.
type PermissionSupport struct {
	CurrentDirWritable bool `json:"current_dir_writable"`
	HomeDirWritable    bool `json:"home_dir_writable"`
	Elevated           bool `json:"elevated"`
}

// SystemInfo is an immutable snapshot of host capabilities.
// It is produced exactly once per run by the system probe.
type SystemInfo struct {
	// OSType is the operating system family.
	OSType OSType `json:"os_type"`

	// Architecture is the CPU architecture (GOARCH).
	Architecture string `json:"architecture"`

	// RuntimeVersion is the version of the runtime the installer was built with.
	RuntimeVersion string `json:"runtime_version"`

	// MemoryGB is the total memory in gigabytes. Never zero; falls back to a default.
	MemoryGB float64 `json:"memory_gb"`

	// CPUCores is the number of logical CPUs.
	CPUCores int `json:"cpu_cores"`

	// HomeDir is the current user's home directory.
	HomeDir string `json:"home_dir"`

	// Tools maps a tool name to whether it answered a version probe.
	Tools map[string]bool `json:"tools"`

	// PackageManagers lists detected package managers in probe order.
	PackageManagers []string `json:"package_managers"`

	// Encoding describes console encoding support.
	Encoding EncodingSupport `json:"encoding"`

	// Permissions describes write and elevation rights.
	Permissions PermissionSupport `json:"permissions"`
}

// ToolAvailable returns true if the named tool was detected.
func (s SystemInfo) ToolAvailable(name string) bool {
	return s.Tools[name]
}

// HasPackageManager returns true if the named package manager was detected.
func (s SystemInfo) HasPackageManager(name string) bool {
	return slices.Contains(s.PackageManagers, name)
}

// InstallConfig is the confirmed install plan. It is created once by the
// configuration wizard and treated as read-only afterwards.
type InstallConfig struct {
	// InstallDirectory is the absolute target directory.
	InstallDirectory string `json:"install_directory" validate:"required"`

	// Modules is the set of selected module names.
	Modules []string `json:"selected_modules" validate:"required,min=1,dive,required"`

	EnableAI     bool `json:"enable_ai"`
	EnableVoice  bool `json:"enable_voice"`
	EnableMobile bool `json:"enable_mobile"`
	DevMode      bool `json:"dev_mode"`
	AutoStart    bool `json:"auto_start"`

	// AIModels lists the selected model identifiers.
	AIModels []string `json:"ai_models" validate:"dive,required"`

	// Mode is the install mode the plan was produced for.
	Mode InstallMode `json:"installation_mode" validate:"required,oneof=guided fast dry_run safe recovery"`

	ForceReinstall bool `json:"force_reinstall"`
	BackupExisting bool `json:"backup_existing"`

	// EncodingFallback switches console output to ASCII symbols.
	EncodingFallback bool `json:"encoding_fallback,omitempty"`

	// PreferContainerized moves the containerized strategy to the front of the chain.
	PreferContainerized bool `json:"prefer_containerized,omitempty"`
}

// Normalize deduplicates and sorts module and model lists.
func (c *InstallConfig) Normalize() {
	c.Modules = dedupe(c.Modules)
	c.AIModels = dedupeStable(c.AIModels)
}

// HasModule returns true if the named module is selected.
func (c *InstallConfig) HasModule(name string) bool {
	return slices.Contains(c.Modules, name)
}

// Validate checks the plan for structural and cross-field consistency.
func (c *InstallConfig) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return NewConfigurationError("install plan is incomplete", err)
	}
	if c.EnableVoice && !c.EnableAI {
		return NewConfigurationError("voice requires AI to be enabled", nil)
	}
	if len(c.AIModels) > 0 && !c.EnableAI {
		return NewConfigurationError("AI models selected while AI is disabled", nil).
			WithDetail("models", c.AIModels)
	}
	if c.Mode == ModeSafe && (c.EnableAI || c.AutoStart) {
		return NewConfigurationError("safe mode must not enable AI or auto-start", nil)
	}
	return nil
}

func dedupe(in []string) []string {
	out := dedupeStable(in)
	sort.Strings(out)
	return out
}

func dedupeStable(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// InstallStep records the lifecycle of one pipeline phase.
// It is mutated only by the pipeline driver and is never persisted.
type InstallStep struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Status      StepStatus `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`

	// DependsOn lists step names that must complete first.
	DependsOn []string `json:"depends_on,omitempty"`

	// CleanupActions names the cleanup performed if the step fails.
	CleanupActions []string `json:"cleanup_actions,omitempty"`
}

// NewInstallStep creates a pending step.
func NewInstallStep(name, description string, dependsOn ...string) *InstallStep {
	return &InstallStep{
		Name:        name,
		Description: description,
		Status:      StepPending,
		MaxRetries:  MaxStepRetries,
		DependsOn:   dependsOn,
	}
}

// Transition moves the step to next, enforcing the lifecycle state machine.
func (s *InstallStep) Transition(next StepStatus) error {
	if !s.Status.CanTransition(next) {
		return fmt.Errorf("step %s: invalid transition %s -> %s", s.Name, s.Status, next)
	}
	now := time.Now()
	switch next {
	case StepRunning:
		if s.StartedAt == nil {
			s.StartedAt = &now
		}
	case StepCompleted, StepFailed, StepSkipped:
		s.EndedAt = &now
	}
	s.Status = next
	return nil
}

// Start marks the step as running.
func (s *InstallStep) Start() error {
	return s.Transition(StepRunning)
}

// Complete marks the step as completed.
func (s *InstallStep) Complete() error {
	return s.Transition(StepCompleted)
}

// Skip marks the step as skipped.
func (s *InstallStep) Skip() error {
	return s.Transition(StepSkipped)
}

// Fail marks the step as failed and records the error text.
func (s *InstallStep) Fail(err error) error {
	if err != nil {
		s.Error = err.Error()
	}
	return s.Transition(StepFailed)
}

// Retry moves a running step to retrying if the retry budget allows it.
// It returns false once MaxRetries has been reached.
func (s *InstallStep) Retry() bool {
	if s.RetryCount >= s.MaxRetries {
		return false
	}
	if err := s.Transition(StepRetrying); err != nil {
		return false
	}
	s.RetryCount++
	return true
}

// Duration returns how long the step ran, or zero if it has not finished.
func (s *InstallStep) Duration() time.Duration {
	if s.StartedAt == nil || s.EndedAt == nil {
		return 0
	}
	return s.EndedAt.Sub(*s.StartedAt)
}
