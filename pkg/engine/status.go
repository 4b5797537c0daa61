package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OSType identifies the host operating system family.
type OSType string

const (
	// OSWindows is any Windows release.
	OSWindows OSType = "windows"

	// OSLinux is any Linux distribution.
	OSLinux OSType = "linux"

	// OSMacOS is Darwin/macOS.
	OSMacOS OSType = "macos"

	// OSUnknown is used when the platform could not be classified.
	OSUnknown OSType = "unknown"
)

// ParseOSType maps a GOOS value onto an OSType.
func ParseOSType(goos string) OSType {
	switch strings.ToLower(goos) {
	case "windows":
		return OSWindows
	case "linux":
		return OSLinux
	case "darwin":
		return OSMacOS
	default:
		return OSUnknown
	}
}

// IsSupported returns true for every OS the installer knows how to handle.
func (o OSType) IsSupported() bool {
	return o == OSWindows || o == OSLinux || o == OSMacOS
}

// InstallMode selects how the wizard builds the plan and how mutating phases behave.
type InstallMode string

const (
	// ModeGuided prompts for every option.
	ModeGuided InstallMode = "guided"

	// ModeFast uses the recommended defaults without prompting.
	ModeFast InstallMode = "fast"

	// ModeDryRun uses the fast defaults but never mutates anything.
	ModeDryRun InstallMode = "dry_run"

	// ModeSafe installs a minimal module set with AI and auto-start disabled.
	ModeSafe InstallMode = "safe"

	// ModeRecovery adjusts the plan from the previous run's failures.
	ModeRecovery InstallMode = "recovery"
)

// ParseInstallMode resolves a CLI mode token. Unrecognized tokens fall back to
// ModeGuided and report ok=false so the caller can warn about it.
func ParseInstallMode(token string) (InstallMode, bool) {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "guided":
		return ModeGuided, true
	case "fast":
		return ModeFast, true
	case "dry-run", "dry_run", "dryrun":
		return ModeDryRun, true
	case "safe":
		return ModeSafe, true
	case "recovery":
		return ModeRecovery, true
	default:
		return ModeGuided, false
	}
}

// IsDryRun returns true if mutating phases must only simulate.
func (m InstallMode) IsDryRun() bool {
	return m == ModeDryRun
}

// Validate checks if the mode is valid.
func (m InstallMode) Validate() error {
	switch m {
	case ModeGuided, ModeFast, ModeDryRun, ModeSafe, ModeRecovery:
		return nil
	default:
		return fmt.Errorf("invalid install mode: %s", m)
	}
}

// StepStatus represents the lifecycle state of an InstallStep.
type StepStatus string

const (
	// StepPending indicates the step has been created but not started.
	StepPending StepStatus = "pending"

	// StepRunning indicates the step is executing.
	StepRunning StepStatus = "running"

	// StepCompleted indicates the step finished successfully.
	StepCompleted StepStatus = "completed"

	// StepFailed indicates the step failed.
	StepFailed StepStatus = "failed"

	// StepSkipped indicates the step was not needed for this plan.
	StepSkipped StepStatus = "skipped"

	// StepRetrying indicates the step failed and will run again.
	StepRetrying StepStatus = "retrying"
)

// stepTransitions lists the allowed next states for every status.
var stepTransitions = map[StepStatus][]StepStatus{
	StepPending:  {StepRunning, StepSkipped},
	StepRunning:  {StepCompleted, StepFailed, StepSkipped, StepRetrying},
	StepRetrying: {StepRunning},
}

// IsTerminal returns true if the status represents a final state.
func (s StepStatus) IsTerminal() bool {
	return s == StepCompleted || s == StepFailed || s == StepSkipped
}

// CanTransition reports whether a step may move from s to next.
func (s StepStatus) CanTransition(next StepStatus) bool {
	for _, allowed := range stepTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Validate checks if the step status is valid.
func (s StepStatus) Validate() error {
	switch s {
	case StepPending, StepRunning, StepCompleted, StepFailed, StepSkipped, StepRetrying:
		return nil
	default:
		return fmt.Errorf("invalid step status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s StepStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *StepStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = StepStatus(str)
	return s.Validate()
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (m *InstallMode) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*m = InstallMode(str)
	return m.Validate()
}
