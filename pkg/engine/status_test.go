package engine

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInstallMode(t *testing.T) {
	tests := []struct {
		token string
		want  InstallMode
		ok    bool
	}{
		{"fast", ModeFast, true},
		{"guided", ModeGuided, true},
		{"dry-run", ModeDryRun, true},
		{"dry_run", ModeDryRun, true},
		{"SAFE", ModeSafe, true},
		{"recovery", ModeRecovery, true},
		{"turbo", ModeGuided, false},
		{"", ModeGuided, false},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got, ok := ParseInstallMode(tt.token)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestStepStatus_Transitions(t *testing.T) {
	assert.True(t, StepPending.CanTransition(StepRunning))
	assert.True(t, StepRunning.CanTransition(StepRetrying))
	assert.True(t, StepRetrying.CanTransition(StepRunning))
	assert.False(t, StepCompleted.CanTransition(StepRunning))
	assert.False(t, StepPending.CanTransition(StepCompleted))
	assert.False(t, StepRetrying.CanTransition(StepCompleted))
}

func TestStepStatus_UnmarshalRejectsUnknown(t *testing.T) {
	var s StepStatus
	require.NoError(t, json.Unmarshal([]byte(`"retrying"`), &s))
	assert.Equal(t, StepRetrying, s)
	assert.Error(t, json.Unmarshal([]byte(`"exploded"`), &s))
}

func TestInstallStep_RetryBounded(t *testing.T) {
	step := NewInstallStep("installing_dependencies", "Install dependencies")
	require.NoError(t, step.Start())

	for i := 0; i < MaxStepRetries; i++ {
		require.True(t, step.Retry())
		require.NoError(t, step.Start())
	}
	assert.False(t, step.Retry())
	assert.Equal(t, MaxStepRetries, step.RetryCount)

	require.NoError(t, step.Fail(errors.New("gave up")))
	assert.Equal(t, StepFailed, step.Status)
	assert.Equal(t, "gave up", step.Error)
	assert.NotNil(t, step.EndedAt)
	assert.Error(t, step.Start())
}

func TestInstallConfig_Validate(t *testing.T) {
	base := func() InstallConfig {
		return InstallConfig{
			InstallDirectory: "/tmp/noxsuite",
			Modules:          []string{"noxpanel", "noxguard", "noxpanel"},
			Mode:             ModeFast,
		}
	}

	t.Run("valid", func(t *testing.T) {
		cfg := base()
		cfg.Normalize()
		assert.Equal(t, []string{"noxguard", "noxpanel"}, cfg.Modules)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("voice without ai", func(t *testing.T) {
		cfg := base()
		cfg.EnableVoice = true
		err := cfg.Validate()
		assert.True(t, IsConfiguration(err))
	})

	t.Run("models without ai", func(t *testing.T) {
		cfg := base()
		cfg.AIModels = []string{"phi"}
		assert.True(t, IsConfiguration(cfg.Validate()))
	})

	t.Run("missing directory", func(t *testing.T) {
		cfg := base()
		cfg.InstallDirectory = ""
		assert.True(t, IsConfiguration(cfg.Validate()))
	})

	t.Run("unknown mode", func(t *testing.T) {
		cfg := base()
		cfg.Mode = "turbo"
		assert.True(t, IsConfiguration(cfg.Validate()))
	})

	t.Run("safe with ai", func(t *testing.T) {
		cfg := base()
		cfg.Mode = ModeSafe
		cfg.EnableAI = true
		assert.True(t, IsConfiguration(cfg.Validate()))
	})
}
