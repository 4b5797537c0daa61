package telemetry

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noxsuite/noxinstall/pkg/engine"
)

func TestMetrics_TextfileAndHandler(t *testing.T) {
	m := NewMetrics(DefaultConfig().Metrics)

	m.RecordPhase("scaffolding", "completed", time.Second)
	m.RecordStrategyAttempt("docker", "apt-get", false)
	m.RecordStrategyAttempt("docker", "containerized", true)
	m.RecordValidation(5, 4)
	m.RecordHealing(1, 0)
	m.RecordInstall("fast", "completed", time.Minute)

	path := filepath.Join(t.TempDir(), "metrics.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `noxsuite_installer_phases_total{phase="scaffolding",status="completed"} 1`)
	assert.Contains(t, text, `noxsuite_installer_dependency_strategy_attempts_total{dependency="docker",result="success",strategy="containerized"} 1`)
	assert.Contains(t, text, "noxsuite_installer_validation_failures 1")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "noxsuite_installer_installs_total")
}

func TestMetrics_DisabledIsNoop(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.RecordPhase("x", "failed", 0)
	m.RecordError("automation_fault", "")
	assert.NoError(t, m.WriteTextfile(filepath.Join(t.TempDir(), "none.prom")))
	assert.Nil(t, m.Gatherer())

	var nilMetrics *Metrics
	nilMetrics.RecordInstall("fast", "failed", 0)
}

func TestTelemetry_PhaseRecordsOutcome(t *testing.T) {
	tel := NewNop()
	defer tel.Shutdown(context.Background())

	phase := tel.StartPhase(context.Background(), "pre_checks")
	phase.End(engine.StepFailed, engine.NewValidationError("no disk", errors.New("2GB short")))

	families, err := tel.Metrics.Gatherer().Gather()
	require.NoError(t, err)

	found := map[string]bool{}
	for _, f := range families {
		found[f.GetName()] = true
	}
	assert.True(t, found["noxsuite_installer_phases_total"])
	assert.True(t, found["noxsuite_installer_errors_total"])
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Logging.Level = "chatty"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "otlp"
	assert.Error(t, cfg.Validate())

	cfg.Tracing.Endpoint = "localhost:4317"
	assert.NoError(t, cfg.Validate())
}
