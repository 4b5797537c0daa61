package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/noxsuite/noxinstall/pkg/engine"
)

// Settings configures the installer itself, as opposed to the install plan.
type Settings struct {
	// LogFile is the append-only session log.
	LogFile string `yaml:"log_file" validate:"required"`

	// LogLevel is the minimum console level.
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`

	// NonInteractive answers every prompt with its default.
	NonInteractive bool `yaml:"non_interactive"`

	// AssumeYes answers every confirmation affirmatively.
	AssumeYes bool `yaml:"assume_yes"`

	// HistoryDB is the SQLite install history. Empty disables history.
	HistoryDB string `yaml:"history_db"`

	// MetricsTextfile is written into the install directory at finalize.
	MetricsTextfile string `yaml:"metrics_textfile"`

	// KnownIssuesFile optionally replaces the built-in failure categories.
	KnownIssuesFile string `yaml:"known_issues_file"`

	// PolicyDir holds additional Rego plan policies.
	PolicyDir string `yaml:"policy_dir"`

	// SourceRepository is cloned into the install directory when set.
	SourceRepository string `yaml:"source_repository" validate:"omitempty,url"`

	PreferContainerized bool `yaml:"prefer_containerized"`

	Tracing  TracingSettings `yaml:"tracing"`
	Timeouts TimeoutSettings `yaml:"timeouts"`
	Retry    RetrySettings   `yaml:"retry"`
	Monitor  MonitorSettings `yaml:"monitor"`
	Network  NetworkSettings `yaml:"network"`
}

// TracingSettings configures span export.
type TracingSettings struct {
	Exporter string `yaml:"exporter" validate:"oneof=none stdout otlp"`
	Endpoint string `yaml:"endpoint" validate:"required_if=Exporter otlp"`
	Insecure bool   `yaml:"insecure"`
}

// TimeoutSettings bounds external tool invocations.
type TimeoutSettings struct {
	Probe   time.Duration `yaml:"probe" validate:"gt=0"`
	Install time.Duration `yaml:"install" validate:"gt=0"`
	Clone   time.Duration `yaml:"clone" validate:"gt=0"`
}

// RetrySettings bounds dependency installation retries.
type RetrySettings struct {
	MaxRetries int           `yaml:"max_retries" validate:"min=1,max=10"`
	GraceDelay time.Duration `yaml:"grace_delay" validate:"gte=0"`
}

// MonitorSettings configures the monitor command.
type MonitorSettings struct {
	Interval    time.Duration `yaml:"interval" validate:"gte=1s"`
	MetricsAddr string        `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
}

// NetworkSettings configures the advisory reachability check.
type NetworkSettings struct {
	CheckHosts []string      `yaml:"check_hosts" validate:"dive,hostname_port"`
	Timeout    time.Duration `yaml:"timeout" validate:"gt=0"`
}

// DefaultSettings returns the settings used when no file is given.
func DefaultSettings() *Settings {
	return &Settings{
		LogFile:         "noxsuite_installer.log",
		LogLevel:        "info",
		HistoryDB:       "noxsuite_history.db",
		MetricsTextfile: "noxsuite_install.prom",
		KnownIssuesFile: "noxsuite_issues.json",
		Tracing: TracingSettings{
			Exporter: "none",
		},
		Timeouts: TimeoutSettings{
			Probe:   10 * time.Second,
			Install: 300 * time.Second,
			Clone:   60 * time.Second,
		},
		Retry: RetrySettings{
			MaxRetries: engine.MaxStepRetries,
			GraceDelay: 2 * time.Second,
		},
		Monitor: MonitorSettings{
			Interval: 30 * time.Second,
		},
		Network: NetworkSettings{
			CheckHosts: []string{"github.com:443", "registry-1.docker.io:443"},
			Timeout:    5 * time.Second,
		},
	}
}

// LoadSettings reads a YAML settings file over the defaults. An empty path
// returns the defaults. A missing file is an error only when explicitly named.
func LoadSettings(path string) (*Settings, error) {
	s := DefaultSettings()
	if path == "" {
		return s, s.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, engine.NewConfigurationError("settings file not found: "+path, err)
		}
		return nil, engine.NewConfigurationError("failed to read settings file", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return nil, engine.NewConfigurationError("failed to parse settings file "+path, err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the settings struct tags.
func (s *Settings) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return engine.NewConfigurationError("invalid settings: "+strings.Join(msgs, "; "), err)
		}
		return engine.NewConfigurationError("invalid settings", err)
	}
	return nil
}
