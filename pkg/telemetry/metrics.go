package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for installer runs.
type Metrics struct {
	config MetricsConfig

	// Install metrics
	installsTotal   *prometheus.CounterVec
	installDuration *prometheus.HistogramVec

	// Phase metrics
	phasesTotal   *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec

	// Dependency metrics
	strategyAttempts *prometheus.CounterVec

	// Validation metrics
	validationChecks *prometheus.CounterVec
	healingResults   *prometheus.CounterVec
	lastFailures     prometheus.Gauge

	// Error metrics
	errorsByKind *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return &Metrics{config: cfg}
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		installsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "installs_total",
				Help:      "Total number of installer runs by mode and outcome",
			},
			[]string{"mode", "status"},
		),
		installDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "install_duration_seconds",
				Help:      "Duration of installer runs in seconds",
				Buckets:   buckets,
			},
			[]string{"mode"},
		),
		phasesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phases_total",
				Help:      "Total number of pipeline phases by outcome",
			},
			[]string{"phase", "status"},
		),
		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_duration_seconds",
				Help:      "Duration of pipeline phases in seconds",
				Buckets:   buckets,
			},
			[]string{"phase"},
		),
		strategyAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dependency_strategy_attempts_total",
				Help:      "Dependency install strategy attempts by outcome",
			},
			[]string{"dependency", "strategy", "result"},
		),
		validationChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validation_checks_total",
				Help:      "Post-install validation checks by result",
			},
			[]string{"result"},
		),
		healingResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "healing_results_total",
				Help:      "Auto-healing outcomes",
			},
			[]string{"result"},
		),
		lastFailures: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "validation_failures",
				Help:      "Number of failed checks in the most recent validation",
			},
		),
		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors by kind and code",
			},
			[]string{"kind", "code"},
		),
	}

	registry.MustRegister(
		m.installsTotal,
		m.installDuration,
		m.phasesTotal,
		m.phaseDuration,
		m.strategyAttempts,
		m.validationChecks,
		m.healingResults,
		m.lastFailures,
		m.errorsByKind,
	)

	return m
}

// RecordInstall records a finished installer run.
func (m *Metrics) RecordInstall(mode, status string, duration time.Duration) {
	if m == nil || m.installsTotal == nil {
		return
	}
	m.installsTotal.WithLabelValues(mode, status).Inc()
	m.installDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordPhase records a finished pipeline phase.
func (m *Metrics) RecordPhase(phase, status string, duration time.Duration) {
	if m == nil || m.phasesTotal == nil {
		return
	}
	m.phasesTotal.WithLabelValues(phase, status).Inc()
	m.phaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordStrategyAttempt records one dependency install strategy attempt.
func (m *Metrics) RecordStrategyAttempt(dependency, strategy string, ok bool) {
	if m == nil || m.strategyAttempts == nil {
		return
	}
	m.strategyAttempts.WithLabelValues(dependency, strategy, resultLabel(ok)).Inc()
}

// RecordValidation records the outcome of a validation pass.
func (m *Metrics) RecordValidation(total, passed int) {
	if m == nil || m.validationChecks == nil {
		return
	}
	m.validationChecks.WithLabelValues("passed").Add(float64(passed))
	m.validationChecks.WithLabelValues("failed").Add(float64(total - passed))
	m.lastFailures.Set(float64(total - passed))
}

// RecordHealing records auto-healing outcomes.
func (m *Metrics) RecordHealing(healed, unrecoverable int) {
	if m == nil || m.healingResults == nil {
		return
	}
	m.healingResults.WithLabelValues("healed").Add(float64(healed))
	m.healingResults.WithLabelValues("unrecoverable").Add(float64(unrecoverable))
}

// RecordError records an error by kind and optionally by code.
func (m *Metrics) RecordError(kind, code string) {
	if m == nil || m.errorsByKind == nil {
		return
	}
	m.errorsByKind.WithLabelValues(kind, code).Inc()
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Gatherer exposes the private registry, or nil when metrics are disabled.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil || m.registry == nil {
		return nil
	}
	return m.registry
}

// WriteTextfile writes the current metrics in the Prometheus text format,
// suitable for the node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || m.registry == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// NewMetricsServer builds the HTTP server exposing metrics. The caller owns
// its lifecycle.
func (m *Metrics) NewMetricsServer() *http.Server {
	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	return &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
