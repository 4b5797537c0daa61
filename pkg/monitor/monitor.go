// Package monitor re-validates an installation in the background.
//
// One worker goroutine validates on a fixed interval, shortly after files in
// a watched config directory change, and whenever Recheck is called. Stopping is
// cooperative: Stop sets a flag that the worker checks once per wake-up, so
// a validation already running is never interrupted.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/noxsuite/noxinstall/pkg/telemetry"
	"github.com/noxsuite/noxinstall/pkg/validate"
)

// DefaultInterval is the polling interval when none is configured.
const DefaultInterval = 30 * time.Second

const changeDebounce = 500 * time.Millisecond

// Triggers recorded on a Check.
const (
	TriggerInitial  = "initial"
	TriggerInterval = "interval"
	TriggerChange   = "change"
	TriggerPolicy   = "policy"
)

// Checker validates and heals an installation. *validate.Validator satisfies it.
type Checker interface {
	Validate(ctx context.Context) (*validate.ValidationResult, error)
	AttemptAutoHealing(ctx context.Context, failures []validate.Failure) (*validate.HealingResult, error)
}

// Check is the outcome of one monitoring pass.
type Check struct {
	At      time.Time
	Trigger string
	Result  *validate.ValidationResult
	Healing *validate.HealingResult
	Err     error
}

// Monitor runs the background validation worker.
type Monitor struct {
	checker  Checker
	tel      *telemetry.Telemetry
	logger   zerolog.Logger
	interval time.Duration
	watchDir string
	autoHeal bool
	handler  func(Check)
	server   *http.Server

	stopped atomic.Bool
	checks  atomic.Int64
	trigger chan string
	done    chan struct{}
	err     error

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	running bool
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithWatch re-validates shortly after files below dir change.
func WithWatch(dir string) Option {
	return func(m *Monitor) {
		m.watchDir = dir
	}
}

// WithAutoHeal heals failures found by a pass.
func WithAutoHeal(enabled bool) Option {
	return func(m *Monitor) {
		m.autoHeal = enabled
	}
}

// WithHandler receives every finished pass.
func WithHandler(fn func(Check)) Option {
	return func(m *Monitor) {
		m.handler = fn
	}
}

// WithMetricsServer serves metrics while the monitor runs.
func WithMetricsServer(srv *http.Server) Option {
	return func(m *Monitor) {
		m.server = srv
	}
}

// New creates a Monitor.
func New(checker Checker, tel *telemetry.Telemetry, opts ...Option) *Monitor {
	m := &Monitor{
		checker:  checker,
		tel:      tel,
		logger:   log.With().Str("component", "monitor").Logger(),
		interval: DefaultInterval,
		trigger:  make(chan string, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the worker. It returns once the watcher and the metrics
// server are set up.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("monitor already started")
	}

	if m.watchDir != "" {
		if err := m.watch(ctx); err != nil {
			return err
		}
	}

	if m.server != nil {
		go func() {
			m.logger.Info().Str("addr", m.server.Addr).Msg("Serving metrics")
			if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				m.logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	m.running = true
	go m.loop(ctx)
	return nil
}

// Stop asks the worker to exit at its next wake-up.
func (m *Monitor) Stop() {
	if m.stopped.Swap(true) {
		return
	}
	m.poke(TriggerInterval)
}

// Wait blocks until the worker has exited.
func (m *Monitor) Wait() error {
	<-m.done
	return m.err
}

// Run starts the monitor and blocks until ctx is done or Stop is called.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.Start(ctx); err != nil {
		return err
	}
	return m.Wait()
}

// Checks returns how many passes have finished.
func (m *Monitor) Checks() int64 {
	return m.checks.Load()
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)
	defer m.shutdown()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.check(ctx, TriggerInitial)
	for {
		trigger := TriggerInterval
		select {
		case <-ctx.Done():
			m.stopped.Store(true)
		case <-ticker.C:
		case trigger = <-m.trigger:
		}
		if m.stopped.Load() {
			m.logger.Info().Int64("checks", m.checks.Load()).Msg("Monitor stopped")
			return
		}
		m.check(ctx, trigger)
	}
}

func (m *Monitor) check(ctx context.Context, trigger string) {
	c := Check{At: time.Now(), Trigger: trigger}
	res, err := m.checker.Validate(ctx)
	c.Result, c.Err = res, err

	switch {
	case err != nil:
		m.logger.Warn().Err(err).Msg("Validation pass failed")
	case !res.OK():
		m.tel.Session.Warning(fmt.Sprintf("Installation check found %d problems", len(res.Failures)), map[string]interface{}{
			"trigger": trigger,
			"passed":  res.Passed,
			"total":   res.Total,
		})
		if m.autoHeal {
			c.Healing, c.Err = m.checker.AttemptAutoHealing(ctx, res.Failures)
		}
	default:
		m.logger.Debug().Str("trigger", trigger).Int("checks", res.Total).Msg("Installation healthy")
	}

	m.checks.Add(1)
	if m.handler != nil {
		m.handler(c)
	}
}

// Recheck asks for an early pass, e.g. after the policies it checks against
// were reloaded. Requests made while a pass is pending coalesce.
func (m *Monitor) Recheck(trigger string) {
	m.poke(trigger)
}

// poke wakes the worker without blocking; pending wake-ups coalesce.
func (m *Monitor) poke(trigger string) {
	select {
	case m.trigger <- trigger:
	default:
	}
}

func (m *Monitor) watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	err = filepath.WalkDir(m.watchDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", m.watchDir, err)
	}

	m.watcher = watcher
	go m.processEvents(ctx, watcher)
	m.logger.Info().Str("dir", m.watchDir).Msg("Watching configuration")
	return nil
}

func (m *Monitor) processEvents(ctx context.Context, watcher *fsnotify.Watcher) {
	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			m.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Configuration changed")
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(changeDebounce, func() { m.poke(TriggerChange) })

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (m *Monitor) shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	if m.watcher != nil {
		errs = append(errs, m.watcher.Close())
	}
	if m.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, m.server.Shutdown(ctx))
		cancel()
	}
	m.err = errors.Join(errs...)
	m.running = false
}
