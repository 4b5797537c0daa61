package telemetry

import (
	"context"
	"errors"
	"io"

	"go.opentelemetry.io/otel/trace"

	"github.com/noxsuite/noxinstall/pkg/engine"
)

// Telemetry bundles the session logger, tracing, metrics and events of one
// installer run. It is constructed by the entry point and passed down.
type Telemetry struct {
	Session *SessionLogger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// NewTelemetry creates a new telemetry instance from configuration.
// console receives human-readable output; nil means stdout.
func NewTelemetry(cfg *Config, console io.Writer) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	events := NewEventPublisher(cfg.Events)

	session, err := NewSessionLogger(cfg.Logging, console, events)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		_ = session.Close()
		return nil, err
	}

	return &Telemetry{
		Session: session,
		Tracer:  tracer,
		Metrics: NewMetrics(cfg.Metrics),
		Events:  events,
		Config:  cfg,
	}, nil
}

// NewNop returns telemetry that discards console output and writes no log
// file. Events are still published so callers can subscribe.
func NewNop() *Telemetry {
	cfg := DefaultConfig()
	cfg.Logging.File = ""
	tel, err := NewTelemetry(cfg, io.Discard)
	if err != nil {
		panic(err)
	}
	return tel
}

// Shutdown flushes traces and closes the session log.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.Tracer.Shutdown(ctx),
		t.Session.Close(),
	)
}

// Phase tracks one instrumented pipeline phase.
type Phase struct {
	Ctx   context.Context
	Name  string
	span  trace.Span
	timer *Timer
	tel   *Telemetry
}

// StartPhase opens a span and a timer for the named phase.
func (t *Telemetry) StartPhase(ctx context.Context, name string) *Phase {
	spanCtx, span := t.Tracer.StartPhaseSpan(ctx, name)
	return &Phase{
		Ctx:   spanCtx,
		Name:  name,
		span:  span,
		timer: NewTimer(),
		tel:   t,
	}
}

// End finishes the phase, recording its outcome on the span and in metrics.
func (p *Phase) End(status engine.StepStatus, err error) {
	if err != nil {
		p.span.SetAttributes(AttrErrorKind.String(ErrorType(err)))
		var ie *engine.InstallError
		code := ""
		if errors.As(err, &ie) {
			code = ie.Code
		}
		p.tel.Metrics.RecordError(ErrorType(err), code)
	}
	EndSpan(p.span, err)
	p.tel.Metrics.RecordPhase(p.Name, string(status), p.timer.Duration())
}
