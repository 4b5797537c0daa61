package telemetry

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/noxsuite/noxinstall/pkg/engine"
)

// DefaultLogFile is the session log written in the working directory.
const DefaultLogFile = "noxsuite_installer.log"

// StructuredMarker prefixes every machine-readable record in the session log.
const StructuredMarker = "STRUCTURED: "

// symbol is a console marker with an ASCII fallback.
type symbol struct {
	emoji string
	ascii string
}

func (s symbol) pick(ascii bool) string {
	if ascii {
		return s.ascii
	}
	return s.emoji
}

// stepSymbols is keyed on the first token of a step name.
var stepSymbols = map[string]symbol{
	"detecting":   {"🔍", "[detect]"},
	"installing":  {"📦", "[install]"},
	"configuring": {"⚙️", "[config]"},
	"generating":  {"🔧", "[gen]"},
	"downloading": {"⬇️", "[download]"},
	"testing":     {"🧪", "[test]"},
	"finalizing":  {"🎯", "[final]"},
}

var (
	symbolFallback = symbol{"⚡", "[*]"}
	symbolComplete = symbol{"✅", "[OK]"}
	symbolError    = symbol{"❌", "[FAIL]"}
	symbolWarning  = symbol{"⚠️ ", "[WARN]"}
	symbolDebug    = symbol{"🐛", "[debug]"}
)

var titleCaser = cases.Title(language.English)

// SessionLogger writes every installer event twice: a human-readable line
// on the console and in the session log, and one structured JSON record
// marked with StructuredMarker in the session log.
type SessionLogger struct {
	sessionID  string
	path       string
	console    zerolog.Logger
	human      zerolog.Logger
	structured zerolog.Logger
	out        io.Writer
	file       *os.File
	events     *EventPublisher

	mu    sync.RWMutex
	ascii bool
}

// markedWriter prefixes each record written by zerolog with the structured marker.
// zerolog issues exactly one Write per event.
type markedWriter struct {
	w io.Writer
}

func (m markedWriter) Write(p []byte) (int, error) {
	buf := make([]byte, 0, len(StructuredMarker)+len(p))
	buf = append(buf, StructuredMarker...)
	buf = append(buf, p...)
	if _, err := m.w.Write(buf); err != nil {
		return 0, err
	}
	return len(p), nil
}

// NewSessionLogger opens the session log in append mode and emits the
// session_start record. console may be nil, in which case stdout is used.
func NewSessionLogger(cfg LoggingConfig, console io.Writer, events *EventPublisher) (*SessionLogger, error) {
	if console == nil {
		console = os.Stdout
	}

	var sink io.Writer = io.Discard
	var file *os.File
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open session log %s: %w", cfg.File, err)
		}
		file = f
		sink = zerolog.SyncWriter(f)
	}

	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339
	}

	level := parseLogLevel(cfg.Level)

	l := &SessionLogger{
		sessionID: uuid.New().String()[:8],
		path:      cfg.File,
		out:       console,
		file:      file,
		events:    events,
		ascii:     cfg.ASCIISymbols,
		console: zerolog.New(zerolog.ConsoleWriter{
			Out:        console,
			NoColor:    true,
			PartsOrder: []string{zerolog.MessageFieldName},
		}).Level(level),
		human: zerolog.New(zerolog.ConsoleWriter{
			Out:        sink,
			NoColor:    true,
			TimeFormat: timeFormat,
		}).With().Timestamp().Logger(),
	}
	l.structured = zerolog.New(markedWriter{w: sink})

	l.record(EventSessionStart, "", "session started", EventLevelInfo, map[string]interface{}{
		"platform": runtime.GOOS,
		"arch":     runtime.GOARCH,
		"runtime":  runtime.Version(),
	})

	return l, nil
}

// SessionID returns the short random identifier of this session.
func (l *SessionLogger) SessionID() string {
	return l.sessionID
}

// Path returns the session log path, or "" when no file sink is configured.
func (l *SessionLogger) Path() string {
	return l.path
}

// Console returns the writer human output goes to.
func (l *SessionLogger) Console() io.Writer {
	return l.out
}

// SetASCII switches console symbols between emoji and ASCII.
func (l *SessionLogger) SetASCII(ascii bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ascii = ascii
}

func (l *SessionLogger) useASCII() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ascii
}

// StepStart logs the beginning of a step.
func (l *SessionLogger) StepStart(name, description string) {
	line := fmt.Sprintf("%s %s: %s", stepSymbol(name).pick(l.useASCII()), StepTitle(name), description)
	l.console.Info().Msg(line)
	l.human.Info().Str("step", name).Msg(line)
	l.record(EventStepStart, name, description, EventLevelInfo, map[string]interface{}{
		"description": description,
	})
}

// StepComplete logs the successful end of a step.
func (l *SessionLogger) StepComplete(name string, details map[string]interface{}) {
	line := fmt.Sprintf("%s %s completed", symbolComplete.pick(l.useASCII()), StepTitle(name))
	l.console.Info().Msg(line)
	l.human.Info().Str("step", name).Msg(line)
	if details == nil {
		details = map[string]interface{}{}
	}
	l.record(EventStepComplete, name, "completed", EventLevelInfo, map[string]interface{}{
		"details": details,
	})
}

// StepError logs a failed step with its error and the error's taxonomy kind.
func (l *SessionLogger) StepError(name string, err error, context map[string]interface{}) {
	msg := "unknown error"
	if err != nil {
		msg = SafeDecode([]byte(err.Error()))
	}
	line := fmt.Sprintf("%s %s failed: %s", symbolError.pick(l.useASCII()), StepTitle(name), msg)
	l.console.Error().Msg(line)
	l.human.Error().Str("step", name).Msg(line)
	if context == nil {
		context = map[string]interface{}{}
	}
	l.record(EventStepError, name, msg, EventLevelError, map[string]interface{}{
		"error":      msg,
		"error_type": ErrorType(err),
		"context":    context,
	})
}

// Warning logs a warning. The structured record is always written.
func (l *SessionLogger) Warning(message string, context map[string]interface{}) {
	line := fmt.Sprintf("%s %s", symbolWarning.pick(l.useASCII()), message)
	l.console.Warn().Msg(line)
	l.human.Warn().Msg(line)
	if context == nil {
		context = map[string]interface{}{}
	}
	l.record(EventWarning, "", message, EventLevelWarning, map[string]interface{}{
		"message": message,
		"context": context,
	})
}

// Info logs an informational line. A structured record is written only
// when context is supplied.
func (l *SessionLogger) Info(message string, context map[string]interface{}) {
	l.console.Info().Msg(message)
	l.human.Info().Msg(message)
	if context != nil {
		l.record(EventInfo, "", message, EventLevelInfo, map[string]interface{}{
			"message": message,
			"context": context,
		})
	}
}

// Debug logs a debug line. A structured record is written only when context
// is supplied.
func (l *SessionLogger) Debug(message string, context map[string]interface{}) {
	l.console.Debug().Msg(fmt.Sprintf("%s %s", symbolDebug.pick(l.useASCII()), message))
	l.human.Debug().Msg(message)
	if context != nil {
		l.record(EventDebug, "", message, EventLevelInfo, map[string]interface{}{
			"message": message,
			"context": context,
		})
	}
}

// Close closes the session log file.
func (l *SessionLogger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func (l *SessionLogger) record(event, step, message, level string, fields map[string]interface{}) {
	now := time.Now()

	e := l.structured.Log().
		Str("event", event).
		Str("session_id", l.sessionID).
		Str("timestamp", now.Format(time.RFC3339Nano))
	if step != "" {
		e = e.Str("step", step)
	}
	e.Fields(fields).Send()

	l.events.Publish(Event{
		Timestamp: now,
		Type:      event,
		SessionID: l.sessionID,
		Step:      step,
		Message:   message,
		Level:     level,
		Data:      fields,
	})
}

// StepTitle turns a step name like "installing_dependencies" into "Installing Dependencies".
func StepTitle(name string) string {
	return titleCaser.String(strings.ReplaceAll(name, "_", " "))
}

func stepSymbol(name string) symbol {
	prefix, _, _ := strings.Cut(name, "_")
	if s, ok := stepSymbols[strings.ToLower(prefix)]; ok {
		return s
	}
	return symbolFallback
}

// ErrorType returns the taxonomy kind of err, or its Go type when it is not
// a classified installer error.
func ErrorType(err error) string {
	if err == nil {
		return ""
	}
	var ie *engine.InstallError
	if errors.As(err, &ie) {
		return string(ie.Kind)
	}
	return fmt.Sprintf("%T", err)
}

// parseLogLevel converts a string log level to zerolog.Level.
func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
