// Package telemetry provides the observability stack of an installer session.
//
// The package integrates a session logger (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus) and an in-process event publisher.
//
// # Session Logging
//
// Every installer event is written twice. A human-readable line goes to the
// console and to the session log file, and a structured JSON record prefixed
// with StructuredMarker is appended to the same file:
//
//	📦 Installing Dependencies: Resolve docker, git
//	STRUCTURED: {"event":"step_start","session_id":"3f2a9c1d","timestamp":"...","step":"installing_dependencies","description":"Resolve docker, git"}
//
// The log file is opened once in append mode and has a single writer. The
// failure auditor of a later run reads the structured records back.
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig(), os.Stdout)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
//	tel.Session.StepStart("detecting_system", "Probe host capabilities")
//	tel.Session.StepComplete("detecting_system", map[string]interface{}{"os": "linux"})
//
// # Safe Decoding
//
// Bytes of unknown origin (subprocess output, old log files) go through
// SafeDecode: UTF-8, then chardet detection, then lossy UTF-8.
//
// # Tracing and Metrics
//
// Tracing is off by default; set the exporter to "stdout" or "otlp" to
// enable it. Metrics use a private registry and are written as a textfile
// into the install directory at finalize, or served over HTTP by the monitor.
package telemetry
