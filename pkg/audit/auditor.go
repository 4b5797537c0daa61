// Package audit mines a previous run's session log for failures.
//
// Only structured records are considered. Each step_error record is matched
// against a table of known issue categories, producing recommendations and
// ordered recovery suggestions for the configuration wizard.
package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/noxsuite/noxinstall/pkg/telemetry"
)

// Recovery suggestions, emitted in this category order.
var categorySuggestions = []struct {
	category   Category
	suggestion string
}{
	{CategoryEncoding, "Use safe mode with encoding fallbacks"},
	{CategoryDependency, "Try containerized installation mode"},
	{CategoryPermission, "Install into the user home directory"},
	{CategoryNetwork, "Retry with backoff or use offline mode"},
}

const maxLineSize = 1024 * 1024

// FailedStep is one step_error record of a previous run.
type FailedStep struct {
	Step      string `json:"step"`
	Error     string `json:"error"`
	ErrorType string `json:"error_type"`
	Timestamp string `json:"timestamp"`
	SessionID string `json:"session_id,omitempty"`
}

// Analysis is the result of auditing a session log.
type Analysis struct {
	// LogFound is false when there was no previous log to read.
	LogFound bool `json:"log_found"`

	FailedSteps         []FailedStep     `json:"failed_steps"`
	CategoryCounts      map[Category]int `json:"error_patterns"`
	Recommendations     []string         `json:"recommendations"`
	RecoverySuggestions []string         `json:"recovery_suggestions"`

	// SkippedLines counts structured records that could not be parsed.
	SkippedLines int `json:"skipped_lines"`
}

// NewAnalysis returns a neutral analysis.
func NewAnalysis() *Analysis {
	return &Analysis{
		FailedSteps:         []FailedStep{},
		CategoryCounts:      map[Category]int{},
		Recommendations:     []string{},
		RecoverySuggestions: []string{},
	}
}

// HasFailures reports whether any failed step was found.
func (a *Analysis) HasFailures() bool {
	return a != nil && len(a.FailedSteps) > 0
}

// Matched reports whether the category matched at least once.
func (a *Analysis) Matched(c Category) bool {
	return a != nil && a.CategoryCounts[c] > 0
}

// LastFailedStep returns the most recent failed step name, or "".
func (a *Analysis) LastFailedStep() string {
	if !a.HasFailures() {
		return ""
	}
	return a.FailedSteps[len(a.FailedSteps)-1].Step
}

// Auditor classifies failures against a known-issues table.
type Auditor struct {
	issues []KnownIssue
}

// New creates an Auditor. A nil table selects DefaultKnownIssues.
func New(issues []KnownIssue) *Auditor {
	if issues == nil {
		issues = DefaultKnownIssues()
	}
	return &Auditor{issues: issues}
}

// Analyze reads the session log at path. A missing log yields a neutral
// analysis and no error. Unparseable lines are skipped.
func (a *Auditor) Analyze(path string) (*Analysis, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewAnalysis(), nil
	}
	if err != nil {
		return NewAnalysis(), fmt.Errorf("failed to open log %s: %w", path, err)
	}
	defer f.Close()

	analysis, err := a.AnalyzeReader(f)
	if analysis != nil {
		analysis.LogFound = true
	}
	return analysis, err
}

// AnalyzeReader audits log content from r.
func (a *Auditor) AnalyzeReader(r io.Reader) (*Analysis, error) {
	analysis := NewAnalysis()

	reader := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := readLine(reader)
		if len(line) > 0 {
			a.consume(analysis, telemetry.SafeDecode(line))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			a.finish(analysis)
			return analysis, fmt.Errorf("failed to read log: %w", err)
		}
	}

	a.finish(analysis)
	return analysis, nil
}

// readLine returns one line without its terminator. Lines longer than
// maxLineSize are truncated.
func readLine(r *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, isPrefix, err := r.ReadLine()
		if len(line) < maxLineSize {
			line = append(line, chunk...)
		}
		if err != nil {
			return line, err
		}
		if !isPrefix {
			return line, nil
		}
	}
}

type structuredRecord struct {
	Event     string `json:"event"`
	Step      string `json:"step"`
	Error     string `json:"error"`
	ErrorType string `json:"error_type"`
	Timestamp string `json:"timestamp"`
	SessionID string `json:"session_id"`
}

func (a *Auditor) consume(analysis *Analysis, line string) {
	marker := strings.TrimSpace(telemetry.StructuredMarker)
	idx := strings.Index(line, marker)
	if idx < 0 {
		return
	}

	var rec structuredRecord
	if err := json.Unmarshal([]byte(strings.TrimSpace(line[idx+len(marker):])), &rec); err != nil {
		analysis.SkippedLines++
		return
	}
	if rec.Event != telemetry.EventStepError {
		return
	}

	step := rec.Step
	if step == "" {
		step = "unknown"
	}
	analysis.FailedSteps = append(analysis.FailedSteps, FailedStep{
		Step:      step,
		Error:     rec.Error,
		ErrorType: rec.ErrorType,
		Timestamp: rec.Timestamp,
		SessionID: rec.SessionID,
	})

	lower := strings.ToLower(rec.Error)
	for _, issue := range a.issues {
		if _, ok := issue.match(lower); !ok {
			continue
		}
		analysis.CategoryCounts[issue.Category]++
		for _, solution := range issue.Solutions {
			addUnique(&analysis.Recommendations, fmt.Sprintf("For %s: Try %s", issue.Category, solution))
		}
	}
}

func (a *Auditor) finish(analysis *Analysis) {
	if !analysis.HasFailures() {
		return
	}
	analysis.RecoverySuggestions = append(analysis.RecoverySuggestions,
		"Resume from step: "+analysis.LastFailedStep())
	for _, cs := range categorySuggestions {
		if analysis.Matched(cs.category) {
			analysis.RecoverySuggestions = append(analysis.RecoverySuggestions, cs.suggestion)
		}
	}
}

func addUnique(list *[]string, s string) {
	for _, existing := range *list {
		if existing == s {
			return
		}
	}
	*list = append(*list, s)
}
