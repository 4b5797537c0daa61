package stores

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is wrapped by lookups that match no row.
var ErrNotFound = errors.New("not found")

// RunStatus represents the outcome of an installer run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status ends a run.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// Run is one installer invocation
type Run struct {
	ID               string     `json:"id"`
	SessionID        string     `json:"session_id"`
	Mode             string     `json:"mode"`
	Status           RunStatus  `json:"status"`
	InstallDirectory string     `json:"install_directory"`
	Plan             string     `json:"plan"` // JSON blob of the install plan
	Error            *string    `json:"error,omitempty"`
	ErrorKind        *string    `json:"error_kind,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Duration returns how long the run took, or zero while it is running.
func (r *Run) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// Fact is one probed host property recorded for a run
type Fact struct {
	RunID       string    `json:"run_id"`
	Namespace   string    `json:"namespace"` // e.g. "system", "tools", "package_managers"
	Key         string    `json:"key"`
	Value       string    `json:"value"` // JSON blob
	CollectedAt time.Time `json:"collected_at"`
}

// AuditEntry is one structured session record persisted for a run
type AuditEntry struct {
	ID        int64     `json:"id"`
	RunID     *string   `json:"run_id,omitempty"`
	Event     string    `json:"event"` // step_start, step_error, ...
	Step      *string   `json:"step,omitempty"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Details   *string   `json:"details,omitempty"` // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// Store defines the install history persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRunPlan(ctx context.Context, id, installDirectory, plan string) error
	FinishRun(ctx context.Context, id string, status RunStatus, errMsg, errKind *string) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	LatestRun(ctx context.Context, status *RunStatus) (*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Facts operations
	UpsertFact(ctx context.Context, fact *Fact) error
	ListFacts(ctx context.Context, runID string, namespace *string) ([]*Fact, error)

	// Audit operations
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, runID *string, event *string, limit, offset int) ([]*AuditEntry, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
