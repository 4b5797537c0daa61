package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/noxsuite/noxinstall/pkg/engine"
	"github.com/noxsuite/noxinstall/pkg/telemetry"
)

// Fact namespaces written by RecordFacts.
const (
	NamespaceSystem          = "system"
	NamespaceTools           = "tools"
	NamespacePackageManagers = "package_managers"
	NamespaceEncoding        = "encoding"
	NamespacePermissions     = "permissions"
)

// History records one installer run: the run row, the probed host facts,
// and every structured session record as an audit entry.
type History struct {
	store Store
	run   *Run

	mu       sync.Mutex
	dropped  int
	finished bool
}

// BeginRun inserts a running run for the session.
func BeginRun(ctx context.Context, store Store, sessionID string, mode engine.InstallMode) (*History, error) {
	run := &Run{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Mode:      string(mode),
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	return &History{store: store, run: run}, nil
}

// RunID returns the id of the recorded run.
func (h *History) RunID() string {
	return h.run.ID
}

// RecordPlan stores the confirmed install plan.
func (h *History) RecordPlan(ctx context.Context, cfg engine.InstallConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}
	return h.store.UpdateRunPlan(ctx, h.run.ID, cfg.InstallDirectory, string(data))
}

// RecordFacts stores the probed system snapshot as facts.
func (h *History) RecordFacts(ctx context.Context, info engine.SystemInfo) error {
	facts := map[string]map[string]interface{}{
		NamespaceSystem: {
			"os_type":         info.OSType,
			"architecture":    info.Architecture,
			"runtime_version": info.RuntimeVersion,
			"memory_gb":       info.MemoryGB,
			"cpu_cores":       info.CPUCores,
			"home_dir":        info.HomeDir,
		},
		NamespaceTools: {},
		NamespacePackageManagers: {
			"detected": info.PackageManagers,
		},
		NamespaceEncoding: {
			"utf8":             info.Encoding.UTF8,
			"console_encoding": info.Encoding.ConsoleEncoding,
			"locale":           info.Encoding.Locale,
		},
		NamespacePermissions: {
			"current_dir_writable": info.Permissions.CurrentDirWritable,
			"home_dir_writable":    info.Permissions.HomeDirWritable,
			"elevated":             info.Permissions.Elevated,
		},
	}
	for tool, ok := range info.Tools {
		facts[NamespaceTools][tool] = ok
	}

	namespaces := make([]string, 0, len(facts))
	for ns := range facts {
		namespaces = append(namespaces, ns)
	}
	sort.Strings(namespaces)

	now := time.Now().UTC()
	for _, ns := range namespaces {
		for key, value := range facts[ns] {
			raw, err := json.Marshal(value)
			if err != nil {
				return fmt.Errorf("failed to encode fact %s/%s: %w", ns, key, err)
			}
			if err := h.store.UpsertFact(ctx, &Fact{
				RunID:       h.run.ID,
				Namespace:   ns,
				Key:         key,
				Value:       string(raw),
				CollectedAt: now,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// Record persists a session event as an audit entry. It satisfies
// telemetry.EventSubscriber; write failures are logged and counted, never
// returned, so a broken history database cannot fail an installation.
func (h *History) Record(event telemetry.Event) {
	h.mu.Lock()
	done := h.finished
	h.mu.Unlock()
	if done {
		return
	}

	entry := &AuditEntry{
		RunID:     &h.run.ID,
		Event:     event.Type,
		Level:     event.Level,
		Message:   event.Message,
		Timestamp: event.Timestamp.UTC(),
	}
	if event.Step != "" {
		step := event.Step
		entry.Step = &step
	}
	if len(event.Data) > 0 {
		if raw, err := json.Marshal(event.Data); err == nil {
			details := string(raw)
			entry.Details = &details
		}
	}

	if err := h.store.CreateAuditEntry(context.Background(), entry); err != nil {
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
		log.Warn().Err(err).Str("event", event.Type).Msg("failed to record audit entry")
	}
}

// Dropped returns how many audit entries could not be written.
func (h *History) Dropped() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Finish marks the run completed, cancelled or failed depending on runErr.
func (h *History) Finish(ctx context.Context, runErr error) error {
	h.mu.Lock()
	h.finished = true
	h.mu.Unlock()

	status := StatusFor(runErr)
	var msg, kind *string
	if runErr != nil {
		m := runErr.Error()
		k := string(engine.KindOf(runErr))
		msg, kind = &m, &k
	}
	return h.store.FinishRun(ctx, h.run.ID, status, msg, kind)
}

// StatusFor maps a pipeline outcome to a run status.
func StatusFor(err error) RunStatus {
	switch {
	case err == nil:
		return RunStatusCompleted
	case engine.IsUserAbort(err), errors.Is(err, context.Canceled):
		return RunStatusCancelled
	default:
		return RunStatusFailed
	}
}
