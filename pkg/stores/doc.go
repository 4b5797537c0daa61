// Package stores persists installer run history in SQLite.
//
// Each installer invocation is a Run. The probed host snapshot is stored as
// Facts grouped by namespace, and every structured session record is
// appended to the audit table. History ties the three together for one run
// and can be subscribed to the telemetry event publisher:
//
//	store, err := stores.Open(ctx, filepath.Join(base, "data", "noxsuite_history.db"))
//	h, err := stores.BeginRun(ctx, store, tel.Session.SessionID(), cfg.Mode)
//	tel.Events.Subscribe(h.Record, nil)
//	...
//	_ = h.Finish(ctx, runErr)
//
// Schema changes are embedded golang-migrate migrations applied by Migrate.
package stores
