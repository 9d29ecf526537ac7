// Package runstore records driver runs and per-job attempts in SQLite.
//
// The store is a history for operators, not a source of truth: whether a job
// still needs processing is decided by the presence of its result directory.
// Each run row carries the manifest, output root and stage selection, and each
// attempt row tracks a job's slot, current stage and final outcome so `workshop
// status` can show progress while a run is in flight.
//
// Schema changes bump schemaVersion in schema.go. Opening a history with an
// older schema moves it aside as runs.db.v<N> and starts a new one; a newer
// schema is refused so an older binary never rewrites it.
package runstore
