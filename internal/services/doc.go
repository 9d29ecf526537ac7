// Package services defines shared utilities consumed by the orchestrator, the
// worker drivers, and the stage runner.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, job IDs, worker slots, and stage
//     names for logging.
//   - Structured error markers plus the Wrap helper that classify failures
//     into the run's error taxonomy (fatal manifest/configuration problems vs
//     per-job precondition, transfer, remote execution, and stage failures).
//
// Use these helpers when wiring new per-job logic so failure reporting stays
// uniform across the ledger, the run store, and the logs.
package services
