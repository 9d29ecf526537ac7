// Package logging assembles structured slog loggers and formatting helpers used
// across workshop.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so per-job code automatically
// tags log lines with run IDs, job IDs, worker slots, and stage names. The
// package also provides a no-op logger for tests and wiring code that cannot
// fail.
package logging
