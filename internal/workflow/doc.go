// Package workflow drives a run: it fans jobs out to worker slots and takes
// each job through preconditions, reset, staging, stage execution and
// publication.
//
// Manager.Run starts one goroutine per fleet slot. Each slot walks the jobs
// its partition assigns it, strictly in manifest order, and never shares a
// worker with another slot. A job that fails at any point is recorded in the
// error ledger and the slot moves on to its next job; only a failed worker
// setup ends a slot early, and its remaining jobs are ledgered too. Nothing
// in the per-job path is retried: operators re-run the same manifest and
// rely on completed result directories being skipped.
//
// Progress is mirrored into the run store when one is attached, and
// Snapshot exposes live slot state for the status server.
package workflow
