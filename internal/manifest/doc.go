// Package manifest reads the tab-delimited sample manifest into an ordered
// list of jobs.
//
// Only the "Submitter Sample ID" and "File Path" columns are interpreted;
// every other column is ignored. File existence is deliberately not checked
// here: that is a per-job precondition evaluated by the workflow so that a
// single bad row never stops the batch.
package manifest
