// Package results publishes a job's collected outputs under the output root.
//
// A Publication gathers stage output directories from a worker into a hidden
// staging directory next to the final location, writes the provenance record
// into it, and commits by renaming it to <output_root>/<job_id>. The staging
// directory is created only when the first artifact is retrieved, and a
// publication that is aborted removes it, so a job directory either exists
// complete or not at all. The existence of that directory is what marks a job
// as processed on later runs.
package results
