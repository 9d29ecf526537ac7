// Package preflight provides readiness checks run before a fleet run starts.
//
// The run command calls RunAll once after loading configuration and the
// inventory; any failed check aborts the run before a worker is contacted.
// The fleet command reuses the individual checks to describe the fleet.
package preflight
