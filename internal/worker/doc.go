// Package worker manages one machine in the fleet for the duration of a run.
//
// A Session pairs a fleet slot with a Transport (ssh or local) and owns the
// slot's MachineState. Only the session moves the state: Reset takes an
// Unknown or Ready machine through Resetting back to Ready, Advance moves a
// job forward through Staging, Executing and Collecting, and EndJob returns
// the machine to Ready once the job has concluded either way.
//
// Remote failures are reported with the services error markers so callers
// can distinguish command failures (ErrRemoteExecution), copy failures
// (ErrTransfer) and expired deadlines (ErrTimeout).
package worker
