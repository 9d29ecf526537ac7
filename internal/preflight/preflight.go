package preflight

import (
	"workshop/internal/config"
	"workshop/internal/deps"
	"workshop/internal/fleet"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
	// Advisory marks a check whose failure only affects one worker. The run
	// still starts and that worker's jobs are ledgered when it cannot connect.
	Advisory bool
}

// RunAll executes the checks that apply to cfg and slots.
func RunAll(cfg *config.Config, slots []fleet.Slot) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Output root", cfg.Paths.OutputRoot),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckFleet(slots),
	}
	for _, slot := range slots {
		if slot.Driver == fleet.DriverSSH && slot.KeyPath != "" {
			results = append(results, CheckKeyFile(slot))
		}
	}
	if cfg.Storage.S3Enabled {
		results = append(results, CheckMirror(cfg.Storage))
	}
	for _, status := range deps.CheckBinaries(deps.Requirements(cfg, slots)) {
		detail := status.Command
		if !status.Available {
			detail = status.Detail
		}
		results = append(results, Result{Name: status.Name, Passed: status.Available, Detail: detail})
	}
	return results
}

// Failed returns the failed results that must stop a run.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed && !r.Advisory {
			out = append(out, r)
		}
	}
	return out
}

// Warnings returns the failed advisory results.
func Warnings(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed && r.Advisory {
			out = append(out, r)
		}
	}
	return out
}
