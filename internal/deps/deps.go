package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"workshop/internal/config"
	"workshop/internal/fleet"
)

// Requirement defines an external binary the driver host relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Requirements lists the binaries the driver host needs for slots. Remote
// workers run their commands over ssh, so a remote-only fleet needs nothing.
func Requirements(cfg *config.Config, slots []fleet.Slot) []Requirement {
	for _, slot := range slots {
		if slot.Driver != fleet.DriverLocal {
			continue
		}
		return []Requirement{
			{
				Name:        "sh",
				Command:     "sh",
				Description: "Runs worker commands for local workers",
			},
			{
				Name:        "Docker",
				Command:     cfg.Fleet.DockerBinary,
				Description: "Runs stage containers for local workers",
			},
		}
	}
	return nil
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		switch {
		case cmd == "":
			status.Detail = "command not configured"
		default:
			if _, err := exec.LookPath(cmd); err != nil {
				status.Detail = fmt.Sprintf("binary %q not found", cmd)
			} else {
				status.Available = true
			}
		}
		results = append(results, status)
	}
	return results
}

// Missing returns the required statuses that are unavailable.
func Missing(statuses []Status) []Status {
	var out []Status
	for _, s := range statuses {
		if !s.Available && !s.Optional {
			out = append(out, s)
		}
	}
	return out
}
