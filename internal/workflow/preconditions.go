package workflow

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"workshop/internal/manifest"
	"workshop/internal/services"
	"workshop/internal/stage"
)

// checkJob validates a job before anything touches its worker. A non-nil
// error means the job is skipped and ledgered.
func (m *Manager) checkJob(job manifest.Job, pos, required int, duplicates map[int]int) error {
	if err := validateJobID(job.ID); err != nil {
		return precondition(job, err.Error())
	}
	if first, dup := duplicates[pos]; dup {
		return precondition(job, fmt.Sprintf("duplicate job id (first listed at manifest position %d)", first+1))
	}

	processed, err := m.collector.Processed(job.ID)
	if err != nil {
		return precondition(job, err.Error())
	}
	if processed {
		return precondition(job, fmt.Sprintf("already processed: %s exists", m.collector.JobDir(job.ID)))
	}

	if len(job.Inputs) != required {
		return precondition(job, fmt.Sprintf("expected %d input files for the enabled stages, got %d", required, len(job.Inputs)))
	}

	names := make(map[string]string, len(job.Inputs))
	for _, input := range job.Inputs {
		if !filepath.IsAbs(input) {
			return precondition(job, fmt.Sprintf("input path %s is not absolute", input))
		}
		info, err := os.Stat(input)
		switch {
		case errors.Is(err, os.ErrNotExist):
			return precondition(job, fmt.Sprintf("input file missing: %s", input))
		case err != nil:
			return precondition(job, fmt.Sprintf("input file unreadable: %s: %v", input, err))
		case !info.Mode().IsRegular():
			return precondition(job, fmt.Sprintf("input %s is not a regular file", input))
		}

		name := stage.SampleName(input)
		if other, clash := names[name]; clash {
			return precondition(job, fmt.Sprintf("inputs %s and %s share the file name %s", other, input, name))
		}
		names[name] = input

		if m.cfg.Stages.RequireIDInFilename && !strings.HasPrefix(name, job.ID) {
			return precondition(job, fmt.Sprintf("input file name %s does not start with job id", name))
		}
	}
	return nil
}

func validateJobID(id string) error {
	switch {
	case id == "":
		return errors.New("job id is empty")
	case id == "." || id == "..":
		return fmt.Errorf("job id %q is not a valid directory name", id)
	case strings.HasPrefix(id, "."):
		return fmt.Errorf("job id %q must not start with a dot", id)
	case strings.ContainsAny(id, `/\`):
		return fmt.Errorf("job id %q contains a path separator", id)
	case strings.ContainsFunc(id, func(r rune) bool { return r < 0x20 || r == 0x7f }):
		return fmt.Errorf("job id %q contains control characters", id)
	}
	return nil
}

func precondition(job manifest.Job, reason string) error {
	return services.Wrap(services.ErrPrecondition, "", "", fmt.Sprintf("%s (manifest line %d)", reason, job.Row), nil)
}
