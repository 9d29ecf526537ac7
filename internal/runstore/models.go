package runstore

import (
	"strings"
	"time"
)

// RunStatus is the lifecycle of a driver run.
type RunStatus string

const (
	RunRunning     RunStatus = "running"
	RunCompleted   RunStatus = "completed"
	RunInterrupted RunStatus = "interrupted"
)

// JobStatus is the lifecycle of one job attempt.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobSucceeded  JobStatus = "succeeded"
	JobFailed     JobStatus = "failed"
	JobSkipped    JobStatus = "skipped"
)

// IsTerminal reports whether an attempt has concluded.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobSkipped:
		return true
	}
	return false
}

// Run is one invocation of the driver.
type Run struct {
	ID         string
	Manifest   string
	OutputRoot string
	Operator   string
	Slots      int
	Stages     []string
	Status     RunStatus
	Totals     Totals
	StartedAt  time.Time
	FinishedAt time.Time
}

// Totals counts job outcomes for a run.
type Totals struct {
	Jobs      int
	Succeeded int
	Failed    int
	Skipped   int
}

// Attempt is one job's processing within a run.
type Attempt struct {
	RunID        string
	Position     int
	JobID        string
	Slot         int
	Worker       string
	Status       JobStatus
	Stage        string
	ErrorKind    string
	ErrorMessage string
	ResultDir    string
	StartedAt    time.Time
	UpdatedAt    time.Time
	FinishedAt   time.Time
}

func joinStages(stages []string) string {
	return strings.Join(stages, ",")
}

func splitStages(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return strings.Split(value, ",")
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value *string) time.Time {
	if value == nil || *value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, *value)
	if err != nil {
		return time.Time{}
	}
	return t
}
