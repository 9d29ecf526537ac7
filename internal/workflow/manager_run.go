package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"workshop/internal/logging"
	"workshop/internal/manifest"
	"workshop/internal/partition"
	"workshop/internal/runstore"
	"workshop/internal/services"
	"workshop/internal/stage"
)

// Summary reports the outcome of a run.
type Summary struct {
	RunID      string
	Jobs       int
	Succeeded  int
	Failed     int
	Skipped    int
	Slots      []SlotSummary
	Stages     []stage.Name
	LedgerPath string
	Duration   time.Duration
}

// SlotSummary reports one slot's share of a run.
type SlotSummary struct {
	Index     int
	Worker    string
	Assigned  int
	Succeeded int
	Failed    int
	Skipped   int
}

// Run processes jobs across the fleet and returns when every slot finished
// its partition. Only configuration problems and cancellation are returned as
// errors; per-job failures are in the ledger and the summary.
func (m *Manager) Run(ctx context.Context, manifestPath string, jobs []manifest.Job) (Summary, error) {
	started := m.now()
	plan, err := BuildPlan(m.cfg)
	if err != nil {
		return Summary{}, services.Wrap(services.ErrConfiguration, "workflow", "plan stages", "", err)
	}
	slots := m.fleet.Slots()
	if len(slots) == 0 {
		return Summary{}, services.Wrap(services.ErrConfiguration, "workflow", "start run", "fleet has no workers", nil)
	}

	limit := m.cfg.Workflow.Limit
	total := partition.Limit(len(jobs), limit)
	duplicates := duplicatePositions(jobs[:total])

	ctx = services.WithRunID(ctx, m.runID)
	logger := logging.WithContext(ctx, m.logger)
	logger.Info("run started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.String("manifest", manifestPath),
		logging.Int("jobs", total),
		logging.Int("manifest_rows", len(jobs)),
		logging.Int("slots", len(slots)),
		logging.Strings("stages", stageStrings(plan)),
	)

	m.initSlots(slots, total)
	m.recordRunStart(ctx, manifestPath, plan, jobs[:total])

	var g errgroup.Group
	for _, slot := range slots {
		g.Go(func() error {
			return m.runSlot(ctx, slot, jobs, limit, plan, duplicates)
		})
	}
	runErr := g.Wait()

	summary := m.summarize(plan, total)
	summary.Duration = m.now().Sub(started)
	status := runstore.RunCompleted
	if runErr != nil {
		status = runstore.RunInterrupted
	}
	m.recordRunFinish(ctx, status, summary)

	logger.Info("run finished",
		logging.String(logging.FieldEventType, "run_complete"),
		logging.Int("succeeded", summary.Succeeded),
		logging.Int("failed", summary.Failed),
		logging.Int("skipped", summary.Skipped),
		logging.Duration("duration", summary.Duration),
	)
	if runErr != nil {
		return summary, fmt.Errorf("run interrupted: %w", runErr)
	}
	return summary, nil
}

// duplicatePositions returns positions whose job id already appeared earlier.
func duplicatePositions(jobs []manifest.Job) map[int]int {
	first := make(map[string]int, len(jobs))
	dups := make(map[int]int)
	for i, job := range jobs {
		if prev, seen := first[job.ID]; seen {
			dups[i] = prev
			continue
		}
		first[job.ID] = i
	}
	return dups
}

func stageStrings(plan []stage.Spec) []string {
	names := make([]string, 0, len(plan))
	for _, spec := range plan {
		names = append(names, string(spec.Name))
	}
	return names
}

func (m *Manager) recordRunStart(ctx context.Context, manifestPath string, plan []stage.Spec, jobs []manifest.Job) {
	if m.store == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	slots := m.fleet.Slots()
	err := m.store.CreateRun(ctx, runstore.Run{
		ID:         m.runID,
		Manifest:   manifestPath,
		OutputRoot: m.collector.Root(),
		Operator:   m.cfg.Workflow.Operator,
		Slots:      len(slots),
		Stages:     stageStrings(plan),
		Totals:     runstore.Totals{Jobs: len(jobs)},
	})
	if err == nil {
		attempts := make([]runstore.Attempt, 0, len(jobs))
		for pos, job := range jobs {
			slot := slots[partition.Assign(pos, len(slots))]
			attempts = append(attempts, runstore.Attempt{
				RunID:    m.runID,
				Position: pos,
				JobID:    job.ID,
				Slot:     slot.Index,
				Worker:   slot.Label(),
			})
		}
		err = m.store.AddAttempts(ctx, attempts)
	}
	if err != nil {
		m.storeWarning(ctx, "record run start", err)
	}
}

func (m *Manager) recordRunFinish(ctx context.Context, status runstore.RunStatus, summary Summary) {
	if m.store == nil {
		return
	}
	totals := runstore.Totals{Jobs: summary.Jobs, Succeeded: summary.Succeeded, Failed: summary.Failed, Skipped: summary.Skipped}
	if err := m.store.FinishRun(context.WithoutCancel(ctx), m.runID, status, totals); err != nil {
		m.storeWarning(ctx, "record run finish", err)
	}
}

func (m *Manager) storeWarning(ctx context.Context, op string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	logging.WithContext(ctx, m.logger).Warn("run history update failed",
		logging.String("operation", op),
		logging.String(logging.FieldEventType, "runstore_write_failed"),
		logging.String(logging.FieldErrorHint, "processing continues; `workshop status` may be incomplete for this run"),
		logging.Error(err),
	)
}
