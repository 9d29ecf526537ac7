package workflow

import (
	"context"
	"fmt"

	"workshop/internal/logging"
	"workshop/internal/manifest"
	"workshop/internal/results"
	"workshop/internal/services"
	"workshop/internal/stage"
	"workshop/internal/worker"
)

// processJob takes a job that passed its preconditions from reset to a
// committed result directory. The worker is back in Ready (or Unknown after
// a failed reset) when it returns.
func (m *Manager) processJob(ctx context.Context, session *worker.Session, pos int, job manifest.Job, plan []stage.Spec) (string, error) {
	slotIndex := session.Slot().Index
	defer m.setCurrent(slotIndex, "", "")
	defer session.EndJob()

	m.setCurrent(slotIndex, job.ID, "")
	if m.store != nil {
		if err := m.store.StartAttempt(ctx, m.runID, pos); err != nil {
			m.storeWarning(ctx, "start attempt", err)
		}
	}
	record := results.NewRecord(m.cfg.Workflow.Operator, m.now(), job.Inputs)
	logging.WithContext(ctx, m.logger).Info("job started",
		logging.String(logging.FieldEventType, "job_start"),
		logging.String("worker", session.Slot().Label()),
		logging.Int("inputs", len(job.Inputs)),
	)

	if err := session.Reset(ctx, stage.ContainerNames()); err != nil {
		return "", err
	}
	if err := session.Advance(worker.StateStaging); err != nil {
		return "", err
	}
	if err := m.stageInputs(ctx, session, job); err != nil {
		return "", err
	}

	if err := session.Advance(worker.StateExecuting); err != nil {
		return "", err
	}
	for _, spec := range plan {
		m.setCurrent(slotIndex, job.ID, spec.Name)
		if m.store != nil {
			if err := m.store.UpdateStage(ctx, m.runID, pos, string(spec.Name)); err != nil {
				m.storeWarning(ctx, "update stage", err)
			}
		}
		result, err := m.runner.Run(services.WithStage(ctx, string(spec.Name)), session, spec, job)
		if err != nil {
			return "", err
		}
		record.AddPipeline(result.Image)
	}

	if err := session.Advance(worker.StateCollecting); err != nil {
		return "", err
	}
	m.setCurrent(slotIndex, job.ID, "")
	pub := m.collector.Begin(job.ID)
	dir, err := m.publish(ctx, session, pub, plan, record)
	if err != nil {
		pub.Abort()
		return "", err
	}
	m.mirrorResults(ctx, job.ID, dir)
	return dir, nil
}

// stageInputs copies job inputs into the worker's samples directory, leaving
// files that are already there.
func (m *Manager) stageInputs(ctx context.Context, session *worker.Session, job manifest.Job) error {
	logger := logging.WithContext(ctx, m.logger)
	for _, input := range job.Inputs {
		dest := session.Layout().Sample(stage.SampleName(input))
		present, err := session.Exists(ctx, dest)
		if err != nil {
			return err
		}
		if present {
			logger.Debug("input already staged", logging.String("path", dest))
			continue
		}
		if err := session.Put(ctx, input, dest); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) publish(ctx context.Context, session *worker.Session, pub *results.Publication, plan []stage.Spec, record results.Record) (string, error) {
	if err := pub.Collect(ctx, session, plan); err != nil {
		return "", err
	}
	record.Finish(m.now())
	if err := pub.WriteProvenance(record); err != nil {
		return "", err
	}
	return pub.Commit()
}

// mirrorResults uploads a committed job. The local result directory is the
// record of completion, so a failed upload is ledgered but the job stands.
func (m *Manager) mirrorResults(ctx context.Context, jobID, dir string) {
	if m.mirror == nil {
		return
	}
	if err := m.mirror.Upload(ctx, jobID, dir); err != nil {
		details := services.Details(err)
		details.Message = fmt.Sprintf("results committed but mirror upload failed: %s", details.Message)
		m.appendLedger(ctx, jobID, details)
		logging.WithContext(ctx, m.logger).Warn("mirror upload failed",
			logging.String(logging.FieldEventType, "mirror_failed"),
			logging.String(logging.FieldErrorHint, "upload the result directory manually or re-run after removing it"),
			logging.Error(err),
		)
	}
}
