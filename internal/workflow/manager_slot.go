package workflow

import (
	"context"
	"log/slog"

	"workshop/internal/fleet"
	"workshop/internal/logging"
	"workshop/internal/manifest"
	"workshop/internal/partition"
	"workshop/internal/runstore"
	"workshop/internal/services"
	"workshop/internal/stage"
	"workshop/internal/worker"
)

// runSlot walks one slot's partition in order. It returns only when the
// partition is exhausted or ctx is cancelled.
func (m *Manager) runSlot(ctx context.Context, slot fleet.Slot, jobs []manifest.Job, limit int, plan []stage.Spec, duplicates map[int]int) error {
	ctx = services.WithSlot(ctx, slot.Index)
	logger := logging.WithContext(ctx, m.logger).With(logging.String("worker", slot.Label()))
	defer m.markDone(slot.Index)

	var (
		session  *worker.Session
		setupErr error
	)
	defer func() {
		if session != nil {
			_ = session.Close()
		}
	}()

	required := stage.RequiredInputs(plan)
	for pos, job := range partition.Jobs(jobs, m.fleet.SlotCount(), slot.Index, limit) {
		if err := ctx.Err(); err != nil {
			logger.Warn("slot stopped before finishing its jobs",
				logging.String(logging.FieldEventType, "slot_cancelled"),
				logging.String(logging.FieldErrorHint, "re-run the same manifest; completed jobs are skipped"),
			)
			return err
		}
		jobCtx := services.WithJobID(ctx, job.ID)

		if err := m.checkJob(job, pos, required, duplicates); err != nil {
			m.skipJob(jobCtx, slot, pos, job, err)
			continue
		}

		if session == nil && setupErr == nil {
			session, setupErr = m.openSession(ctx, slot, logger)
		}
		if setupErr != nil {
			m.failJob(jobCtx, slot, pos, job, setupErr)
			continue
		}

		dir, err := m.processJob(jobCtx, session, pos, job, plan)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				logging.WithContext(jobCtx, m.logger).Warn("job interrupted",
					logging.String(logging.FieldEventType, "job_interrupted"),
					logging.Error(err),
				)
				m.finishAttempt(jobCtx, runstore.Attempt{Position: pos, JobID: job.ID, Status: runstore.JobFailed, ErrorKind: "internal", ErrorMessage: "run interrupted"})
				return ctxErr
			}
			m.failJob(jobCtx, slot, pos, job, err)
			continue
		}
		m.succeedJob(jobCtx, slot, pos, job, dir)
	}
	return nil
}

// openSession dials the slot's worker and provisions its references. The
// session is published for Snapshot as soon as it exists.
func (m *Manager) openSession(ctx context.Context, slot fleet.Slot, logger *slog.Logger) (*worker.Session, error) {
	session, err := m.dial(ctx, m.fleet, slot, m.logger)
	if err != nil {
		logger.Error("worker unreachable",
			logging.String(logging.FieldEventType, "worker_unreachable"),
			logging.String(logging.FieldErrorHint, "check the inventory endpoint and ssh key; this slot's jobs are recorded as failed"),
			logging.Error(err),
		)
		return nil, err
	}
	m.setSession(slot.Index, session)
	if err := session.EnsureReady(ctx); err != nil {
		logger.Error("worker setup failed",
			logging.String(logging.FieldEventType, "worker_setup_failed"),
			logging.String(logging.FieldErrorHint, "provision reference data on the worker or fix fleet.setup_command"),
			logging.Error(err),
		)
		_ = session.Close()
		m.setSession(slot.Index, nil)
		return nil, services.Wrap(services.ErrRemoteExecution, "workflow", "worker setup", slot.Label(), err)
	}
	logger.Info("worker ready",
		logging.String(logging.FieldEventType, "worker_ready"),
		logging.String("driver", string(slot.Driver)),
	)
	return session, nil
}

func (m *Manager) skipJob(ctx context.Context, slot fleet.Slot, pos int, job manifest.Job, reason error) {
	details := services.Details(reason)
	m.appendLedger(ctx, job.ID, details)
	m.finishAttempt(ctx, runstore.Attempt{Position: pos, JobID: job.ID, Status: runstore.JobSkipped, ErrorKind: details.Kind, ErrorMessage: details.Message})
	m.recordOutcome(slot.Index, outcomeSkipped, details.Message)
	logging.WithContext(ctx, m.logger).Info("job skipped",
		logging.String(logging.FieldEventType, "job_skipped"),
		logging.String("reason", details.Message),
	)
}

func (m *Manager) failJob(ctx context.Context, slot fleet.Slot, pos int, job manifest.Job, reason error) {
	details := services.Details(reason)
	m.appendLedger(ctx, job.ID, details)
	m.finishAttempt(ctx, runstore.Attempt{Position: pos, JobID: job.ID, Status: runstore.JobFailed, ErrorKind: details.Kind, ErrorMessage: details.Message})
	m.recordOutcome(slot.Index, outcomeFailed, details.Message)
	logging.WithContext(ctx, m.logger).Warn("job failed",
		logging.String(logging.FieldEventType, "job_failed"),
		logging.String("error_kind", details.Kind),
		logging.String(logging.FieldErrorHint, "see the error log; re-run the manifest after fixing the cause"),
		logging.Error(reason),
	)
}

func (m *Manager) succeedJob(ctx context.Context, slot fleet.Slot, pos int, job manifest.Job, dir string) {
	m.finishAttempt(ctx, runstore.Attempt{Position: pos, JobID: job.ID, Status: runstore.JobSucceeded, ResultDir: dir})
	m.recordOutcome(slot.Index, outcomeSucceeded, "")
	logging.WithContext(ctx, m.logger).Info("job completed",
		logging.String(logging.FieldEventType, "job_complete"),
		logging.String("result_dir", dir),
	)
}

func (m *Manager) appendLedger(ctx context.Context, jobID string, details services.ErrorDetails) {
	if err := m.ledger.Append(jobID, details.Kind, details.Message); err != nil {
		logging.WithContext(ctx, m.logger).Error("error log append failed",
			logging.String(logging.FieldEventType, "ledger_write_failed"),
			logging.String(logging.FieldErrorHint, "check free space and permissions on the output root"),
			logging.String("reason", details.Message),
			logging.Error(err),
		)
	}
}

func (m *Manager) finishAttempt(ctx context.Context, attempt runstore.Attempt) {
	if m.store == nil {
		return
	}
	attempt.RunID = m.runID
	if err := m.store.FinishAttempt(context.WithoutCancel(ctx), attempt); err != nil {
		m.storeWarning(ctx, "finish attempt", err)
	}
}
