package runstore

import (
	"context"
	"fmt"
)

// AddAttempts registers the jobs assigned in a run as pending.
func (s *Store) AddAttempts(ctx context.Context, attempts []Attempt) error {
	if len(attempts) == 0 {
		return nil
	}
	now := formatTime(s.now())
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO job_attempts
			(run_id, position, job_id, slot, worker, status, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, a := range attempts {
			if _, err := stmt.ExecContext(ctx, a.RunID, a.Position, a.JobID, a.Slot, a.Worker, JobPending, now); err != nil {
				return fmt.Errorf("add attempt %s: %w", a.JobID, err)
			}
		}
		return tx.Commit()
	})
}

// StartAttempt marks a job as processing.
func (s *Store) StartAttempt(ctx context.Context, runID string, position int) error {
	now := formatTime(s.now())
	_, err := s.exec(ctx, `UPDATE job_attempts SET status = ?, started_at = ?, updated_at = ?
		WHERE run_id = ? AND position = ?`, JobProcessing, now, now, runID, position)
	if err != nil {
		return fmt.Errorf("start attempt: %w", err)
	}
	return nil
}

// UpdateStage records the stage a job is currently in.
func (s *Store) UpdateStage(ctx context.Context, runID string, position int, stage string) error {
	_, err := s.exec(ctx, `UPDATE job_attempts SET stage = ?, updated_at = ?
		WHERE run_id = ? AND position = ?`, stage, formatTime(s.now()), runID, position)
	if err != nil {
		return fmt.Errorf("update attempt stage: %w", err)
	}
	return nil
}

// FinishAttempt records a job's outcome.
func (s *Store) FinishAttempt(ctx context.Context, a Attempt) error {
	if !a.Status.IsTerminal() {
		return fmt.Errorf("finish attempt %s with non-terminal status %q", a.JobID, a.Status)
	}
	now := formatTime(s.now())
	_, err := s.exec(ctx, `UPDATE job_attempts
		SET status = ?, error_kind = ?, error_message = ?, result_dir = ?, updated_at = ?, finished_at = ?
		WHERE run_id = ? AND position = ?`,
		a.Status, a.ErrorKind, a.ErrorMessage, a.ResultDir, now, now, a.RunID, a.Position)
	if err != nil {
		return fmt.Errorf("finish attempt: %w", err)
	}
	return nil
}

// Attempts lists a run's job attempts in manifest order.
func (s *Store) Attempts(ctx context.Context, runID string) ([]Attempt, error) {
	return s.queryAttempts(ctx, attemptSelect+` WHERE run_id = ? ORDER BY position`, runID)
}

// JobHistory lists every attempt for a job id across runs, newest first.
func (s *Store) JobHistory(ctx context.Context, jobID string) ([]Attempt, error) {
	return s.queryAttempts(ctx, attemptSelect+` WHERE job_id = ? ORDER BY updated_at DESC`, jobID)
}

// Counts tallies attempts in a run by status.
func (s *Store) Counts(ctx context.Context, runID string) (map[JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM job_attempts WHERE run_id = ? GROUP BY status`, runID)
	if err != nil {
		return nil, fmt.Errorf("attempt counts: %w", err)
	}
	defer rows.Close()
	counts := make(map[JobStatus]int)
	for rows.Next() {
		var (
			status JobStatus
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

const attemptSelect = `SELECT run_id, position, job_id, slot, worker, status, stage, error_kind,
	error_message, result_dir, started_at, updated_at, finished_at FROM job_attempts`

func (s *Store) queryAttempts(ctx context.Context, query string, args ...any) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()
	var attempts []Attempt
	for rows.Next() {
		var (
			a                          Attempt
			started, updated, finished *string
		)
		if err := rows.Scan(&a.RunID, &a.Position, &a.JobID, &a.Slot, &a.Worker, &a.Status, &a.Stage,
			&a.ErrorKind, &a.ErrorMessage, &a.ResultDir, &started, &updated, &finished); err != nil {
			return nil, err
		}
		a.StartedAt = parseTime(started)
		a.UpdatedAt = parseTime(updated)
		a.FinishedAt = parseTime(finished)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
