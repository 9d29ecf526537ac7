package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"workshop/internal/config"
)

// Store manages run history backed by SQLite.
type Store struct {
	db       *sql.DB
	path     string
	archived string
	now      func() time.Time
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// ErrNotFound is returned when a requested run does not exist.
var ErrNotFound = errors.New("run not found")

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = min(delay*2, busyRetryMaxBackoff)
	}
	return lastErr
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// Open initializes or connects to the run database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.RunStorePath())
}

// OpenPath opens the database at dbPath. A history written with an older
// schema is moved to ArchivePath and a fresh one is created in its place.
func OpenPath(dbPath string) (*Store, error) {
	store, err := openStore(dbPath)
	var outdated *outdatedSchemaError
	if !errors.As(err, &outdated) {
		return store, err
	}
	archive, err := archiveHistory(dbPath, outdated.version)
	if err != nil {
		return nil, err
	}
	store, err = openStore(dbPath)
	if err != nil {
		return nil, err
	}
	store.archived = archive
	return store, nil
}

func openStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath, now: time.Now}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Archived returns where an outdated history was moved on open, or "".
func (s *Store) Archived() string { return s.archived }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateRun inserts a new running run.
func (s *Store) CreateRun(ctx context.Context, run Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = s.now()
	}
	_, err := s.exec(ctx, `INSERT INTO runs
		(id, manifest, output_root, operator, slots, stages, status, total_jobs, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Manifest, run.OutputRoot, run.Operator, run.Slots, joinStages(run.Stages),
		RunRunning, run.Totals.Jobs, formatTime(run.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// FinishRun stores the final status and totals.
func (s *Store) FinishRun(ctx context.Context, runID string, status RunStatus, totals Totals) error {
	res, err := s.exec(ctx, `UPDATE runs
		SET status = ?, total_jobs = ?, succeeded = ?, failed = ?, skipped = ?, finished_at = ?
		WHERE id = ?`,
		status, totals.Jobs, totals.Succeeded, totals.Failed, totals.Skipped, formatTime(s.now()), runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// MarkInterrupted flags runs left running by a process that died, and closes
// their in-flight attempts. It returns the number of runs updated.
func (s *Store) MarkInterrupted(ctx context.Context) (int, error) {
	now := formatTime(s.now())
	if _, err := s.exec(ctx, `UPDATE job_attempts
		SET status = ?, error_kind = 'internal', error_message = 'run interrupted', updated_at = ?, finished_at = ?
		WHERE status IN (?, ?) AND run_id IN (SELECT id FROM runs WHERE status = ?)`,
		JobFailed, now, now, JobPending, JobProcessing, RunRunning,
	); err != nil {
		return 0, fmt.Errorf("close interrupted attempts: %w", err)
	}
	res, err := s.exec(ctx, `UPDATE runs SET status = ?, finished_at = ? WHERE status = ?`,
		RunInterrupted, now, RunRunning)
	if err != nil {
		return 0, fmt.Errorf("mark interrupted runs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// GetRun loads one run.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, runSelect+` WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", runID, ErrNotFound)
	}
	return run, err
}

// LatestRun returns the most recently started run.
func (s *Store) LatestRun(ctx context.Context) (*Run, error) {
	row := s.db.QueryRowContext(ctx, runSelect+` ORDER BY started_at DESC LIMIT 1`)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// ListRuns returns up to limit runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, runSelect+` ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

const runSelect = `SELECT id, manifest, output_root, operator, slots, stages, status,
	total_jobs, succeeded, failed, skipped, started_at, finished_at FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		run      Run
		stages   string
		started  *string
		finished *string
	)
	if err := row.Scan(&run.ID, &run.Manifest, &run.OutputRoot, &run.Operator, &run.Slots, &stages, &run.Status,
		&run.Totals.Jobs, &run.Totals.Succeeded, &run.Totals.Failed, &run.Totals.Skipped, &started, &finished); err != nil {
		return nil, err
	}
	run.Stages = splitStages(stages)
	run.StartedAt = parseTime(started)
	run.FinishedAt = parseTime(finished)
	return &run, nil
}
