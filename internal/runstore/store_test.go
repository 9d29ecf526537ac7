package runstore_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"workshop/internal/runstore"
	"workshop/internal/testsupport"
)

func seedRun(t *testing.T, store *runstore.Store, id string, started time.Time) {
	t.Helper()
	err := store.CreateRun(context.Background(), runstore.Run{
		ID:         id,
		Manifest:   "/data/manifest.tsv",
		OutputRoot: "/data/outputs",
		Operator:   "tester",
		Slots:      2,
		Stages:     []string{"primary-analysis", "quality-control"},
		Totals:     runstore.Totals{Jobs: 2},
		StartedAt:  started,
	})
	if err != nil {
		t.Fatalf("CreateRun returned error: %v", err)
	}
	err = store.AddAttempts(context.Background(), []runstore.Attempt{
		{RunID: id, Position: 0, JobID: "A", Slot: 0, Worker: "w0"},
		{RunID: id, Position: 1, JobID: "B", Slot: 1, Worker: "w1"},
	})
	if err != nil {
		t.Fatalf("AddAttempts returned error: %v", err)
	}
}

func TestRunLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	seedRun(t, store, "run-1", time.Now().Add(-time.Minute))

	if err := store.StartAttempt(ctx, "run-1", 0); err != nil {
		t.Fatalf("StartAttempt returned error: %v", err)
	}
	if err := store.UpdateStage(ctx, "run-1", 0, "quality-control"); err != nil {
		t.Fatalf("UpdateStage returned error: %v", err)
	}
	if err := store.FinishAttempt(ctx, runstore.Attempt{RunID: "run-1", Position: 0, JobID: "A", Status: runstore.JobSucceeded, ResultDir: "/data/outputs/A"}); err != nil {
		t.Fatalf("FinishAttempt returned error: %v", err)
	}
	if err := store.FinishAttempt(ctx, runstore.Attempt{RunID: "run-1", Position: 1, JobID: "B", Status: runstore.JobProcessing}); err == nil {
		t.Fatal("expected non-terminal finish to be rejected")
	}
	if err := store.FinishAttempt(ctx, runstore.Attempt{RunID: "run-1", Position: 1, JobID: "B", Status: runstore.JobFailed, ErrorKind: "stage", ErrorMessage: "exit 3"}); err != nil {
		t.Fatalf("FinishAttempt returned error: %v", err)
	}

	attempts, err := store.Attempts(ctx, "run-1")
	if err != nil {
		t.Fatalf("Attempts returned error: %v", err)
	}
	if len(attempts) != 2 || attempts[0].Stage != "quality-control" || attempts[0].StartedAt.IsZero() {
		t.Fatalf("unexpected attempts %+v", attempts)
	}
	if attempts[1].Status != runstore.JobFailed || attempts[1].ErrorMessage != "exit 3" {
		t.Fatalf("unexpected failed attempt %+v", attempts[1])
	}

	counts, err := store.Counts(ctx, "run-1")
	if err != nil || counts[runstore.JobSucceeded] != 1 || counts[runstore.JobFailed] != 1 {
		t.Fatalf("unexpected counts %v, %v", counts, err)
	}

	if err := store.FinishRun(ctx, "run-1", runstore.RunCompleted, runstore.Totals{Jobs: 2, Succeeded: 1, Failed: 1}); err != nil {
		t.Fatalf("FinishRun returned error: %v", err)
	}
	run, err := store.LatestRun(ctx)
	if err != nil {
		t.Fatalf("LatestRun returned error: %v", err)
	}
	if run.Status != runstore.RunCompleted || run.Totals.Failed != 1 || len(run.Stages) != 2 || run.FinishedAt.IsZero() {
		t.Fatalf("unexpected run %+v", run)
	}
	if err := store.FinishRun(ctx, "missing", runstore.RunCompleted, runstore.Totals{}); !errors.Is(err, runstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	history, err := store.JobHistory(ctx, "A")
	if err != nil || len(history) != 1 || history[0].ResultDir != "/data/outputs/A" {
		t.Fatalf("unexpected history %+v, %v", history, err)
	}
}

func TestMarkInterrupted(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	seedRun(t, store, "old", time.Now().Add(-time.Hour))
	seedRun(t, store, "new", time.Now())
	if err := store.FinishRun(ctx, "new", runstore.RunCompleted, runstore.Totals{Jobs: 2}); err != nil {
		t.Fatalf("FinishRun returned error: %v", err)
	}

	n, err := store.MarkInterrupted(ctx)
	if err != nil || n != 1 {
		t.Fatalf("MarkInterrupted = %d, %v", n, err)
	}
	run, err := store.GetRun(ctx, "old")
	if err != nil || run.Status != runstore.RunInterrupted {
		t.Fatalf("unexpected run %+v, %v", run, err)
	}
	attempts, _ := store.Attempts(ctx, "old")
	for _, a := range attempts {
		if a.Status != runstore.JobFailed {
			t.Fatalf("expected interrupted attempts to be failed, got %+v", a)
		}
	}
	newAttempts, _ := store.Attempts(ctx, "new")
	if newAttempts[0].Status != runstore.JobPending {
		t.Fatalf("completed run attempts must be untouched, got %+v", newAttempts[0])
	}

	runs, err := store.ListRuns(ctx, 10)
	if err != nil || len(runs) != 2 || runs[0].ID != "new" {
		t.Fatalf("unexpected run list %+v, %v", runs, err)
	}
}

func setSchemaVersion(t *testing.T, path string, version int) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec("UPDATE schema_version SET version = ?", version); err != nil {
		t.Fatalf("set version: %v", err)
	}
}

func TestSchemaFromNewerWorkshopIsRefused(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	store, err := runstore.OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath returned error: %v", err)
	}
	_ = store.Close()
	setSchemaVersion(t, path, 99)

	_, err = runstore.OpenPath(path)
	if !errors.Is(err, runstore.ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}
	if !strings.Contains(err.Error(), "paths.state_dir") {
		t.Fatalf("expected hint about paths.state_dir, got %v", err)
	}
	if _, statErr := os.Stat(path); statErr != nil {
		t.Fatalf("newer history must be left in place: %v", statErr)
	}
}

func TestOutdatedSchemaIsArchived(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	store, err := runstore.OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath returned error: %v", err)
	}
	seedRun(t, store, "old", time.Now())
	_ = store.Close()
	setSchemaVersion(t, path, 0)

	store, err = runstore.OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath returned error: %v", err)
	}
	archive := runstore.ArchivePath(path, 0)
	if store.Archived() != archive {
		t.Fatalf("expected archive %s, got %q", archive, store.Archived())
	}
	if _, err := os.Stat(archive); err != nil {
		t.Fatalf("expected archived history: %v", err)
	}
	runs, err := store.ListRuns(context.Background(), 10)
	if err != nil || len(runs) != 0 {
		t.Fatalf("expected fresh history, got %+v, %v", runs, err)
	}
	seedRun(t, store, "new", time.Now())
	_ = store.Close()

	// A second outdated history cannot replace the first archive.
	setSchemaVersion(t, path, 0)
	if _, err := runstore.OpenPath(path); !errors.Is(err, runstore.ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch when archive exists, got %v", err)
	}
}
