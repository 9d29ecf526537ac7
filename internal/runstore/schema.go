package runstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

// ErrSchemaMismatch is returned when the run history was written by a newer
// workshop, or an older one cannot be moved aside.
var ErrSchemaMismatch = errors.New("run history schema mismatch")

// outdatedSchemaError reports a history written with an older schema.
type outdatedSchemaError struct {
	version int
}

func (e *outdatedSchemaError) Error() string {
	return fmt.Sprintf("run history has schema %d, expected %d", e.version, schemaVersion)
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	switch {
	case version < schemaVersion:
		return &outdatedSchemaError{version: version}
	case version > schemaVersion:
		return fmt.Errorf("%w: %s has schema %d but this workshop reads %d; upgrade workshop or set paths.state_dir to a fresh directory",
			ErrSchemaMismatch, s.path, version, schemaVersion)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// ArchivePath is where a run history with an outdated schema is moved.
func ArchivePath(dbPath string, version int) string {
	return fmt.Sprintf("%s.v%d", dbPath, version)
}

// archiveHistory moves an outdated database and its WAL sidecars aside. An
// existing archive is never overwritten.
func archiveHistory(dbPath string, version int) (string, error) {
	archive := ArchivePath(dbPath, version)
	if _, err := os.Stat(archive); err == nil {
		return "", fmt.Errorf("%w: %s has schema %d and %s already exists; move one of them out of paths.state_dir",
			ErrSchemaMismatch, dbPath, version, archive)
	}
	if err := os.Rename(dbPath, archive); err != nil {
		return "", fmt.Errorf("%w: archive %s: %v", ErrSchemaMismatch, dbPath, err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Rename(dbPath+suffix, archive+suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: archive %s: %v", ErrSchemaMismatch, dbPath+suffix, err)
		}
	}
	return archive, nil
}
