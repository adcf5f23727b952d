package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ImportRun is the persisted accounting for one pipeline run. It lives in
// the map store so an operator can tell "98% succeeded, retry the rest"
// from the stored summary alone.
type ImportRun struct {
	ID                   string
	DataDir              string
	StartedAt            time.Time
	CompletedAt          *time.Time
	FilesFound           int
	FilesImported        int
	FilesSkippedExisting int
	FilesSkippedUnknown  int
	FilesCorrupted       int
	FilesErrored         int
	RowsImported         int
	RowsRejected         int
}

// SaveImportRun inserts or updates the accounting row for a run.
func (s *Store) SaveImportRun(ctx context.Context, run *ImportRun) error {
	if s.db == nil {
		return fmt.Errorf("store not opened")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO import_runs (
			id, data_dir, started_at, completed_at,
			files_found, files_imported, files_skipped_existing, files_skipped_unknown,
			files_corrupted, files_errored, rows_imported, rows_rejected
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			completed_at = excluded.completed_at,
			files_found = excluded.files_found,
			files_imported = excluded.files_imported,
			files_skipped_existing = excluded.files_skipped_existing,
			files_skipped_unknown = excluded.files_skipped_unknown,
			files_corrupted = excluded.files_corrupted,
			files_errored = excluded.files_errored,
			rows_imported = excluded.rows_imported,
			rows_rejected = excluded.rows_rejected`,
		run.ID, run.DataDir, run.StartedAt.UTC(), completedValue(run.CompletedAt),
		run.FilesFound, run.FilesImported, run.FilesSkippedExisting, run.FilesSkippedUnknown,
		run.FilesCorrupted, run.FilesErrored, run.RowsImported, run.RowsRejected,
	)
	if err != nil {
		return fmt.Errorf("failed to save import run: %w", err)
	}
	return nil
}

// LatestImportRun returns the most recent run, or nil when none exist.
func (s *Store) LatestImportRun(ctx context.Context) (*ImportRun, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not opened")
	}

	run := &ImportRun{}
	var completed sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, data_dir, started_at, completed_at,
			files_found, files_imported, files_skipped_existing, files_skipped_unknown,
			files_corrupted, files_errored, rows_imported, rows_rejected
		FROM import_runs ORDER BY started_at DESC LIMIT 1`).Scan(
		&run.ID, &run.DataDir, &run.StartedAt, &completed,
		&run.FilesFound, &run.FilesImported, &run.FilesSkippedExisting, &run.FilesSkippedUnknown,
		&run.FilesCorrupted, &run.FilesErrored, &run.RowsImported, &run.RowsRejected,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latest import run: %w", err)
	}
	if completed.Valid {
		t := completed.Time
		run.CompletedAt = &t
	}
	return run, nil
}

func completedValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
