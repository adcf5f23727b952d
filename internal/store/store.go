// Package store implements the persistent cadastral parcel store: schema,
// attribute indexes, the opportunistic R-tree spatial index and the
// incrementally maintained per-hierarchy statistics table.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite" // SQLite driver (pure Go)
)

// Store owns one cadastral database file (a map store or one per-region
// parcel shard). It assumes a single logical writer and any number of
// concurrent readers; every import batch and every query runs inside a
// single transaction boundary.
type Store struct {
	db      *sql.DB
	path    string
	logger  *slog.Logger
	spatial bool
}

// New creates an unopened store. A nil logger discards output.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{logger: logger}
}

// Open opens the SQLite database at path, creating it if necessary.
// Use ":memory:" for an in-memory store.
func (s *Store) Open(path string) error {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping store: %w", err)
	}

	s.db = db
	s.path = path
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database file path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// SpatialEnabled reports whether the R-tree spatial index is available.
// When false, spatial filter fields compile to no-ops and queries return
// attribute-only results; callers must surface this to their own callers
// rather than hide it.
func (s *Store) SpatialEnabled() bool {
	return s.spatial
}

// Init migrates the schema and attempts to set up the spatial index. The
// spatial index is strictly opportunistic: its absence never prevents
// attribute-only operation.
func (s *Store) Init(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("store not opened")
	}
	if err := s.Migrate(); err != nil {
		return fmt.Errorf("failed to migrate store schema: %w", err)
	}
	s.initSpatial(ctx)
	return nil
}

// initSpatial creates the R-tree index if the build supports it.
func (s *Store) initSpatial(ctx context.Context) {
	_, err := s.db.ExecContext(ctx, `
		CREATE VIRTUAL TABLE IF NOT EXISTS parcels_rtree
		USING rtree(id, min_lon, max_lon, min_lat, max_lat)`)
	if err != nil {
		s.logger.Warn("spatial index unavailable, spatial filters will be ignored",
			"path", s.path, "error", err)
		s.spatial = false
		return
	}
	s.spatial = true
}
