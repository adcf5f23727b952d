package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb/encoding/wkb"

	"github.com/opencatasto/catasto/pkg/cadastre"
)

// ImportBatch is one per-file batch of records sharing a geographic key.
type ImportBatch struct {
	Regione    string
	Provincia  string
	ComuneCode string
	ComuneName string
	LayerType  cadastre.LayerType
	SourceFile string
	Records    []cadastre.Record
}

const upsertParcelSQL = `
INSERT INTO parcels (
	regione, provincia, comune_code, comune_name,
	foglio, particella, label, layer_type,
	inspire_id, inspire_namespace, national_reference,
	level, level_name, original_scale, source_file,
	begin_lifespan, end_lifespan,
	geometry, min_lon, min_lat, max_lon, max_lat
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(national_reference) DO UPDATE SET
	regione = excluded.regione,
	provincia = excluded.provincia,
	comune_code = excluded.comune_code,
	comune_name = excluded.comune_name,
	foglio = excluded.foglio,
	particella = excluded.particella,
	label = excluded.label,
	layer_type = excluded.layer_type,
	inspire_id = excluded.inspire_id,
	inspire_namespace = excluded.inspire_namespace,
	level = excluded.level,
	level_name = excluded.level_name,
	original_scale = excluded.original_scale,
	source_file = excluded.source_file,
	begin_lifespan = excluded.begin_lifespan,
	end_lifespan = excluded.end_lifespan,
	geometry = excluded.geometry,
	min_lon = excluded.min_lon,
	min_lat = excluded.min_lat,
	max_lon = excluded.max_lon,
	max_lat = excluded.max_lat
RETURNING id`

// ImportBatch upserts a batch of records keyed on national_reference and
// recomputes the hierarchy statistics row for the batch's key. The whole
// batch is one transaction; row-level failures are logged and skipped
// without aborting it. Returns the count of rows actually written.
func (s *Store) ImportBatch(ctx context.Context, batch ImportBatch) (int, error) {
	if s.db == nil {
		return 0, fmt.Errorf("store not opened")
	}
	if !batch.LayerType.Valid() {
		return 0, fmt.Errorf("invalid layer type: %q", batch.LayerType)
	}
	batch.Regione = strings.ToUpper(strings.TrimSpace(batch.Regione))
	batch.Provincia = strings.ToUpper(strings.TrimSpace(batch.Provincia))
	batch.ComuneCode = strings.ToUpper(strings.TrimSpace(batch.ComuneCode))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin import transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	batchKey := statsKey{
		regione:   batch.Regione,
		provincia: batch.Provincia,
		comune:    batch.ComuneCode,
		layer:     string(batch.LayerType),
	}

	// Keys whose rows an upsert moves into this batch's key. Their stats
	// rows go stale unless recomputed alongside the batch key.
	vacated := make(map[statsKey]struct{})

	written := 0
	for i := range batch.Records {
		rec := batch.Records[i]
		rec.Regione = batch.Regione
		rec.Provincia = batch.Provincia
		rec.ComuneCode = batch.ComuneCode
		rec.ComuneName = batch.ComuneName
		rec.LayerType = batch.LayerType
		rec.SourceFile = batch.SourceFile
		rec.Foglio, rec.Particella = cadastre.DecodeReference(batch.LayerType, rec.NationalReference, rec.Label)
		rec.Normalize()

		if key, ok := s.currentKey(ctx, tx, rec.NationalReference); ok && key != batchKey {
			vacated[key] = struct{}{}
		}

		if err := s.upsertRecord(ctx, tx, &rec); err != nil {
			s.logger.Warn("skipping record",
				"source_file", batch.SourceFile,
				"national_reference", rec.NationalReference,
				"error", err)
			continue
		}
		written++
	}

	if err := s.recomputeStats(ctx, tx, batchKey); err != nil {
		return 0, err
	}
	for key := range vacated {
		if err := s.recomputeStats(ctx, tx, key); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit import batch: %w", err)
	}
	return written, nil
}

// upsertRecord writes one record and keeps the R-tree row in sync with its
// bounds.
func (s *Store) upsertRecord(ctx context.Context, tx *sql.Tx, rec *cadastre.Record) error {
	var geometry []byte
	if len(rec.Geometry) > 0 {
		var err error
		geometry, err = wkb.Marshal(rec.Geometry)
		if err != nil {
			return fmt.Errorf("failed to encode geometry: %w", err)
		}
	}

	var minLon, minLat, maxLon, maxLat any
	if rec.Bounds != nil {
		minLon, minLat = rec.Bounds.MinLon, rec.Bounds.MinLat
		maxLon, maxLat = rec.Bounds.MaxLon, rec.Bounds.MaxLat
	}

	err := tx.QueryRowContext(ctx, upsertParcelSQL,
		rec.Regione, rec.Provincia, rec.ComuneCode, nullString(rec.ComuneName),
		rec.Foglio, rec.Particella, rec.Label, string(rec.LayerType),
		nullString(rec.InspireID), nullString(rec.InspireNamespace), nullString(rec.NationalReference),
		nullString(rec.Level), nullString(rec.LevelName), nullString(rec.OriginalScale), nullString(rec.SourceFile),
		lifespanValue(rec.BeginLifespan), lifespanValue(rec.EndLifespan),
		geometry, minLon, minLat, maxLon, maxLat,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert parcel: %w", err)
	}

	if !s.spatial {
		return nil
	}
	if rec.Bounds == nil {
		_, err = tx.ExecContext(ctx, `DELETE FROM parcels_rtree WHERE id = ?`, rec.ID)
	} else {
		_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO parcels_rtree (id, min_lon, max_lon, min_lat, max_lat) VALUES (?, ?, ?, ?, ?)`,
			rec.ID, rec.Bounds.MinLon, rec.Bounds.MaxLon, rec.Bounds.MinLat, rec.Bounds.MaxLat)
	}
	if err != nil {
		return fmt.Errorf("failed to update spatial index: %w", err)
	}
	return nil
}

// statsKey identifies one hierarchy_stats row.
type statsKey struct {
	regione   string
	provincia string
	comune    string
	layer     string
}

// currentKey looks up the key a reference is currently stored under, so an
// upsert that moves it can be accounted against its old key.
func (s *Store) currentKey(ctx context.Context, tx *sql.Tx, nationalRef string) (statsKey, bool) {
	if nationalRef == "" {
		return statsKey{}, false
	}
	var key statsKey
	err := tx.QueryRowContext(ctx, `
		SELECT regione, provincia, comune_code, layer_type
		FROM parcels WHERE national_reference = ?`, nationalRef).Scan(
		&key.regione, &key.provincia, &key.comune, &key.layer)
	if err != nil {
		return statsKey{}, false
	}
	return key, true
}

// recomputeStats re-derives the statistics row for one key from a live count.
// Always recomputed from the aggregate, never incremented, so the value
// cannot drift from the underlying table under interrupted runs. A key whose
// count dropped to zero loses its row entirely.
func (s *Store) recomputeStats(ctx context.Context, tx *sql.Tx, key statsKey) error {
	var count int64
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM parcels
		WHERE regione = ? AND provincia = ? AND comune_code = ? AND layer_type = ?`,
		key.regione, key.provincia, key.comune, key.layer).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to count parcels for stats: %w", err)
	}

	if count == 0 {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM hierarchy_stats
			WHERE regione = ? AND provincia = ? AND comune_code = ? AND layer_type = ?`,
			key.regione, key.provincia, key.comune, key.layer)
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO hierarchy_stats (regione, provincia, comune_code, layer_type, count)
			VALUES (?, ?, ?, ?, ?)`,
			key.regione, key.provincia, key.comune, key.layer, count)
	}
	if err != nil {
		return fmt.Errorf("failed to recompute hierarchy stats: %w", err)
	}
	return nil
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func lifespanValue(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(queryDateLayout), Valid: true}
}
