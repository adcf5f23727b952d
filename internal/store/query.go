package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/geojson"
	sfgeom "github.com/peterstace/simplefeatures/geom"

	"github.com/opencatasto/catasto/pkg/cadastre"
)

const selectParcelColumns = `
SELECT id, regione, provincia, comune_code, comune_name,
	foglio, particella, label, layer_type,
	inspire_id, inspire_namespace, national_reference,
	level, level_name, original_scale, source_file,
	begin_lifespan, end_lifespan,
	geometry, min_lon, min_lat, max_lon, max_lat
FROM parcels`

// Result is the outcome of one store query: the matching records in the
// fixed deterministic order, the total match count before pagination, an
// echo of the applied filter, and the spatial capability flags.
type Result struct {
	Records []cadastre.Record   `json:"records"`
	Total   int                 `json:"total"`
	Filter  cadastre.FilterSpec `json:"filter"`

	// SpatialEnabled reports whether the store has a spatial index at all;
	// SpatialFiltersIgnored is set when the filter carried spatial fields
	// that degraded to no-ops because the index is unavailable.
	SpatialEnabled        bool `json:"spatial_enabled"`
	SpatialFiltersIgnored bool `json:"spatial_filters_ignored,omitempty"`
}

// Query compiles the filter, executes it and returns normalized records.
// Geometry is decoded lazily from its stored form; a record whose stored
// geometry fails to decode surfaces with a nil geometry rather than failing
// the whole query.
func (s *Store) Query(ctx context.Context, filter cadastre.FilterSpec) (*Result, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not opened")
	}

	compiled, err := compileFilter(filter, s.spatial)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Filter:                filter,
		SpatialEnabled:        s.spatial,
		SpatialFiltersIgnored: compiled.spatialIgnored,
	}

	where, args := compiled.where()
	query := selectParcelColumns + "\n" + where + "\n" + orderBy

	// Exact predicates filter in Go after the conservative index scan, so
	// pagination has to happen after that pass; plain filters paginate in
	// SQL and take the total from a COUNT with the same predicates.
	paginateInSQL := compiled.post == nil
	if paginateInSQL && (compiled.limit > 0 || compiled.offset > 0) {
		limit := compiled.limit
		if limit <= 0 {
			limit = -1
		}
		query += fmt.Sprintf("\nLIMIT %d OFFSET %d", limit, compiled.offset)

		countQuery := "SELECT COUNT(*) FROM parcels " + where
		if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&res.Total); err != nil {
			return nil, fmt.Errorf("failed to count matches: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var records []cadastre.Record
	for rows.Next() {
		rec, raw, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		s.decodeGeometry(&rec, raw)

		if compiled.post != nil {
			ok, err := s.exactMatch(compiled.post, raw)
			if err != nil {
				s.logger.Warn("exact spatial predicate failed, excluding record",
					"id", rec.ID, "error", err)
				continue
			}
			if !ok {
				continue
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query iteration failed: %w", err)
	}

	if !paginateInSQL {
		res.Total = len(records)
		records = paginate(records, compiled.limit, compiled.offset)
	} else if compiled.limit <= 0 && compiled.offset == 0 {
		res.Total = len(records)
	}
	res.Records = records
	return res, nil
}

// scanRecord reads one row into a Record, returning the raw geometry blob
// for lazy decoding.
func scanRecord(rows *sql.Rows) (cadastre.Record, []byte, error) {
	var (
		rec        cadastre.Record
		layer      string
		comuneName sql.NullString
		particella sql.NullInt64
		optional   [7]sql.NullString
		begin, end sql.NullString
		raw        []byte
		minLon     sql.NullFloat64
		minLat     sql.NullFloat64
		maxLon     sql.NullFloat64
		maxLat     sql.NullFloat64
	)

	err := rows.Scan(&rec.ID, &rec.Regione, &rec.Provincia, &rec.ComuneCode, &comuneName,
		&rec.Foglio, &particella, &rec.Label, &layer,
		&optional[0], &optional[1], &optional[2],
		&optional[3], &optional[4], &optional[5], &optional[6],
		&begin, &end,
		&raw, &minLon, &minLat, &maxLon, &maxLat)
	if err != nil {
		return rec, nil, err
	}

	rec.ComuneName = comuneName.String
	rec.LayerType = cadastre.LayerType(layer)
	if particella.Valid {
		v := int(particella.Int64)
		rec.Particella = &v
	}
	rec.InspireID = optional[0].String
	rec.InspireNamespace = optional[1].String
	rec.NationalReference = optional[2].String
	rec.Level = optional[3].String
	rec.LevelName = optional[4].String
	rec.OriginalScale = optional[5].String
	rec.SourceFile = optional[6].String
	rec.BeginLifespan = parseStoredDate(begin)
	rec.EndLifespan = parseStoredDate(end)

	if minLon.Valid && minLat.Valid && maxLon.Valid && maxLat.Valid {
		rec.Bounds = &cadastre.Bounds{
			MinLon: minLon.Float64, MinLat: minLat.Float64,
			MaxLon: maxLon.Float64, MaxLat: maxLat.Float64,
		}
	}
	return rec, raw, nil
}

// decodeGeometry deserializes the stored WKB into the record. Failures are
// logged and leave the geometry nil on that one record.
func (s *Store) decodeGeometry(rec *cadastre.Record, raw []byte) {
	if len(raw) == 0 {
		return
	}
	g, err := wkb.Unmarshal(raw)
	if err != nil {
		s.logger.Warn("failed to decode stored geometry", "id", rec.ID, "error", err)
		return
	}
	switch g := g.(type) {
	case orb.MultiPolygon:
		rec.Geometry = g
	case orb.Polygon:
		rec.Geometry = orb.MultiPolygon{g}
	default:
		s.logger.Warn("stored geometry is not polygonal", "id", rec.ID, "type", fmt.Sprintf("%T", g))
	}
}

// exactMatch applies an exact predicate to the stored WKB. Records without
// geometry never match an exact spatial filter.
func (s *Store) exactMatch(post exactPredicate, raw []byte) (bool, error) {
	if len(raw) == 0 {
		return false, nil
	}
	g, err := sfgeom.UnmarshalWKB(raw)
	if err != nil {
		return false, err
	}
	return post(g)
}

func parseStoredDate(v sql.NullString) *time.Time {
	if !v.Valid {
		return nil
	}
	t, err := time.Parse(queryDateLayout, v.String)
	if err != nil {
		return nil
	}
	return &t
}

func paginate(records []cadastre.Record, limit, offset int) []cadastre.Record {
	if offset >= len(records) {
		return nil
	}
	records = records[offset:]
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records
}

// ToFeatureCollection converts a query result into a GeoJSON feature
// collection; records without geometry carry a nil geometry member.
func (r *Result) ToFeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for i := range r.Records {
		rec := &r.Records[i]
		var f *geojson.Feature
		if rec.Geometry != nil {
			f = geojson.NewFeature(rec.Geometry)
		} else {
			f = &geojson.Feature{Type: "Feature"}
		}
		f.ID = rec.ID
		f.Properties = geojson.Properties{
			"regione":            rec.Regione,
			"provincia":          rec.Provincia,
			"comune_code":        rec.ComuneCode,
			"comune_name":        rec.ComuneName,
			"foglio":             rec.Foglio,
			"particella":         rec.Particella,
			"label":              rec.Label,
			"layer_type":         string(rec.LayerType),
			"national_reference": rec.NationalReference,
			"inspire_id":         rec.InspireID,
			"inspire_namespace":  rec.InspireNamespace,
			"level":              rec.Level,
			"level_name":         rec.LevelName,
			"original_scale":     rec.OriginalScale,
			"source_file":        rec.SourceFile,
		}
		if rec.BeginLifespan != nil {
			f.Properties["begin_lifespan"] = rec.BeginLifespan.Format(queryDateLayout)
		}
		if rec.EndLifespan != nil {
			f.Properties["end_lifespan"] = rec.EndLifespan.Format(queryDateLayout)
		}
		fc.Append(f)
	}
	return fc
}
