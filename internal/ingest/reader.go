package ingest

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/geojson"

	"github.com/opencatasto/catasto/pkg/cadastre"
)

// Source attribute names carried by the upstream INSPIRE exports.
const (
	attrLabel         = "LABEL"
	attrZoningRef     = "NATIONALCADASTRALZONINGREFERENCE"
	attrParcelRef     = "NATIONALCADASTRALREFERENCE"
	attrInspireID     = "INSPIREID_LOCALID"
	attrInspireNS     = "INSPIREID_NAMESPACE"
	attrBeginLifespan = "BEGINLIFESPANVERSION"
	attrEndLifespan   = "ENDLIFESPANVERSION"
	attrLevel         = "LEVEL"
	attrLevelName     = "LEVELNAME"
	attrScale         = "ORIGINALMAPSCALEDENOMINATOR"
)

// ReadFile parses one geometry container into normalized records. The layer
// type selects which reference attribute applies. Features with unusable
// attributes or geometry yield records with zeroed fields rather than
// aborting the file; an unreadable container is an error.
func ReadFile(path string, layer cadastre.LayerType) ([]cadastre.Record, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case extConverted:
		return readGeoJSON(path, layer)
	case extOriginal:
		return readGeoPackage(path, layer)
	default:
		return nil, fmt.Errorf("unsupported file type: %s", path)
	}
}

// readGeoJSON reads a converted GeoJSON copy.
func readGeoJSON(path string, layer cadastre.LayerType) ([]cadastre.Record, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from discovery
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	records := make([]cadastre.Record, 0, len(fc.Features))
	for _, f := range fc.Features {
		props := make(map[string]any, len(f.Properties))
		for k, v := range f.Properties {
			props[strings.ToUpper(k)] = v
		}
		rec := recordFromProps(props, layer)
		rec.SetGeometry(toMultiPolygon(f.Geometry))
		records = append(records, rec)
	}
	return records, nil
}

// readGeoPackage reads an original GeoPackage container directly over the
// SQLite driver: the first features table from gpkg_contents, its geometry
// column from gpkg_geometry_columns, and standard GPKG geometry blobs.
func readGeoPackage(path string, layer cadastre.LayerType) ([]cadastre.Record, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open geopackage %s: %w", path, err)
	}
	defer func() { _ = db.Close() }()

	var table string
	err = db.QueryRow(`SELECT table_name FROM gpkg_contents WHERE data_type = 'features' LIMIT 1`).Scan(&table)
	if err != nil {
		return nil, fmt.Errorf("no feature table in %s: %w", path, err)
	}

	var geomCol string
	err = db.QueryRow(`SELECT column_name FROM gpkg_geometry_columns WHERE table_name = ?`, table).Scan(&geomCol)
	if err != nil {
		return nil, fmt.Errorf("no geometry column for %s: %w", table, err)
	}

	rows, err := db.Query(fmt.Sprintf(`SELECT * FROM %q`, table))
	if err != nil {
		return nil, fmt.Errorf("failed to read feature table %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var records []cadastre.Record
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan feature row: %w", err)
		}

		props := make(map[string]any, len(cols))
		var blob []byte
		for i, col := range cols {
			if strings.EqualFold(col, geomCol) {
				blob, _ = values[i].([]byte)
				continue
			}
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			props[strings.ToUpper(col)] = v
		}

		rec := recordFromProps(props, layer)
		if g, err := decodeGPKGGeometry(blob); err == nil {
			rec.SetGeometry(toMultiPolygon(g))
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// recordFromProps maps the upper-cased source attributes onto a record.
func recordFromProps(props map[string]any, layer cadastre.LayerType) cadastre.Record {
	refAttr := attrParcelRef
	if layer == cadastre.LayerMap {
		refAttr = attrZoningRef
	}

	rec := cadastre.Record{
		LayerType:         layer,
		Label:             propString(props, attrLabel),
		NationalReference: propString(props, refAttr),
		InspireID:         propString(props, attrInspireID),
		InspireNamespace:  propString(props, attrInspireNS),
		Level:             propString(props, attrLevel),
		LevelName:         propString(props, attrLevelName),
		OriginalScale:     propString(props, attrScale),
	}
	rec.BeginLifespan = cadastre.ParseLifespan(propString(props, attrBeginLifespan))
	rec.EndLifespan = cadastre.ParseLifespan(propString(props, attrEndLifespan))
	return rec
}

func propString(props map[string]any, key string) string {
	v, ok := props[key]
	if !ok || v == nil {
		return ""
	}
	switch v := v.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}

// toMultiPolygon normalizes any polygonal geometry to a multipolygon;
// non-polygonal or missing geometry yields nil.
func toMultiPolygon(g orb.Geometry) orb.MultiPolygon {
	switch g := g.(type) {
	case orb.MultiPolygon:
		return g
	case orb.Polygon:
		return orb.MultiPolygon{g}
	default:
		return nil
	}
}

// decodeGPKGGeometry strips the GeoPackage binary header (magic, flags,
// optional envelope) and decodes the trailing WKB.
func decodeGPKGGeometry(blob []byte) (orb.Geometry, error) {
	if len(blob) < 8 || blob[0] != 'G' || blob[1] != 'P' {
		return nil, fmt.Errorf("not a geopackage geometry blob")
	}

	flags := blob[3]
	if flags&0x20 != 0 {
		return nil, fmt.Errorf("empty geometry")
	}

	var envelopeSize int
	switch (flags >> 1) & 0x07 {
	case 0:
		envelopeSize = 0
	case 1:
		envelopeSize = 32
	case 2, 3:
		envelopeSize = 48
	case 4:
		envelopeSize = 64
	default:
		return nil, fmt.Errorf("invalid envelope indicator")
	}

	offset := 8 + envelopeSize
	if len(blob) <= offset {
		return nil, fmt.Errorf("truncated geometry blob")
	}

	return wkb.Unmarshal(blob[offset:])
}
