package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// ComuneValue is a comune code with its display name.
type ComuneValue struct {
	Code string `json:"code"`
	Name string `json:"name,omitempty"`
}

// HierarchyValues is the next-level drill-down for a geographic prefix:
// exactly one of the slices is populated depending on how many levels of
// the prefix were supplied.
type HierarchyValues struct {
	Level    string        `json:"level"`
	Regioni  []string      `json:"regioni,omitempty"`
	Province []string      `json:"province,omitempty"`
	Comuni   []ComuneValue `json:"comuni,omitempty"`
	Fogli    []int         `json:"fogli,omitempty"`
}

// Hierarchy returns the distinct next-level values under the given prefix:
// no arguments lists regions, a region lists its provinces, region+province
// lists comuni (code and name), and all three list fogli. Always DISTINCT,
// always sorted ascending by the returned key.
func (s *Store) Hierarchy(ctx context.Context, regione, provincia, comune string) (*HierarchyValues, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not opened")
	}

	regione = strings.ToUpper(strings.TrimSpace(regione))
	provincia = strings.ToUpper(strings.TrimSpace(provincia))
	comune = strings.ToUpper(strings.TrimSpace(comune))

	switch {
	case regione == "":
		values, err := s.distinctStrings(ctx, `SELECT DISTINCT regione FROM parcels ORDER BY regione`)
		if err != nil {
			return nil, err
		}
		return &HierarchyValues{Level: "regioni", Regioni: values}, nil

	case provincia == "":
		values, err := s.distinctStrings(ctx,
			`SELECT DISTINCT provincia FROM parcels WHERE regione = ? ORDER BY provincia`, regione)
		if err != nil {
			return nil, err
		}
		return &HierarchyValues{Level: "province", Province: values}, nil

	case comune == "":
		rows, err := s.db.QueryContext(ctx, `
			SELECT DISTINCT comune_code, COALESCE(comune_name, '')
			FROM parcels WHERE regione = ? AND provincia = ?
			ORDER BY comune_code`, regione, provincia)
		if err != nil {
			return nil, fmt.Errorf("failed to list comuni: %w", err)
		}
		defer rows.Close()

		var comuni []ComuneValue
		for rows.Next() {
			var c ComuneValue
			if err := rows.Scan(&c.Code, &c.Name); err != nil {
				return nil, fmt.Errorf("failed to scan comune: %w", err)
			}
			comuni = append(comuni, c)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return &HierarchyValues{Level: "comuni", Comuni: comuni}, nil

	default:
		rows, err := s.db.QueryContext(ctx, `
			SELECT DISTINCT foglio FROM parcels
			WHERE regione = ? AND provincia = ? AND comune_code = ?
			ORDER BY foglio`, regione, provincia, comune)
		if err != nil {
			return nil, fmt.Errorf("failed to list fogli: %w", err)
		}
		defer rows.Close()

		var fogli []int
		for rows.Next() {
			var f int
			if err := rows.Scan(&f); err != nil {
				return nil, fmt.Errorf("failed to scan foglio: %w", err)
			}
			fogli = append(fogli, f)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return &HierarchyValues{Level: "fogli", Fogli: fogli}, nil
	}
}

func (s *Store) distinctStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("hierarchy query failed: %w", err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan hierarchy value: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// Statistics summarizes a store from the hierarchy_stats table alone; the
// parcels table is never scanned for this.
type Statistics struct {
	Total          int64            `json:"total"`
	ByRegion       map[string]int64 `json:"by_region"`
	ByLayerType    map[string]int64 `json:"by_layer_type"`
	SpatialEnabled bool             `json:"spatial_enabled"`
}

// Statistics returns aggregate counts derived from hierarchy_stats plus the
// spatial capability flag.
func (s *Store) Statistics(ctx context.Context) (*Statistics, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not opened")
	}

	stats := &Statistics{
		ByRegion:       make(map[string]int64),
		ByLayerType:    make(map[string]int64),
		SpatialEnabled: s.spatial,
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT regione, layer_type, SUM(count) FROM hierarchy_stats GROUP BY regione, layer_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to read statistics: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var regione, layer string
		var count sql.NullInt64
		if err := rows.Scan(&regione, &layer, &count); err != nil {
			return nil, fmt.Errorf("failed to scan statistics: %w", err)
		}
		stats.ByRegion[regione] += count.Int64
		stats.ByLayerType[layer] += count.Int64
		stats.Total += count.Int64
	}
	return stats, rows.Err()
}
