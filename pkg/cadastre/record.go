// Package cadastre defines the shared value types for the cadastral parcel
// store: the normalized parcel/sheet record, layer types, filters and the
// reference decoding rules used by both the ingestion pipeline and the query
// surface.
package cadastre

import (
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

// LayerType discriminates sheet boundaries from individual parcels.
// Every record carries exactly one layer type; map and parcel data are never
// mixed in the same logical table.
type LayerType string

const (
	// LayerMap is a cadastral sheet boundary.
	LayerMap LayerType = "map"
	// LayerParcel is an individual cadastral parcel (PLE).
	LayerParcel LayerType = "ple"
)

// ParseLayerType parses a layer type string, case-insensitively.
func ParseLayerType(s string) (LayerType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "map":
		return LayerMap, nil
	case "ple":
		return LayerParcel, nil
	default:
		return "", fmt.Errorf("unknown layer type: %q", s)
	}
}

// Valid reports whether the layer type is one of the two known variants.
func (l LayerType) Valid() bool {
	return l == LayerMap || l == LayerParcel
}

// Bounds is an axis-aligned bounding box in lon/lat order.
type Bounds struct {
	MinLon float64 `json:"min_lon"`
	MinLat float64 `json:"min_lat"`
	MaxLon float64 `json:"max_lon"`
	MaxLat float64 `json:"max_lat"`
}

// BoundsFromOrb derives Bounds from an orb bound.
func BoundsFromOrb(b orb.Bound) Bounds {
	return Bounds{
		MinLon: b.Min[0],
		MinLat: b.Min[1],
		MaxLon: b.Max[0],
		MaxLat: b.Max[1],
	}
}

// Overlaps reports whether two boxes share any area or edge.
func (b Bounds) Overlaps(o Bounds) bool {
	return b.MinLon <= o.MaxLon && b.MaxLon >= o.MinLon &&
		b.MinLat <= o.MaxLat && b.MaxLat >= o.MinLat
}

// Record is one normalized parcel or sheet row.
//
// Nullable fields use pointers so that a missing value is distinguishable
// from a zero value once persisted. Geometry and Bounds are populated
// together: a record parsed from an empty or missing geometry keeps both nil
// but is still stored.
type Record struct {
	ID int64 `json:"id"`

	// Geographic hierarchy. Codes are normalized to upper case.
	Regione    string `json:"regione"`
	Provincia  string `json:"provincia"`
	ComuneCode string `json:"comune_code"`
	ComuneName string `json:"comune_name,omitempty"`

	// Cadastral hierarchy. Particella is nil when the label is alphanumeric
	// (roads, canals); the raw label is always retained.
	Foglio     int    `json:"foglio"`
	Particella *int   `json:"particella"`
	Label      string `json:"label"`

	LayerType LayerType `json:"layer_type"`

	// INSPIRE provenance metadata carried through from the source file.
	InspireID         string `json:"inspire_id,omitempty"`
	InspireNamespace  string `json:"inspire_namespace,omitempty"`
	NationalReference string `json:"national_reference,omitempty"`
	Level             string `json:"level,omitempty"`
	LevelName         string `json:"level_name,omitempty"`
	OriginalScale     string `json:"original_scale,omitempty"`
	SourceFile        string `json:"source_file,omitempty"`

	BeginLifespan *time.Time `json:"begin_lifespan"`
	EndLifespan   *time.Time `json:"end_lifespan"`

	Geometry orb.MultiPolygon `json:"-"`
	Bounds   *Bounds          `json:"bounds,omitempty"`
}

// SetGeometry stores the geometry and derives the bounding box. A nil or
// empty multipolygon clears both.
func (r *Record) SetGeometry(g orb.MultiPolygon) {
	if len(g) == 0 {
		r.Geometry = nil
		r.Bounds = nil
		return
	}
	r.Geometry = g
	b := BoundsFromOrb(g.Bound())
	r.Bounds = &b
}

// Normalize upper-cases the geographic codes and enforces the layer
// partition invariant (map records never carry a particella).
func (r *Record) Normalize() {
	r.Regione = strings.ToUpper(strings.TrimSpace(r.Regione))
	r.Provincia = strings.ToUpper(strings.TrimSpace(r.Provincia))
	r.ComuneCode = strings.ToUpper(strings.TrimSpace(r.ComuneCode))
	if r.LayerType == LayerMap {
		r.Particella = nil
	}
}
