package cadastre

import "time"

// FilterSpec is the structured query filter consumed by the store.
//
// All fields are optional. Exact, list and range variants of the same field
// are independently composable and AND-ed when more than one is present; the
// compiler does not reject contradictory combinations, that is the caller's
// responsibility.
type FilterSpec struct {
	// Geographic hierarchy. Codes match exactly after upper-casing;
	// ComuneName is a substring match.
	Regione    string `json:"regione,omitempty"`
	Provincia  string `json:"provincia,omitempty"`
	ComuneCode string `json:"comune_code,omitempty"`
	ComuneName string `json:"comune_name,omitempty"`

	// Cadastral hierarchy.
	Foglio          *int       `json:"foglio,omitempty"`
	FoglioList      []int      `json:"foglio_list,omitempty"`
	Particella      *int       `json:"particella,omitempty"`
	ParticellaList  []int      `json:"particella_list,omitempty"`
	ParticellaRange *IntRange  `json:"particella_range,omitempty"`
	ParticellaLabel string     `json:"particella_label,omitempty"`
	LayerType       string     `json:"layer_type,omitempty"`

	// Temporal bounds against begin_lifespan, inclusive.
	DateFrom *time.Time `json:"date_from,omitempty"`
	DateTo   *time.Time `json:"date_to,omitempty"`

	// Spatial predicates. BBox is a conservative bounding-box overlap;
	// Point and IntersectsWKT are exact geometric tests. Like the attribute
	// fields they are AND-ed when more than one is set. All three compile
	// to no-ops when the spatial index is unavailable.
	BBox          *Bounds `json:"bbox,omitempty"`
	Point         *LonLat `json:"point,omitempty"`
	IntersectsWKT string  `json:"intersects_wkt,omitempty"`

	// Pagination. Limit 0 means unbounded.
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// IntRange is an inclusive [Min, Max] range.
type IntRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// LonLat is a point in lon/lat order.
type LonLat struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// HasSpatial reports whether any spatial predicate is set.
func (f FilterSpec) HasSpatial() bool {
	return f.BBox != nil || f.Point != nil || f.IntersectsWKT != ""
}
