package store

import (
	"fmt"
	"strings"

	"github.com/peterstace/simplefeatures/geom"

	"github.com/opencatasto/catasto/pkg/cadastre"
)

// queryDateLayout is the shape begin_lifespan comparisons use on disk.
const queryDateLayout = "2006-01-02"

// orderBy is the fixed, deterministic tie-break for every query so that
// paginated results are stable across calls with identical filters.
const orderBy = "ORDER BY regione, provincia, comune_code, foglio, particella ASC NULLS LAST, id"

// exactPredicate is an exact geometric test applied after the conservative
// R-tree candidate scan.
type exactPredicate func(g geom.Geometry) (bool, error)

// compiledFilter holds the two independent predicate fragments compiled from
// a FilterSpec: attribute conditions and spatial conditions, each as a
// predicate string with ordered parameters. The fragments are AND-ed only
// when both are non-empty.
type compiledFilter struct {
	attr        string
	attrArgs    []any
	spatial     string
	spatialArgs []any

	// post is the exact geometric predicate for point/intersects filters;
	// nil when the R-tree overlap alone is the intended (superset) result.
	post exactPredicate

	// spatialIgnored is set when spatial fields were present but the
	// spatial index is unavailable, so the spatial fragment compiled to a
	// no-op. Surfaced to callers as a capability flag.
	spatialIgnored bool

	limit  int
	offset int
}

// where renders the combined WHERE clause, or an empty string when the
// filter has no conditions at all.
func (c compiledFilter) where() (string, []any) {
	switch {
	case c.attr != "" && c.spatial != "":
		return "WHERE " + c.attr + " AND " + c.spatial, append(append([]any{}, c.attrArgs...), c.spatialArgs...)
	case c.attr != "":
		return "WHERE " + c.attr, c.attrArgs
	case c.spatial != "":
		return "WHERE " + c.spatial, c.spatialArgs
	default:
		return "", nil
	}
}

// compileFilter turns a FilterSpec into parameterized attribute and spatial
// fragments. Every condition present is AND-ed; exact, list and range
// variants of the same field compose without validation.
func compileFilter(f cadastre.FilterSpec, spatial bool) (compiledFilter, error) {
	c := compiledFilter{limit: f.Limit, offset: f.Offset}

	var conds []string
	add := func(cond string, args ...any) {
		conds = append(conds, cond)
		c.attrArgs = append(c.attrArgs, args...)
	}

	if f.Regione != "" {
		add("regione = ?", strings.ToUpper(f.Regione))
	}
	if f.Provincia != "" {
		add("provincia = ?", strings.ToUpper(f.Provincia))
	}
	if f.ComuneCode != "" {
		add("comune_code = ?", strings.ToUpper(f.ComuneCode))
	}
	if f.ComuneName != "" {
		add("comune_name LIKE ?", "%"+f.ComuneName+"%")
	}
	if f.Foglio != nil {
		add("foglio = ?", *f.Foglio)
	}
	if len(f.FoglioList) > 0 {
		add("foglio IN ("+placeholders(len(f.FoglioList))+")", intArgs(f.FoglioList)...)
	}
	if f.Particella != nil {
		add("particella = ?", *f.Particella)
	}
	if len(f.ParticellaList) > 0 {
		add("particella IN ("+placeholders(len(f.ParticellaList))+")", intArgs(f.ParticellaList)...)
	}
	if f.ParticellaRange != nil {
		add("particella BETWEEN ? AND ?", f.ParticellaRange.Min, f.ParticellaRange.Max)
	}
	if f.ParticellaLabel != "" {
		add("label = ?", f.ParticellaLabel)
	}
	if f.LayerType != "" {
		add("layer_type = ?", strings.ToLower(f.LayerType))
	}
	if f.DateFrom != nil {
		add("begin_lifespan >= ?", f.DateFrom.Format(queryDateLayout))
	}
	if f.DateTo != nil {
		add("begin_lifespan <= ?", f.DateTo.Format(queryDateLayout))
	}
	c.attr = strings.Join(conds, " AND ")

	if err := compileSpatial(f, spatial, &c); err != nil {
		return compiledFilter{}, err
	}
	return c, nil
}

// rtreeOverlap is the conservative candidate scan against stored bounds;
// one instance is emitted per spatial predicate present.
const rtreeOverlap = "id IN (SELECT id FROM parcels_rtree WHERE min_lon <= ? AND max_lon >= ? AND min_lat <= ? AND max_lat >= ?)"

// compileSpatial emits the spatial fragment. Predicates present together
// are AND-ed, like the attribute conditions. Without the spatial index the
// fragment stays empty and the fields degrade to no-ops; c.spatialIgnored
// records that this happened.
func compileSpatial(f cadastre.FilterSpec, spatial bool, c *compiledFilter) error {
	if !f.HasSpatial() {
		return nil
	}
	if !spatial {
		c.spatialIgnored = true
		return nil
	}

	var frags []string
	var posts []exactPredicate

	if f.BBox != nil {
		// Exact polygon tests are deliberately not applied for bbox filters.
		frags = append(frags, rtreeOverlap)
		c.spatialArgs = append(c.spatialArgs, f.BBox.MaxLon, f.BBox.MinLon, f.BBox.MaxLat, f.BBox.MinLat)
	}

	if f.Point != nil {
		frags = append(frags, rtreeOverlap)
		c.spatialArgs = append(c.spatialArgs, f.Point.Lon, f.Point.Lon, f.Point.Lat, f.Point.Lat)
		pt := geom.XY{X: f.Point.Lon, Y: f.Point.Lat}.AsPoint().AsGeometry()
		posts = append(posts, func(g geom.Geometry) (bool, error) {
			return geom.Contains(g, pt)
		})
	}

	if f.IntersectsWKT != "" {
		query, err := geom.UnmarshalWKT(f.IntersectsWKT)
		if err != nil {
			return fmt.Errorf("invalid intersects geometry: %w", err)
		}
		env := query.Envelope()
		min, max, ok := env.MinMaxXYs()
		if !ok {
			return fmt.Errorf("intersects geometry has an empty envelope")
		}
		frags = append(frags, rtreeOverlap)
		c.spatialArgs = append(c.spatialArgs, max.X, min.X, max.Y, min.Y)
		posts = append(posts, func(g geom.Geometry) (bool, error) {
			return geom.Intersects(g, query), nil
		})
	}

	c.spatial = strings.Join(frags, " AND ")
	switch len(posts) {
	case 0:
	case 1:
		c.post = posts[0]
	default:
		c.post = func(g geom.Geometry) (bool, error) {
			for _, p := range posts {
				ok, err := p(g)
				if err != nil || !ok {
					return false, err
				}
			}
			return true, nil
		}
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func intArgs(vals []int) []any {
	args := make([]any, len(vals))
	for i, v := range vals {
		args[i] = v
	}
	return args
}
