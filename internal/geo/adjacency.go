// Package geo implements ad hoc topological queries over an already-loaded
// working set of polygons, independent of the persistent store.
package geo

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/geojson"
	"github.com/peterstace/simplefeatures/geom"
)

// Predicate selects the topological relation used for neighbor search.
type Predicate string

const (
	// PredicateTouches matches boundary contact along a shared edge;
	// corner-only contact does not count. The default.
	PredicateTouches Predicate = "touches"
	// PredicateIntersects matches any shared area excluding full
	// containment of the candidate in the selected geometry.
	PredicateIntersects Predicate = "intersects"
	// PredicateOverlaps matches partial, non-contained shared area.
	PredicateOverlaps Predicate = "overlaps"
)

// ParsePredicate parses a predicate name, defaulting to touches for the
// empty string.
func ParsePredicate(s string) (Predicate, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "touches":
		return PredicateTouches, nil
	case "intersects":
		return PredicateIntersects, nil
	case "overlaps":
		return PredicateOverlaps, nil
	default:
		return "", fmt.Errorf("unknown adjacency predicate: %q", s)
	}
}

// Collection is an explicit, caller-owned working set. There is no shared
// package-level dataset; each caller loads and holds its own handle.
type Collection struct {
	geoms  []geom.Geometry
	logger *slog.Logger
}

// NewCollection builds a working set from a GeoJSON feature collection.
// Features whose geometry cannot be converted stay in the collection as
// empty geometries so indices remain aligned with the input.
func NewCollection(fc *geojson.FeatureCollection, logger *slog.Logger) *Collection {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	geoms := make([]geom.Geometry, len(fc.Features))
	for i, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		raw, err := wkb.Marshal(f.Geometry)
		if err != nil {
			logger.Warn("skipping unconvertible geometry", "index", i, "error", err)
			continue
		}
		g, err := geom.UnmarshalWKB(raw)
		if err != nil {
			logger.Warn("skipping undecodable geometry", "index", i, "error", err)
			continue
		}
		geoms[i] = g
	}
	return &Collection{geoms: geoms, logger: logger}
}

// Len returns the number of geometries in the working set.
func (c *Collection) Len() int {
	return len(c.geoms)
}

// FindAdjacent returns the indices whose geometry satisfies the predicate
// against the selected geometry. An out-of-range index yields an empty
// result; a per-candidate predicate failure (degenerate geometry) counts as
// not adjacent and never aborts the scan. The scan is linear, which is fine
// for a single already-loaded dataset.
func (c *Collection) FindAdjacent(index int, pred Predicate) []int {
	if index < 0 || index >= len(c.geoms) {
		return nil
	}
	selected := c.geoms[index]

	var adjacent []int
	for i, candidate := range c.geoms {
		if i == index {
			continue
		}
		ok, err := c.evaluate(selected, candidate, pred)
		if err != nil {
			c.logger.Debug("predicate failed for candidate, treating as not adjacent",
				"index", i, "error", err)
			continue
		}
		if ok {
			adjacent = append(adjacent, i)
		}
	}
	return adjacent
}

func (c *Collection) evaluate(selected, candidate geom.Geometry, pred Predicate) (bool, error) {
	switch pred {
	case PredicateIntersects:
		if !geom.Intersects(selected, candidate) {
			return false, nil
		}
		within, err := geom.Within(candidate, selected)
		if err != nil {
			return false, err
		}
		return !within, nil
	case PredicateOverlaps:
		return geom.Overlaps(selected, candidate)
	default:
		touches, err := geom.Touches(selected, candidate)
		if err != nil || !touches {
			return false, err
		}
		// Touching means sharing an edge, not just a corner: the shared
		// boundary must be at least one-dimensional.
		shared, err := geom.Intersection(selected, candidate)
		if err != nil {
			return false, err
		}
		return shared.Dimension() >= 1, nil
	}
}
