package store

import (
	"strings"
	"testing"
	"time"

	"github.com/peterstace/simplefeatures/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencatasto/catasto/pkg/cadastre"
)

func TestCompileFilter_Empty(t *testing.T) {
	c, err := compileFilter(cadastre.FilterSpec{}, true)
	require.NoError(t, err)

	where, args := c.where()
	assert.Empty(t, where)
	assert.Empty(t, args)
	assert.Nil(t, c.post)
	assert.False(t, c.spatialIgnored)
}

func TestCompileFilter_Attributes(t *testing.T) {
	foglio := 4
	from := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	c, err := compileFilter(cadastre.FilterSpec{
		Regione:    "abruzzo",
		Provincia:  "aq",
		ComuneCode: "a018",
		Foglio:     &foglio,
		LayerType:  "PLE",
		DateFrom:   &from,
	}, true)
	require.NoError(t, err)

	where, args := c.where()
	assert.Equal(t,
		"WHERE regione = ? AND provincia = ? AND comune_code = ? AND foglio = ? AND layer_type = ? AND begin_lifespan >= ?",
		where)
	assert.Equal(t, []any{"ABRUZZO", "AQ", "A018", 4, "ple", "2019-01-01"}, args)
}

func TestCompileFilter_ListsAndRange(t *testing.T) {
	c, err := compileFilter(cadastre.FilterSpec{
		FoglioList:      []int{1, 2, 3},
		ParticellaList:  []int{10, 20},
		ParticellaRange: &cadastre.IntRange{Min: 100, Max: 200},
		ParticellaLabel: "112A",
	}, true)
	require.NoError(t, err)

	where, args := c.where()
	assert.Equal(t,
		"WHERE foglio IN (?, ?, ?) AND particella IN (?, ?) AND particella BETWEEN ? AND ? AND label = ?",
		where)
	assert.Equal(t, []any{1, 2, 3, 10, 20, 100, 200, "112A"}, args)
}

func TestCompileFilter_BBox(t *testing.T) {
	bbox := &cadastre.Bounds{MinLon: 13, MinLat: 42, MaxLon: 14, MaxLat: 43}
	c, err := compileFilter(cadastre.FilterSpec{Regione: "ABRUZZO", BBox: bbox}, true)
	require.NoError(t, err)

	where, args := c.where()
	assert.Contains(t, where, "regione = ? AND id IN (SELECT id FROM parcels_rtree")
	assert.Equal(t, []any{"ABRUZZO", 14.0, 13.0, 43.0, 42.0}, args)
	assert.Nil(t, c.post, "bbox is a conservative superset filter")
}

func TestCompileFilter_PointHasExactPredicate(t *testing.T) {
	c, err := compileFilter(cadastre.FilterSpec{
		Point: &cadastre.LonLat{Lon: 13.4, Lat: 42.35},
	}, true)
	require.NoError(t, err)
	assert.NotNil(t, c.post)
	assert.Equal(t, []any{13.4, 13.4, 42.35, 42.35}, c.spatialArgs)
}

func TestCompileFilter_Intersects(t *testing.T) {
	c, err := compileFilter(cadastre.FilterSpec{
		IntersectsWKT: "POLYGON((0 0, 2 0, 2 2, 0 2, 0 0))",
	}, true)
	require.NoError(t, err)
	assert.NotNil(t, c.post)
	assert.Equal(t, []any{2.0, 0.0, 2.0, 0.0}, c.spatialArgs)

	_, err = compileFilter(cadastre.FilterSpec{IntersectsWKT: "not wkt"}, true)
	assert.Error(t, err)
}

func TestCompileFilter_SpatialPredicatesCompose(t *testing.T) {
	bbox := &cadastre.Bounds{MinLon: 13, MinLat: 42, MaxLon: 14, MaxLat: 43}
	c, err := compileFilter(cadastre.FilterSpec{
		BBox:          bbox,
		Point:         &cadastre.LonLat{Lon: 13.4, Lat: 42.35},
		IntersectsWKT: "POLYGON((13 42, 14 42, 14 43, 13 43, 13 42))",
	}, true)
	require.NoError(t, err)

	where, _ := c.where()
	assert.Equal(t, 3, strings.Count(where, "parcels_rtree"), "each spatial predicate emits its own candidate scan")
	assert.Equal(t, []any{
		14.0, 13.0, 43.0, 42.0,
		13.4, 13.4, 42.35, 42.35,
		14.0, 13.0, 43.0, 42.0,
	}, c.spatialArgs)
	require.NotNil(t, c.post)

	// The combined exact predicate requires every test to pass.
	inside := mustGeom(t, "POLYGON((13.3 42.3, 13.5 42.3, 13.5 42.4, 13.3 42.4, 13.3 42.3))")
	ok, err := c.post(inside)
	require.NoError(t, err)
	assert.True(t, ok)

	missesPoint := mustGeom(t, "POLYGON((13.6 42.3, 13.8 42.3, 13.8 42.4, 13.6 42.4, 13.6 42.3))")
	ok, err = c.post(missesPoint)
	require.NoError(t, err)
	assert.False(t, ok)
}

func mustGeom(t *testing.T, wkt string) geom.Geometry {
	t.Helper()
	g, err := geom.UnmarshalWKT(wkt)
	require.NoError(t, err)
	return g
}

func TestCompileFilter_SpatialDegradation(t *testing.T) {
	bbox := &cadastre.Bounds{MinLon: 13, MinLat: 42, MaxLon: 14, MaxLat: 43}
	c, err := compileFilter(cadastre.FilterSpec{Regione: "ABRUZZO", BBox: bbox}, false)
	require.NoError(t, err)

	where, args := c.where()
	assert.Equal(t, "WHERE regione = ?", where, "spatial fields degrade to no-ops")
	assert.Equal(t, []any{"ABRUZZO"}, args)
	assert.True(t, c.spatialIgnored)
	assert.Nil(t, c.post)
}
