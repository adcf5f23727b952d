package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencatasto/catasto/pkg/cadastre"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st := New(nil)
	require.NoError(t, st.Open(filepath.Join(t.TempDir(), "test.sqlite")))
	require.NoError(t, st.Init(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// square returns a 1x1 degree square multipolygon at the given corner.
func square(lon, lat float64) orb.MultiPolygon {
	return orb.MultiPolygon{{{
		{lon, lat}, {lon + 1, lat}, {lon + 1, lat + 1}, {lon, lat + 1}, {lon, lat},
	}}}
}

func parcel(ref, label string) cadastre.Record {
	return cadastre.Record{NationalReference: ref, Label: label}
}

func testBatch(records ...cadastre.Record) ImportBatch {
	return ImportBatch{
		Regione:    "ABRUZZO",
		Provincia:  "AQ",
		ComuneCode: "A018",
		ComuneName: "Acciano",
		LayerType:  cadastre.LayerParcel,
		SourceFile: "A018_ple.geojson",
		Records:    records,
	}
}

func TestImportBatch_DecodesReferences(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	written, err := st.ImportBatch(ctx, testBatch(
		parcel("A018_000400.1", "12"),
		parcel("A018_000400.2", "STRADA"),
	))
	require.NoError(t, err)
	assert.Equal(t, 2, written)

	res, err := st.Query(ctx, cadastre.FilterSpec{})
	require.NoError(t, err)
	require.Len(t, res.Records, 2)

	numbered := res.Records[0]
	assert.Equal(t, 4, numbered.Foglio)
	require.NotNil(t, numbered.Particella)
	assert.Equal(t, 12, *numbered.Particella)
	assert.Equal(t, "ABRUZZO", numbered.Regione)
	assert.Equal(t, "Acciano", numbered.ComuneName)

	// Alphanumeric labels keep the label, drop the number, and sort last.
	road := res.Records[1]
	assert.Equal(t, "STRADA", road.Label)
	assert.Nil(t, road.Particella)
}

func TestImportBatch_Idempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	batch := testBatch(
		parcel("A018_000400.1", "12"),
		parcel("A018_000400.2", "13"),
		parcel("A018_000500.1", "1"),
	)

	for i := 0; i < 3; i++ {
		written, err := st.ImportBatch(ctx, batch)
		require.NoError(t, err)
		assert.Equal(t, 3, written)
	}

	res, err := st.Query(ctx, cadastre.FilterSpec{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total, "re-imports upsert, never duplicate")

	stats, err := st.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(3), stats.ByRegion["ABRUZZO"])
	assert.Equal(t, int64(3), stats.ByLayerType["ple"])
}

func TestImportBatch_UpsertUpdates(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.ImportBatch(ctx, testBatch(parcel("A018_000400.1", "12")))
	require.NoError(t, err)

	updated := parcel("A018_000400.1", "12")
	updated.BeginLifespan = cadastre.ParseLifespan("25/07/2019")
	_, err = st.ImportBatch(ctx, testBatch(updated))
	require.NoError(t, err)

	res, err := st.Query(ctx, cadastre.FilterSpec{})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	require.NotNil(t, res.Records[0].BeginLifespan)
	assert.Equal(t, "2019-07-25", res.Records[0].BeginLifespan.Format("2006-01-02"))
}

func TestImportBatch_MovedReferenceRecountsOldKey(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.ImportBatch(ctx, testBatch(
		parcel("A018_000400.1", "12"),
		parcel("A018_000400.2", "13"),
	))
	require.NoError(t, err)

	// A corrected upstream export re-publishes one reference under another
	// comune. The upsert moves the row, so the old key's stats must be
	// recounted, not just the new key's.
	moved := testBatch(parcel("A018_000400.1", "12"))
	moved.ComuneCode = "B002"
	moved.ComuneName = "Altro"
	_, err = st.ImportBatch(ctx, moved)
	require.NoError(t, err)

	stats, err := st.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total, "statistics never overcount after a move")

	var count int64
	require.NoError(t, st.db.QueryRowContext(ctx, `
		SELECT count FROM hierarchy_stats
		WHERE regione = 'ABRUZZO' AND provincia = 'AQ' AND comune_code = 'A018' AND layer_type = 'ple'`,
	).Scan(&count))
	assert.Equal(t, int64(1), count)

	// Moving the last row of a key removes its stats row entirely.
	moved = testBatch(parcel("A018_000400.2", "13"))
	moved.ComuneCode = "B002"
	_, err = st.ImportBatch(ctx, moved)
	require.NoError(t, err)

	err = st.db.QueryRowContext(ctx, `
		SELECT count FROM hierarchy_stats
		WHERE regione = 'ABRUZZO' AND provincia = 'AQ' AND comune_code = 'A018' AND layer_type = 'ple'`,
	).Scan(&count)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	stats, err = st.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)
}

func TestQuery_DeterministicOrderAndPagination(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.ImportBatch(ctx, testBatch(
		parcel("A018_000400.3", "3"),
		parcel("A018_000400.1", "1"),
		parcel("A018_000300.9", "9"),
		parcel("A018_000400.2", "CANALE"),
	))
	require.NoError(t, err)

	full, err := st.Query(ctx, cadastre.FilterSpec{})
	require.NoError(t, err)
	require.Len(t, full.Records, 4)

	// Sheets ascending, then parcel number ascending with unnumbered rows last.
	assert.Equal(t, 3, full.Records[0].Foglio)
	assert.Equal(t, "1", full.Records[1].Label)
	assert.Equal(t, "3", full.Records[2].Label)
	assert.Equal(t, "CANALE", full.Records[3].Label)

	// Paginated windows tile the full ordering.
	var paged []cadastre.Record
	for offset := 0; offset < 4; offset += 2 {
		res, err := st.Query(ctx, cadastre.FilterSpec{Limit: 2, Offset: offset})
		require.NoError(t, err)
		assert.Equal(t, 4, res.Total)
		paged = append(paged, res.Records...)
	}
	require.Len(t, paged, 4)
	for i := range full.Records {
		assert.Equal(t, full.Records[i].ID, paged[i].ID)
	}
}

func TestQuery_AttributeFilters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.ImportBatch(ctx, testBatch(
		parcel("A018_000400.1", "100"),
		parcel("A018_000400.2", "150"),
		parcel("A018_000400.3", "250"),
		parcel("A018_000500.1", "100"),
	))
	require.NoError(t, err)

	foglio := 4
	res, err := st.Query(ctx, cadastre.FilterSpec{
		Foglio:          &foglio,
		ParticellaRange: &cadastre.IntRange{Min: 100, Max: 200},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)

	res, err = st.Query(ctx, cadastre.FilterSpec{ComuneName: "ccia"})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Total, "comune name matches by substring")

	res, err = st.Query(ctx, cadastre.FilterSpec{Regione: "LAZIO"})
	require.NoError(t, err)
	assert.Empty(t, res.Records)
}

func TestQuery_LayerPartition(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	sheets := testBatch(cadastre.Record{NationalReference: "A018.FG4", Label: "4"})
	sheets.LayerType = cadastre.LayerMap
	sheets.SourceFile = "A018_map.geojson"
	_, err := st.ImportBatch(ctx, sheets)
	require.NoError(t, err)

	_, err = st.ImportBatch(ctx, testBatch(parcel("A018_000400.1", "12")))
	require.NoError(t, err)

	res, err := st.Query(ctx, cadastre.FilterSpec{LayerType: "map"})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, cadastre.LayerMap, res.Records[0].LayerType)
	assert.Equal(t, 4, res.Records[0].Foglio)
	assert.Nil(t, res.Records[0].Particella)

	stats, err := st.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.ByLayerType["map"])
	assert.Equal(t, int64(1), stats.ByLayerType["ple"])
}

func TestQuery_SpatialFilters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	inside := parcel("A018_000400.1", "1")
	inside.SetGeometry(square(13, 42))
	outside := parcel("A018_000400.2", "2")
	outside.SetGeometry(square(20, 45))
	noGeom := parcel("A018_000400.3", "3")

	_, err := st.ImportBatch(ctx, testBatch(inside, outside, noGeom))
	require.NoError(t, err)

	bbox := &cadastre.Bounds{MinLon: 12.5, MinLat: 41.5, MaxLon: 13.5, MaxLat: 42.5}
	res, err := st.Query(ctx, cadastre.FilterSpec{BBox: bbox})
	require.NoError(t, err)

	if !st.SpatialEnabled() {
		assert.True(t, res.SpatialFiltersIgnored)
		assert.Len(t, res.Records, 3)
		return
	}

	require.Len(t, res.Records, 1)
	assert.Equal(t, "1", res.Records[0].Label)

	// Point containment is exact, not just a bounds test.
	res, err = st.Query(ctx, cadastre.FilterSpec{Point: &cadastre.LonLat{Lon: 13.5, Lat: 42.5}})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "1", res.Records[0].Label)

	res, err = st.Query(ctx, cadastre.FilterSpec{Point: &cadastre.LonLat{Lon: 19.0, Lat: 42.5}})
	require.NoError(t, err)
	assert.Empty(t, res.Records)

	res, err = st.Query(ctx, cadastre.FilterSpec{
		IntersectsWKT: "POLYGON((13.5 42.5, 14.5 42.5, 14.5 43.5, 13.5 43.5, 13.5 42.5))",
	})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "1", res.Records[0].Label)
}

func TestHierarchy_DrillDown(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.ImportBatch(ctx, testBatch(
		parcel("A018_000400.1", "1"),
		parcel("A018_000500.1", "1"),
	))
	require.NoError(t, err)

	other := testBatch(parcel("L103_000100.1", "1"))
	other.Provincia = "TE"
	other.ComuneCode = "L103"
	other.ComuneName = "Teramo"
	_, err = st.ImportBatch(ctx, other)
	require.NoError(t, err)

	regioni, err := st.Hierarchy(ctx, "", "", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"ABRUZZO"}, regioni.Regioni)

	province, err := st.Hierarchy(ctx, "abruzzo", "", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"AQ", "TE"}, province.Province)

	comuni, err := st.Hierarchy(ctx, "ABRUZZO", "AQ", "")
	require.NoError(t, err)
	require.Len(t, comuni.Comuni, 1)
	assert.Equal(t, ComuneValue{Code: "A018", Name: "Acciano"}, comuni.Comuni[0])

	fogli, err := st.Hierarchy(ctx, "ABRUZZO", "AQ", "A018")
	require.NoError(t, err)
	assert.Equal(t, []int{4, 5}, fogli.Fogli)
}

func TestImportRuns_RoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	latest, err := st.LatestImportRun(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	run := &ImportRun{
		ID:            "run-1",
		DataDir:       "data",
		FilesFound:    10,
		FilesImported: 9,
		FilesErrored:  1,
		RowsImported:  1234,
	}
	run.StartedAt = run.StartedAt.UTC()
	require.NoError(t, st.SaveImportRun(ctx, run))

	latest, err = st.LatestImportRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "run-1", latest.ID)
	assert.Equal(t, 9, latest.FilesImported)
	assert.Nil(t, latest.CompletedAt)
}

func TestStore_NotOpened(t *testing.T) {
	st := New(nil)
	_, err := st.Query(context.Background(), cadastre.FilterSpec{})
	assert.ErrorContains(t, err, "store not opened")
	_, err = st.Statistics(context.Background())
	assert.ErrorContains(t, err, "store not opened")
}
