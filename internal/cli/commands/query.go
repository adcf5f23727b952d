package commands

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencatasto/catasto/pkg/cadastre"
)

// QueryOptions holds options for the query command.
type QueryOptions struct {
	Store  string
	Region string

	Regione    string
	Provincia  string
	ComuneCode string
	ComuneName string

	Foglio          int
	FoglioList      []int
	Particella      int
	ParticellaList  []int
	ParticellaRange string
	ParticellaLabel string
	LayerType       string

	DateFrom string
	DateTo   string

	BBox          string
	Point         string
	IntersectsWKT string

	Limit   int
	Offset  int
	GeoJSON bool
}

// NewQueryCommand creates the query command.
func NewQueryCommand() *cobra.Command {
	opts := &QueryOptions{}

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query parcels with attribute and spatial filters",
		Long: `Query one store with a combination of geographic, cadastral, temporal and
spatial filters. All filters are optional and combine with AND. Results come
back in a fixed order (region, province, comune, foglio, particella, id) so
the same filter always yields the same sequence.

Spatial filters need the store's spatial index. On a store built without one
they are ignored and a warning is printed; attribute filters still apply.`,
		Example: `  # All parcels of sheet 4 in comune A018
  catasto query --region ABRUZZO --comune-code A018 --foglio 4

  # Parcels 100 through 200 of that sheet, as GeoJSON
  catasto query --region ABRUZZO --comune-code A018 --foglio 4 \
    --particella-range 100-200 --geojson

  # Everything touching a point
  catasto query --region ABRUZZO --point 13.40,42.35`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runQuery(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Store, "store", "", "Explicit store file to query")
	cmd.Flags().StringVar(&opts.Region, "region", "", "Query the parcel store of this region")

	cmd.Flags().StringVar(&opts.Regione, "regione", "", "Filter by region code")
	cmd.Flags().StringVar(&opts.Provincia, "provincia", "", "Filter by province code")
	cmd.Flags().StringVar(&opts.ComuneCode, "comune-code", "", "Filter by comune code")
	cmd.Flags().StringVar(&opts.ComuneName, "comune-name", "", "Filter by comune name substring")

	cmd.Flags().IntVar(&opts.Foglio, "foglio", -1, "Filter by sheet number")
	cmd.Flags().IntSliceVar(&opts.FoglioList, "foglio-list", nil, "Filter by a list of sheet numbers")
	cmd.Flags().IntVar(&opts.Particella, "particella", -1, "Filter by parcel number")
	cmd.Flags().IntSliceVar(&opts.ParticellaList, "particella-list", nil, "Filter by a list of parcel numbers")
	cmd.Flags().StringVar(&opts.ParticellaRange, "particella-range", "", "Filter by an inclusive parcel range (MIN-MAX)")
	cmd.Flags().StringVar(&opts.ParticellaLabel, "particella-label", "", "Filter by the raw parcel label")
	cmd.Flags().StringVar(&opts.LayerType, "layer", "", "Filter by layer type (map or ple)")

	cmd.Flags().StringVar(&opts.DateFrom, "date-from", "", "Filter by begin lifespan on or after this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.DateTo, "date-to", "", "Filter by begin lifespan on or before this date (YYYY-MM-DD)")

	cmd.Flags().StringVar(&opts.BBox, "bbox", "", "Bounding box filter (MINLON,MINLAT,MAXLON,MAXLAT)")
	cmd.Flags().StringVar(&opts.Point, "point", "", "Point containment filter (LON,LAT)")
	cmd.Flags().StringVar(&opts.IntersectsWKT, "intersects", "", "Intersection filter against a WKT geometry")

	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum records to return (0 = unbounded)")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Records to skip")
	cmd.Flags().BoolVar(&opts.GeoJSON, "geojson", false, "Emit the result as a GeoJSON feature collection")

	return cmd
}

func runQuery(cmd *cobra.Command, opts *QueryOptions) error {
	cc := NewCommandContext(cmd)

	filter, err := buildFilter(cmd, opts)
	if err != nil {
		return err
	}

	st, err := cc.openStore(cmd.Context(), cc.resolveStorePath(opts.Store, opts.Region))
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	result, err := st.Query(cmd.Context(), filter)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	if result.SpatialFiltersIgnored {
		cc.Renderer.Warnf("store has no spatial index, spatial filters were ignored\n")
	}

	if opts.GeoJSON {
		raw, err := json.MarshalIndent(result.ToFeatureCollection(), "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode GeoJSON: %w", err)
		}
		cc.Renderer.Printf("%s\n", raw)
		return nil
	}

	rows := make([][]any, 0, len(result.Records))
	for i := range result.Records {
		rec := &result.Records[i]
		particella := ""
		if rec.Particella != nil {
			particella = strconv.Itoa(*rec.Particella)
		}
		rows = append(rows, []any{
			rec.ID, rec.Regione, rec.Provincia, rec.ComuneCode,
			rec.Foglio, particella, rec.Label, string(rec.LayerType),
			rec.NationalReference,
		})
	}
	if err := cc.Renderer.Table(
		[]string{"id", "regione", "provincia", "comune", "foglio", "particella", "label", "layer", "reference"},
		rows,
	); err != nil {
		return err
	}
	cc.Renderer.Printf("%d of %d matching record(s)\n", len(result.Records), result.Total)
	return nil
}

// buildFilter translates command flags into a FilterSpec, validating the
// composite flag formats up front so bad input fails before the store opens.
func buildFilter(cmd *cobra.Command, opts *QueryOptions) (cadastre.FilterSpec, error) {
	filter := cadastre.FilterSpec{
		Regione:         opts.Regione,
		Provincia:       opts.Provincia,
		ComuneCode:      opts.ComuneCode,
		ComuneName:      opts.ComuneName,
		FoglioList:      opts.FoglioList,
		ParticellaList:  opts.ParticellaList,
		ParticellaLabel: opts.ParticellaLabel,
		LayerType:       opts.LayerType,
		IntersectsWKT:   opts.IntersectsWKT,
		Limit:           opts.Limit,
		Offset:          opts.Offset,
	}

	if cmd.Flags().Changed("foglio") {
		v := opts.Foglio
		filter.Foglio = &v
	}
	if cmd.Flags().Changed("particella") {
		v := opts.Particella
		filter.Particella = &v
	}

	if opts.ParticellaRange != "" {
		r, err := parseIntRange(opts.ParticellaRange)
		if err != nil {
			return filter, err
		}
		filter.ParticellaRange = r
	}

	if opts.LayerType != "" {
		if _, err := cadastre.ParseLayerType(opts.LayerType); err != nil {
			return filter, err
		}
	}

	var err error
	if filter.DateFrom, err = parseFilterDate(opts.DateFrom); err != nil {
		return filter, err
	}
	if filter.DateTo, err = parseFilterDate(opts.DateTo); err != nil {
		return filter, err
	}

	if opts.BBox != "" {
		b, err := parseBBox(opts.BBox)
		if err != nil {
			return filter, err
		}
		filter.BBox = b
	}
	if opts.Point != "" {
		p, err := parsePoint(opts.Point)
		if err != nil {
			return filter, err
		}
		filter.Point = p
	}
	return filter, nil
}

func parseIntRange(s string) (*cadastre.IntRange, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid range %q: expected MIN-MAX", s)
	}
	min, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, fmt.Errorf("invalid range %q: %w", s, err)
	}
	max, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return nil, fmt.Errorf("invalid range %q: %w", s, err)
	}
	if max < min {
		return nil, fmt.Errorf("invalid range %q: max below min", s)
	}
	return &cadastre.IntRange{Min: min, Max: max}, nil
}

func parseFilterDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return &t, nil
}

func parseFloats(s string, n int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("expected %d comma-separated values, got %d", n, len(parts))
	}
	values := make([]float64, n)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid coordinate %q: %w", p, err)
		}
		values[i] = v
	}
	return values, nil
}

func parseBBox(s string) (*cadastre.Bounds, error) {
	v, err := parseFloats(s, 4)
	if err != nil {
		return nil, fmt.Errorf("invalid bbox %q: %w", s, err)
	}
	if v[2] < v[0] || v[3] < v[1] {
		return nil, fmt.Errorf("invalid bbox %q: max below min", s)
	}
	return &cadastre.Bounds{MinLon: v[0], MinLat: v[1], MaxLon: v[2], MaxLat: v[3]}, nil
}

func parsePoint(s string) (*cadastre.LonLat, error) {
	v, err := parseFloats(s, 2)
	if err != nil {
		return nil, fmt.Errorf("invalid point %q: %w", s, err)
	}
	return &cadastre.LonLat{Lon: v[0], Lat: v[1]}, nil
}
