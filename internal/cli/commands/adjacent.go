package commands

import (
	"fmt"
	"os"

	"github.com/paulmach/orb/geojson"
	"github.com/spf13/cobra"

	"github.com/opencatasto/catasto/internal/geo"
)

// AdjacentOptions holds options for the adjacent command.
type AdjacentOptions struct {
	File      string
	Index     int
	Predicate string
}

// NewAdjacentCommand creates the adjacent command.
func NewAdjacentCommand() *cobra.Command {
	opts := &AdjacentOptions{}

	cmd := &cobra.Command{
		Use:   "adjacent",
		Short: "Find the neighbors of a feature in a GeoJSON file",
		Long: `Load a GeoJSON feature collection and list the features whose geometry
satisfies a topological predicate against the selected feature. The default
predicate is touches (boundary contact only); intersects matches any shared
area except full containment of the candidate, and overlaps matches partial
shared area.

The file is an ad hoc working set, typically the --geojson output of a query;
no store is involved.`,
		Example: `  catasto query --region ABRUZZO --foglio 4 --geojson > sheet4.geojson
  catasto adjacent --file sheet4.geojson --index 12
  catasto adjacent --file sheet4.geojson --index 12 --predicate overlaps`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAdjacent(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.File, "file", "", "GeoJSON feature collection to load")
	cmd.Flags().IntVar(&opts.Index, "index", -1, "Zero-based index of the selected feature")
	cmd.Flags().StringVar(&opts.Predicate, "predicate", "touches", "Adjacency predicate (touches, intersects, overlaps)")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("index")

	return cmd
}

func runAdjacent(cmd *cobra.Command, opts *AdjacentOptions) error {
	cc := NewCommandContext(cmd)

	pred, err := geo.ParsePredicate(opts.Predicate)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(opts.File)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", opts.File, err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", opts.File, err)
	}

	collection := geo.NewCollection(fc, cc.Logger)
	if opts.Index < 0 || opts.Index >= collection.Len() {
		return fmt.Errorf("feature index %d out of range (collection has %d features)",
			opts.Index, collection.Len())
	}

	adjacent := collection.FindAdjacent(opts.Index, pred)

	rows := make([][]any, 0, len(adjacent))
	for _, i := range adjacent {
		label := ""
		reference := ""
		if props := fc.Features[i].Properties; props != nil {
			label, _ = props["label"].(string)
			reference, _ = props["national_reference"].(string)
		}
		rows = append(rows, []any{i, label, reference})
	}
	if err := cc.Renderer.Table([]string{"index", "label", "reference"}, rows); err != nil {
		return err
	}
	cc.Renderer.Printf("%d neighbor(s) of feature %d (%s)\n", len(adjacent), opts.Index, pred)
	return nil
}
