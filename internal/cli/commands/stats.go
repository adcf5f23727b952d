package commands

import (
	"sort"

	"github.com/spf13/cobra"
)

// StatsOptions holds options for the stats command.
type StatsOptions struct {
	Store   string
	Region  string
	LastRun bool
}

// NewStatsCommand creates the stats command.
func NewStatsCommand() *cobra.Command {
	opts := &StatsOptions{}

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate counts for a store",
		Long: `Show record counts per region and per layer type. The counts come from the
precomputed summary table maintained during import, so this never scans the
parcel data itself.`,
		Example: `  catasto stats
  catasto stats --region ABRUZZO
  catasto stats --last-run`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Store, "store", "", "Explicit store file to inspect")
	cmd.Flags().StringVar(&opts.Region, "region", "", "Inspect the parcel store of this region")
	cmd.Flags().BoolVar(&opts.LastRun, "last-run", false, "Show the accounting of the latest import run instead")

	return cmd
}

func runStats(cmd *cobra.Command, opts *StatsOptions) error {
	cc := NewCommandContext(cmd)

	st, err := cc.openStore(cmd.Context(), cc.resolveStorePath(opts.Store, opts.Region))
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if opts.LastRun {
		run, err := st.LatestImportRun(cmd.Context())
		if err != nil {
			return err
		}
		if run == nil {
			cc.Renderer.Printf("no import runs recorded\n")
			return nil
		}
		return cc.Renderer.Object(map[string]any{
			"id":                     run.ID,
			"data_dir":               run.DataDir,
			"started_at":             run.StartedAt,
			"completed_at":           run.CompletedAt,
			"files_found":            run.FilesFound,
			"files_imported":         run.FilesImported,
			"files_skipped_existing": run.FilesSkippedExisting,
			"files_skipped_unknown":  run.FilesSkippedUnknown,
			"files_corrupted":        run.FilesCorrupted,
			"files_errored":          run.FilesErrored,
			"rows_imported":          run.RowsImported,
			"rows_rejected":          run.RowsRejected,
		})
	}

	stats, err := st.Statistics(cmd.Context())
	if err != nil {
		return err
	}

	regions := make([]string, 0, len(stats.ByRegion))
	for r := range stats.ByRegion {
		regions = append(regions, r)
	}
	sort.Strings(regions)

	rows := make([][]any, 0, len(regions)+1)
	for _, r := range regions {
		rows = append(rows, []any{r, stats.ByRegion[r]})
	}
	rows = append(rows, []any{"TOTAL", stats.Total})

	if err := cc.Renderer.Table([]string{"regione", "records"}, rows); err != nil {
		return err
	}
	for _, layer := range []string{"map", "ple"} {
		if n, ok := stats.ByLayerType[layer]; ok {
			cc.Renderer.Printf("%s: %d\n", layer, n)
		}
	}
	if !stats.SpatialEnabled {
		cc.Renderer.Warnf("store has no spatial index\n")
	}
	return nil
}
