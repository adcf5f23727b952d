package commands

import (
	"github.com/spf13/cobra"
)

// HierarchyOptions holds options for the hierarchy command.
type HierarchyOptions struct {
	Store  string
	Region string
}

// NewHierarchyCommand creates the hierarchy command.
func NewHierarchyCommand() *cobra.Command {
	opts := &HierarchyOptions{}

	cmd := &cobra.Command{
		Use:   "hierarchy [regione [provincia [comune]]]",
		Short: "Drill down the geographic hierarchy of a store",
		Long: `List the distinct next-level values under a geographic prefix: with no
arguments the regions, with a region its provinces, with a province its comuni
(code and name), and with a comune the sheet numbers. Values are always
distinct and sorted ascending.`,
		Example: `  catasto hierarchy --region ABRUZZO
  catasto hierarchy --region ABRUZZO ABRUZZO AQ
  catasto hierarchy --region ABRUZZO ABRUZZO AQ A018`,
		Args: cobra.MaximumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHierarchy(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.Store, "store", "", "Explicit store file to inspect")
	cmd.Flags().StringVar(&opts.Region, "region", "", "Inspect the parcel store of this region")

	return cmd
}

func runHierarchy(cmd *cobra.Command, opts *HierarchyOptions, args []string) error {
	cc := NewCommandContext(cmd)

	var regione, provincia, comune string
	if len(args) > 0 {
		regione = args[0]
	}
	if len(args) > 1 {
		provincia = args[1]
	}
	if len(args) > 2 {
		comune = args[2]
	}

	st, err := cc.openStore(cmd.Context(), cc.resolveStorePath(opts.Store, opts.Region))
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	values, err := st.Hierarchy(cmd.Context(), regione, provincia, comune)
	if err != nil {
		return err
	}

	switch values.Level {
	case "regioni":
		rows := make([][]any, len(values.Regioni))
		for i, v := range values.Regioni {
			rows[i] = []any{v}
		}
		return cc.Renderer.Table([]string{"regione"}, rows)
	case "province":
		rows := make([][]any, len(values.Province))
		for i, v := range values.Province {
			rows[i] = []any{v}
		}
		return cc.Renderer.Table([]string{"provincia"}, rows)
	case "comuni":
		rows := make([][]any, len(values.Comuni))
		for i, c := range values.Comuni {
			rows[i] = []any{c.Code, c.Name}
		}
		return cc.Renderer.Table([]string{"comune", "name"}, rows)
	default:
		rows := make([][]any, len(values.Fogli))
		for i, f := range values.Fogli {
			rows[i] = []any{f}
		}
		return cc.Renderer.Table([]string{"foglio"}, rows)
	}
}
