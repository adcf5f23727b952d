package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencatasto/catasto/internal/ingest"
)

// ImportOptions holds options for the import command.
type ImportOptions struct {
	DataDir         string
	StoreDir        string
	Prefix          string
	Force           bool
	SafeMode        bool
	ValidateTimeout time.Duration
	NoProgress      bool
}

// NewImportCommand creates the import command.
func NewImportCommand() *cobra.Command {
	opts := &ImportOptions{}

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import cadastral source files into parcel stores",
		Long: `Run the two-phase bulk import: sheet boundaries into the map store, then
parcels into one store per region.

The source tree is laid out as REGION/PROVINCE/COMUNECODE_NAME with a _map or
_ple marker in each file name. Existing stores are skipped, so interrupted
national imports resume by re-running the same command; use --force to rebuild
from scratch.`,
		Example: `  # Import everything under ./data into ./stores
  catasto import --data-dir data --store-dir stores

  # Rebuild a previous import from scratch
  catasto import --force

  # Trust the sources and skip subprocess validation
  catasto import --safe-mode=false`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runImport(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.DataDir, "data-dir", "", "Source tree root (overrides config)")
	cmd.Flags().StringVar(&opts.StoreDir, "store-dir", "", "Destination directory for store files (overrides config)")
	cmd.Flags().StringVar(&opts.Prefix, "prefix", "", "Store file prefix (overrides config)")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "Rebuild stores that already exist")
	cmd.Flags().BoolVar(&opts.SafeMode, "safe-mode", true, "Validate files in an isolated subprocess before importing")
	cmd.Flags().DurationVar(&opts.ValidateTimeout, "validate-timeout", 0, "Per-file validation timeout (overrides config)")
	cmd.Flags().BoolVar(&opts.NoProgress, "no-progress", false, "Disable the progress display")

	return cmd
}

func runImport(cmd *cobra.Command, opts *ImportOptions) error {
	cc := NewCommandContext(cmd)

	cfg := ingest.Config{
		DataDir:         cc.Cfg.DataDir,
		StoreDir:        cc.Cfg.StoreDir,
		Prefix:          cc.Cfg.StorePrefix,
		Force:           opts.Force,
		SafeMode:        cc.Cfg.SafeMode,
		ValidateTimeout: cc.Cfg.ValidateTimeout,
		Logger:          cc.Logger,
	}
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	if opts.StoreDir != "" {
		cfg.StoreDir = opts.StoreDir
	}
	if opts.Prefix != "" {
		cfg.Prefix = opts.Prefix
	}
	if cmd.Flags().Changed("safe-mode") {
		cfg.SafeMode = opts.SafeMode
	}
	if opts.ValidateTimeout > 0 {
		cfg.ValidateTimeout = opts.ValidateTimeout
	}
	if !opts.NoProgress {
		cfg.Progress = cmd.ErrOrStderr()
	}

	result, err := ingest.New(cfg).Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	return cc.Renderer.Table(
		[]string{"run", "found", "imported", "skipped existing", "unparseable", "corrupted", "errors", "rows", "rejected", "duration"},
		[][]any{{
			result.RunID,
			result.FilesFound,
			result.FilesImported,
			result.FilesSkippedExisting,
			result.FilesSkippedUnknown,
			result.FilesCorrupted,
			result.FilesErrored,
			result.RowsImported,
			result.RowsRejected,
			result.Duration.Round(time.Millisecond).String(),
		}},
	)
}
