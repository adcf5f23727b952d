// Package commands implements the catasto CLI subcommands.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/opencatasto/catasto/internal/cli/config"
	"github.com/opencatasto/catasto/internal/cli/output"
	"github.com/opencatasto/catasto/internal/store"
	"github.com/opencatasto/catasto/pkg/cadastre"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
}

// NewCommandContext assembles the config, logger and renderer for a command.
func NewCommandContext(cmd *cobra.Command) *CommandContext {
	cfg := getConfig()
	return &CommandContext{
		Cfg:      cfg,
		Logger:   config.GetLogger(cmd.Context()),
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat)),
	}
}

// getConfig returns the loaded configuration, falling back to defaults when
// a command runs outside the root command's PersistentPreRunE (tests).
func getConfig() *config.Config {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg
	}
	return &config.Config{
		DataDir:         config.DefaultDataDir,
		StoreDir:        config.DefaultStoreDir,
		StorePrefix:     config.DefaultStorePrefix,
		SafeMode:        true,
		ValidateTimeout: config.DefaultValidateTimeout,
		OutputFormat:    config.DefaultOutput,
	}
}

// mapStorePath returns the sheet store path for the current configuration.
func (c *CommandContext) mapStorePath() string {
	return filepath.Join(c.Cfg.StoreDir, c.Cfg.StorePrefix+"_map.sqlite")
}

// shardPath returns a region shard path for the current configuration.
func (c *CommandContext) shardPath(region string) string {
	return filepath.Join(c.Cfg.StoreDir,
		fmt.Sprintf("%s_ple.%s.sqlite", c.Cfg.StorePrefix, cadastre.RegionSlug(region)))
}

// resolveStorePath picks the store a read command operates on: an explicit
// --store path wins, then --region selects a parcel shard, otherwise the
// map store.
func (c *CommandContext) resolveStorePath(storeFlag, regionFlag string) string {
	switch {
	case storeFlag != "":
		return storeFlag
	case regionFlag != "":
		return c.shardPath(regionFlag)
	default:
		return c.mapStorePath()
	}
}

// openStore opens an existing store for reading.
func (c *CommandContext) openStore(ctx context.Context, path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("store not found: %s (run `catasto import` first)", path)
	}
	st := store.New(c.Logger)
	if err := st.Open(path); err != nil {
		return nil, err
	}
	if err := st.Init(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}
