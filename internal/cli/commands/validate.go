package commands

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opencatasto/catasto/internal/ingest"
	"github.com/opencatasto/catasto/pkg/cadastre"
)

// NewValidateFileCommand creates the hidden validate-file command. The import
// pipeline re-invokes the binary with this command to parse a source file in
// an expendable process: a parser crash kills only the child, and the exit
// status tells the parent whether the file is safe to load in-process.
func NewValidateFileCommand() *cobra.Command {
	return &cobra.Command{
		Use:    "validate-file <path>",
		Short:  "Parse a source file and exit nonzero if it is unreadable",
		Hidden: true,
		Args:   cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			layer := layerFromFilename(path)

			records, err := ingest.ReadFile(path, layer)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d\n", len(records))
			return nil
		},
	}
}

// layerFromFilename infers the layer type from the upstream naming marker,
// defaulting to parcels when neither marker is present.
func layerFromFilename(path string) cadastre.LayerType {
	name := strings.ToLower(filepath.Base(path))
	if strings.Contains(name, "_map") {
		return cadastre.LayerMap
	}
	return cadastre.LayerParcel
}
