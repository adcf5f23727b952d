// Package ingest implements the bulk-ingestion pipeline: source discovery,
// safe parsing with crash isolation, and the two-phase, per-region sharded
// import into cadastral stores.
package ingest

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/opencatasto/catasto/pkg/cadastre"
)

// SourceFile is one discovered geometry container, classified by layer type
// and annotated with the geographic hierarchy encoded in its path. When a
// converted copy exists alongside the original, Path points at the converted
// copy and AltPath at the original fallback.
type SourceFile struct {
	Path    string
	AltPath string

	Layer      cadastre.LayerType
	Regione    string
	Provincia  string
	ComuneCode string
	ComuneName string
}

// DiscoveryResult is the classified inventory of a source tree.
type DiscoveryResult struct {
	Files        []SourceFile
	UnknownFiles int

	// ErroredPaths counts entries the walk could not stat or list
	// (permissions, vanished files). They are hard errors in the run
	// accounting but never abort the walk.
	ErroredPaths int
}

// Regions returns the distinct regions of the parcel files, sorted so phase
// two processes shards in a deterministic order.
func (d *DiscoveryResult) Regions() []string {
	seen := make(map[string]bool)
	for _, f := range d.Files {
		if f.Layer == cadastre.LayerParcel {
			seen[f.Regione] = true
		}
	}
	regions := make([]string, 0, len(seen))
	for r := range seen {
		regions = append(regions, r)
	}
	sort.Strings(regions)
	return regions
}

// extensions recognized as geometry containers. The converted GeoJSON copy
// of a file is preferred over the GeoPackage original.
const (
	extConverted = ".geojson"
	extOriginal  = ".gpkg"
)

// Discover enumerates candidate geometry files under root. The tree layout
// is ROOT/REGION/PROVINCE/COMUNECODE_NAME/*, with the layer type selected by
// a _map or _ple marker in the file name (case-insensitive). Unknown files
// are counted and skipped, never imported. Paths the walk cannot read are
// logged and counted as errored; only an unusable root fails discovery
// outright.
func Discover(root string, logger *slog.Logger) (*DiscoveryResult, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	result := &DiscoveryResult{}

	// logical base path -> index into result.Files, for converted/original
	// pairing of the same file.
	byBase := make(map[string]int)

	err := filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			logger.Warn("cannot read path, counting as errored", "path", path, "error", walkErr)
			result.ErroredPaths++
			return nil
		}
		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) != 4 {
			result.UnknownFiles++
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		layer, ok := classify(info.Name())
		if !ok || (ext != extConverted && ext != extOriginal) {
			result.UnknownFiles++
			return nil
		}

		code, name := splitComuneDir(parts[2])
		sf := SourceFile{
			Path:       path,
			Layer:      layer,
			Regione:    strings.ToUpper(parts[0]),
			Provincia:  strings.ToUpper(parts[1]),
			ComuneCode: code,
			ComuneName: name,
		}

		base := strings.TrimSuffix(path, filepath.Ext(path))
		if i, exists := byBase[base]; exists {
			// Pair with the already-seen representation of the same file.
			if ext == extConverted {
				result.Files[i].AltPath = result.Files[i].Path
				result.Files[i].Path = path
			} else {
				result.Files[i].AltPath = path
			}
			return nil
		}
		byBase[base] = len(result.Files)
		result.Files = append(result.Files, sf)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discovery failed: %w", err)
	}

	// Deterministic processing order regardless of walk order.
	sort.Slice(result.Files, func(i, j int) bool {
		return result.Files[i].Path < result.Files[j].Path
	})
	return result, nil
}

// classify selects the layer type from the _map/_ple file name marker.
func classify(name string) (cadastre.LayerType, bool) {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "_map"):
		return cadastre.LayerMap, true
	case strings.Contains(lower, "_ple"):
		return cadastre.LayerParcel, true
	default:
		return "", false
	}
}

// splitComuneDir splits a COMUNECODE_NAME directory into its code and
// display name; underscores inside the name become spaces.
func splitComuneDir(dir string) (code, name string) {
	code, name, found := strings.Cut(dir, "_")
	if !found {
		return strings.ToUpper(dir), ""
	}
	return strings.ToUpper(code), strings.ReplaceAll(name, "_", " ")
}
