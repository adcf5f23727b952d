package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/progress"

	"github.com/opencatasto/catasto/internal/store"
	"github.com/opencatasto/catasto/pkg/cadastre"
)

// Config holds pipeline configuration.
type Config struct {
	// DataDir is the source tree root (ROOT/REGION/PROVINCE/COMUNE_NAME/*).
	DataDir string
	// StoreDir is where destination store files are written.
	StoreDir string
	// Prefix names the store files: <prefix>_map.sqlite and
	// <prefix>_ple.<region-slug>.sqlite.
	Prefix string
	// Force rebuilds stores that already exist; without it existing stores
	// are skipped wholesale, making partial national imports resumable.
	Force bool
	// SafeMode validates every file in an isolated child process before the
	// main process reads it.
	SafeMode bool
	// ValidateTimeout bounds one child validation.
	ValidateTimeout time.Duration
	// Progress receives the per-region progress display; nil disables it.
	Progress io.Writer
	// Logger is the structured logger (optional, uses discard if nil).
	Logger *slog.Logger
}

// Pipeline drives a full import run: discovery, the map phase, then one
// parcel shard per region, strictly sequentially so the working set stays
// bounded to one region at a time.
type Pipeline struct {
	cfg       Config
	logger    *slog.Logger
	validator *Validator
}

// New creates a pipeline.
func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{
		cfg:       cfg,
		logger:    logger,
		validator: NewValidator(cfg.ValidateTimeout, logger),
	}
}

// RunResult is the full accounting of one pipeline run. None of the
// per-file failure classes aborts the run; they are reported independently
// so an operator can tell partial success from the summary alone.
type RunResult struct {
	RunID string

	FilesFound           int
	FilesImported        int
	FilesSkippedExisting int
	FilesSkippedUnknown  int
	FilesCorrupted       int
	FilesErrored         int

	RowsImported int
	RowsRejected int

	Duration time.Duration
}

// Summary returns a human-readable one-line accounting.
func (r *RunResult) Summary() string {
	return fmt.Sprintf(
		"Files: %d found (%d imported, %d skipped existing, %d unparseable, %d corrupted, %d errors) | "+
			"Rows: %d imported, %d rejected | Duration: %s",
		r.FilesFound, r.FilesImported, r.FilesSkippedExisting, r.FilesSkippedUnknown,
		r.FilesCorrupted, r.FilesErrored,
		r.RowsImported, r.RowsRejected, r.Duration.Round(time.Millisecond))
}

// MapStorePath returns the destination path of the sheet store.
func (p *Pipeline) MapStorePath() string {
	return filepath.Join(p.cfg.StoreDir, p.cfg.Prefix+"_map.sqlite")
}

// ShardPath returns the destination path of one region's parcel store.
func (p *Pipeline) ShardPath(region string) string {
	return filepath.Join(p.cfg.StoreDir, fmt.Sprintf("%s_ple.%s.sqlite", p.cfg.Prefix, cadastre.RegionSlug(region)))
}

// Run executes the two import phases and returns the accounting. Only a
// discovery failure or an unusable store directory is a hard error; store
// failures are scoped to their phase or shard.
func (p *Pipeline) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()
	result := &RunResult{RunID: uuid.New().String()}

	p.logger.Info("starting import run", "run_id", result.RunID, "data_dir", p.cfg.DataDir)

	if err := os.MkdirAll(p.cfg.StoreDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	discovered, err := Discover(p.cfg.DataDir, p.logger)
	if err != nil {
		return nil, err
	}
	result.FilesFound = len(discovered.Files) + discovered.UnknownFiles + discovered.ErroredPaths
	result.FilesSkippedUnknown += discovered.UnknownFiles
	result.FilesErrored += discovered.ErroredPaths

	p.logger.Info("discovery completed",
		"files", len(discovered.Files), "unknown", discovered.UnknownFiles,
		"errored", discovered.ErroredPaths)

	var pw progress.Writer
	if p.cfg.Progress != nil {
		pw = progress.NewWriter()
		pw.SetOutputWriter(p.cfg.Progress)
		pw.SetAutoStop(false)
		go pw.Render()
		defer pw.Stop()
	}

	p.runMapPhase(ctx, discovered, result, pw)
	p.runParcelPhase(ctx, discovered, result, pw)

	result.Duration = time.Since(start)
	p.saveRunRecord(ctx, result, start)

	p.logger.Info("import run completed", "run_id", result.RunID, "summary", result.Summary())
	return result, nil
}

// runMapPhase imports every sheet file into the single map store. An
// existing store skips the phase entirely unless a rebuild is forced.
func (p *Pipeline) runMapPhase(ctx context.Context, discovered *DiscoveryResult, result *RunResult, pw progress.Writer) {
	var mapFiles []SourceFile
	for _, f := range discovered.Files {
		if f.Layer == cadastre.LayerMap {
			mapFiles = append(mapFiles, f)
		}
	}
	if len(mapFiles) == 0 {
		return
	}

	path := p.MapStorePath()
	if fileExists(path) && !p.cfg.Force {
		p.logger.Info("map store exists, skipping phase 1", "path", path)
		result.FilesSkippedExisting += len(mapFiles)
		return
	}

	st, err := p.openStore(ctx, path)
	if err != nil {
		p.logger.Error("failed to open map store, skipping phase 1", "path", path, "error", err)
		result.FilesErrored += len(mapFiles)
		return
	}
	defer func() { _ = st.Close() }()

	tracker := appendTracker(pw, "importing map sheets", len(mapFiles))
	for _, f := range mapFiles {
		p.importFile(ctx, st, f, result)
		tracker.Increment(1)
	}
	tracker.MarkAsDone()
}

// runParcelPhase imports parcel files region by region, one shard store at
// a time. Each shard is closed before the next region begins, and existing
// shards are skipped unless a rebuild is forced.
func (p *Pipeline) runParcelPhase(ctx context.Context, discovered *DiscoveryResult, result *RunResult, pw progress.Writer) {
	byRegion := make(map[string][]SourceFile)
	for _, f := range discovered.Files {
		if f.Layer == cadastre.LayerParcel {
			byRegion[f.Regione] = append(byRegion[f.Regione], f)
		}
	}

	for _, region := range discovered.Regions() {
		files := byRegion[region]
		path := p.ShardPath(region)

		if fileExists(path) && !p.cfg.Force {
			p.logger.Info("region shard exists, skipping", "region", region, "path", path)
			result.FilesSkippedExisting += len(files)
			continue
		}

		st, err := p.openStore(ctx, path)
		if err != nil {
			p.logger.Error("failed to open region shard, skipping region",
				"region", region, "path", path, "error", err)
			result.FilesErrored += len(files)
			continue
		}

		tracker := appendTracker(pw, "importing parcels: "+region, len(files))
		for _, f := range files {
			p.importFile(ctx, st, f, result)
			tracker.Increment(1)
		}
		tracker.MarkAsDone()

		if err := st.Close(); err != nil {
			p.logger.Warn("failed to close region shard", "region", region, "error", err)
		}
	}
}

// importFile validates (in safe mode), parses and imports one source file,
// folding every failure into the run accounting instead of propagating it.
func (p *Pipeline) importFile(ctx context.Context, st *store.Store, f SourceFile, result *RunResult) {
	path := f.Path

	if p.cfg.SafeMode {
		outcome, err := p.validator.Validate(ctx, path)
		if err != nil {
			p.logger.Error("validation could not start", "path", path, "error", err)
			result.FilesErrored++
			return
		}
		if outcome != OutcomeOK && f.AltPath != "" {
			// The converted copy failed; try the original representation
			// before giving up on this record.
			altOutcome, altErr := p.validator.Validate(ctx, f.AltPath)
			if altErr == nil && altOutcome == OutcomeOK {
				p.logger.Warn("converted copy failed validation, using original",
					"converted", path, "original", f.AltPath, "outcome", outcome.String())
				path = f.AltPath
				outcome = OutcomeOK
			}
		}
		switch outcome {
		case OutcomeCorrupted:
			p.logger.Warn("skipping corrupted file", "path", path)
			result.FilesCorrupted++
			return
		case OutcomeUnreadable:
			p.logger.Warn("skipping unparseable file", "path", path)
			result.FilesSkippedUnknown++
			return
		}
	}

	records, err := ReadFile(path, f.Layer)
	if err != nil {
		// Filesystem failures (vanished file, permissions) are hard errors;
		// anything else is a malformed file.
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			result.FilesErrored++
		} else {
			result.FilesSkippedUnknown++
		}
		p.logger.Warn("failed to read file", "path", path, "error", err)
		return
	}

	written, err := st.ImportBatch(ctx, store.ImportBatch{
		Regione:    f.Regione,
		Provincia:  f.Provincia,
		ComuneCode: f.ComuneCode,
		ComuneName: f.ComuneName,
		LayerType:  f.Layer,
		SourceFile: filepath.Base(path),
		Records:    records,
	})
	if err != nil {
		p.logger.Error("import batch failed", "path", path, "error", err)
		result.FilesErrored++
		return
	}

	result.FilesImported++
	result.RowsImported += written
	result.RowsRejected += len(records) - written

	p.logger.Debug("imported file",
		"path", path, "comune", f.ComuneCode, "rows", written, "rejected", len(records)-written)
}

// openStore opens and initializes a destination store, removing any stale
// file first when rebuilding.
func (p *Pipeline) openStore(ctx context.Context, path string) (*store.Store, error) {
	if fileExists(path) && p.cfg.Force {
		removeStoreFiles(path)
	}

	st := store.New(p.logger)
	if err := st.Open(path); err != nil {
		return nil, err
	}
	if err := st.Init(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// saveRunRecord persists the accounting into the map store. Best effort: a
// run whose map store is unusable still reports its summary on stdout.
func (p *Pipeline) saveRunRecord(ctx context.Context, result *RunResult, started time.Time) {
	path := p.MapStorePath()
	if !fileExists(path) {
		return
	}

	st := store.New(p.logger)
	if err := st.Open(path); err != nil {
		p.logger.Warn("could not record run", "error", err)
		return
	}
	defer func() { _ = st.Close() }()
	if err := st.Init(ctx); err != nil {
		p.logger.Warn("could not record run", "error", err)
		return
	}

	completed := started.Add(result.Duration)
	err := st.SaveImportRun(ctx, &store.ImportRun{
		ID:                   result.RunID,
		DataDir:              p.cfg.DataDir,
		StartedAt:            started,
		CompletedAt:          &completed,
		FilesFound:           result.FilesFound,
		FilesImported:        result.FilesImported,
		FilesSkippedExisting: result.FilesSkippedExisting,
		FilesSkippedUnknown:  result.FilesSkippedUnknown,
		FilesCorrupted:       result.FilesCorrupted,
		FilesErrored:         result.FilesErrored,
		RowsImported:         result.RowsImported,
		RowsRejected:         result.RowsRejected,
	})
	if err != nil {
		p.logger.Warn("could not record run", "error", err)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// removeStoreFiles deletes a store file and its WAL sidecars for a forced
// rebuild.
func removeStoreFiles(path string) {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		_ = os.Remove(p)
	}
}

// appendTracker registers a progress tracker, or returns an inert one when
// the display is disabled.
func appendTracker(pw progress.Writer, message string, total int) *progress.Tracker {
	tracker := &progress.Tracker{Message: message, Total: int64(total)}
	if pw != nil {
		pw.AppendTracker(tracker)
	}
	return tracker
}
