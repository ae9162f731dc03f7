// Package subagg drives one day's sub-aggregation pipeline: resolve the
// day's granules, fetch and load them, concatenate, and write the daily
// output file.
package subagg

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/CLIMCAPS-tools/climcaps-cloud-prototypes/internal/aggregate"
	"github.com/CLIMCAPS-tools/climcaps-cloud-prototypes/internal/catalog"
	"github.com/CLIMCAPS-tools/climcaps-cloud-prototypes/internal/granule"
	"github.com/CLIMCAPS-tools/climcaps-cloud-prototypes/internal/transfer"
)

// DefaultScratchDir receives downloaded granules when no scratch
// directory is configured.
const DefaultScratchDir = "climcaps_subagg_tmp"

// Catalog resolves a day into its ordered granule list.
type Catalog interface {
	GranulesForDay(ctx context.Context, year, doy int, shortName string) ([]catalog.Granule, error)
}

// Transfer fetches granules to local scratch space or opens them as
// remote streams.
type Transfer interface {
	DownloadAll(ctx context.Context, granules []catalog.Granule, destDir string) ([]transfer.Result, error)
	OpenAll(ctx context.Context, granules []catalog.Granule) ([]io.ReadCloser, error)
}

// Runner drives the daily pipeline.
type Runner struct {
	logger   *slog.Logger
	catalog  Catalog
	transfer Transfer

	// LocalDownload selects the download-then-load-then-delete path
	// instead of streaming remote reads.
	LocalDownload bool
	// ScratchDir holds downloaded granules; each file is removed as
	// soon as it has been loaded, so usage stays bounded by one day.
	ScratchDir string
}

// NewRunner creates a runner over a catalog and a transfer layer.
func NewRunner(logger *slog.Logger, c Catalog, t Transfer) *Runner {
	return &Runner{
		logger:     logger,
		catalog:    c,
		transfer:   t,
		ScratchDir: DefaultScratchDir,
	}
}

// OutputName is the daily output file naming convention.
func OutputName(shortName string, year, doy int) string {
	return fmt.Sprintf("%s_subaggregate_%4d-%03d.nc", shortName, year, doy)
}

// RunDay produces the sub-aggregate file for one (year, day-of-year)
// unit. An already-readable output path or a day with no granules is a
// no-op, not an error; everything else aborts the unit.
func (r *Runner) RunDay(ctx context.Context, year, doy int, platform string, varNames []string, outPath string) error {
	shortName, err := catalog.ShortName(platform)
	if err != nil {
		return err
	}

	if readable(outPath) {
		r.logger.Info("output exists, skipping day", "year", year, "doy", doy, "path", outPath)
		return nil
	}

	granules, err := r.catalog.GranulesForDay(ctx, year, doy, shortName)
	if err != nil {
		return err
	}
	if len(granules) == 0 {
		r.logger.Info("no granules for day", "year", year, "doy", doy, "shortName", shortName)
		return nil
	}

	var recs []*granule.Record
	if r.LocalDownload {
		recs, err = r.loadDownloaded(ctx, granules, varNames)
	} else {
		recs, err = r.loadStreamed(ctx, granules, varNames)
	}
	if err != nil {
		return err
	}

	agg, err := aggregate.Concat(recs)
	if err != nil {
		return err
	}
	if err := granule.WriteFile(outPath, agg); err != nil {
		return err
	}
	r.logger.Info("wrote sub-aggregate", "path", outPath, "granules", len(recs))
	return nil
}

func (r *Runner) loadDownloaded(ctx context.Context, granules []catalog.Granule, varNames []string) ([]*granule.Record, error) {
	results, err := r.transfer.DownloadAll(ctx, granules, r.ScratchDir)
	if err != nil {
		return nil, err
	}
	recs := make([]*granule.Record, 0, len(results))
	for i, res := range results {
		if !res.OK() {
			return nil, fmt.Errorf("subagg: granule %q unavailable after batch retries: %w", granules[i].ID, res.Err)
		}
		rec, err := granule.LoadFile(res.Path, varNames)
		if err != nil {
			return nil, err
		}
		if err := os.Remove(res.Path); err != nil {
			r.logger.Warn("could not remove downloaded granule", "path", res.Path, "err", err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (r *Runner) loadStreamed(ctx context.Context, granules []catalog.Granule, varNames []string) ([]*granule.Record, error) {
	streams, err := r.transfer.OpenAll(ctx, granules)
	if err != nil {
		return nil, err
	}
	recs := make([]*granule.Record, 0, len(streams))
	for i, s := range streams {
		rec, err := granule.LoadStream(s, varNames)
		s.Close()
		if err != nil {
			for _, rest := range streams[i+1:] {
				rest.Close()
			}
			return nil, fmt.Errorf("subagg: granule %q: %w", granules[i].ID, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func readable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}
