package catalog

import (
	"context"
	"log/slog"
	"time"
)

// Searcher is the granule-search operation the resolver depends on.
type Searcher interface {
	Search(ctx context.Context, shortName string, start, stop time.Time, cloudHosted bool) ([]Granule, error)
}

// Resolver turns a (year, day-of-year, product) request into the ordered
// list of granules belonging to exactly that day.
type Resolver struct {
	logger   *slog.Logger
	searcher Searcher
}

// NewResolver creates a resolver on top of a search client.
func NewResolver(logger *slog.Logger, s Searcher) *Resolver {
	return &Resolver{logger: logger, searcher: s}
}

// DayWindow returns the [start, stop) window for a 1-based day of year.
func DayWindow(year, doy int) (start, stop time.Time) {
	start = time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, doy-1)
	return start, start.AddDate(0, 0, 1)
}

// GranulesForDay queries the catalog for one day's granules and trims
// boundary overflow. The temporal query matches at whole-day granularity
// and includes granules touching the window edges, so the previous day's
// last granule and the next day's first granule can appear at the ends of
// the returned list. Each boundary entry whose embedded date differs from
// the requested day is dropped. The drop set is computed against the
// unmutated list, so a single-entry list is never trimmed twice.
// An empty result is a data gap for that day, not an error.
func (r *Resolver) GranulesForDay(ctx context.Context, year, doy int, shortName string) ([]Granule, error) {
	start, stop := DayWindow(year, doy)
	granules, err := r.searcher.Search(ctx, shortName, start, stop, true)
	if err != nil {
		return nil, err
	}
	if len(granules) == 0 {
		return nil, nil
	}

	want := start.Format("20060102")
	drop := make(map[int]bool)
	for _, idx := range []int{0, len(granules) - 1} {
		tok, err := granules[idx].DateToken()
		if err != nil {
			return nil, err
		}
		if tok != want {
			drop[idx] = true
		}
	}
	if len(drop) == 0 {
		return granules, nil
	}
	kept := make([]Granule, 0, len(granules))
	for i, g := range granules {
		if !drop[i] {
			kept = append(kept, g)
		}
	}
	r.logger.Info("trimmed boundary granules",
		"day", want, "dropped", len(granules)-len(kept), "kept", len(kept))
	return kept, nil
}
