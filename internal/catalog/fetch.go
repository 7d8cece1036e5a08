package catalog

import (
	"context"
	"time"

	"github.com/ecotele-data/telemetry.bridge/internal/monitoring"
	"github.com/ecotele-data/telemetry.bridge/internal/telemetry"
	"github.com/ecotele-data/telemetry.bridge/internal/timeutil"
)

// SessionSource is the store read surface the fetcher pages over. scanned is
// the number of rows the page covered at the storage level, which can exceed
// len(samples) when rows were dropped for malformed timestamps; the fetcher
// advances and terminates on scanned, never on the surviving count.
type SessionSource interface {
	SessionPage(ctx context.Context, sessionID string, offset, limit int) (samples []telemetry.Sample, scanned int, err error)
}

// PaginationStats records how a fetch went, for logging and the stats
// endpoint.
type PaginationStats struct {
	Requests       int  `json:"requests"`
	Rows           int  `json:"rows"`
	LargestSession int  `json:"largest_session"`
	Paginated      bool `json:"paginated"`
}

// Fetcher retrieves a session's complete history in page-sized chunks.
type Fetcher struct {
	src       SessionSource
	pageSize  int
	pageDelay time.Duration
	maxRows   int
	clock     timeutil.Clock
}

// FetcherConfig contains configuration for Fetcher.
type FetcherConfig struct {
	Source SessionSource
	// PageSize rows per request; zero means 1000.
	PageSize int
	// PageDelay paces consecutive pages.
	PageDelay time.Duration
	// MaxRows caps one session's fetch; zero means 1,000,000.
	MaxRows int
	// Clock is optional; if nil, uses the real clock.
	Clock timeutil.Clock
}

// NewFetcher creates a Fetcher.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1000
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 1_000_000
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Fetcher{
		src:       cfg.Source,
		pageSize:  cfg.PageSize,
		pageDelay: cfg.PageDelay,
		maxRows:   cfg.MaxRows,
		clock:     cfg.Clock,
	}
}

// FetchSession pages through a session's rows oldest first until a short or
// empty page, the row cap, or context cancellation. End of data is judged on
// the storage-level scanned count, so a page shortened by dropped malformed
// rows does not end the fetch early. Every returned sample is tagged with
// the given provenance so the merge step can order it against live data. A
// failed page is logged and skipped rather than aborting the fetch; the
// offset still advances so the same page is not retried forever.
func (f *Fetcher) FetchSession(ctx context.Context, sessionID string, src telemetry.Source) ([]telemetry.Sample, PaginationStats, error) {
	var out []telemetry.Sample
	var stats PaginationStats

	offset := 0
	for offset < f.maxRows {
		if err := ctx.Err(); err != nil {
			return out, stats, err
		}

		limit := f.pageSize
		if remaining := f.maxRows - offset; remaining < limit {
			limit = remaining
		}

		stats.Requests++
		page, scanned, err := f.src.SessionPage(ctx, sessionID, offset, limit)
		if err != nil {
			monitoring.Logf("fetch: page at offset %d for session %.8s failed: %v", offset, sessionID, err)
			offset += limit
			continue
		}
		if scanned == 0 {
			break
		}

		for _, smp := range page {
			smp.Source = src
			out = append(out, smp)
		}
		stats.Rows += len(page)

		offset += scanned
		if scanned < limit {
			break
		}
		if f.pageDelay > 0 {
			f.clock.Sleep(f.pageDelay)
		}
	}

	stats.LargestSession = stats.Rows
	stats.Paginated = stats.Requests > 1
	if stats.Paginated {
		monitoring.Logf("fetch: session %.8s took %d requests for %d rows", sessionID, stats.Requests, stats.Rows)
	}
	return out, stats, nil
}
