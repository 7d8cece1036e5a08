// Package catalog discovers recorded sessions and fetches their full
// sample history through the store's paginated read API.
package catalog

import (
	"context"
	"sort"
	"time"

	"github.com/ecotele-data/telemetry.bridge/internal/monitoring"
	"github.com/ecotele-data/telemetry.bridge/internal/store"
	"github.com/ecotele-data/telemetry.bridge/internal/timeutil"
)

// CatalogSource is the store read surface the scanner pages over.
type CatalogSource interface {
	CatalogPage(ctx context.Context, offset, limit int) ([]store.CatalogRow, error)
}

// SessionInfo summarizes one recorded session.
type SessionInfo struct {
	ID    string    `json:"session_id"`
	Label string    `json:"session_name"`
	Rows  int       `json:"row_count"`
	First time.Time `json:"first_timestamp"`
	Last  time.Time `json:"last_timestamp"`
}

// Scanner builds the session catalog by paging over the stored rows newest
// first and aggregating them per session.
type Scanner struct {
	src       CatalogSource
	pageSize  int
	pageDelay time.Duration
	maxRows   int
	clock     timeutil.Clock
}

// ScannerConfig contains configuration for Scanner.
type ScannerConfig struct {
	Source CatalogSource
	// PageSize rows per request; zero means 1000.
	PageSize int
	// PageDelay paces consecutive pages.
	PageDelay time.Duration
	// MaxRows caps the total scan; zero means 1,000,000.
	MaxRows int
	// Clock is optional; if nil, uses the real clock.
	Clock timeutil.Clock
}

// NewScanner creates a Scanner.
func NewScanner(cfg ScannerConfig) *Scanner {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1000
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 1_000_000
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Scanner{
		src:       cfg.Source,
		pageSize:  cfg.PageSize,
		pageDelay: cfg.PageDelay,
		maxRows:   cfg.MaxRows,
		clock:     cfg.Clock,
	}
}

// Scan pages through the stored rows and returns the per-session summary,
// most recently started session first. Rows whose timestamp no longer parses
// are logged and skipped, and a failed page is logged and skipped with the
// offset advanced past it; neither aborts the scan.
func (sc *Scanner) Scan(ctx context.Context) ([]SessionInfo, error) {
	sessions := make(map[string]*SessionInfo)

	offset := 0
	for offset < sc.maxRows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		limit := sc.pageSize
		if remaining := sc.maxRows - offset; remaining < limit {
			limit = remaining
		}

		page, err := sc.src.CatalogPage(ctx, offset, limit)
		if err != nil {
			monitoring.Logf("catalog: page at offset %d failed: %v", offset, err)
			offset += limit
			continue
		}
		if len(page) == 0 {
			break
		}

		for _, row := range page {
			ts, err := time.Parse(time.RFC3339Nano, row.Timestamp)
			if err != nil {
				monitoring.Logf("catalog: skipping row with bad timestamp %q in session %.8s", row.Timestamp, row.SessionID)
				continue
			}
			info, ok := sessions[row.SessionID]
			if !ok {
				info = &SessionInfo{ID: row.SessionID, First: ts, Last: ts}
				sessions[row.SessionID] = info
			}
			if info.Label == "" && row.SessionLabel != "" {
				info.Label = row.SessionLabel
			}
			info.Rows++
			if ts.Before(info.First) {
				info.First = ts
			}
			if ts.After(info.Last) {
				info.Last = ts
			}
		}

		offset += len(page)
		if len(page) < limit {
			break
		}
		if sc.pageDelay > 0 {
			sc.clock.Sleep(sc.pageDelay)
		}
	}

	out := make([]SessionInfo, 0, len(sessions))
	for _, info := range sessions {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].First.Equal(out[j].First) {
			return out[i].First.After(out[j].First)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
