// Package merge reconciles the live feed, bulk fetches, and stored history
// into one deduplicated, time-ordered session timeline.
package merge

import (
	"sort"
	"sync"

	"github.com/ecotele-data/telemetry.bridge/internal/telemetry"
)

// Merge rebuilds a session timeline from its three inputs. Samples with a
// zero timestamp are dropped. Duplicates share a (timestamp, message id)
// key; when the same key appears more than once, the occurrence latest in
// concatenation order wins, so history replaces bulk replaces live. The
// result is sorted oldest first.
func Merge(live, bulk, history []telemetry.Sample) []telemetry.Sample {
	total := len(live) + len(bulk) + len(history)
	if total == 0 {
		return nil
	}

	byKey := make(map[telemetry.DedupKey]telemetry.Sample, total)
	for _, group := range [][]telemetry.Sample{live, bulk, history} {
		for _, smp := range group {
			if smp.Timestamp.IsZero() {
				continue
			}
			byKey[smp.Key()] = smp
		}
	}
	if len(byKey) == 0 {
		return nil
	}

	out := make([]telemetry.Sample, 0, len(byKey))
	for _, smp := range byKey {
		out = append(out, smp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].MessageID < out[j].MessageID
	})
	return out
}

// Timeline holds the merged view of one session behind a lock, capped at
// maxRows. When a rebuild exceeds the cap, the oldest samples fall off.
type Timeline struct {
	mu      sync.RWMutex
	samples []telemetry.Sample
	maxRows int
}

// NewTimeline creates a Timeline; maxRows <= 0 means 1,000,000.
func NewTimeline(maxRows int) *Timeline {
	if maxRows <= 0 {
		maxRows = 1_000_000
	}
	return &Timeline{maxRows: maxRows}
}

// Rebuild merges the inputs with the current timeline standing in as the
// history layer, so an empty bulk fetch never erases what is already known.
func (t *Timeline) Rebuild(live, bulk []telemetry.Sample) {
	t.mu.Lock()
	defer t.mu.Unlock()

	merged := Merge(live, bulk, t.samples)
	if len(merged) > t.maxRows {
		merged = merged[len(merged)-t.maxRows:]
	}
	t.samples = merged
}

// Replace swaps the timeline wholesale, applying the row ceiling. Used when
// a full history fetch supersedes the incremental view.
func (t *Timeline) Replace(samples []telemetry.Sample) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(samples) > t.maxRows {
		samples = samples[len(samples)-t.maxRows:]
	}
	t.samples = append(samples[:0:0], samples...)
}

// Snapshot returns a copy of the merged timeline.
func (t *Timeline) Snapshot() []telemetry.Sample {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]telemetry.Sample(nil), t.samples...)
}

// Len reports the current timeline size.
func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.samples)
}
