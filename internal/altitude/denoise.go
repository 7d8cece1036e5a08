// Package altitude cleans barometric/GPS altitude series, which arrive
// with hard outliers, spikes, and gaps. The cleaner runs a ladder of
// progressively gentler strategies and keeps the first result that
// retains enough of the signal to stay representative.
package altitude

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

const (
	// absMin and absMax bound physically plausible altitudes in meters.
	absMin = -500
	absMax = 10000

	// spikeWindow is the rolling window for the spike detector.
	spikeWindow = 7
	// interpolationLimit caps how many consecutive missing samples a gap
	// fill may bridge.
	interpolationLimit = 10
)

// fenceMultipliers is the IQR ladder, gentlest fence first. A zero entry
// means "no fence".
var fenceMultipliers = []float64{3, 6, 15, 0}

// spikeThresholds is the rolling-deviation ladder in meters. A zero entry
// means "no spike pass".
var spikeThresholds = []float64{50, 100, 250, 0}

// Stats records what each stage did to the series.
type Stats struct {
	Input           int     `json:"input"`
	Valid           int     `json:"valid"`
	RangeRemoved    int     `json:"range_removed"`
	FenceMultiplier float64 `json:"fence_multiplier"`
	FenceRemoved    int     `json:"fence_removed"`
	SpikeThreshold  float64 `json:"spike_threshold"`
	SpikeRemoved    int     `json:"spike_removed"`
	Interpolated    int     `json:"interpolated"`
	Fallback        string  `json:"fallback,omitempty"`
}

// Denoise cleans an altitude series. The returned slice is aligned with the
// input; times, when the same length and usable, weight the gap
// interpolation. Missing input values are NaN. An input with no finite
// values at all comes back unchanged.
func Denoise(values []float64, times []time.Time) ([]float64, Stats) {
	stats := Stats{Input: len(values)}
	if len(values) == 0 {
		return nil, stats
	}

	origValid := countValid(values)
	stats.Valid = origValid
	if origValid == 0 {
		return append([]float64(nil), values...), stats
	}

	minValid := origValid / 100
	if minValid < 3 {
		minValid = 3
	}
	if minValid > origValid {
		minValid = origValid
	}

	current := append([]float64(nil), values...)

	// Stage 1: hard physical range. Skipped when the series is so bad the
	// cut would leave almost nothing to reason about.
	ranged := applyRange(current)
	if countValid(ranged) >= minValid {
		stats.RangeRemoved = countValid(current) - countValid(ranged)
		current = ranged
	}

	// Stage 2: IQR fences, widening until enough survives.
	for _, mult := range fenceMultipliers {
		if mult == 0 {
			break
		}
		fenced := applyFence(current, mult)
		if countValid(fenced) >= minValid {
			stats.FenceMultiplier = mult
			stats.FenceRemoved = countValid(current) - countValid(fenced)
			current = fenced
			break
		}
	}

	// Stage 3: rolling-median spike removal, loosening the same way.
	for _, thr := range spikeThresholds {
		if thr == 0 {
			break
		}
		despiked := applySpikes(current, thr)
		if countValid(despiked) >= minValid {
			stats.SpikeThreshold = thr
			stats.SpikeRemoved = countValid(current) - countValid(despiked)
			current = despiked
			break
		}
	}

	// Stage 4: bridge the holes the cuts left behind.
	current, stats.Interpolated = interpolate(current, times, interpolationLimit)

	if countValid(current) > 0 {
		return current, stats
	}

	// The ladder ate everything; fall back to blunter recoveries against
	// the raw input.
	if trimmed, ok := fallbackPercentileTrim(values, times); ok {
		stats.Fallback = "percentile_trim"
		return trimmed, stats
	}
	if smoothed, ok := fallbackRollingMedian(values); ok {
		stats.Fallback = "rolling_median"
		return smoothed, stats
	}
	stats.Fallback = "constant_median"
	return fallbackConstant(values), stats
}

func countValid(values []float64) int {
	n := 0
	for _, v := range values {
		if isValid(v) {
			n++
		}
	}
	return n
}

func isValid(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func applyRange(values []float64) []float64 {
	out := append([]float64(nil), values...)
	for i, v := range out {
		if isValid(v) && (v < absMin || v > absMax) {
			out[i] = math.NaN()
		}
	}
	return out
}

func applyFence(values []float64, mult float64) []float64 {
	valid := collectValid(values)
	if len(valid) < 2 {
		return append([]float64(nil), values...)
	}
	sort.Float64s(valid)
	q1 := stat.Quantile(0.25, stat.Empirical, valid, nil)
	q3 := stat.Quantile(0.75, stat.Empirical, valid, nil)
	iqr := q3 - q1
	if iqr == 0 || math.IsNaN(iqr) {
		// A degenerate spread gives no fence to reason with; keep all.
		return append([]float64(nil), values...)
	}
	lo, hi := q1-mult*iqr, q3+mult*iqr

	out := append([]float64(nil), values...)
	for i, v := range out {
		if isValid(v) && (v < lo || v > hi) {
			out[i] = math.NaN()
		}
	}
	return out
}

// applySpikes flags values that stray from their local rolling median by
// more than max(thr, 3x the local spread).
func applySpikes(values []float64, thr float64) []float64 {
	out := append([]float64(nil), values...)
	half := spikeWindow / 2

	for i, v := range values {
		if !isValid(v) {
			continue
		}
		lo := i - half
		if lo < 0 {
			lo = 0
		}
		hi := i + half + 1
		if hi > len(values) {
			hi = len(values)
		}
		window := collectValid(values[lo:hi])
		if len(window) == 0 {
			continue
		}
		sort.Float64s(window)
		median := stat.Quantile(0.5, stat.Empirical, window, nil)
		spread := 0.0
		if len(window) >= 2 {
			spread = stat.StdDev(window, nil)
		}
		limit := thr
		if 3*spread > limit {
			limit = 3 * spread
		}
		if math.Abs(v-median) > limit {
			out[i] = math.NaN()
		}
	}
	return out
}

// interpolate fills NaN runs of at most limit samples. Interior runs are
// filled linearly, weighted by timestamps when a usable time axis is
// provided, and edge runs take the nearest valid value. Returns the filled
// series and how many samples were filled.
func interpolate(values []float64, times []time.Time, limit int) ([]float64, int) {
	out := append([]float64(nil), values...)
	useTimes := len(times) == len(values)

	filled := 0
	i := 0
	for i < len(out) {
		if isValid(out[i]) {
			i++
			continue
		}
		start := i
		for i < len(out) && !isValid(out[i]) {
			i++
		}
		runLen := i - start
		if runLen > limit {
			continue
		}

		prev := start - 1
		next := i
		switch {
		case prev >= 0 && next < len(out):
			span := float64(next - prev)
			var t0, t1 time.Time
			timed := false
			if useTimes {
				t0, t1 = times[prev], times[next]
				timed = t1.After(t0)
			}
			for j := start; j < next; j++ {
				frac := float64(j-prev) / span
				if timed {
					frac = times[j].Sub(t0).Seconds() / t1.Sub(t0).Seconds()
					if frac < 0 || frac > 1 {
						frac = float64(j-prev) / span
					}
				}
				out[j] = out[prev] + (out[next]-out[prev])*frac
				filled++
			}
		case next < len(out): // leading edge
			for j := start; j < next; j++ {
				out[j] = out[next]
				filled++
			}
		case prev >= 0: // trailing edge
			for j := start; j < len(out); j++ {
				out[j] = out[prev]
				filled++
			}
		}
	}
	return out, filled
}

func collectValid(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if isValid(v) {
			out = append(out, v)
		}
	}
	return out
}

// fallbackPercentileTrim drops the raw series' extreme 1% tails and
// interpolates what remains.
func fallbackPercentileTrim(values []float64, times []time.Time) ([]float64, bool) {
	valid := collectValid(values)
	if len(valid) < 2 {
		return nil, false
	}
	sort.Float64s(valid)
	lo := stat.Quantile(0.01, stat.Empirical, valid, nil)
	hi := stat.Quantile(0.99, stat.Empirical, valid, nil)

	trimmed := append([]float64(nil), values...)
	for i, v := range trimmed {
		if isValid(v) && (v < lo || v > hi) {
			trimmed[i] = math.NaN()
		}
	}
	trimmed, _ = interpolate(trimmed, times, len(trimmed))
	if countValid(trimmed) == 0 {
		return nil, false
	}
	return trimmed, true
}

// fallbackRollingMedian smooths with a centered window of three and fills
// edges from the nearest smoothed value.
func fallbackRollingMedian(values []float64) ([]float64, bool) {
	out := make([]float64, len(values))
	for i := range values {
		lo := i - 1
		if lo < 0 {
			lo = 0
		}
		hi := i + 2
		if hi > len(values) {
			hi = len(values)
		}
		window := collectValid(values[lo:hi])
		if len(window) == 0 {
			out[i] = math.NaN()
			continue
		}
		sort.Float64s(window)
		out[i] = stat.Quantile(0.5, stat.Empirical, window, nil)
	}

	// Forward fill, then backward fill.
	last := math.NaN()
	for i, v := range out {
		if isValid(v) {
			last = v
		} else if isValid(last) {
			out[i] = last
		}
	}
	last = math.NaN()
	for i := len(out) - 1; i >= 0; i-- {
		if isValid(out[i]) {
			last = out[i]
		} else if isValid(last) {
			out[i] = last
		}
	}

	if countValid(out) == 0 {
		return nil, false
	}
	return out, true
}

// fallbackConstant flattens the series to the raw median.
func fallbackConstant(values []float64) []float64 {
	valid := collectValid(values)
	if len(valid) == 0 {
		return append([]float64(nil), values...)
	}
	sort.Float64s(valid)
	median := stat.Quantile(0.5, stat.Empirical, valid, nil)

	out := make([]float64, len(values))
	for i := range out {
		out[i] = median
	}
	return out
}
