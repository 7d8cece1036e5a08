package quality

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/ecotele-data/telemetry.bridge/internal/telemetry"
)

const (
	// dropoutFactor marks a gap as a dropout when it exceeds this multiple
	// of the median gap.
	dropoutFactor = 3
	// outlierZ is the z-score beyond which a value counts as an outlier.
	outlierZ = 4

	missingPenaltyCap = 40
	dropoutPenaltyCap = 20
	outlierPenaltyCap = 25

	// dropoutPenaltyWeight is the score cost per estimated missing sample.
	dropoutPenaltyWeight = 0.2
)

// Report summarizes the health of one merged session timeline.
type Report struct {
	Rows         int                `json:"rows"`
	MedianGap    float64            `json:"median_gap_s"`
	RateHz       float64            `json:"rate_hz"`
	Dropouts     int                `json:"dropouts"`
	MaxGap       float64            `json:"max_gap_s"`
	Span         float64            `json:"span_s"`
	MissingRates map[string]float64 `json:"missing_rates"`
	Outliers     map[string]int     `json:"outliers"`
	Score        float64            `json:"score"`
}

// BuildReport computes the quality report for a timeline that is already
// sorted oldest first. An empty timeline scores zero.
func BuildReport(samples []telemetry.Sample) Report {
	r := Report{
		Rows:         len(samples),
		MissingRates: make(map[string]float64),
		Outliers:     make(map[string]int),
	}
	if len(samples) == 0 {
		return r
	}

	gaps := make([]float64, 0, len(samples)-1)
	for i := 1; i < len(samples); i++ {
		gap := samples[i].Timestamp.Sub(samples[i-1].Timestamp).Seconds()
		gaps = append(gaps, gap)
		if gap > r.MaxGap {
			r.MaxGap = gap
		}
	}
	r.Span = samples[len(samples)-1].Timestamp.Sub(samples[0].Timestamp).Seconds()

	if len(gaps) > 0 {
		r.MedianGap = medianOf(gaps)
		if r.MedianGap > 0 {
			r.RateHz = 1 / r.MedianGap
			// Dropouts estimates how many samples went missing inside the
			// large gaps, not how many gap events there were.
			gapTotal := 0.0
			for _, gap := range gaps {
				if gap > dropoutFactor*r.MedianGap {
					gapTotal += gap
				}
			}
			r.Dropouts = int(gapTotal / r.MedianGap)
		}
	}

	missingTotal := 0.0
	outlierTotal := 0
	for _, ch := range monitoredChannels {
		values := make([]float64, 0, len(samples))
		missing := 0
		for _, smp := range samples {
			v := ch.get(smp)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				missing++
				continue
			}
			values = append(values, v)
		}
		rate := float64(missing) / float64(len(samples))
		r.MissingRates[ch.name] = rate
		missingTotal += rate

		if len(values) >= 2 {
			mean, std := stat.MeanStdDev(values, nil)
			if std > 0 {
				count := 0
				for _, v := range values {
					if math.Abs(v-mean)/std > outlierZ {
						count++
					}
				}
				if count > 0 {
					r.Outliers[ch.name] = count
					outlierTotal += count
				}
			}
		}
	}

	// Each penalty is proportional to how widespread the problem is,
	// capped so one bad dimension cannot zero the score alone.
	missingPenalty := math.Min(missingPenaltyCap,
		missingTotal/float64(len(monitoredChannels))*100)
	dropoutPenalty := math.Min(dropoutPenaltyCap, float64(r.Dropouts)*dropoutPenaltyWeight)
	outlierPenalty := math.Min(outlierPenaltyCap,
		float64(outlierTotal)/float64(len(samples))*100)

	r.Score = 100 - missingPenalty - dropoutPenalty - outlierPenalty
	if r.Score < 0 {
		r.Score = 0
	}
	return r
}
