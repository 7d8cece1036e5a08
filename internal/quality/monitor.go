// Package quality watches the live feed for staleness and stuck sensors
// and scores merged session timelines. Everything here is observational;
// nothing feeds back into ingestion.
package quality

import (
	"math"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/ecotele-data/telemetry.bridge/internal/telemetry"
	"github.com/ecotele-data/telemetry.bridge/internal/timeutil"
)

const (
	// gapWindow is how many inter-arrival gaps feed the staleness median.
	gapWindow = 20
	// staleFloor is the minimum staleness threshold regardless of rate.
	staleFloor = 5 * time.Second
	// staleFactor scales the median gap into a threshold.
	staleFactor = 5
	// fallbackGap stands in for the median until enough gaps accumulate.
	fallbackGap = time.Second

	// deadWindow is how many recent samples the sensor check looks at.
	deadWindow = 15
	// minValidForCheck is the fewest finite values a channel needs before
	// it can be judged at all.
	minValidForCheck = 5
	// flatEpsilon is the threshold under which a channel counts as flat.
	flatEpsilon = 1e-6
	// criticalFailing is the failing-channel count above which an
	// all-channels failure escalates to critical.
	criticalFailing = 3
)

// channelGetter extracts one monitored channel from a sample.
type channelGetter struct {
	name string
	get  func(telemetry.Sample) float64
}

var monitoredChannels = []channelGetter{
	{"latitude", func(s telemetry.Sample) float64 { return s.Latitude }},
	{"longitude", func(s telemetry.Sample) float64 { return s.Longitude }},
	{"altitude", func(s telemetry.Sample) float64 { return s.Altitude }},
	{"voltage_v", func(s telemetry.Sample) float64 { return s.Voltage }},
	{"current_a", func(s telemetry.Sample) float64 { return s.Current }},
	{"gyro_x", func(s telemetry.Sample) float64 { return s.GyroX }},
	{"gyro_y", func(s telemetry.Sample) float64 { return s.GyroY }},
	{"gyro_z", func(s telemetry.Sample) float64 { return s.GyroZ }},
	{"accel_x", func(s telemetry.Sample) float64 { return s.AccelX }},
	{"accel_y", func(s telemetry.Sample) float64 { return s.AccelY }},
	{"accel_z", func(s telemetry.Sample) float64 { return s.AccelZ }},
}

// StalenessStatus reports how fresh the live feed is.
type StalenessStatus struct {
	Stale     bool          `json:"stale"`
	Age       time.Duration `json:"age"`
	Threshold time.Duration `json:"threshold"`
}

// Monitor tracks live-feed arrival times and derives a rate-adaptive
// staleness threshold: five times the median of the recent gaps, with a
// floor so slow feeds are not flagged in normal operation.
type Monitor struct {
	clock timeutil.Clock

	mu          sync.Mutex
	lastArrival time.Time
	gaps        []float64 // seconds
}

// NewMonitor creates a Monitor; a nil clock means the real clock.
func NewMonitor(clock timeutil.Clock) *Monitor {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Monitor{clock: clock}
}

// Observe records one live arrival.
func (m *Monitor) Observe(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.lastArrival.IsZero() {
		gap := t.Sub(m.lastArrival).Seconds()
		if gap >= 0 {
			m.gaps = append(m.gaps, gap)
			if len(m.gaps) > gapWindow {
				m.gaps = m.gaps[len(m.gaps)-gapWindow:]
			}
		}
	}
	m.lastArrival = t
}

// Threshold returns the current staleness threshold.
func (m *Monitor) Threshold() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.thresholdLocked()
}

func (m *Monitor) thresholdLocked() time.Duration {
	median := fallbackGap.Seconds()
	if len(m.gaps) > 0 {
		median = medianOf(m.gaps)
	}
	adaptive := time.Duration(staleFactor * median * float64(time.Second))
	if adaptive < staleFloor {
		return staleFloor
	}
	return adaptive
}

// Check reports whether the feed has gone quiet. Before the first arrival
// there is nothing to judge and the feed counts as fresh.
func (m *Monitor) Check() StalenessStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	threshold := m.thresholdLocked()
	if m.lastArrival.IsZero() {
		return StalenessStatus{Threshold: threshold}
	}
	age := m.clock.Now().Sub(m.lastArrival)
	return StalenessStatus{
		Stale:     age > threshold,
		Age:       age,
		Threshold: threshold,
	}
}

// SensorAlert reports channels that look dead over the recent window.
type SensorAlert struct {
	// Critical is set when every judgeable channel is failing and there
	// are enough of them that a single loose connector can't explain it.
	Critical bool     `json:"critical"`
	Channels []string `json:"channels"`
}

// CheckSensors inspects the most recent samples for flat or stuck
// channels. A channel with fewer than five finite values in the window is
// left out of the verdict entirely. Returns nil when nothing is failing.
func CheckSensors(samples []telemetry.Sample) *SensorAlert {
	if len(samples) > deadWindow {
		samples = samples[len(samples)-deadWindow:]
	}
	if len(samples) == 0 {
		return nil
	}

	var failing []string
	evaluated := 0
	for _, ch := range monitoredChannels {
		values := make([]float64, 0, len(samples))
		for _, smp := range samples {
			v := ch.get(smp)
			if !math.IsNaN(v) && !math.IsInf(v, 0) {
				values = append(values, v)
			}
		}
		if len(values) < minValidForCheck {
			continue
		}
		evaluated++

		maxAbs := 0.0
		for _, v := range values {
			if a := math.Abs(v); a > maxAbs {
				maxAbs = a
			}
		}
		if maxAbs < flatEpsilon || stat.StdDev(values, nil) < flatEpsilon {
			failing = append(failing, ch.name)
		}
	}

	if len(failing) == 0 {
		return nil
	}
	return &SensorAlert{
		Critical: len(failing) == evaluated && len(failing) > criticalFailing,
		Channels: failing,
	}
}

// medianOf returns the median of values without mutating them.
func medianOf(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}
