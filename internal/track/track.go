// Package track turns raw GPS fixes into a plausible vehicle path and
// derives the map framing (center and zoom) for it.
package track

import (
	"math"
	"sort"

	"github.com/ecotele-data/telemetry.bridge/internal/telemetry"
)

const (
	// earthRadiusM is the mean earth radius used by the haversine step.
	earthRadiusM = 6371000
	// maxPlausibleSpeed rejects fixes implying faster travel than the
	// vehicle could manage, in m/s.
	maxPlausibleSpeed = 65
)

// Point is one retained GPS fix.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
	Speed     float64 `json:"speed_ms"`
	Timestamp string  `json:"timestamp"`
}

// CleanStats counts what each filtering stage removed.
type CleanStats struct {
	Input       int `json:"input"`
	Invalid     int `json:"invalid"`
	ZeroPair    int `json:"zero_pair"`
	JumpsReject int `json:"jumps_rejected"`
	Retained    int `json:"retained"`
}

// Clean filters a session's samples down to a plausible GPS track. Three
// stages: drop non-finite or out-of-range coordinates, drop the exact
// (0, 0) no-fix sentinel, then reject fixes whose implied speed from the
// previous retained point exceeds the plausibility cap. The first valid
// fix is always retained so one early outlier cannot anchor the track.
func Clean(samples []telemetry.Sample) ([]Point, CleanStats) {
	stats := CleanStats{Input: len(samples)}
	if len(samples) == 0 {
		return nil, stats
	}

	ordered := append([]telemetry.Sample(nil), samples...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	var track []Point
	var prev *telemetry.Sample
	var prevRetained telemetry.Sample
	for i := range ordered {
		smp := ordered[i]
		lat, lon := smp.Latitude, smp.Longitude

		if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) ||
			math.Abs(lat) > 90 || math.Abs(lon) > 180 {
			stats.Invalid++
			continue
		}
		if lat == 0 && lon == 0 {
			stats.ZeroPair++
			continue
		}

		if prev != nil {
			dt := smp.Timestamp.Sub(prevRetained.Timestamp).Seconds()
			dist := Haversine(prevRetained.Latitude, prevRetained.Longitude, lat, lon)
			if dt > 0 && dist/dt > maxPlausibleSpeed {
				stats.JumpsReject++
				continue
			}
		}

		track = append(track, Point{
			Latitude:  lat,
			Longitude: lon,
			Altitude:  smp.Altitude,
			Speed:     smp.Speed,
			Timestamp: smp.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		})
		prevRetained = smp
		prev = &prevRetained
	}

	stats.Retained = len(track)
	return track, stats
}

// Haversine returns the great-circle distance between two coordinates in
// meters.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusM * math.Asin(math.Sqrt(a))
}
