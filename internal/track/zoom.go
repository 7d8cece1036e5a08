package track

import "math"

// Center is the midpoint of a track's bounding box.
type Center struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// zoomSteps maps a bounding-box extent (degrees, longitude compressed by
// latitude) to a map zoom level. Larger extents fall through to wider
// views; anything past the table gets the widest level.
var zoomSteps = []struct {
	extent float64
	zoom   float64
}{
	{0.0008, 17},
	{0.0015, 16},
	{0.003, 15},
	{0.008, 14},
	{0.02, 13},
	{0.05, 12},
	{0.1, 11},
	{0.2, 10},
	{0.5, 9},
	{1.0, 8},
	{2.0, 7},
	{5.0, 6},
	{10.0, 5},
}

const widestZoom = 4

// CenterZoom computes the map center and zoom for a cleaned track. An empty
// track centers on the origin at the widest zoom.
func CenterZoom(points []Point) (Center, float64) {
	if len(points) == 0 {
		return Center{}, widestZoom
	}

	latMin, latMax := points[0].Latitude, points[0].Latitude
	lonMin, lonMax := points[0].Longitude, points[0].Longitude
	for _, p := range points[1:] {
		latMin = math.Min(latMin, p.Latitude)
		latMax = math.Max(latMax, p.Latitude)
		lonMin = math.Min(lonMin, p.Longitude)
		lonMax = math.Max(lonMax, p.Longitude)
	}

	center := Center{
		Latitude:  (latMin + latMax) / 2,
		Longitude: (lonMin + lonMax) / 2,
	}

	latDelta := math.Max(1e-6, latMax-latMin)
	lonDelta := math.Max(1e-6, lonMax-lonMin)

	// Longitude degrees shrink toward the poles; compress them so the
	// extent comparison stays roughly isotropic, with a floor for high
	// latitudes.
	latRad := math.Max(1e-6, math.Abs(center.Latitude)*math.Pi/180)
	lonAdj := lonDelta * math.Max(0.3, math.Cos(latRad))

	extent := math.Max(latDelta, lonAdj)
	for _, step := range zoomSteps {
		if extent < step.extent {
			return center, step.zoom
		}
	}
	return center, widestZoom
}
