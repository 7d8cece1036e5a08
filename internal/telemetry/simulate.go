package telemetry

import (
	"math"
	"math/rand"
	"time"
)

// SimulatorInterval is the cadence the simulator is designed around; the
// energy and distance integrators assume one sample per interval.
const SimulatorInterval = 2 * time.Second

// Simulator generates realistic synthetic telemetry for development and
// soak testing: sinusoidal speed with gaussian noise, a coupled electrical
// system, a circular GPS track with altitude variation, and IMU channels
// with speed-scaled vibration.
type Simulator struct {
	rng *rand.Rand

	step         int
	prevSpeed    float64
	energy       float64
	distance     float64
	messageCount uint32

	baseLat, baseLon float64
	baseAltitude     float64
}

// NewSimulator creates a simulator seeded for reproducibility.
func NewSimulator(seed int64) *Simulator {
	return &Simulator{
		rng:          rand.New(rand.NewSource(seed)),
		baseLat:      40.7128,
		baseLon:      -74.0060,
		baseAltitude: 100.0,
	}
}

// Next produces the next synthetic record, stamped with now.
func (g *Simulator) Next(now time.Time) Raw {
	t := float64(g.step)
	gauss := func(sigma float64) float64 { return g.rng.NormFloat64() * sigma }

	speed := clamp(15.0+5.0*math.Sin(t*0.1)+gauss(1.5), 0, 25)
	voltage := clamp(48.0+gauss(1.5), 40, 55)
	current := clamp(8.0+speed*0.2+gauss(1.0), 0, 15)
	power := voltage * current

	dt := SimulatorInterval.Seconds()
	g.energy += power * dt
	g.distance += speed * dt

	lat := g.baseLat + 0.001*math.Sin(t*0.05) + gauss(0.0001)
	lon := g.baseLon + 0.001*math.Cos(t*0.05) + gauss(0.0001)
	altitude := g.baseAltitude + 10.0*math.Sin(t*0.03) + gauss(1.0)

	turning := 2.0 * math.Sin(t*0.08)
	accelX := (speed-g.prevSpeed)/dt + gauss(0.2)
	accelY := turning*speed*0.1 + gauss(0.1)
	accelZ := 9.81 + gauss(0.05)
	g.prevSpeed = speed

	vibration := speed * 0.02
	accelX += gauss(vibration)
	accelY += gauss(vibration)
	accelZ += gauss(vibration)

	g.step++
	g.messageCount++

	return Raw{
		Timestamp:  now.UTC().Format(time.RFC3339Nano),
		Speed:      speed,
		Voltage:    voltage,
		Current:    current,
		Power:      power,
		Energy:     g.energy,
		Distance:   g.distance,
		Latitude:   lat,
		Longitude:  lon,
		Altitude:   altitude,
		GyroX:      gauss(0.5),
		GyroY:      gauss(0.3),
		GyroZ:      turning + gauss(0.8),
		AccelX:     accelX,
		AccelY:     accelY,
		AccelZ:     accelZ,
		TotalAccel: math.Sqrt(accelX*accelX + accelY*accelY + accelZ*accelZ),
		MessageID:  g.messageCount,
		Uptime:     t * dt,
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
