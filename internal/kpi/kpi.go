// Package kpi aggregates a session timeline into the headline numbers the
// dashboard shows: speeds, distance, energy, battery state, and attitude.
package kpi

import (
	"math"

	"github.com/ecotele-data/telemetry.bridge/internal/telemetry"
	"github.com/ecotele-data/telemetry.bridge/internal/units"
)

const (
	// batteryEmptyV and batteryFullV bound the linear charge estimate for
	// the 14S pack: 50.4 V reads empty, 58.5 V reads full.
	batteryEmptyV = 50.4
	batteryFullV  = 58.5
)

// Summary holds the computed KPIs. Field names mirror the dashboard wire
// format.
type Summary struct {
	CurrentSpeedMS  float64 `json:"current_speed_ms"`
	MaxSpeedMS      float64 `json:"max_speed_ms"`
	AvgSpeedMS      float64 `json:"avg_speed_ms"`
	CurrentSpeedKMH float64 `json:"current_speed_kmh"`
	MaxSpeedKMH     float64 `json:"max_speed_kmh"`
	AvgSpeedKMH     float64 `json:"avg_speed_kmh"`

	TotalDistanceKM   float64 `json:"total_distance_km"`
	TotalEnergyKWH    float64 `json:"total_energy_kwh"`
	AvgPowerW         float64 `json:"avg_power_w"`
	CurrentPowerW     float64 `json:"current_power_w"`
	MaxPowerW         float64 `json:"max_power_w"`
	EfficiencyKMPerKW float64 `json:"efficiency_km_per_kwh"`

	BatteryVoltageV   float64 `json:"battery_voltage_v"`
	BatteryPercentage float64 `json:"battery_percentage"`
	AvgCurrentA       float64 `json:"avg_current_a"`
	CurrentCurrentA   float64 `json:"c_current_a"`

	CurrentRollDeg  float64 `json:"current_roll_deg"`
	MaxRollDeg      float64 `json:"max_roll_deg"`
	CurrentPitchDeg float64 `json:"current_pitch_deg"`
	MaxPitchDeg     float64 `json:"max_pitch_deg"`
}

// Compute derives the KPI summary from a timeline sorted oldest first.
// "Current" values come from the last sample carrying a finite reading;
// averages ignore zeros so idle samples don't drag cruising figures down.
func Compute(samples []telemetry.Sample) Summary {
	var s Summary
	if len(samples) == 0 {
		return s
	}

	speed := channel(samples, func(t telemetry.Sample) float64 { return t.Speed })
	s.CurrentSpeedMS = math.Max(0, speed.last)
	s.MaxSpeedMS = math.Max(0, speed.max)
	s.AvgSpeedMS = speed.nonzeroMean
	s.CurrentSpeedKMH = units.ConvertSpeed(s.CurrentSpeedMS, units.KMPH)
	s.MaxSpeedKMH = units.ConvertSpeed(s.MaxSpeedMS, units.KMPH)
	s.AvgSpeedKMH = units.ConvertSpeed(s.AvgSpeedMS, units.KMPH)

	distance := channel(samples, func(t telemetry.Sample) float64 { return t.Distance })
	if distance.count > 0 {
		s.TotalDistanceKM = math.Max(0, distance.last/1000)
	}
	energy := channel(samples, func(t telemetry.Sample) float64 { return t.Energy })
	if energy.count > 0 {
		s.TotalEnergyKWH = math.Max(0, energy.last/3_600_000)
	}

	power := channel(samples, func(t telemetry.Sample) float64 { return t.Power })
	s.AvgPowerW = power.nonzeroMean
	s.CurrentPowerW = power.last
	s.MaxPowerW = power.max

	if s.TotalEnergyKWH > 0 {
		s.EfficiencyKMPerKW = s.TotalDistanceKM / s.TotalEnergyKWH
	}

	voltage := channel(samples, func(t telemetry.Sample) float64 { return t.Voltage })
	if voltage.count > 0 {
		s.BatteryVoltageV = math.Max(0, voltage.last)
		s.BatteryPercentage = batteryPercent(s.BatteryVoltageV)
	}

	current := channel(samples, func(t telemetry.Sample) float64 { return t.Current })
	s.AvgCurrentA = current.nonzeroMean
	s.CurrentCurrentA = current.last

	roll := channel(samples, func(t telemetry.Sample) float64 { return rollDeg(t) })
	s.CurrentRollDeg = roll.last
	s.MaxRollDeg = roll.maxAbs
	pitch := channel(samples, func(t telemetry.Sample) float64 { return pitchDeg(t) })
	s.CurrentPitchDeg = pitch.last
	s.MaxPitchDeg = pitch.maxAbs

	return s
}

// batteryPercent maps pack voltage linearly onto state of charge, clamped
// to [0, 100].
func batteryPercent(v float64) float64 {
	switch {
	case v <= batteryEmptyV:
		return 0
	case v >= batteryFullV:
		return 100
	default:
		return (v - batteryEmptyV) / (batteryFullV - batteryEmptyV) * 100
	}
}

// rollDeg estimates roll from gravity: the lateral axis against the
// remaining plane. A degenerate denominator gets a tiny floor instead of
// dividing by zero.
func rollDeg(s telemetry.Sample) float64 {
	denom := math.Sqrt(s.AccelX*s.AccelX + s.AccelZ*s.AccelZ)
	if denom == 0 {
		denom = 1e-10
	}
	deg := math.Atan2(s.AccelY, denom) * 180 / math.Pi
	if math.IsNaN(deg) || math.IsInf(deg, 0) {
		return 0
	}
	return deg
}

// pitchDeg estimates pitch the same way on the longitudinal axis.
func pitchDeg(s telemetry.Sample) float64 {
	denom := math.Sqrt(s.AccelY*s.AccelY + s.AccelZ*s.AccelZ)
	if denom == 0 {
		denom = 1e-10
	}
	deg := math.Atan2(s.AccelX, denom) * 180 / math.Pi
	if math.IsNaN(deg) || math.IsInf(deg, 0) {
		return 0
	}
	return deg
}

// channelStats summarizes one extracted channel over the finite values.
type channelStats struct {
	count       int
	last        float64
	max         float64
	maxAbs      float64
	nonzeroMean float64
}

func channel(samples []telemetry.Sample, get func(telemetry.Sample) float64) channelStats {
	var st channelStats
	nonzeroSum, nonzeroCount := 0.0, 0
	for _, smp := range samples {
		v := get(smp)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if st.count == 0 || v > st.max {
			st.max = v
		}
		if a := math.Abs(v); st.count == 0 || a > st.maxAbs {
			st.maxAbs = a
		}
		st.last = v
		st.count++
		if v != 0 {
			nonzeroSum += v
			nonzeroCount++
		}
	}
	if nonzeroCount > 0 {
		st.nonzeroMean = nonzeroSum / float64(nonzeroCount)
	}
	return st
}
