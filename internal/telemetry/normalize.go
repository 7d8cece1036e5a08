package telemetry

import (
	"math"
	"time"
)

// Normalize turns a decoded record into a canonical sample. It stamps the
// session identity from ctx, repairs the timestamp, recomputes the derived
// power and total-acceleration channels when the wire carried zero for them,
// and tags provenance. The function is pure: "now" is an input so callers
// drive it from their clock.
//
// Timestamp repair: an absent, epoch-zero, or malformed timestamp is
// replaced with now. Valid timestamps are coerced to UTC.
func Normalize(r Raw, ctx SessionContext, src Source, now time.Time) Sample {
	s := Sample{
		Timestamp:    parseTimestamp(r.Timestamp, now),
		SessionID:    ctx.ID,
		SessionLabel: ctx.Label,
		Speed:        r.Speed,
		Voltage:      r.Voltage,
		Current:      r.Current,
		Power:        r.Power,
		Energy:       r.Energy,
		Distance:     r.Distance,
		Latitude:     r.Latitude,
		Longitude:    r.Longitude,
		Altitude:     r.Altitude,
		GyroX:        r.GyroX,
		GyroY:        r.GyroY,
		GyroZ:        r.GyroZ,
		AccelX:       r.AccelX,
		AccelY:       r.AccelY,
		AccelZ:       r.AccelZ,
		TotalAccel:   r.TotalAccel,
		MessageID:    r.MessageID,
		Uptime:       r.Uptime,
		Source:       src,
	}
	if s.Power == 0 {
		s.Power = s.Voltage * s.Current
	}
	if s.TotalAccel == 0 {
		s.TotalAccel = math.Sqrt(s.AccelX*s.AccelX + s.AccelY*s.AccelY + s.AccelZ*s.AccelZ)
	}
	return s
}

func parseTimestamp(raw string, now time.Time) time.Time {
	if raw == "" {
		return now.UTC()
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return now.UTC()
	}
	// The firmware reports epoch zero until its clock syncs.
	if t.Year() == 1970 {
		return now.UTC()
	}
	return t.UTC()
}
