package telemetry

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var testCtx = SessionContext{ID: "f3b9c1d2-0000-0000-0000-000000000000", Label: "Route A"}

func TestNormalize_StampsSessionAndSource(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := Normalize(Raw{}, testCtx, SourceRealtime, now)

	assert.Equal(t, testCtx.ID, s.SessionID)
	assert.Equal(t, testCtx.Label, s.SessionLabel)
	assert.Equal(t, SourceRealtime, s.Source)
}

func TestNormalize_TimestampRepair(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{"missing", "", now},
		{"malformed", "not-a-time", now},
		{"epoch zero", "1970-01-01T00:00:03Z", now},
		{"valid", "2026-03-01T11:59:30Z", time.Date(2026, 3, 1, 11, 59, 30, 0, time.UTC)},
		{"valid with offset", "2026-03-01T13:59:30+02:00", time.Date(2026, 3, 1, 11, 59, 30, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Normalize(Raw{Timestamp: tt.raw}, testCtx, SourceRealtime, now)
			assert.True(t, s.Timestamp.Equal(tt.want), "got %v want %v", s.Timestamp, tt.want)
			assert.Equal(t, time.UTC, s.Timestamp.Location())
		})
	}
}

func TestNormalize_DerivedChannels(t *testing.T) {
	t.Parallel()

	now := time.Now()

	t.Run("power from voltage and current", func(t *testing.T) {
		s := Normalize(Raw{Voltage: 48, Current: 5}, testCtx, SourceRealtime, now)
		assert.Equal(t, 240.0, s.Power)
	})

	t.Run("wire power preserved", func(t *testing.T) {
		s := Normalize(Raw{Voltage: 48, Current: 5, Power: 230}, testCtx, SourceRealtime, now)
		assert.Equal(t, 230.0, s.Power)
	})

	t.Run("total acceleration from axes", func(t *testing.T) {
		s := Normalize(Raw{AccelX: 3, AccelY: 4, AccelZ: 12}, testCtx, SourceRealtime, now)
		assert.InDelta(t, 13.0, s.TotalAccel, 1e-12)
	})

	t.Run("wire total acceleration preserved", func(t *testing.T) {
		s := Normalize(Raw{AccelX: 3, AccelY: 4, TotalAccel: 9.9}, testCtx, SourceRealtime, now)
		assert.Equal(t, 9.9, s.TotalAccel)
	})
}

func TestNewSessionContext(t *testing.T) {
	t.Parallel()

	t.Run("default label", func(t *testing.T) {
		ctx := NewSessionContext("", false)
		assert.NotEmpty(t, ctx.ID)
		assert.True(t, strings.HasPrefix(ctx.Label, "Session "), ctx.Label)
	})

	t.Run("synthetic prefix", func(t *testing.T) {
		ctx := NewSessionContext("Practice 2", true)
		assert.Equal(t, "M Practice 2", ctx.Label)
	})

	t.Run("prefix not duplicated", func(t *testing.T) {
		ctx := NewSessionContext("M Practice 2", true)
		assert.Equal(t, "M Practice 2", ctx.Label)
	})
}

func TestSimulator_PlausibleRanges(t *testing.T) {
	t.Parallel()

	g := NewSimulator(1)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	var prevDistance float64
	for i := 0; i < 200; i++ {
		r := g.Next(now.Add(time.Duration(i) * SimulatorInterval))

		assert.GreaterOrEqual(t, r.Speed, 0.0)
		assert.LessOrEqual(t, r.Speed, 25.0)
		assert.GreaterOrEqual(t, r.Voltage, 40.0)
		assert.LessOrEqual(t, r.Voltage, 55.0)
		assert.GreaterOrEqual(t, r.Distance, prevDistance, "distance is cumulative")
		prevDistance = r.Distance

		assert.Equal(t, uint32(i+1), r.MessageID)
		assert.InDelta(t,
			math.Sqrt(r.AccelX*r.AccelX+r.AccelY*r.AccelY+r.AccelZ*r.AccelZ),
			r.TotalAccel, 1e-9)

		_, err := time.Parse(time.RFC3339Nano, r.Timestamp)
		assert.NoError(t, err)
	}
}
