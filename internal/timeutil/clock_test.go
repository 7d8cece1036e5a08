package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockClock_NowAndAdvance(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	assert.Equal(t, start, c.Now())

	c.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), c.Now())
	assert.Equal(t, 90*time.Second, c.Since(start))
}

func TestMockClock_SleepRecords(t *testing.T) {
	t.Parallel()

	c := NewMockClock(time.Now())
	c.Sleep(100 * time.Millisecond)
	c.Sleep(100 * time.Millisecond)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 100 * time.Millisecond}, c.Sleeps())
}

func TestMockClock_TickerFiresOnAdvance(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := NewMockClock(start)
	ticker := c.NewTicker(9 * time.Second)
	defer ticker.Stop()

	select {
	case <-ticker.C():
		t.Fatal("ticker fired before interval elapsed")
	default:
	}

	c.Advance(9 * time.Second)

	select {
	case tick := <-ticker.C():
		assert.Equal(t, start.Add(9*time.Second), tick)
	default:
		t.Fatal("ticker did not fire after interval elapsed")
	}
}

func TestMockClock_StoppedTickerStaysQuiet(t *testing.T) {
	t.Parallel()

	c := NewMockClock(time.Now())
	ticker := c.NewTicker(time.Second)
	ticker.Stop()
	c.Advance(5 * time.Second)

	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestRealClock_Ticker(t *testing.T) {
	t.Parallel()

	c := RealClock{}
	ticker := c.NewTicker(time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Fatal("real ticker did not fire")
	}
	require.NotZero(t, c.Now())
}
