package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecotele-data/telemetry.bridge/internal/telemetry"
	"github.com/ecotele-data/telemetry.bridge/internal/timeutil"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func testBridge(clock timeutil.Clock) *Bridge {
	return New(Config{
		Session:        telemetry.SessionContext{ID: "test-session", Label: "Test"},
		Source:         telemetry.SourceRealtime,
		QueueHighWater: 500,
		QueueLowWater:  250,
		MaxBatchSize:   100,
		Clock:          clock,
	})
}

func TestSampleQueuePreservesOrder(t *testing.T) {
	t.Parallel()

	q := newSampleQueue(10, 5)
	for i := 0; i < 4; i++ {
		q.push(telemetry.Sample{MessageID: uint32(i + 1)})
	}

	got := q.drain(0)
	require.Len(t, got, 4)
	for i, s := range got {
		assert.Equal(t, uint32(i+1), s.MessageID)
	}
	assert.Equal(t, 0, q.len())
}

func TestSampleQueueDrainMax(t *testing.T) {
	t.Parallel()

	q := newSampleQueue(100, 50)
	for i := 0; i < 30; i++ {
		q.push(telemetry.Sample{MessageID: uint32(i)})
	}

	first := q.drain(10)
	require.Len(t, first, 10)
	assert.Equal(t, uint32(0), first[0].MessageID)

	rest := q.drain(0)
	require.Len(t, rest, 20)
	assert.Equal(t, uint32(10), rest[0].MessageID)
}

func TestSampleQueueEviction(t *testing.T) {
	t.Parallel()

	const high, low = 500, 250
	q := newSampleQueue(high, low)

	for i := 0; i < high; i++ {
		evicted := q.push(telemetry.Sample{MessageID: uint32(i)})
		assert.Zero(t, evicted)
	}
	require.Equal(t, high, q.len())

	// The push that crosses the mark trims back to the low water.
	evicted := q.push(telemetry.Sample{MessageID: high})
	assert.Equal(t, high+1-low, evicted)
	assert.Equal(t, low, q.len())
	assert.Equal(t, uint64(high+1-low), q.droppedCount())

	// Oldest entries are the ones that went; the newest survives.
	got := q.drain(0)
	require.Len(t, got, low)
	assert.Equal(t, uint32(high+1-low), got[0].MessageID)
	assert.Equal(t, uint32(high), got[len(got)-1].MessageID)
}

func TestSampleQueueNeverExceedsLowWaterAfterEviction(t *testing.T) {
	t.Parallel()

	q := newSampleQueue(50, 25)
	for i := 0; i < 1000; i++ {
		q.push(telemetry.Sample{MessageID: uint32(i)})
		assert.LessOrEqual(t, q.len(), 50)
	}
	assert.LessOrEqual(t, q.len(), 50)
	assert.Positive(t, q.droppedCount())
}

func TestBridgeHandleMessageBinary(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	b := testBridge(clock)

	payload := telemetry.EncodeBinary(telemetry.Raw{
		Speed: 12.5, Voltage: 52.0, Current: 8.0,
		Latitude: 40.7128, Longitude: -74.0060, Altitude: 105,
		MessageID: 42,
	})
	b.HandleMessage(payload)

	live := b.TakeLive()
	require.Len(t, live, 1)
	assert.Equal(t, "test-session", live[0].SessionID)
	assert.Equal(t, uint32(42), live[0].MessageID)
	assert.InDelta(t, 52.0*8.0, live[0].Power, 0.01)
	assert.Equal(t, clock.Now(), live[0].Timestamp)

	out := b.takeOutbound(10)
	require.Len(t, out, 1)

	batch := b.SwapBuffer()
	require.Len(t, batch, 1)

	snap := b.Snapshot()
	assert.Equal(t, int64(1), snap.MessagesReceived)
	assert.Equal(t, int64(0), snap.Errors)
}

func TestBridgeHandleMessageGarbage(t *testing.T) {
	t.Parallel()

	b := testBridge(timeutil.NewMockClock(time.Now()))
	b.HandleMessage([]byte("not a telemetry record"))

	assert.Empty(t, b.TakeLive())
	assert.Empty(t, b.SwapBuffer())

	snap := b.Snapshot()
	assert.Equal(t, int64(0), snap.MessagesReceived)
	assert.Equal(t, int64(1), snap.Errors)
	assert.Contains(t, snap.LastError, "telemetry")
}

func TestBridgeForceFlushSignal(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Now())
	b := New(Config{
		Session:      telemetry.SessionContext{ID: "s"},
		Source:       telemetry.SourceSynthetic,
		MaxBatchSize: 5,
		Clock:        clock,
	})

	for i := 0; i < 4; i++ {
		b.IngestRaw(telemetry.Raw{MessageID: uint32(i)})
	}
	select {
	case <-b.ForceFlush():
		t.Fatal("force flush signalled before buffer reached the batch size")
	default:
	}

	b.IngestRaw(telemetry.Raw{MessageID: 4})
	select {
	case <-b.ForceFlush():
	default:
		t.Fatal("force flush not signalled at the batch size")
	}
}

// mockWriter records each batch handed to InsertSamples and can be armed to
// fail.
type mockWriter struct {
	mu      sync.Mutex
	batches [][]telemetry.Sample
	err     error
}

func (w *mockWriter) InsertSamples(_ context.Context, samples []telemetry.Sample) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return 0, w.err
	}
	w.batches = append(w.batches, samples)
	return len(samples), nil
}

func (w *mockWriter) batchCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.batches)
}

func (w *mockWriter) totalRows() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, b := range w.batches {
		n += len(b)
	}
	return n
}

func (w *mockWriter) setErr(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.err = err
}

func TestFlusherIntervalFlush(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	b := testBridge(clock)
	w := &mockWriter{}

	f := NewFlusher(FlusherConfig{
		Bridge:   b,
		Writer:   w,
		Interval: 9 * time.Second,
		Clock:    clock,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.Run(ctx) }()
	waitFor(t, time.Second, f.IsRunning)

	for i := 0; i < 3; i++ {
		b.IngestRaw(telemetry.Raw{MessageID: uint32(i)})
	}

	clock.Advance(9 * time.Second)
	waitFor(t, time.Second, func() bool { return w.batchCount() == 1 })
	assert.Equal(t, 3, w.totalRows())
	assert.Empty(t, b.SwapBuffer())

	snap := b.Snapshot()
	assert.Equal(t, int64(3), snap.MessagesStored)
	require.NotNil(t, snap.LastWriteTime)

	f.Stop()
	assert.False(t, f.IsRunning())
}

func TestFlusherForcedFlushOnFullBuffer(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Now())
	b := New(Config{
		Session:      telemetry.SessionContext{ID: "s"},
		MaxBatchSize: 10,
		Clock:        clock,
	})
	w := &mockWriter{}

	f := NewFlusher(FlusherConfig{Bridge: b, Writer: w, Interval: time.Hour, Clock: clock})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.Run(ctx) }()
	waitFor(t, time.Second, f.IsRunning)

	// Fill to the batch size; the flusher should drain without a tick.
	for i := 0; i < 10; i++ {
		b.IngestRaw(telemetry.Raw{MessageID: uint32(i)})
	}
	waitFor(t, time.Second, func() bool { return w.totalRows() == 10 })

	f.Stop()
}

func TestFlusherFinalFlushOnStop(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Now())
	b := testBridge(clock)
	w := &mockWriter{}

	f := NewFlusher(FlusherConfig{Bridge: b, Writer: w, Interval: time.Hour, Clock: clock})
	go func() { _ = f.Run(context.Background()) }()
	waitFor(t, time.Second, f.IsRunning)

	b.IngestRaw(telemetry.Raw{MessageID: 1})
	b.IngestRaw(telemetry.Raw{MessageID: 2})

	f.Stop()
	assert.Equal(t, 2, w.totalRows())
}

func TestFlusherDropsBatchOnInsertError(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Now())
	b := testBridge(clock)
	w := &mockWriter{}
	w.setErr(errors.New("disk full"))

	f := NewFlusher(FlusherConfig{Bridge: b, Writer: w, Interval: 9 * time.Second, Clock: clock})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.Run(ctx) }()
	waitFor(t, time.Second, f.IsRunning)

	b.IngestRaw(telemetry.Raw{MessageID: 1})
	clock.Advance(9 * time.Second)
	waitFor(t, time.Second, func() bool { return b.Snapshot().Errors > 0 })

	// The failed batch is gone, not retried.
	assert.Empty(t, b.SwapBuffer())
	assert.Zero(t, w.batchCount())
	assert.Contains(t, b.Snapshot().LastError, "disk full")

	// Recovery: later batches still flush.
	w.setErr(nil)
	b.IngestRaw(telemetry.Raw{MessageID: 2})
	clock.Advance(9 * time.Second)
	waitFor(t, time.Second, func() bool { return w.totalRows() == 1 })

	f.Stop()
}

// mockPublisher records published payloads per channel.
type mockPublisher struct {
	mu       sync.Mutex
	payloads map[string][][]byte
	err      error
}

func newMockPublisher() *mockPublisher {
	return &mockPublisher{payloads: make(map[string][][]byte)}
}

func (p *mockPublisher) Publish(_ context.Context, channel string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	cp := append([]byte(nil), payload...)
	p.payloads[channel] = append(p.payloads[channel], cp)
	return nil
}

func (p *mockPublisher) Close() error { return nil }

func (p *mockPublisher) count(channel string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.payloads[channel])
}

func TestRepublisherDrainsInBatches(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Now())
	b := testBridge(clock)
	pub := newMockPublisher()

	r := NewRepublisher(RepublisherConfig{
		Bridge:    b,
		Publisher: pub,
		Channel:   "telemetry-dashboard-channel",
		Interval:  100 * time.Millisecond,
		BatchSize: 10,
		Clock:     clock,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()
	waitFor(t, time.Second, r.IsRunning)

	for i := 0; i < 25; i++ {
		b.IngestRaw(telemetry.Raw{MessageID: uint32(i + 1), Speed: float64(i)})
	}

	// Each tick moves at most one batch of ten.
	clock.Advance(100 * time.Millisecond)
	waitFor(t, time.Second, func() bool { return pub.count("telemetry-dashboard-channel") == 10 })

	clock.Advance(100 * time.Millisecond)
	waitFor(t, time.Second, func() bool { return pub.count("telemetry-dashboard-channel") == 20 })

	clock.Advance(100 * time.Millisecond)
	waitFor(t, time.Second, func() bool { return pub.count("telemetry-dashboard-channel") == 25 })

	assert.Equal(t, int64(25), b.Snapshot().MessagesRepublished)

	// Published payloads are full enriched samples.
	pub.mu.Lock()
	first := pub.payloads["telemetry-dashboard-channel"][0]
	pub.mu.Unlock()
	var s telemetry.Sample
	require.NoError(t, json.Unmarshal(first, &s))
	assert.Equal(t, "test-session", s.SessionID)
	assert.Equal(t, uint32(1), s.MessageID)

	r.Stop()
}

func TestRepublisherCountsPublishErrors(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Now())
	b := testBridge(clock)
	pub := newMockPublisher()
	pub.err = fmt.Errorf("dashboard unreachable")

	r := NewRepublisher(RepublisherConfig{
		Bridge:    b,
		Publisher: pub,
		Channel:   "telemetry-dashboard-channel",
		Clock:     clock,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()
	waitFor(t, time.Second, r.IsRunning)

	b.IngestRaw(telemetry.Raw{MessageID: 1})
	clock.Advance(100 * time.Millisecond)
	waitFor(t, time.Second, func() bool { return b.Snapshot().Errors > 0 })

	assert.Equal(t, int64(0), b.Snapshot().MessagesRepublished)
	r.Stop()
}
