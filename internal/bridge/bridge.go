// Package bridge hosts the ingestion core: the push-feed listener, the
// bounded live-delivery queue, the persistence buffer with its interval
// batch writer, and the dashboard republisher.
package bridge

import (
	"sync"
	"time"

	"github.com/ecotele-data/telemetry.bridge/internal/monitoring"
	"github.com/ecotele-data/telemetry.bridge/internal/telemetry"
	"github.com/ecotele-data/telemetry.bridge/internal/timeutil"
)

// Config carries the queue and buffer tuning for a Bridge.
type Config struct {
	// Session is the identity stamped on every normalized sample.
	Session telemetry.SessionContext
	// Source tags provenance: realtime for a live feed, synthetic for the
	// simulator.
	Source telemetry.Source
	// QueueHighWater / QueueLowWater govern lossy live-queue eviction.
	QueueHighWater int
	QueueLowWater  int
	// MaxBatchSize triggers a forced flush when the persistence buffer
	// reaches it.
	MaxBatchSize int
	// Clock defaults to the real clock.
	Clock timeutil.Clock
}

// Bridge receives raw payloads from the push transport, normalizes them,
// and fans each sample into the live-delivery queue, the republish queue,
// and the persistence buffer. It never raises errors back to the transport.
type Bridge struct {
	session telemetry.SessionContext
	source  telemetry.Source
	clock   timeutil.Clock

	maxBatch int
	forceCh  chan struct{}

	bufMu  sync.Mutex
	buffer []telemetry.Sample

	live     *sampleQueue
	outbound *sampleQueue

	sessionStart time.Time
	stats        Stats
}

// New creates a Bridge. Zero watermarks fall back to the deployed defaults.
func New(cfg Config) *Bridge {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.QueueHighWater <= 0 {
		cfg.QueueHighWater = 500
	}
	if cfg.QueueLowWater <= 0 {
		cfg.QueueLowWater = cfg.QueueHighWater / 2
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 100
	}
	return &Bridge{
		session:      cfg.Session,
		source:       cfg.Source,
		clock:        cfg.Clock,
		maxBatch:     cfg.MaxBatchSize,
		forceCh:      make(chan struct{}, 1),
		live:         newSampleQueue(cfg.QueueHighWater, cfg.QueueLowWater),
		outbound:     newSampleQueue(cfg.QueueHighWater, cfg.QueueLowWater),
		sessionStart: cfg.Clock.Now().UTC(),
	}
}

// Session returns the bridge-owned session identity.
func (b *Bridge) Session() telemetry.SessionContext { return b.session }

// HandleMessage is the push-transport callback. Undecodable payloads are
// counted and dropped; ingestion continues. It never panics and never
// blocks on the persistence path.
func (b *Bridge) HandleMessage(payload []byte) {
	raw, err := telemetry.Decode(payload)
	if err != nil {
		b.stats.RecordError(err)
		monitoring.Logf("bridge: dropping undecodable payload (%d bytes): %v", len(payload), err)
		return
	}
	b.IngestRaw(raw)
}

// IngestRaw normalizes a decoded record and fans it into the queues and the
// persistence buffer. The simulator feeds records in here directly.
func (b *Bridge) IngestRaw(raw telemetry.Raw) {
	now := b.clock.Now()
	s := telemetry.Normalize(raw, b.session, b.source, now)

	if evicted := b.live.push(s); evicted > 0 {
		monitoring.Debugf("bridge: live queue evicted %d oldest samples", evicted)
	}
	b.outbound.push(s)

	b.bufMu.Lock()
	b.buffer = append(b.buffer, s)
	full := len(b.buffer) >= b.maxBatch
	b.bufMu.Unlock()

	if full {
		select {
		case b.forceCh <- struct{}{}:
		default:
		}
	}

	b.stats.AddReceived(now)
	monitoring.Debugf("bridge: sample speed=%.2f power=%.2f alt=%.2f msg=%d",
		s.Speed, s.Power, s.Altitude, s.MessageID)
}

// TakeLive drains the live-delivery queue for the merge cycle.
func (b *Bridge) TakeLive() []telemetry.Sample {
	return b.live.drain(0)
}

// takeOutbound drains up to max samples for republishing.
func (b *Bridge) takeOutbound(max int) []telemetry.Sample {
	return b.outbound.drain(max)
}

// SwapBuffer atomically takes ownership of the persistence buffer and
// resets it, so new samples accumulate without loss while the previous
// batch is written. This is the only section where the flush path and the
// ingest path share a lock, and it holds it just long enough to swap.
func (b *Bridge) SwapBuffer() []telemetry.Sample {
	b.bufMu.Lock()
	defer b.bufMu.Unlock()
	batch := b.buffer
	b.buffer = nil
	return batch
}

// ForceFlush exposes the buffer-full signal channel to the flusher.
func (b *Bridge) ForceFlush() <-chan struct{} { return b.forceCh }

// Stats returns the bridge counters for recording.
func (b *Bridge) Stats() *Stats { return &b.stats }

// Snapshot reports the current counters plus queue and buffer depths.
func (b *Bridge) Snapshot() StatsSnapshot {
	snap := b.stats.snapshot()
	snap.SessionID = b.session.ID
	snap.SessionLabel = b.session.Label
	snap.SessionStart = b.sessionStart
	snap.LiveDropped = b.live.droppedCount()
	snap.LiveQueueLen = b.live.len()

	b.bufMu.Lock()
	snap.BufferLen = len(b.buffer)
	b.bufMu.Unlock()
	return snap
}
