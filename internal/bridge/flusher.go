package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/ecotele-data/telemetry.bridge/internal/monitoring"
	"github.com/ecotele-data/telemetry.bridge/internal/telemetry"
	"github.com/ecotele-data/telemetry.bridge/internal/timeutil"
)

// SampleWriter is the store-write capability the flusher needs.
type SampleWriter interface {
	InsertSamples(ctx context.Context, samples []telemetry.Sample) (int, error)
}

// Flusher periodically drains the bridge's persistence buffer into the
// store. It runs on a fixed wall-clock interval independent of message
// volume, honors the bridge's buffer-full signal for forced flushes, and
// performs a final best-effort flush on shutdown.
//
// A failed insert drops the batch after logging. There is no retry queue:
// the design accepts bounded data loss on store outages in exchange for
// bounded memory.
type Flusher struct {
	bridge        *Bridge
	writer        SampleWriter
	interval      time.Duration
	insertTimeout time.Duration
	clock         timeutil.Clock

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// FlusherConfig contains configuration for Flusher.
type FlusherConfig struct {
	// Bridge owns the buffer being drained.
	Bridge *Bridge
	// Writer is the store-write capability.
	Writer SampleWriter
	// Interval is how often to flush (e.g. 9*time.Second).
	Interval time.Duration
	// InsertTimeout bounds one bulk insert; zero means 10s.
	InsertTimeout time.Duration
	// Clock is optional; if nil, uses the real clock.
	Clock timeutil.Clock
}

// NewFlusher creates a Flusher.
func NewFlusher(cfg FlusherConfig) *Flusher {
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	timeout := cfg.InsertTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Flusher{
		bridge:        cfg.Bridge,
		writer:        cfg.Writer,
		interval:      cfg.Interval,
		insertTimeout: timeout,
		clock:         clock,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Run starts the flush loop. It blocks until the context is cancelled or
// Stop() is called, finishing with a final flush of whatever remains
// buffered. Returns nil on clean shutdown.
func (f *Flusher) Run(ctx context.Context) error {
	if f.interval <= 0 {
		monitoring.Logf("flusher: interval is zero or negative, not starting")
		return nil
	}

	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return nil // already running
	}
	// The ticker is created under the lock so IsRunning implies the clock
	// already knows about it.
	ticker := f.clock.NewTicker(f.interval)
	f.running = true
	f.stopCh = make(chan struct{})
	f.doneCh = make(chan struct{})
	f.mu.Unlock()

	defer func() {
		close(f.doneCh)
		f.mu.Lock()
		f.running = false
		f.mu.Unlock()
	}()
	defer ticker.Stop()

	monitoring.Logf("flusher started: interval=%v", f.interval)

	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("flusher stopping due to context cancellation")
			f.flush("final")
			return nil
		case <-f.stopCh:
			monitoring.Logf("flusher stopping due to Stop() call")
			f.flush("final")
			return nil
		case <-f.bridge.ForceFlush():
			f.flush("buffer_full")
		case <-ticker.C():
			f.flush("interval")
		}
	}
}

// Stop requests the flusher to stop and waits for the final flush. It is
// safe to call multiple times.
func (f *Flusher) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	select {
	case <-f.stopCh:
		// already closed
	default:
		close(f.stopCh)
	}
	f.mu.Unlock()

	<-f.doneCh
}

// IsRunning returns whether the flusher loop is active.
func (f *Flusher) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// FlushNow triggers an immediate flush outside the regular interval.
func (f *Flusher) FlushNow() {
	f.flush("manual")
}

// flush swaps the buffer and attempts one bulk insert. The buffer lock is
// released before any I/O happens.
func (f *Flusher) flush(reason string) {
	batch := f.bridge.SwapBuffer()
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.insertTimeout)
	defer cancel()

	n, err := f.writer.InsertSamples(ctx, batch)
	if err != nil {
		f.bridge.Stats().RecordError(err)
		monitoring.Logf("flusher: dropping batch of %d samples (%s): %v", len(batch), reason, err)
		return
	}
	f.bridge.Stats().AddStored(n, f.clock.Now())
	monitoring.Logf("flusher: wrote %d rows (%s, session %.8s)", n, reason, f.bridge.Session().ID)
}
