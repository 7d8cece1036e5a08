package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ecotele-data/telemetry.bridge/internal/monitoring"
	"github.com/ecotele-data/telemetry.bridge/internal/timeutil"
	"github.com/ecotele-data/telemetry.bridge/internal/transport"
)

// Republisher forwards enriched samples from the bridge's outbound queue
// to the dashboard channel. It drains at most BatchSize samples per tick
// so a backlog burst can't starve other work or flood subscribers.
type Republisher struct {
	bridge    *Bridge
	publisher transport.Publisher
	channel   string
	interval  time.Duration
	batchSize int
	clock     timeutil.Clock

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// RepublisherConfig contains configuration for Republisher.
type RepublisherConfig struct {
	Bridge    *Bridge
	Publisher transport.Publisher
	// Channel is the dashboard channel name.
	Channel string
	// Interval is the poll interval; zero means 100ms.
	Interval time.Duration
	// BatchSize caps samples per tick; zero means 10.
	BatchSize int
	// Clock is optional; if nil, uses the real clock.
	Clock timeutil.Clock
}

// NewRepublisher creates a Republisher.
func NewRepublisher(cfg RepublisherConfig) *Republisher {
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 10
	}
	return &Republisher{
		bridge:    cfg.Bridge,
		publisher: cfg.Publisher,
		channel:   cfg.Channel,
		interval:  interval,
		batchSize: batch,
		clock:     clock,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Run starts the republish loop and blocks until the context is cancelled
// or Stop() is called. Samples still queued at shutdown are discarded;
// they were persisted by the flusher path already.
func (r *Republisher) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	ticker := r.clock.NewTicker(r.interval)
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.mu.Unlock()

	defer func() {
		close(r.doneCh)
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()
	defer ticker.Stop()

	monitoring.Logf("republisher started: channel=%s interval=%v batch=%d", r.channel, r.interval, r.batchSize)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.stopCh:
			return nil
		case <-ticker.C():
			r.drainOnce(ctx)
		}
	}
}

// Stop requests the republisher to stop and waits for the loop to exit.
func (r *Republisher) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	select {
	case <-r.stopCh:
	default:
		close(r.stopCh)
	}
	r.mu.Unlock()

	<-r.doneCh
}

// IsRunning returns whether the republish loop is active.
func (r *Republisher) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// drainOnce publishes up to one batch of outbound samples.
func (r *Republisher) drainOnce(ctx context.Context) {
	batch := r.bridge.takeOutbound(r.batchSize)
	if len(batch) == 0 {
		return
	}

	sent := 0
	for _, s := range batch {
		payload, err := json.Marshal(s)
		if err != nil {
			r.bridge.Stats().RecordError(err)
			monitoring.Logf("republisher: marshal failed: %v", err)
			continue
		}
		if err := r.publisher.Publish(ctx, r.channel, payload); err != nil {
			r.bridge.Stats().RecordError(err)
			monitoring.Debugf("republisher: publish failed: %v", err)
			continue
		}
		sent++
	}
	if sent > 0 {
		r.bridge.Stats().AddRepublished(sent)
	}
}
