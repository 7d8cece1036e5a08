package bridge

import (
	"sync"

	"github.com/ecotele-data/telemetry.bridge/internal/telemetry"
)

// sampleQueue is a bounded FIFO of samples with lossy backpressure: when a
// push takes the queue past the high-water mark, the oldest entries are
// discarded down to the low-water mark. Eviction happens inside the push
// critical section so the queue can never grow unbounded between evictions.
// Live delivery must never stall ingestion, so nothing here blocks.
type sampleQueue struct {
	mu        sync.Mutex
	items     []telemetry.Sample
	highWater int
	lowWater  int
	dropped   uint64
}

func newSampleQueue(highWater, lowWater int) *sampleQueue {
	return &sampleQueue{highWater: highWater, lowWater: lowWater}
}

// push appends s, evicting the oldest entries if the high-water mark is
// crossed. Returns the number of samples evicted.
func (q *sampleQueue) push(s telemetry.Sample) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, s)
	if len(q.items) <= q.highWater {
		return 0
	}
	evict := len(q.items) - q.lowWater
	q.items = append(q.items[:0:0], q.items[evict:]...)
	q.dropped += uint64(evict)
	return evict
}

// drain removes and returns up to max samples from the front; max <= 0
// drains everything.
func (q *sampleQueue) drain(max int) []telemetry.Sample {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	if n == 0 {
		return nil
	}
	if max > 0 && max < n {
		n = max
	}
	out := make([]telemetry.Sample, n)
	copy(out, q.items[:n])
	q.items = append(q.items[:0:0], q.items[n:]...)
	return out
}

func (q *sampleQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *sampleQueue) droppedCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
