// Package queue buffers accepted events between the ingest pipeline and
// the asynchronous raw-event writer.
package queue

import (
	"errors"
	"sync"
	"time"

	"riskforge/internal/schema"
)

var (
	// ErrQueueFull is returned when the buffer has no free slot.
	ErrQueueFull = errors.New("event queue full")
	// ErrQueueEmpty is returned when there is nothing to pop.
	ErrQueueEmpty = errors.New("event queue empty")
	// ErrQueueClosed is returned once the buffer is closed and drained.
	ErrQueueClosed = errors.New("event queue closed")
)

const defaultCapacity = 10000

// RingBuffer is a fixed-capacity FIFO for ingested events. The pipeline
// pushes after validation and the raw-event consumer drains on its poll
// interval. A full buffer drops the incoming event and counts it, so
// ingest latency never depends on storage latency.
type RingBuffer struct {
	mu     sync.Mutex
	notify *sync.Cond

	slots  []*schema.Event
	read   int // index of the oldest buffered event
	depth  int
	closed bool

	pushed  uint64
	popped  uint64
	dropped uint64
}

// NewRingBuffer allocates a buffer holding up to capacity events.
// Non-positive capacities fall back to the default.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	rb := &RingBuffer{slots: make([]*schema.Event, capacity)}
	rb.notify = sync.NewCond(&rb.mu)
	return rb
}

// Push appends an event. A full buffer drops the event and returns
// ErrQueueFull; the caller decides whether to dead-letter it.
func (rb *RingBuffer) Push(event *schema.Event) error {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.closed {
		return ErrQueueClosed
	}
	if rb.depth == len(rb.slots) {
		rb.dropped++
		return ErrQueueFull
	}

	rb.slots[(rb.read+rb.depth)%len(rb.slots)] = event
	rb.depth++
	rb.pushed++
	rb.notify.Signal()
	return nil
}

// popLocked removes the oldest event. Caller holds rb.mu and has
// checked rb.depth > 0.
func (rb *RingBuffer) popLocked() *schema.Event {
	ev := rb.slots[rb.read]
	rb.slots[rb.read] = nil
	rb.read = (rb.read + 1) % len(rb.slots)
	rb.depth--
	rb.popped++
	return ev
}

// Pop removes and returns the oldest event without blocking.
func (rb *RingBuffer) Pop() (*schema.Event, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.depth == 0 {
		return nil, ErrQueueEmpty
	}
	return rb.popLocked(), nil
}

// PopBlocking waits until an event is available or the buffer is closed
// and drained.
func (rb *RingBuffer) PopBlocking() (*schema.Event, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	for rb.depth == 0 && !rb.closed {
		rb.notify.Wait()
	}
	if rb.depth == 0 {
		return nil, ErrQueueClosed
	}
	return rb.popLocked(), nil
}

// PopWithTimeout waits up to timeout for an event. It returns
// ErrQueueEmpty when the deadline passes with nothing buffered.
func (rb *RingBuffer) PopWithTimeout(timeout time.Duration) (*schema.Event, error) {
	deadline := time.Now().Add(timeout)

	rb.mu.Lock()
	defer rb.mu.Unlock()

	for rb.depth == 0 && !rb.closed {
		if !time.Now().Before(deadline) {
			return nil, ErrQueueEmpty
		}
		wake := time.AfterFunc(time.Until(deadline), func() {
			rb.mu.Lock()
			rb.notify.Broadcast()
			rb.mu.Unlock()
		})
		rb.notify.Wait()
		wake.Stop()
	}
	if rb.depth == 0 {
		return nil, ErrQueueClosed
	}
	return rb.popLocked(), nil
}

// Len reports the number of buffered events.
func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.depth
}

// Cap reports the buffer capacity.
func (rb *RingBuffer) Cap() int {
	return len(rb.slots)
}

// IsFull reports whether the next Push would drop.
func (rb *RingBuffer) IsFull() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.depth == len(rb.slots)
}

// IsEmpty reports whether the buffer holds no events.
func (rb *RingBuffer) IsEmpty() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.depth == 0
}

// Close stops accepting pushes and wakes blocked consumers. Buffered
// events remain poppable so shutdown can drain them.
func (rb *RingBuffer) Close() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.closed = true
	rb.notify.Broadcast()
}

// Metrics returns a consistent snapshot of the buffer counters. The
// ingest handler exposes these at /metrics and uses Depth against
// Capacity for backpressure hints.
func (rb *RingBuffer) Metrics() QueueMetrics {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return QueueMetrics{
		Pushed:   rb.pushed,
		Popped:   rb.popped,
		Dropped:  rb.dropped,
		Depth:    rb.depth,
		Capacity: len(rb.slots),
	}
}

// QueueMetrics is a point-in-time view of buffer activity.
type QueueMetrics struct {
	Pushed   uint64 `json:"pushed"`
	Popped   uint64 `json:"popped"`
	Dropped  uint64 `json:"dropped"`
	Depth    int    `json:"depth"`
	Capacity int    `json:"capacity"`
}
