package application

import "sync"

// DefaultOutboxCapacity bounds pending publishes on memory-constrained
// deployments.
const DefaultOutboxCapacity = 32

// Outbox is a bounded FIFO of publishes produced while the session is
// down. When full, the oldest entry is evicted first (drop-oldest); a
// drop is silent apart from the counter. The mutex admits enqueues from
// platform callback goroutines while SessionManager drains on the tick
// goroutine.
type Outbox struct {
	mu       sync.Mutex
	items    []OutboundMessage
	capacity int
	dropped  uint64
}

func NewOutbox(capacity int) *Outbox {
	if capacity <= 0 {
		capacity = DefaultOutboxCapacity
	}
	return &Outbox{
		items:    make([]OutboundMessage, 0, capacity),
		capacity: capacity,
	}
}

// Enqueue appends; at capacity it evicts the oldest entry first. Never
// blocks, never errors.
func (o *Outbox) Enqueue(msg OutboundMessage) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.items = append(o.items, msg)
	if len(o.items) > o.capacity {
		o.items = o.items[1:]
		o.dropped++
	}
}

// DequeueAll returns and clears the full ordered sequence. Enqueues
// arriving after the clear land in the buffer, not in the returned
// slice.
func (o *Outbox) DequeueAll() []OutboundMessage {
	o.mu.Lock()
	defer o.mu.Unlock()

	items := o.items
	o.items = make([]OutboundMessage, 0, o.capacity)
	return items
}

// Requeue puts messages back at the front of the queue in their
// original order, ahead of anything enqueued since the drain started.
// Capacity still holds: the oldest entries are dropped first.
func (o *Outbox) Requeue(msgs []OutboundMessage) {
	if len(msgs) == 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	merged := make([]OutboundMessage, 0, len(msgs)+len(o.items))
	merged = append(merged, msgs...)
	merged = append(merged, o.items...)
	if over := len(merged) - o.capacity; over > 0 {
		merged = merged[over:]
		o.dropped += uint64(over)
	}
	o.items = merged
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}

func (o *Outbox) Cap() int {
	return o.capacity
}

// Dropped returns the number of messages evicted by the drop-oldest
// policy since construction.
func (o *Outbox) Dropped() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}
