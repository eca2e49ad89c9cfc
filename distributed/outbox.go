package distributed

import (
	"sync"

	"github.com/lunatic-solutions/lunatic/internal/chunkqueue"
	"github.com/lunatic-solutions/lunatic/internal/wire"
)

// outbox is one node's bounded FIFO of framed chunks, adapted from
// eventloop.ChunkedIngress (spec §4.6 "per_node_outboxes: NodeId -> bounded
// queue of MessageChunk", domain stack table).
type outbox struct {
	mu       sync.Mutex
	q        *chunkqueue.Queue[wire.Chunk]
	capacity int
	freed    *notify // signaled whenever a slot frees up, wakes the congestion worker
}

func newOutbox(capacity int, freed *notify) *outbox {
	if capacity <= 0 {
		capacity = 1024
	}
	return &outbox{q: chunkqueue.New[wire.Chunk](), capacity: capacity, freed: freed}
}

// TryPush appends chunk if the outbox isn't at capacity, reporting success.
// Spec §4.6: "if the outbox is full, yield and retry later (backpressure to
// the source)".
func (o *outbox) TryPush(c wire.Chunk) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.q.Len() >= o.capacity {
		return false
	}
	o.q.PushBack(c)
	return true
}

// Pop removes and returns the head chunk, if any, waking anyone waiting for
// outbox space to free up.
func (o *outbox) Pop() (wire.Chunk, bool) {
	o.mu.Lock()
	c, ok := o.q.PopFront()
	o.mu.Unlock()
	if ok && o.freed != nil {
		o.freed.Signal()
	}
	return c, ok
}

// Len reports the number of queued chunks.
func (o *outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.q.Len()
}
