// Package mailbox implements the selective-receive message queue described
// in spec §4.1: FIFO delivery order within any single tag filter, and a
// cancellation-safe await for Pop, modeled on the "found slot drains back
// into the queue" rule from the original Rust MessageMailbox (and, for the
// chunked-queue storage, on eventloop.ChunkedIngress's pooled linked-list
// design).
package mailbox

import (
	"context"
	"sync"

	"github.com/lunatic-solutions/lunatic/internal/chunkqueue"
	"github.com/lunatic-solutions/lunatic/message"
)

// entry wraps a delivered message with whatever's needed to route it.
type entry struct {
	msg *message.Message
}

func (e *entry) tag() message.Tag { return e.msg.Tag() }

// waiter represents a single parked Pop call.
type waiter struct {
	filter map[int64]struct{} // nil means "any"
	hasAny bool                // true if filter == nil (match anything)
	ch     chan *message.Message
}

// Mailbox is a single process's selective-receive queue. The zero value is
// not usable; construct with New.
type Mailbox struct {
	mu     sync.Mutex
	q      *chunkqueue.Queue[*entry]
	found  *message.Message // drained back to the queue on next call, cancellation-safety
	parked *waiter          // at most one parked waiter at a time (single consumer per spec §5)
}

// New returns an empty mailbox.
func New() *Mailbox {
	return &Mailbox{q: chunkqueue.New[*entry]()}
}

// Push delivers a message, per spec §4.1: if a waker is parked and the
// message matches its filter, it is handed straight to the waiter;
// otherwise it is enqueued at the tail. A parked waiter whose filter
// doesn't match is left parked.
func (m *Mailbox) Push(msg *message.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.parked != nil {
		w := m.parked
		if w.hasAny || msg.Tag().Matches(w.filter) {
			m.parked = nil
			w.ch <- msg
			return
		}
	}
	m.q.PushBack(&entry{msg: msg})
}

// drainFound moves a previously-cancelled found message back into the
// queue. Must be called with mu held, at the start of every Pop/PopSkipSearch.
func (m *Mailbox) drainFound() {
	if m.found != nil {
		m.q.PushFront(&entry{msg: m.found})
		m.found = nil
	}
}

// Pop performs a selective receive: if tags is non-nil, the first queued
// message whose tag is a member is removed and returned; if tags is nil,
// the head of the queue is returned. If nothing matches, Pop blocks
// (cancellation-safely, per spec §4.1/§5) until a matching Push or ctx is
// done.
func (m *Mailbox) Pop(ctx context.Context, tags map[int64]struct{}) (*message.Message, error) {
	return m.pop(ctx, tags, false)
}

// PopSkipSearch is identical to Pop but skips the initial scan of the
// already-queued messages: safe only when the caller knows no matching
// message could already be queued (spec §4.1), e.g. immediately after
// minting and sending a fresh request tag.
func (m *Mailbox) PopSkipSearch(ctx context.Context, tags map[int64]struct{}) (*message.Message, error) {
	return m.pop(ctx, tags, true)
}

func (m *Mailbox) pop(ctx context.Context, tags map[int64]struct{}, skipSearch bool) (*message.Message, error) {
	m.mu.Lock()

	m.drainFound()

	if !skipSearch {
		if tags != nil {
			if e, ok := m.q.RemoveMatching(func(e *entry) bool { return e.tag().Matches(tags) }); ok {
				m.mu.Unlock()
				return e.msg, nil
			}
		} else if e, ok := m.q.PopFront(); ok {
			m.mu.Unlock()
			return e.msg, nil
		}
	}

	w := &waiter{filter: tags, hasAny: tags == nil, ch: make(chan *message.Message, 1)}
	m.parked = w
	m.mu.Unlock()

	select {
	case msg := <-w.ch:
		return msg, nil
	case <-ctx.Done():
		// Cancellation safety: if Push raced us and already handed off a
		// message on w.ch, take it and stash it in found so the next Pop
		// drains it back to the queue instead of losing it (spec §4.1,
		// §8 property 2).
		m.mu.Lock()
		defer m.mu.Unlock()
		select {
		case msg := <-w.ch:
			m.found = msg
		default:
			if m.parked == w {
				m.parked = nil
			}
		}
		return nil, ctx.Err()
	}
}

// Len reports the number of messages queued, excluding a drained-but-not-
// yet-requeued found message (spec §4.1).
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q.Len()
}

// IsEmpty reports whether the mailbox has no queued messages.
func (m *Mailbox) IsEmpty() bool {
	return m.Len() == 0
}
