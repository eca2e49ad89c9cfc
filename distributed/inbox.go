package distributed

import (
	"sync"

	"github.com/lunatic-solutions/lunatic/id"
	"github.com/lunatic-solutions/lunatic/internal/chunkqueue"
	"github.com/lunatic-solutions/lunatic/internal/wire"
)

// sourceKey identifies one (EnvironmentId, source ProcessId) pair, the
// per-source-ordering unit spec §4.6 requires.
type sourceKey struct {
	Env id.EnvironmentId
	Src id.ProcessId
}

// inFlight tracks the chunking progress of the MessageCtx currently being
// emitted for one source, so the congestion worker can emit one chunk per
// visit instead of draining an entire logical message at once (spec §4.6
// congestion worker step 2: "emit the next chunk").
type inFlight struct {
	ctx    MessageCtx
	chunks []wire.Chunk
	next   int
}

func (f *inFlight) done() bool { return f.next >= len(f.chunks) }

// inboxes holds every source's pending-message queue (spec §4.6
// "per_source_inboxes"), built on chunkqueue like the mailbox.
type inboxes struct {
	mtu int

	mu      sync.Mutex
	order   []sourceKey
	queues  map[sourceKey]*chunkqueue.Queue[MessageCtx]
	current map[sourceKey]*inFlight
}

func newInboxes(mtu int) *inboxes {
	if mtu <= 0 {
		mtu = 16 << 10
	}
	return &inboxes{
		mtu:     mtu,
		queues:  make(map[sourceKey]*chunkqueue.Queue[MessageCtx]),
		current: make(map[sourceKey]*inFlight),
	}
}

// Enqueue appends ctx to its source's queue, registering the source in the
// round-robin order if it's newly active.
func (b *inboxes) Enqueue(ctx MessageCtx) {
	key := sourceKey{Env: ctx.Env, Src: ctx.Src}
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[key]
	if !ok {
		q = chunkqueue.New[MessageCtx]()
		b.queues[key] = q
		b.order = append(b.order, key)
	}
	q.PushBack(ctx)
}

// Empty reports whether every source queue and in-flight chunking state is
// drained (spec §4.6 congestion worker step 3).
func (b *inboxes) Empty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range b.order {
		if b.current[k] != nil {
			return false
		}
		if q, ok := b.queues[k]; ok && q.Len() > 0 {
			return false
		}
	}
	return true
}

// RoutedChunk is one chunk emitted by NextChunk, along with the node it is
// destined for (carried on the originating MessageCtx, not the wire frame
// itself: node routing is local-only, spec §4.6).
type RoutedChunk struct {
	Source sourceKey
	Node   id.NodeId
	Chunk  wire.Chunk
}

// NextChunk performs one round-robin step (spec §4.6 congestion worker
// step 2): visits each source once, returning the first chunk it can emit
// (advancing that source's in-flight cursor, or starting the next queued
// MessageCtx). Returns ok=false if no source currently has anything to
// emit.
func (b *inboxes) NextChunk() (RoutedChunk, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := 0; i < len(b.order); i++ {
		key := b.order[i]

		f := b.current[key]
		if f == nil {
			q := b.queues[key]
			ctx, ok := q.PopFront()
			if !ok {
				continue
			}
			split := wire.Split(ctx.Payload)(b.mtu)
			for j := range split {
				split[j].MessageID = ctx.MessageID
				split[j].Env = ctx.Env
				split[j].Src = ctx.Src
				split[j].Dest = ctx.Dest
			}
			f = &inFlight{ctx: ctx, chunks: split}
			b.current[key] = f
		}

		chunk := f.chunks[f.next]
		f.next++
		node := f.ctx.Node
		if f.done() {
			delete(b.current, key)
		}
		// Move this source to the back so the next step visits the others
		// before coming back to it.
		copy(b.order[i:], b.order[i+1:])
		b.order[len(b.order)-1] = key
		return RoutedChunk{Source: key, Node: node, Chunk: chunk}, true
	}
	return RoutedChunk{}, false
}

// Requeue undoes the effect of the NextChunk call that produced rc,
// for when the caller could not actually deliver it (the destination
// outbox was full). The congestion worker is NextChunk/Requeue's only
// caller, so single-threaded reuse of rc's cursor position is safe.
func (b *inboxes) Requeue(rc RoutedChunk) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, ok := b.current[rc.Source]
	if !ok {
		// The chunk NextChunk handed out was the last one for its message
		// (the common case: any single-chunk payload), so it already
		// deleted b.current[rc.Source]. Rebuild the placeholder with
		// next: 0, not 1, so the next NextChunk call re-emits rc.Chunk
		// instead of indexing past the end of a 1-length slice.
		f = &inFlight{ctx: MessageCtx{Node: rc.Node}, chunks: []wire.Chunk{rc.Chunk}, next: 0}
		b.current[rc.Source] = f
		return
	}
	if f.next > 0 {
		f.next--
	}
}
