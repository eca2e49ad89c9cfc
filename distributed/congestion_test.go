package distributed

import (
	"context"
	"testing"
	"time"

	"github.com/lunatic-solutions/lunatic/internal/wire"
)

func TestRunCongestionWorkerDeliversChunks(t *testing.T) {
	in := newInboxes(1 << 10)
	hasMessages := newNotify()

	outboxes := map[uint64]*outbox{}
	resolve := func(rc RoutedChunk) *outbox {
		ob, ok := outboxes[uint64(rc.Node)]
		if !ok {
			ob = newOutbox(8, newNotify())
			outboxes[uint64(rc.Node)] = ob
		}
		return ob
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runCongestionWorker(ctx, in, hasMessages, resolve)

	in.Enqueue(MessageCtx{MessageID: 1, Env: 1, Src: 1, Node: 42, Dest: 1, Payload: []byte("payload")})
	hasMessages.Signal()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if ob, ok := outboxes[42]; ok {
			if c, ok := ob.Pop(); ok {
				if string(c.Payload) != "payload" {
					t.Fatalf("Payload = %q, want %q", c.Payload, "payload")
				}
				return
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("congestion worker did not deliver the chunk to node 42's outbox in time")
}

func TestRunCongestionWorkerBackpressure(t *testing.T) {
	in := newInboxes(1 << 10)
	hasMessages := newNotify()

	full := newOutbox(1, newNotify())
	full.TryPush(wire.Chunk{})
	resolve := func(rc RoutedChunk) *outbox { return full }

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	in.Enqueue(MessageCtx{MessageID: 1, Env: 1, Src: 1, Node: 1, Dest: 1, Payload: []byte("x")})
	hasMessages.Signal()

	runCongestionWorker(ctx, in, hasMessages, resolve)

	if full.Len() != 1 {
		t.Fatalf("full outbox should still have just the original chunk, got %d", full.Len())
	}
	if in.Empty() {
		t.Fatalf("the undeliverable chunk should have been requeued, not dropped")
	}
}
