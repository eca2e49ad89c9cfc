package distributed

import (
	"context"
	"testing"
	"time"

	"github.com/lunatic-solutions/lunatic/internal/wire"
)

func TestOutboxPushPopOrder(t *testing.T) {
	freed := newNotify()
	ob := newOutbox(2, freed)

	if !ob.TryPush(wire.Chunk{ChunkIndex: 0}) {
		t.Fatalf("first push should succeed")
	}
	if !ob.TryPush(wire.Chunk{ChunkIndex: 1}) {
		t.Fatalf("second push should succeed")
	}
	if ob.TryPush(wire.Chunk{ChunkIndex: 2}) {
		t.Fatalf("third push should fail, outbox at capacity")
	}

	c, ok := ob.Pop()
	if !ok || c.ChunkIndex != 0 {
		t.Fatalf("Pop = %+v, %v; want chunk 0", c, ok)
	}
	if ob.Len() != 1 {
		t.Fatalf("Len = %d, want 1", ob.Len())
	}

	if !ob.TryPush(wire.Chunk{ChunkIndex: 2}) {
		t.Fatalf("push after pop should succeed now there's room")
	}
}

func TestOutboxPopSignalsFreed(t *testing.T) {
	freed := newNotify()
	ob := newOutbox(1, freed)
	ob.TryPush(wire.Chunk{})

	if _, ok := ob.Pop(); !ok {
		t.Fatalf("Pop should have returned the pushed chunk")
	}

	done := make(chan struct{})
	go func() {
		_ = freed.Wait(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("freed notify was not signaled by Pop")
	}
}
