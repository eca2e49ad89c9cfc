package distributed

import (
	"context"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lunatic-solutions/lunatic/id"
	"github.com/lunatic-solutions/lunatic/internal/obslog"
	"github.com/lunatic-solutions/lunatic/internal/ratelimit"
	"github.com/lunatic-solutions/lunatic/internal/wire"
	"github.com/lunatic-solutions/lunatic/runtimeglue"
)

// defaultStreams is the number of parallel streams a node worker opens to
// its target (spec §4.6 "default 10, configurable").
const defaultStreams = 10

// maxSendRetries bounds the per-chunk retry budget before a chunk is
// dropped (spec §4.6 "retries a bounded number of times, then drops the
// chunk and logs; it does not tear down the client").
const maxSendRetries = 3

// nodeWorker owns a node's outbox and the set of streams delivering it,
// adapted from fangrpcstream.Stream's send/receive goroutine pair (without
// its proto.Message constraint, since frames here are opaque wire.Chunk
// bytes).
type nodeWorker struct {
	node       id.NodeId
	addr       runtimeglue.NodeAddr
	transport  Transport
	out        *outbox
	onChunk    func(wire.Chunk) // inbound chunk handler (Message/Spawn/Response routing)
	log        *obslog.Logger
	congestion *ratelimit.Congestion
	streams    int
}

func newNodeWorker(node id.NodeId, addr runtimeglue.NodeAddr, t Transport, out *outbox, onChunk func(wire.Chunk), log *obslog.Logger, congestion *ratelimit.Congestion) *nodeWorker {
	if log == nil {
		log = obslog.Disabled
	}
	return &nodeWorker{node: node, addr: addr, transport: t, out: out, onChunk: onChunk, log: log, congestion: congestion, streams: defaultStreams}
}

// Run opens w.streams parallel duplex streams and multiplexes the outbox
// across them (spec §4.6 "dequeues chunks FIFO and multiplexes across
// streams"), returning when ctx is done or as soon as any stream fails (the
// first failure cancels the other streams).
func (w *nodeWorker) Run(ctx context.Context, wake *notify) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.streams; i++ {
		g.Go(func() error {
			return w.runStream(ctx, wake)
		})
	}
	return g.Wait()
}

func (w *nodeWorker) runStream(ctx context.Context, wake *notify) error {
	stream, err := w.transport.OpenStream(ctx, w.addr)
	if err != nil {
		w.log.RemoteDialFailure(uint64(w.node), err)
		return err
	}
	defer stream.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.sendLoop(gctx, stream, wake) })
	g.Go(func() error { return w.recvLoop(gctx, stream) })
	return g.Wait()
}

func (w *nodeWorker) sendLoop(ctx context.Context, stream Stream, wake *notify) error {
	for {
		chunk, ok := w.out.Pop()
		if !ok {
			if err := wake.Wait(ctx); err != nil {
				return err
			}
			continue
		}

		if retryAt, ok := w.congestion.Allow(uint64(w.node)); !ok {
			w.log.CongestionRetry(uint64(w.node), 0, time.Until(retryAt).String())
			select {
			case <-time.After(time.Until(retryAt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		var sendErr error
		for attempt := 0; attempt < maxSendRetries; attempt++ {
			sendErr = stream.Send(wire.Encode(chunk))
			if sendErr == nil {
				break
			}
			wait := time.Duration(1<<attempt) * 50 * time.Millisecond
			w.log.CongestionRetry(uint64(w.node), attempt+1, wait.String())
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if sendErr != nil {
			// Bounded retries exhausted: drop the chunk, keep the worker
			// alive (spec §4.6 "drops the chunk and logs; it does not
			// tear down the client").
			w.log.RemoteDialFailure(uint64(w.node), sendErr)
			continue
		}
	}
}

func (w *nodeWorker) recvLoop(ctx context.Context, stream Stream) error {
	for {
		frame, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		chunk, err := wire.Decode(frame)
		if err != nil {
			continue
		}
		w.onChunk(chunk)
	}
}
