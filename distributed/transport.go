package distributed

import (
	"context"

	"github.com/lunatic-solutions/lunatic/runtimeglue"
)

// Stream is one multiplexed duplex byte pipe to a remote node, carrying
// already-framed wire.Chunk bytes (spec §4.6 "a chunk is sent as a single
// stream write").
type Stream interface {
	Send(frame []byte) error
	Recv() ([]byte, error)
	Close() error
}

// Transport is the narrow "reliable transport" collaborator spec §1 scopes
// out of this core's responsibilities; distributed only depends on this
// interface, with the default implementation (grpctransport.go) built on
// gRPC bidirectional streaming.
type Transport interface {
	// OpenStream opens one unidirectional-in-practice duplex stream to
	// addr. The per-node worker opens several (spec §4.6 "streams
	// parallel unidirectional streams to the node").
	OpenStream(ctx context.Context, addr runtimeglue.NodeAddr) (Stream, error)
}
