package distributed

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"

	"github.com/lunatic-solutions/lunatic/id"
	"github.com/lunatic-solutions/lunatic/internal/wire"
	"github.com/lunatic-solutions/lunatic/runtimeglue"
)

// nodeIDMetadataKey carries the dialing node's own NodeId on every outgoing
// stream, since wire.Chunk's header intentionally omits it (node routing is
// local-only, spec §4.6); the server side reads it back to attribute
// inbound frames to their source node.
const nodeIDMetadataKey = "x-lunatic-node-id"

// NodeIDFromContext extracts the calling node's id from a server stream's
// context, as attached by GRPCTransport.OpenStream.
func NodeIDFromContext(ctx context.Context) (id.NodeId, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return 0, false
	}
	vals := md.Get(nodeIDMetadataKey)
	if len(vals) == 0 {
		return 0, false
	}
	n, err := strconv.ParseUint(vals[0], 10, 64)
	if err != nil {
		return 0, false
	}
	return id.NodeId(n), true
}

// grpcMethod is the single generic bidi-streaming RPC every node worker
// stream opens: frames are opaque wire.Chunk bytes (encoded via
// internal/wire), so one untyped method serves every request kind, mirroring
// how inprocgrpc dispatches purely by method name rather than by distinct
// generated service methods.
const grpcMethod = "/lunatic.distributed.Transport/Stream"

func init() {
	encoding.RegisterCodec(wire.RawCodec{})
}

var grpcStreamDesc = grpc.StreamDesc{
	StreamName:    "Stream",
	ServerStreams: true,
	ClientStreams: true,
}

// GRPCTransport is the default Transport (spec §4.6 "the reliable
// transport... consumed through a narrow Transport interface whose default
// implementation is gRPC bidi-streaming"), dialing one *grpc.ClientConn per
// node address and multiplexing streams over it.
type GRPCTransport struct {
	ownNode  id.NodeId
	dialOpts []grpc.DialOption

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewGRPCTransport builds a GRPCTransport identifying itself as ownNode on
// every stream it opens, with the given dial options (e.g. transport
// credentials) applied to every node connection.
func NewGRPCTransport(ownNode id.NodeId, dialOpts ...grpc.DialOption) *GRPCTransport {
	return &GRPCTransport{ownNode: ownNode, dialOpts: dialOpts, conns: make(map[string]*grpc.ClientConn)}
}

func (t *GRPCTransport) connFor(addr runtimeglue.NodeAddr) (*grpc.ClientConn, error) {
	target := net.JoinHostPort(addr.Host, fmt.Sprintf("%d", addr.Port))

	t.mu.Lock()
	defer t.mu.Unlock()
	if conn, ok := t.conns[target]; ok {
		return conn, nil
	}
	conn, err := grpc.NewClient(target, t.dialOpts...)
	if err != nil {
		return nil, err
	}
	t.conns[target] = conn
	return conn, nil
}

// OpenStream implements Transport.
func (t *GRPCTransport) OpenStream(ctx context.Context, addr runtimeglue.NodeAddr) (Stream, error) {
	conn, err := t.connFor(addr)
	if err != nil {
		return nil, err
	}
	ctx = metadata.AppendToOutgoingContext(ctx, nodeIDMetadataKey, strconv.FormatUint(uint64(t.ownNode), 10))
	cs, err := conn.NewStream(ctx, &grpcStreamDesc, grpcMethod, grpc.CallContentSubtype(wire.RawCodec{}.Name()))
	if err != nil {
		return nil, err
	}
	return &grpcClientStream{cs: cs}, nil
}

// Close tears down every cached connection.
func (t *GRPCTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	for _, c := range t.conns {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	t.conns = make(map[string]*grpc.ClientConn)
	return firstErr
}

type grpcClientStream struct {
	cs grpc.ClientStream
}

func (s *grpcClientStream) Send(frame []byte) error {
	return s.cs.SendMsg(&frame)
}

func (s *grpcClientStream) Recv() ([]byte, error) {
	var out []byte
	if err := s.cs.RecvMsg(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *grpcClientStream) Close() error {
	return s.cs.CloseSend()
}

// GRPCTransportServer is the server-side counterpart, accepting incoming
// node-worker streams and handing each off to handle (spec §4.6 inbound
// reader that routes Response/Message/Spawn frames). Register it on a
// *grpc.Server with RegisterGRPCTransportServer.
type GRPCTransportServer struct {
	Handle func(ctx context.Context, stream Stream) error
}

// RegisterGRPCTransportServer wires s into srv under grpcMethod.
func RegisterGRPCTransportServer(srv *grpc.Server, s *GRPCTransportServer) {
	desc := grpc.ServiceDesc{
		ServiceName: "lunatic.distributed.Transport",
		HandlerType: (*any)(nil),
		Streams: []grpc.StreamDesc{{
			StreamName: "Stream",
			Handler: func(_ any, stream grpc.ServerStream) error {
				return s.Handle(stream.Context(), &grpcServerStream{ss: stream})
			},
			ServerStreams: true,
			ClientStreams: true,
		}},
	}
	srv.RegisterService(&desc, s)
}

type grpcServerStream struct {
	ss grpc.ServerStream
}

func (s *grpcServerStream) Send(frame []byte) error {
	return s.ss.SendMsg(&frame)
}

func (s *grpcServerStream) Recv() ([]byte, error) {
	var out []byte
	if err := s.ss.RecvMsg(&out); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, err
	}
	return out, nil
}

func (s *grpcServerStream) Close() error { return nil }
