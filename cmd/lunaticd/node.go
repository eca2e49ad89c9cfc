// Command lunaticd assembles the process runtime core into a runnable
// cluster node: one Environment, a control-plane directory/module registry,
// a distributed client for cross-node messaging, and a gRPC transport
// server accepting other nodes' streams (spec §4.6, §4.7). It spawns guest
// programs through runtimegluetest's fake engine, since a real WebAssembly
// engine is out of this core's scope (spec §1 Non-goals).
package main

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/lunatic-solutions/lunatic/control"
	"github.com/lunatic-solutions/lunatic/distributed"
	"github.com/lunatic-solutions/lunatic/environment"
	"github.com/lunatic-solutions/lunatic/hostcall"
	"github.com/lunatic-solutions/lunatic/id"
	"github.com/lunatic-solutions/lunatic/process"
	"github.com/lunatic-solutions/lunatic/runtimeglue"
	"github.com/lunatic-solutions/lunatic/runtimeglue/runtimegluetest"
)

// Node is one running instance of the runtime in a cluster.
type Node struct {
	cfg *config

	Env         *environment.Environment
	Control     *control.Client
	Distributed *distributed.Client
	Transport   *distributed.GRPCTransport

	listener net.Listener
	grpcSrv  *grpc.Server
}

// New assembles a Node from opts, binding its gRPC listener eagerly so
// callers learn of a bad address before Run.
func New(opts ...Option) (*Node, error) {
	cfg := resolveConfig(opts)

	lis, err := net.Listen("tcp", cfg.listenAddr)
	if err != nil {
		return nil, fmt.Errorf("lunaticd: listen %s: %w", cfg.listenAddr, err)
	}

	env := environment.New(cfg.envID)
	ctrl := control.NewClient(cfg.lookupRates)
	transport := distributed.NewGRPCTransport(cfg.nodeID, grpc.WithInsecure())

	resolveEnv := func(envID id.EnvironmentId) (*environment.Environment, bool) {
		if envID == env.ID() {
			return env, true
		}
		return nil, false
	}

	dc := distributed.NewClient(ctrl, transport, ctrl, runtimegluetest.Executor{}, resolveEnv, distributed.Options{
		MTU:     cfg.mtu,
		Streams: cfg.streams,
		Logger:  cfg.logger,
	})

	grpcSrv := grpc.NewServer()
	distributed.RegisterGRPCTransportServer(grpcSrv, &distributed.GRPCTransportServer{
		Handle: serveInboundStream(dc),
	})

	return &Node{
		cfg:         cfg,
		Env:         env,
		Control:     ctrl,
		Distributed: dc,
		Transport:   transport,
		listener:    lis,
		grpcSrv:     grpcSrv,
	}, nil
}

// serveInboundStream reads framed wire.Chunk bytes off an inbound stream
// and feeds them to the distributed client's chunk reassembly, mirroring
// what a per-node worker's own Recv loop does for outbound streams (spec
// §4.6 "the remote node reassembles in chunk_index order"). The stream's
// context carries the dialing node's id as metadata (GRPCTransport.
// OpenStream attaches it, since wire.Chunk's header intentionally omits
// NodeId).
func serveInboundStream(dc *distributed.Client) func(ctx context.Context, stream distributed.Stream) error {
	return func(ctx context.Context, stream distributed.Stream) error {
		node, ok := distributed.NodeIDFromContext(ctx)
		if !ok {
			return fmt.Errorf("lunaticd: inbound stream missing node id metadata")
		}
		for {
			frame, err := stream.Recv()
			if err != nil {
				return err
			}
			// A malformed frame is dropped; it does not tear down the
			// stream (spec §4.6 "it does not tear down the client").
			_ = dc.HandleInboundChunk(node, frame)
		}
	}
}

// NewCaller builds a hostcall.Caller for proc, wired to this node's
// environment, executor, and cluster collaborators so the distributed-module
// host calls (spec §6) are reachable from a spawned guest program.
func (n *Node) NewCaller(proc *process.Process, mem runtimeglue.GuestMemory) *hostcall.Caller {
	c := hostcall.NewCaller(proc, n.Env, runtimegluetest.Executor{}, mem)
	c.Distributed = n.Distributed
	c.Nodes = n.Control
	c.OwnNodeID = n.cfg.nodeID
	return c
}

// Run starts the distributed client's background workers and the gRPC
// transport server, blocking until ctx is done.
func (n *Node) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		n.Distributed.Run(ctx)
		return nil
	})

	g.Go(func() error {
		errCh := make(chan error, 1)
		go func() { errCh <- n.grpcSrv.Serve(n.listener) }()
		select {
		case <-ctx.Done():
			n.grpcSrv.GracefulStop()
			return ctx.Err()
		case err := <-errCh:
			return err
		}
	})

	return g.Wait()
}

// Close releases the node's transport connections and listener.
func (n *Node) Close() error {
	_ = n.Transport.Close()
	return n.listener.Close()
}
