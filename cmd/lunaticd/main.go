package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lunatic-solutions/lunatic/id"
	"github.com/lunatic-solutions/lunatic/internal/obslog"
	"github.com/lunatic-solutions/lunatic/process"
	"github.com/lunatic-solutions/lunatic/runtimeglue"
	"github.com/lunatic-solutions/lunatic/runtimeglue/runtimegluetest"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "lunaticd:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		nodeID     = flag.Uint64("node-id", 1, "this node's cluster id")
		envID      = flag.Uint64("env-id", 1, "id of the environment this node hosts")
		listenAddr = flag.String("listen", "127.0.0.1:9000", "address the gRPC transport listens on")
	)
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log := obslog.New()

	node, err := New(
		WithNodeID(id.NodeId(*nodeID)),
		WithEnvironmentID(id.EnvironmentId(*envID)),
		WithListenAddr(*listenAddr),
		WithLogger(log),
	)
	if err != nil {
		return err
	}
	defer node.Close()

	registerGreeter()
	if _, _, err := process.Spawn(ctx, node.Env, runtimegluetest.Executor{}, []byte(greeterProgram),
		runtimeglue.ProcessConfig{}, "_start", nil, nil); err != nil {
		return fmt.Errorf("lunaticd: spawn greeter: %w", err)
	}

	return node.Run(ctx)
}

// greeterProgram is the fake module name a demo process runs under, just
// enough to show a process actually living inside the node while it
// serves the cluster (spec §3 "Process"); a real deployment spawns guest
// wasm modules the same way, through process.Spawn.
const greeterProgram = "lunaticd-greeter"

func registerGreeter() {
	runtimegluetest.Register(greeterProgram, func(ctx context.Context, inst *runtimegluetest.Instance, params []runtimeglue.Value) runtimeglue.ExecResult {
		<-ctx.Done()
		return runtimeglue.ExecResult{}
	})
}
