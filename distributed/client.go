package distributed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/lunatic-solutions/lunatic/environment"
	"github.com/lunatic-solutions/lunatic/id"
	"github.com/lunatic-solutions/lunatic/internal/obslog"
	"github.com/lunatic-solutions/lunatic/internal/ratelimit"
	"github.com/lunatic-solutions/lunatic/internal/wire"
	"github.com/lunatic-solutions/lunatic/message"
	"github.com/lunatic-solutions/lunatic/process"
	"github.com/lunatic-solutions/lunatic/runtimeglue"
	"github.com/lunatic-solutions/lunatic/signal"
)

// errNodeNotFound is returned (logged, never surfaced through the public
// API) when the node directory has no address for a target NodeId (spec
// §4.6 / §4.7 result code node_not_found).
var errNodeNotFound = errors.New("distributed: node not found in directory")

// ModuleSource resolves a cluster-wide module id to its bytes, so an
// inbound remote Spawn request can be compiled locally (spec §4.7
// "add_module/get_module", folded into distributed per SPEC_FULL.md).
type ModuleSource interface {
	GetModule(ctx context.Context, moduleID uint64) (RawWasm, error)
}

// Options configures a Client.
type Options struct {
	MTU            int // chunk size, spec §4.6 "configured MTU"
	Streams        int // parallel streams per node worker, spec §4.6 "default 10"
	OutboxCapacity int
	Logger         *obslog.Logger
}

// Client implements the distributed client described in spec §4.6: it
// owns the per-source inboxes, per-node outboxes and workers, and the
// in-flight response correlation table.
type Client struct {
	directory  runtimeglue.NodeDirectory
	transport  Transport
	modules    ModuleSource
	exec       runtimeglue.Executor
	resolveEnv func(id.EnvironmentId) (*environment.Environment, bool)
	log        *obslog.Logger
	congestion *ratelimit.Congestion

	nextMessageID atomic.Uint64

	in          *inboxes
	hasMessages *notify
	correlation *correlationTable

	mu         sync.Mutex
	outboxes   map[id.NodeId]*outbox
	reassembly map[id.NodeId]map[id.MessageId]*wire.Reassembler

	streams        int
	outboxCapacity int
}

// NewClient builds a Client. resolveEnv looks up a local Environment by id
// so inbound remote messages and spawns can be delivered/executed locally.
func NewClient(
	directory runtimeglue.NodeDirectory,
	transport Transport,
	modules ModuleSource,
	exec runtimeglue.Executor,
	resolveEnv func(id.EnvironmentId) (*environment.Environment, bool),
	opts Options,
) *Client {
	if opts.Logger == nil {
		opts.Logger = obslog.Disabled
	}
	streams := opts.Streams
	if streams <= 0 {
		streams = defaultStreams
	}
	c := &Client{
		directory:      directory,
		transport:      transport,
		modules:        modules,
		exec:           exec,
		resolveEnv:     resolveEnv,
		log:            opts.Logger,
		congestion:     ratelimit.NewCongestion(nil),
		in:             newInboxes(opts.MTU),
		hasMessages:    newNotify(),
		correlation:    newCorrelationTable(),
		outboxes:       make(map[id.NodeId]*outbox),
		reassembly:     make(map[id.NodeId]map[id.MessageId]*wire.Reassembler),
		streams:        streams,
		outboxCapacity: opts.OutboxCapacity,
	}
	return c
}

// Run starts the congestion worker and the correlation-table sweeper,
// blocking until ctx is done.
func (c *Client) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		runCongestionWorker(ctx, c.in, c.hasMessages, c.resolveOutbox)
	}()
	go func() {
		defer wg.Done()
		c.correlation.RunSweeper(ctx)
	}()
	wg.Wait()
}

func (c *Client) nextMessageIDFor() id.MessageId {
	return id.MessageId(c.nextMessageID.Add(1))
}

// resolveOutbox implements "if the target NodeId has no outbox yet: the
// client refreshes the node directory..., spawns the per-node worker, and
// inserts the outbox" (spec §4.6).
func (c *Client) resolveOutbox(rc RoutedChunk) *outbox {
	c.mu.Lock()
	if ob, ok := c.outboxes[rc.Node]; ok {
		c.mu.Unlock()
		return ob
	}
	c.mu.Unlock()

	addr, ok := c.directory.Lookup(context.Background(), rc.Node)
	if !ok {
		c.log.RemoteDialFailure(uint64(rc.Node), errNodeNotFound)
		return nil
	}

	c.mu.Lock()
	if ob, ok := c.outboxes[rc.Node]; ok {
		c.mu.Unlock()
		return ob
	}
	ob := newOutbox(c.outboxCapacity, c.hasMessages)
	c.outboxes[rc.Node] = ob
	c.mu.Unlock()

	w := newNodeWorker(rc.Node, addr, c.transport, ob, func(chunk wire.Chunk) {
		c.onChunk(rc.Node, chunk)
	}, c.log, c.congestion)
	w.streams = c.streams
	go func() { _ = w.Run(context.Background(), c.hasMessages) }()

	return ob
}

// HandleInboundChunk decodes one wire frame read off an inbound transport
// stream from node and routes it into chunk reassembly (spec §4.6). A
// Transport's server side calls this for every frame it reads; which node
// the frame came from is a transport-level concern (e.g. GRPCTransport
// identifies the caller via outgoing/incoming metadata).
func (c *Client) HandleInboundChunk(node id.NodeId, frame []byte) error {
	chunk, err := wire.Decode(frame)
	if err != nil {
		return err
	}
	c.onChunk(node, chunk)
	return nil
}

// onChunk reassembles inbound chunks and dispatches completed logical
// payloads (spec §4.6 "the remote node reassembles in chunk_index order").
func (c *Client) onChunk(node id.NodeId, chunk wire.Chunk) {
	c.mu.Lock()
	byMsg, ok := c.reassembly[node]
	if !ok {
		byMsg = make(map[id.MessageId]*wire.Reassembler)
		c.reassembly[node] = byMsg
	}
	r, ok := byMsg[chunk.MessageID]
	if !ok {
		r = wire.NewReassembler(chunk.TotalChunks)
		byMsg[chunk.MessageID] = r
	}
	c.mu.Unlock()

	payload, done := r.Add(chunk)
	if !done {
		return
	}

	c.mu.Lock()
	delete(byMsg, chunk.MessageID)
	c.mu.Unlock()

	content, err := Decode(payload)
	if err != nil {
		return
	}
	c.dispatch(node, chunk.MessageID, chunk.Env, chunk.Src, chunk.Dest, content)
}

func (c *Client) dispatch(node id.NodeId, msgID id.MessageId, env id.EnvironmentId, src, dest id.ProcessId, content Content) {
	switch content.Kind {
	case ContentMessage:
		c.deliverMessage(env, dest, content.Message)
	case ContentSpawn:
		c.handleRemoteSpawn(node, msgID, env, src, content.Spawn)
	case ContentResponse:
		c.correlation.Complete(msgID, content.Response)
	}
}

func (c *Client) deliverMessage(envID id.EnvironmentId, dest id.ProcessId, mc MessageContent) {
	e, ok := c.resolveEnv(envID)
	if !ok {
		return
	}
	peer, ok := e.Lookup(dest)
	if !ok {
		return
	}
	m := message.NewData(mc.Tag, len(mc.Payload))
	_, _ = m.Write(mc.Payload)
	peer.Send(signal.NewMessage(m))
}

func (c *Client) handleRemoteSpawn(node id.NodeId, msgID id.MessageId, envID id.EnvironmentId, src id.ProcessId, sc SpawnContent) {
	reply := func(code int32, pid id.ProcessId) {
		payload := make([]byte, 8)
		putPID(payload, pid)
		c.Reply(node, msgID, envID, src, ResponseContent{Code: code, Payload: payload})
	}

	e, ok := c.resolveEnv(envID)
	if !ok {
		reply(ResultNodeNotFound, 0)
		return
	}

	raw, err := c.modules.GetModule(context.Background(), sc.ModuleID)
	if err != nil {
		reply(ResultModuleNotFound, 0)
		return
	}

	mod, err := c.exec.Compile(context.Background(), raw.Bytes)
	if err != nil {
		reply(ResultModuleNotFound, 0)
		return
	}

	child, _, err := process.SpawnCompiled(context.Background(), e, c.exec, mod, runtimeglue.ProcessConfig{CanSpawnProcesses: true}, sc.Entry, nil, nil)
	if err != nil {
		reply(ResultConnection, 0)
		return
	}
	reply(ResultSpawned, child.ID())
}

// Reply sends a ResponseContent back to (node, messageID)'s origin (spec
// §4.6 "A background reader routes inbound Response... to the matching
// cell").
func (c *Client) Reply(node id.NodeId, msgID id.MessageId, env id.EnvironmentId, dest id.ProcessId, resp ResponseContent) {
	c.in.Enqueue(MessageCtx{
		MessageID: msgID,
		Env:       env,
		Src:       dest, // replies carry the requester's pid as Src as well as Dest
		Node:      node,
		Dest:      dest,
		Payload:   EncodeResponse(resp),
	})
	c.hasMessages.Signal()
}

// Send delivers a Data/LinkDied-carrying payload to dest on node (spec
// §4.6). It does not wait for acknowledgement that dest received it, only
// that node resolves in the directory; best-effort, like a local send
// (spec §6 "send(node, process)": 0 = sent, 1 = NodeNotFound).
func (c *Client) Send(env id.EnvironmentId, src id.ProcessId, node id.NodeId, dest id.ProcessId, tag message.Tag, payload []byte) int32 {
	if _, ok := c.directory.Lookup(context.Background(), node); !ok {
		return ResultNodeNotFound
	}
	c.in.Enqueue(MessageCtx{
		MessageID: c.nextMessageIDFor(),
		Env:       env,
		Src:       src,
		Node:      node,
		Dest:      dest,
		Payload:   EncodeMessage(MessageContent{Tag: tag, Payload: payload}),
	})
	c.hasMessages.Signal()
	return ResultSent
}

// Spawn requests a remote spawn and awaits its result (spec §4.6 "Remote
// spawn result codes"). It returns the new process id on ResultSpawned.
func (c *Client) Spawn(ctx context.Context, env id.EnvironmentId, src id.ProcessId, node id.NodeId, sc SpawnContent) (id.ProcessId, int32, error) {
	msgID := c.nextMessageIDFor()
	c.correlation.Register(msgID)

	c.in.Enqueue(MessageCtx{
		MessageID: msgID,
		Env:       env,
		Src:       src,
		Node:      node,
		Dest:      0,
		Payload:   EncodeSpawn(sc),
	})
	c.hasMessages.Signal()

	resp, err := c.correlation.Await(ctx, msgID)
	if err != nil {
		if err == ErrResponseTimeout {
			return 0, ResultConnection, nil
		}
		return 0, 0, err
	}
	if resp.Code != ResultSpawned {
		return 0, resp.Code, nil
	}
	return getPID(resp.Payload), ResultSpawned, nil
}

func putPID(dst []byte, pid id.ProcessId) {
	v := uint64(pid)
	for i := 0; i < 8; i++ {
		dst[i] = byte(v >> (8 * i))
	}
}

func getPID(src []byte) id.ProcessId {
	if len(src) < 8 {
		return 0
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(src[i]) << (8 * i)
	}
	return id.ProcessId(v)
}
