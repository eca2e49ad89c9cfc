package hostcall

import (
	"context"
	"strconv"

	"github.com/lunatic-solutions/lunatic/distributed"
	"github.com/lunatic-solutions/lunatic/id"
	"github.com/lunatic-solutions/lunatic/message"
)

// distributedClient traps when the node never joined a cluster (spec §6
// "Distributed module" calls are only meaningful with a configured
// distributed.Client).
func (c *Caller) distributedClient() (*distributed.Client, error) {
	if c.Distributed == nil {
		return nil, trap("distributed: node is not part of a cluster")
	}
	return c.Distributed, nil
}

// NodesCount returns the number of nodes in the cluster directory (spec §6
// nodes_count).
func (c *Caller) NodesCount() (int64, error) {
	if c.Nodes == nil {
		return 0, trap("nodes_count: node is not part of a cluster")
	}
	return int64(c.Nodes.NodeCount()), nil
}

// GetNodes writes up to max node ids (little-endian i64) into guest memory
// at ptr, returning the number written (spec §6 get_nodes).
func (c *Caller) GetNodes(ptr int64, max int32) (int64, error) {
	if c.Nodes == nil {
		return 0, trap("get_nodes: node is not part of a cluster")
	}
	if max < 0 {
		return 0, trap("get_nodes: negative max %d", max)
	}
	ids := c.Nodes.NodeIDs()
	n := len(ids)
	if n > int(max) {
		n = int(max)
	}
	buf := make([]byte, n*8)
	for i := 0; i < n; i++ {
		putLE64(buf[i*8:], uint64(ids[i]))
	}
	if len(buf) > 0 {
		if _, err := c.writeGuestBytes(ptr, buf); err != nil {
			return 0, err
		}
	}
	return int64(n), nil
}

// NodeID returns this runtime's own node id (spec §6 node_id).
func (c *Caller) NodeID() int64 { return int64(c.OwnNodeID) }

// ModuleID returns the cluster-wide module id the caller's own process was
// spawned from, 0 if it wasn't (spec §6 module_id).
func (c *Caller) ModuleID() int64 { return int64(c.SourceModuleID) }

// DistributedSpawn mirrors Spawn but starts the process on a remote node,
// awaiting the result (spec §6 "distributed::spawn", codes 0 ok/1 NoNode/2
// NoModule/9027 Connection). Returns −1, doing no work at all, if the
// caller's own config lacks can_spawn_processes (spec §4.5 "spawn requires
// can_spawn_processes", §7 capability denial) — the same gate Spawn applies
// to a local spawn.
func (c *Caller) DistributedSpawn(ctx context.Context, node, configID, moduleID int64, entry string, paramsPtr int64, paramCount int32, link bool, linkTag int64, outIDPtr int64) (int64, error) {
	if !c.Proc.Config().CanSpawnProcesses {
		return -1, nil
	}
	dc, err := c.distributedClient()
	if err != nil {
		return 0, err
	}
	// Params travel as the same raw [type_tag:1|value_le:16] records the
	// guest wrote (spec §4.5); the remote node decodes them after receipt,
	// so there is nothing to interpret locally.
	if paramCount < 0 {
		return 0, trap("distributed spawn: negative param count %d", paramCount)
	}
	rawParams, err := c.readGuestBytes(paramsPtr, int64(paramCount)*spawnArgRecordSize)
	if err != nil {
		return 0, err
	}

	sc := distributed.SpawnContent{
		ModuleID: uint64(moduleID),
		Entry:    entry,
		Params:   rawParams,
		Link:     link,
		LinkTag:  linkTag,
	}
	_ = configID // remote configs are node-local policy, not transmitted (spec §4.6 payload omits it)

	pid, code, err := dc.Spawn(ctx, id.EnvironmentId(c.Env.ID()), c.Proc.ID(), id.NodeId(node), sc)
	if err != nil {
		return 0, trap("distributed spawn: %v", err)
	}
	if code == distributed.ResultSpawned {
		if err := c.writeGuestI64(outIDPtr, int64(pid)); err != nil {
			return 0, err
		}
	}
	return int64(code), nil
}

// DistributedSend transfers scratch to a process on a remote node (spec §6
// "distributed::send"); traps if scratch carries a resource that cannot
// cross a node boundary (spec §4.2).
func (c *Caller) DistributedSend(node, processID int64) (int64, error) {
	dc, err := c.distributedClient()
	if err != nil {
		return 0, err
	}
	if c.scratch == nil {
		return 0, trap("distributed send: scratch is empty")
	}
	if c.scratch.Kind() != message.KindData {
		return 0, trap("distributed send: only a Data message can cross nodes")
	}
	if c.scratch.HasRemoteIneligibleResource() {
		return 0, trap("distributed send: cannot send resources to remote nodes")
	}

	buf := make([]byte, c.scratch.Size())
	c.scratch.Seek(0)
	n, _ := c.scratch.Read(buf)
	code := dc.Send(id.EnvironmentId(c.Env.ID()), c.Proc.ID(), id.NodeId(node), id.ProcessId(processID), c.scratch.Tag(), buf[:n])
	c.scratch = nil
	return int64(code), nil
}

// DistributedSendReceiveSkipSearch sends scratch to a remote process, then
// awaits a same-tagged reply on the local mailbox without rescanning
// already-queued messages (spec §6 "distributed::send_receive_skip_search";
// the reply itself always arrives as an ordinary local delivery once the
// remote peer replies, spec §4.6 dispatch).
func (c *Caller) DistributedSendReceiveSkipSearch(ctx context.Context, node, processID, timeoutMs int64) (int64, error) {
	dc, err := c.distributedClient()
	if err != nil {
		return 0, err
	}
	if c.scratch == nil {
		return 0, trap("distributed send_receive_skip_search: scratch is empty")
	}
	if c.scratch.Kind() != message.KindData {
		return 0, trap("distributed send_receive_skip_search: only a Data message can cross nodes")
	}
	if c.scratch.HasRemoteIneligibleResource() {
		return 0, trap("distributed send_receive_skip_search: cannot send resources to remote nodes")
	}

	tag := c.scratch.Tag()
	buf := make([]byte, c.scratch.Size())
	c.scratch.Seek(0)
	n, _ := c.scratch.Read(buf)
	code := dc.Send(id.EnvironmentId(c.Env.ID()), c.Proc.ID(), id.NodeId(node), id.ProcessId(processID), tag, buf[:n])
	c.scratch = nil
	if code != distributed.ResultSent {
		return int64(code), nil
	}

	waitCtx, cancel := withTimeout(timeoutMs)
	defer cancel()

	msg, err := c.Proc.Mailbox().PopSkipSearch(waitCtx, tagFilter(tag))
	if err != nil {
		return TimeoutSentinel, nil
	}
	c.scratch = msg
	return 0, nil
}

// ExecLookupNodes parses a query string from guest memory and runs it
// against the node directory, writing the resulting query id and match
// count (spec §6 exec_lookup_nodes).
func (c *Caller) ExecLookupNodes(queryPtr, queryLen int64, outQueryIDPtr, outCountPtr int64) (int64, error) {
	if c.Nodes == nil {
		return 0, trap("exec_lookup_nodes: node is not part of a cluster")
	}
	buf, err := c.readGuestBytes(queryPtr, queryLen)
	if err != nil {
		return 0, err
	}
	source := strconv.FormatUint(uint64(c.Proc.ID()), 10)
	queryID, count, err := c.Nodes.LookupNodes(source, string(buf))
	if err != nil {
		return 0, trap("exec_lookup_nodes: %v", err)
	}
	if err := c.writeGuestI64(outQueryIDPtr, int64(queryID)); err != nil {
		return 0, err
	}
	if err := c.writeGuestI64(outCountPtr, int64(count)); err != nil {
		return 0, err
	}
	return 0, nil
}

// CopyLookupNodesResults writes up to max matched node ids from a prior
// ExecLookupNodes call into guest memory, returning the number written
// (spec §6 copy_lookup_nodes_results).
func (c *Caller) CopyLookupNodesResults(queryID int64, ptr int64, max int32) (int64, error) {
	if c.Nodes == nil {
		return 0, trap("copy_lookup_nodes_results: node is not part of a cluster")
	}
	if max < 0 {
		return 0, trap("copy_lookup_nodes_results: negative max %d", max)
	}
	ids, ok := c.Nodes.QueryResult(uint64(queryID))
	if !ok {
		return 0, trap("copy_lookup_nodes_results: unknown query %d", queryID)
	}
	n := len(ids)
	if n > int(max) {
		n = int(max)
	}
	out := make([]byte, n*8)
	for i := 0; i < n; i++ {
		putLE64(out[i*8:], uint64(ids[i]))
	}
	if len(out) > 0 {
		if _, err := c.writeGuestBytes(ptr, out); err != nil {
			return 0, err
		}
	}
	return int64(n), nil
}
