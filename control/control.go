// Package control implements the node directory and module-distribution
// registry described in spec §4.7: node_count/node_ids/node_info,
// lookup_nodes/query_result, and add_module/get_module. Registration and
// authentication are control-plane concerns out of scope for this core
// (spec §1 Non-goal); Client only ever consumes registrations handed to it
// by RegisterNode.
package control

import (
	"context"
	"crypto/sha256"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/lunatic-solutions/lunatic/distributed"
	"github.com/lunatic-solutions/lunatic/id"
	"github.com/lunatic-solutions/lunatic/internal/ratelimit"
	"github.com/lunatic-solutions/lunatic/query"
	"github.com/lunatic-solutions/lunatic/runtimeglue"
)

// ErrThrottled is returned by LookupNodes when sourceIP has exceeded its
// lookup rate (spec §4.7 lookup throttling).
var ErrThrottled = errors.New("control: lookup throttled")

// NodeInfo is one cluster member's directory entry (spec §4.7 "node_info(id)
// → {address, public key, tags}"). Tags is a multimap per SPEC_FULL.md's
// "attributes multimap" reading of the spec prose.
type NodeInfo struct {
	Addr      runtimeglue.NodeAddr
	PublicKey []byte
	Tags      map[string][]string
}

// ErrNodeNotFound is returned by NodeInfo lookups that miss.
type ErrNodeNotFound struct{ Node id.NodeId }

func (e *ErrNodeNotFound) Error() string { return "control: node not registered" }

// ErrModuleNotFound is returned by GetModule when no module is registered
// under the given id.
type ErrModuleNotFound struct{ ModuleID uint64 }

func (e *ErrModuleNotFound) Error() string { return "control: module not registered" }

// Client is the in-memory node directory and module registry a process
// core consults for §4.7's host calls. It implements
// runtimeglue.NodeDirectory and distributed.ModuleSource so both the
// distributed client and the process core's host calls can share one
// instance.
type Client struct {
	lookupThrottle *ratelimit.LookupThrottle

	mu    sync.RWMutex
	nodes map[id.NodeId]NodeInfo

	nextQueryID atomic.Uint64
	queryMu     sync.Mutex
	queries     map[uint64][]id.NodeId

	modMu     sync.Mutex
	modules   map[uint64][]byte
	nextModID atomic.Uint64
}

// NewClient builds an empty Client. lookupThrottleRates configures the
// per-source-ip lookup_nodes throttle (spec §4.7); nil/empty means
// unrestricted.
func NewClient(lookupThrottleRates map[time.Duration]int) *Client {
	return &Client{
		lookupThrottle: ratelimit.NewLookupThrottle(lookupThrottleRates),
		nodes:          make(map[id.NodeId]NodeInfo),
		queries:        make(map[uint64][]id.NodeId),
		modules:        make(map[uint64][]byte),
	}
}

// RegisterNode inserts or replaces a node's directory entry. Node
// registration/heartbeat protocol itself is control-plane and out of
// scope (spec §1 Non-goal); this is the seam a control-plane component
// would call into.
func (c *Client) RegisterNode(node id.NodeId, info NodeInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes[node] = info
}

// NodeCount reports the number of registered nodes (spec §4.7
// "node_count()").
func (c *Client) NodeCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.nodes)
}

// NodeIDs returns every registered node id in deterministic ascending order
// (spec §4.7 "node_ids() → ordered list").
func (c *Client) NodeIDs() []id.NodeId {
	c.mu.RLock()
	ids := maps.Keys(c.nodes)
	c.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// NodeInfo fetches one node's directory entry (spec §4.7 "node_info(id)").
func (c *Client) NodeInfo(node id.NodeId) (NodeInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.nodes[node]
	if !ok {
		return NodeInfo{}, &ErrNodeNotFound{Node: node}
	}
	return info, nil
}

// Lookup implements runtimeglue.NodeDirectory, so the distributed client
// can resolve a NodeId to a dialable address through the same registry.
func (c *Client) Lookup(ctx context.Context, node id.NodeId) (runtimeglue.NodeAddr, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.nodes[node]
	return info.Addr, ok
}

// LookupNodes evaluates q against every registered node's tags, stashes
// the ordered result set under a fresh query id, and returns
// (queryID, resultCount) (spec §4.7 "lookup_nodes(query) → (query_id,
// result_count)"). sourceIP throttles per spec §4.7's lookup throttling.
func (c *Client) LookupNodes(sourceIP, q string) (queryID uint64, resultCount int, err error) {
	if _, ok := c.lookupThrottle.Allow(sourceIP); !ok {
		return 0, 0, ErrThrottled
	}

	filter, err := query.Parse(q)
	if err != nil {
		return 0, 0, err
	}

	c.mu.RLock()
	var matched []id.NodeId
	for node, info := range c.nodes {
		if filter.Match(info.Tags) {
			matched = append(matched, node)
		}
	}
	c.mu.RUnlock()
	slices.Sort(matched)

	id64 := c.nextQueryID.Add(1)
	c.queryMu.Lock()
	c.queries[id64] = matched
	c.queryMu.Unlock()

	return id64, len(matched), nil
}

// QueryResult returns the ordered node ids a prior LookupNodes call
// produced (spec §4.7 "query_result(query_id) → (query_id, ordered list of
// NodeId)").
func (c *Client) QueryResult(queryID uint64) ([]id.NodeId, bool) {
	c.queryMu.Lock()
	defer c.queryMu.Unlock()
	ids, ok := c.queries[queryID]
	return ids, ok
}

// AddModule registers wasm bytes cluster-wide under a content-derived id
// visible to every node (spec §4.7 "add_module(bytes) → RawWasm{id,
// bytes}").
func (c *Client) AddModule(wasm []byte) distributed.RawWasm {
	sum := sha256.Sum256(wasm)
	modID := binaryToUint64(sum[:8])

	c.modMu.Lock()
	c.modules[modID] = append([]byte(nil), wasm...)
	c.modMu.Unlock()

	return distributed.RawWasm{ID: modID, Bytes: wasm}
}

// GetModule fetches a previously registered module by id, implementing
// distributed.ModuleSource (spec §4.7 "get_module(id)").
func (c *Client) GetModule(ctx context.Context, moduleID uint64) (distributed.RawWasm, error) {
	c.modMu.Lock()
	defer c.modMu.Unlock()
	wasm, ok := c.modules[moduleID]
	if !ok {
		return distributed.RawWasm{}, &ErrModuleNotFound{ModuleID: moduleID}
	}
	return distributed.RawWasm{ID: moduleID, Bytes: wasm}, nil
}

func binaryToUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8 && i < len(b); i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
