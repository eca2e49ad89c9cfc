package control

import (
	"context"
	"testing"

	"github.com/lunatic-solutions/lunatic/id"
	"github.com/lunatic-solutions/lunatic/runtimeglue"
)

func TestNodeDirectory(t *testing.T) {
	c := NewClient(nil)
	c.RegisterNode(1, NodeInfo{Addr: runtimeglue.NodeAddr{Host: "10.0.0.1", Port: 9000}, Tags: map[string][]string{"name": {"a"}}})
	c.RegisterNode(2, NodeInfo{Addr: runtimeglue.NodeAddr{Host: "10.0.0.2", Port: 9000}, Tags: map[string][]string{"name": {"b"}}})

	if c.NodeCount() != 2 {
		t.Fatalf("NodeCount = %d, want 2", c.NodeCount())
	}
	ids := c.NodeIDs()
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("NodeIDs = %v, want [1 2]", ids)
	}

	info, err := c.NodeInfo(1)
	if err != nil {
		t.Fatalf("NodeInfo: %v", err)
	}
	if info.Addr.Host != "10.0.0.1" {
		t.Fatalf("Addr.Host = %q, want 10.0.0.1", info.Addr.Host)
	}

	if _, err := c.NodeInfo(99); err == nil {
		t.Fatalf("NodeInfo(99) should error")
	}

	addr, ok := c.Lookup(context.Background(), 2)
	if !ok || addr.Host != "10.0.0.2" {
		t.Fatalf("Lookup(2) = %+v, %v", addr, ok)
	}
	if _, ok := c.Lookup(context.Background(), id.NodeId(42)); ok {
		t.Fatalf("Lookup(42) should miss")
	}
}

func TestLookupNodesAndQueryResult(t *testing.T) {
	c := NewClient(nil)
	c.RegisterNode(1, NodeInfo{Tags: map[string][]string{"group": {"workers"}}})
	c.RegisterNode(2, NodeInfo{Tags: map[string][]string{"group": {"workers"}}})
	c.RegisterNode(3, NodeInfo{Tags: map[string][]string{"group": {"control"}}})

	queryID, count, err := c.LookupNodes("127.0.0.1", "group=workers")
	if err != nil {
		t.Fatalf("LookupNodes: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}

	ids, ok := c.QueryResult(queryID)
	if !ok {
		t.Fatalf("QueryResult(%d) should be found", queryID)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("QueryResult = %v, want [1 2]", ids)
	}

	if _, ok := c.QueryResult(queryID + 1000); ok {
		t.Fatalf("QueryResult of an unknown id should miss")
	}
}

func TestLookupNodesInvalidQuery(t *testing.T) {
	c := NewClient(nil)
	if _, _, err := c.LookupNodes("127.0.0.1", "broken=="); err == nil {
		t.Fatalf("LookupNodes with a malformed query should error")
	}
}

func TestAddAndGetModule(t *testing.T) {
	c := NewClient(nil)
	raw := c.AddModule([]byte("wasm-bytes"))
	if raw.ID == 0 {
		t.Fatalf("AddModule should assign a non-zero id")
	}

	got, err := c.GetModule(context.Background(), raw.ID)
	if err != nil {
		t.Fatalf("GetModule: %v", err)
	}
	if string(got.Bytes) != "wasm-bytes" {
		t.Fatalf("Bytes = %q, want %q", got.Bytes, "wasm-bytes")
	}

	if _, err := c.GetModule(context.Background(), raw.ID+1); err == nil {
		t.Fatalf("GetModule of an unregistered id should error")
	}
}
