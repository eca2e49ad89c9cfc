// Package runtimeglue defines the narrow external-collaborator interfaces
// the process core depends on (spec §1 "Deliberately OUT of scope... each
// is a resource-table owner" and §6), plus the ProcessConfig contract and a
// content-addressed compile cache (spec §2 component I).
package runtimeglue

import (
	"context"
	"crypto/sha256"
	"sync"

	"github.com/lunatic-solutions/lunatic/id"
)

// CompiledModule is an opaque handle to a compiled WebAssembly module,
// produced and consumed only by the Executor collaborator.
type CompiledModule interface{}

// GuestMemory is a bounds-checked view of a guest instance's linear memory,
// backing the OOB traps host calls must raise (spec §4.5).
type GuestMemory interface {
	ReadAt(dst []byte, offset int64) (int, error)
	WriteAt(src []byte, offset int64) (int, error)
	Len() int64
}

// ValueKind discriminates the value types the spawn-argument record encoding
// (spec §4.5) supports.
type ValueKind uint8

const (
	ValueI32 ValueKind = iota
	ValueI64
	ValueV128
)

// Value is one decoded spawn argument.
type Value struct {
	Kind ValueKind
	I32  int32
	I64  int64
	V128 [16]byte
}

// ExecResult is what a GuestInstance's Run reports when the guest's entry
// function returns, traps, or exhausts its fuel (spec §4.3 "On F
// completion").
type ExecResult struct {
	ExitCode      int32
	Err           error
	Trap          bool
	RemainingFuel uint64
}

// ProcessConfig is the capability/resource contract a spawned process runs
// under (spec §3 "ProcessConfig").
type ProcessConfig struct {
	MaxMemoryBytes    uint64
	MaxFuel           *uint64 // nil means unlimited
	CanCompileModules bool
	CanCreateConfigs  bool
	CanSpawnProcesses bool
	PreopenedDirs     []string
	Args              []string
	Envs              map[string]string
}

// Executor compiles and instantiates guest WebAssembly modules. It is the
// out-of-scope "WebAssembly execution engine" collaborator (spec §1); the
// process driver loop only ever calls through this interface.
type Executor interface {
	Compile(ctx context.Context, wasm []byte) (CompiledModule, error)
	Instantiate(ctx context.Context, mod CompiledModule, cfg ProcessConfig) (GuestInstance, error)
}

// GuestInstance is one running (or about to run) guest process. Run starts
// guest execution from entry and returns a channel that yields exactly one
// ExecResult when the guest suspends for the final time (spec §4.3 "a
// future F that represents its guest execution").
type GuestInstance interface {
	Run(ctx context.Context, entry string, params []Value) <-chan ExecResult
	Memory() GuestMemory
}

// NodeAddr is the dialable address of a cluster node.
type NodeAddr struct {
	Host string
	Port uint16
}

// NodeDirectory resolves node ids to addresses, consumed by the distributed
// and control clients (spec §1 "the core only consumes a NodeDirectory
// capability").
type NodeDirectory interface {
	Lookup(ctx context.Context, node id.NodeId) (NodeAddr, bool)
}

// CompileCache is a content-addressed cache of compiled modules, so that
// registering the same wasm bytes twice (locally, or once per node in the
// distributed client's module distribution, §4.6/§4.7) compiles once.
type CompileCache struct {
	exec Executor

	mu    sync.Mutex
	calls map[[32]byte]*compileCall
}

type compileCall struct {
	done chan struct{}
	mod  CompiledModule
	err  error
}

// NewCompileCache wraps exec with a content-addressed memoization layer.
func NewCompileCache(exec Executor) *CompileCache {
	return &CompileCache{exec: exec, calls: make(map[[32]byte]*compileCall)}
}

// Compile returns the CompiledModule for wasm, compiling it at most once
// per distinct byte content for the lifetime of the cache.
func (c *CompileCache) Compile(ctx context.Context, wasm []byte) (CompiledModule, error) {
	key := sha256.Sum256(wasm)

	c.mu.Lock()
	call, inflight := c.calls[key]
	if !inflight {
		call = &compileCall{done: make(chan struct{})}
		c.calls[key] = call
	}
	c.mu.Unlock()

	if inflight {
		select {
		case <-call.done:
			return call.mod, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	call.mod, call.err = c.exec.Compile(ctx, wasm)
	close(call.done)
	return call.mod, call.err
}

// Instantiate delegates directly; only compilation is memoized, since every
// guest spawn needs a fresh instance.
func (c *CompileCache) Instantiate(ctx context.Context, mod CompiledModule, cfg ProcessConfig) (GuestInstance, error) {
	return c.exec.Instantiate(ctx, mod, cfg)
}
