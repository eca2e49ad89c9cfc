// Package runtimegluetest is a deterministic, in-memory fake of
// runtimeglue's Executor/GuestInstance pair, so the process driver loop can
// be exercised end-to-end without a real WebAssembly engine: guest
// "programs" are plain Go closures registered by name, and "compiling" one
// just resolves its name.
package runtimegluetest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/lunatic-solutions/lunatic/runtimeglue"
)

// GuestFunc is a registered guest program: given its own memory and the
// decoded spawn params, it runs to completion (or traps) synchronously.
type GuestFunc func(ctx context.Context, inst *Instance, params []runtimeglue.Value) runtimeglue.ExecResult

var (
	mu       sync.Mutex
	programs = map[string]GuestFunc{}
)

// Register associates name with a guest program. Compile resolves "wasm
// bytes" of exactly that name to it.
func Register(name string, fn GuestFunc) {
	mu.Lock()
	defer mu.Unlock()
	programs[name] = fn
}

type module struct{ name string }

// Executor is the fake runtimeglue.Executor.
type Executor struct{}

func (Executor) Compile(ctx context.Context, wasm []byte) (runtimeglue.CompiledModule, error) {
	name := string(wasm)
	mu.Lock()
	_, ok := programs[name]
	mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("runtimegluetest: no program registered as %q", name)
	}
	return &module{name: name}, nil
}

func (Executor) Instantiate(ctx context.Context, mod runtimeglue.CompiledModule, cfg runtimeglue.ProcessConfig) (runtimeglue.GuestInstance, error) {
	m, ok := mod.(*module)
	if !ok {
		return nil, errors.New("runtimegluetest: not a module compiled by this executor")
	}
	return &Instance{name: m.name, cfg: cfg, mem: newMemory(cfg.MaxMemoryBytes)}, nil
}

// Instance is the fake runtimeglue.GuestInstance: Run invokes the
// registered closure in its own goroutine and reports its return value.
type Instance struct {
	name string
	cfg  runtimeglue.ProcessConfig
	mem  *Memory
}

// Memory returns the instance's fake linear memory.
func (i *Instance) Memory() runtimeglue.GuestMemory { return i.mem }

// Run starts the registered guest program and returns its eventual result.
func (i *Instance) Run(ctx context.Context, entry string, params []runtimeglue.Value) <-chan runtimeglue.ExecResult {
	mu.Lock()
	fn := programs[i.name]
	mu.Unlock()

	out := make(chan runtimeglue.ExecResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				out <- runtimeglue.ExecResult{Trap: true, Err: fmt.Errorf("runtimegluetest: panic: %v", r)}
			}
		}()
		out <- fn(ctx, i, params)
	}()
	return out
}

// Memory is a bounds-checked byte-slice GuestMemory (spec §4.5 OOB traps).
type Memory struct {
	mu  sync.Mutex
	buf []byte
}

func newMemory(size uint64) *Memory {
	if size == 0 {
		size = 1 << 20
	}
	return &Memory{buf: make([]byte, size)}
}

// NewStandaloneMemory constructs a Memory outside of an Instance, for tests
// that exercise a Caller without spawning a full guest process.
func NewStandaloneMemory(size uint64) *Memory {
	return newMemory(size)
}

// Len reports the memory size in bytes.
func (m *Memory) Len() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.buf))
}

// ReadAt copies into dst from offset, erroring on any out-of-bounds access.
func (m *Memory) ReadAt(dst []byte, offset int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if offset < 0 || offset > int64(len(m.buf)) {
		return 0, fmt.Errorf("runtimegluetest: read offset %d out of bounds", offset)
	}
	n := copy(dst, m.buf[offset:])
	if n < len(dst) {
		return n, fmt.Errorf("runtimegluetest: short read at offset %d", offset)
	}
	return n, nil
}

// WriteAt copies src into the memory at offset, erroring on overflow.
func (m *Memory) WriteAt(src []byte, offset int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if offset < 0 || offset+int64(len(src)) > int64(len(m.buf)) {
		return 0, fmt.Errorf("runtimegluetest: write out of bounds at offset %d", offset)
	}
	return copy(m.buf[offset:], src), nil
}
