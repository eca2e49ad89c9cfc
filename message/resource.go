package message

import (
	"fmt"
	"sync"

	"github.com/lunatic-solutions/lunatic/id"
)

// ProcessHandle is the narrow capability a Data message needs in order to
// carry a process resource. Any type with a stable ProcessID satisfies it;
// signal.Handle (a cheaply-cloned handle capable of actually delivering a
// Signal) embeds it, and the concrete implementation lives in package
// process, satisfying it implicitly per Go's structural typing. Keeping the dependency
// this way avoids message importing signal (which imports message for its
// Message-carrying Signal variant).
type ProcessHandle interface {
	ProcessID() id.ProcessId
}

// ResourceKind identifies which per-process table a Resource belongs to.
type ResourceKind uint8

const (
	ResourceKindEmpty ResourceKind = iota
	ResourceKindProcess
	ResourceKindModule
	ResourceKindTCPStream
	ResourceKindTLSStream
	ResourceKindUDPSocket
)

func (k ResourceKind) String() string {
	switch k {
	case ResourceKindProcess:
		return "process"
	case ResourceKindModule:
		return "module"
	case ResourceKindTCPStream:
		return "tcp_stream"
	case ResourceKindTLSStream:
		return "tls_stream"
	case ResourceKindUDPSocket:
		return "udp_socket"
	default:
		return "empty"
	}
}

// CrossesNodeBoundary reports whether a resource of this kind must not be
// carried by a message sent to a remote node (spec §4.2, §9 open question
// 2): TCP/TLS/UDP handles and compiled modules are node-local; only Process
// handles may travel (and even those only by re-resolution at the remote
// end, via distributed.Spawn/Send, not by value).
func (k ResourceKind) CrossesNodeBoundary() bool {
	switch k {
	case ResourceKindTCPStream, ResourceKindTLSStream, ResourceKindUDPSocket, ResourceKindModule:
		return false
	default:
		return true
	}
}

// emptySentinel marks a slot whose resource has been taken, so that the
// remaining indices of a ResourceVector stay stable (spec §3 invariant).
type emptySentinel struct{}

// Resource is a tagged union of the handle kinds a Data message can carry.
// The zero value is the empty sentinel that occupies a taken-from slot.
type Resource struct {
	kind  ResourceKind
	value any
}

// Kind reports the resource's kind. ResourceKindEmpty means the slot has
// already been taken from.
func (r Resource) Kind() ResourceKind { return r.kind }

// Value returns the underlying handle. Callers must type-assert against the
// kind returned by Kind.
func (r Resource) Value() any { return r.value }

// NewResource wraps a concrete handle value as a Resource of the given kind.
func NewResource(kind ResourceKind, value any) Resource {
	if kind == ResourceKindEmpty {
		panic("message: cannot construct a resource of kind Empty")
	}
	return Resource{kind: kind, value: value}
}

func emptyResource() Resource { return Resource{kind: ResourceKindEmpty, value: emptySentinel{}} }

// ResourceTable is a per-process, per-kind table of owned resource handles,
// keyed by a locally-unique uint64 id. Moving a resource between tables (via
// Take/Put, mediated by a message's push/take) is the only way ownership
// changes hands (spec §3, §9 "typed tables keyed by u64").
type ResourceTable[T any] struct {
	mu     sync.Mutex
	nextID uint64
	data   map[uint64]T
}

// NewResourceTable constructs an empty table.
func NewResourceTable[T any]() *ResourceTable[T] {
	return &ResourceTable[T]{data: make(map[uint64]T)}
}

// Put inserts a handle, returning its new process-local id.
func (t *ResourceTable[T]) Put(v T) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	t.data[id] = v
	return id
}

// Take removes and returns the handle at id, if present.
func (t *ResourceTable[T]) Take(id uint64) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.data[id]
	if ok {
		delete(t.data, id)
	}
	return v, ok
}

// Get returns the handle at id without removing it.
func (t *ResourceTable[T]) Get(id uint64) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.data[id]
	return v, ok
}

// Len reports the number of live handles.
func (t *ResourceTable[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.data)
}

// ErrResourceMismatch is returned when a take_<R> host call's index refers
// to a slot holding a different resource kind, or an already-empty slot.
type ErrResourceMismatch struct {
	Index    int
	Want     ResourceKind
	Got      ResourceKind
	OutOfRng bool
}

func (e *ErrResourceMismatch) Error() string {
	if e.OutOfRng {
		return fmt.Sprintf("message: resource index %d out of range", e.Index)
	}
	return fmt.Sprintf("message: resource index %d is %s, want %s", e.Index, e.Got, e.Want)
}

// resourceVector is the ordered, append-and-sentinel sequence of resources
// carried by a Data message.
type resourceVector struct {
	items []Resource
}

// push appends a resource, returning its message-local index.
func (v *resourceVector) push(r Resource) int64 {
	v.items = append(v.items, r)
	return int64(len(v.items) - 1)
}

// take removes the resource at index, kind-checked, replacing the slot with
// the empty sentinel so later indices remain stable.
func (v *resourceVector) take(index int64, kind ResourceKind) (Resource, error) {
	if index < 0 || int(index) >= len(v.items) {
		return Resource{}, &ErrResourceMismatch{Index: int(index), OutOfRng: true}
	}
	r := v.items[index]
	if r.kind != kind {
		return Resource{}, &ErrResourceMismatch{Index: int(index), Want: kind, Got: r.kind}
	}
	v.items[index] = emptyResource()
	return r, nil
}

func (v *resourceVector) len() int { return len(v.items) }

// cloneSlots returns a copy of the current resources, in order, for
// inspection (e.g. enforcing the remote cross-node ban at send time without
// mutating the source message).
func (v *resourceVector) cloneSlots() []Resource {
	out := make([]Resource, len(v.items))
	copy(out, v.items)
	return out
}
