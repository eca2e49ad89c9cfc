// Package environment implements the Environment described in spec §4.4: a
// monotonic ProcessId allocator, a process directory, and a semver-keyed
// name/version registry. The directory favors lock-free reads (sync.Map)
// over the teacher's weak-pointer ring-scavenged registry.registry, since
// unlike eventloop's GC'd promises a process is removed exactly once, by an
// explicit teardown call (spec §3 invariant), never implicitly by garbage
// collection — there is nothing to scavenge.
package environment

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/blang/semver/v4"

	"github.com/lunatic-solutions/lunatic/id"
	"github.com/lunatic-solutions/lunatic/signal"
)

// ErrNotFound is returned when a lookup (directory or registry) fails.
type ErrNotFound struct{ What string }

func (e *ErrNotFound) Error() string { return "environment: " + e.What + " not found" }

// ErrInvalidVersion is returned when a name/version registry operation is
// given a version string that doesn't parse as semver (spec §4.4 "versions
// must parse as semver; otherwise the call fails").
type ErrInvalidVersion struct {
	Version string
	Cause   error
}

func (e *ErrInvalidVersion) Error() string {
	return fmt.Sprintf("environment: invalid semver %q: %v", e.Version, e.Cause)
}

func (e *ErrInvalidVersion) Unwrap() error { return e.Cause }

// Environment owns one Lunatic environment's process-id space, process
// directory, and name/version registry (spec §3 "Environment").
type Environment struct {
	id        id.EnvironmentId
	nextPID   atomic.Uint64
	directory sync.Map // id.ProcessId -> signal.Handle

	regMu    sync.RWMutex
	registry map[string][]registryEntry // name -> versions, kept sorted ascending
}

type registryEntry struct {
	version semver.Version
	handle  signal.Handle
}

// New constructs an empty Environment identified by envID.
func New(envID id.EnvironmentId) *Environment {
	return &Environment{
		id:       envID,
		registry: make(map[string][]registryEntry),
	}
}

// ID returns the environment's identity.
func (e *Environment) ID() id.EnvironmentId { return e.id }

// NextProcessID allocates the next ProcessId. ProcessIds are never reused
// within an Environment's lifetime (spec §3 invariant), which atomic
// increment guarantees regardless of how many spawns race.
func (e *Environment) NextProcessID() id.ProcessId {
	return id.ProcessId(e.nextPID.Add(1))
}

// Insert adds a process to the directory, making it live (spec §3
// "Process... becomes live on directory insert").
func (e *Environment) Insert(pid id.ProcessId, h signal.Handle) {
	e.directory.Store(pid, h)
}

// Remove drops a process from the directory (spec §4.3 teardown step a).
// Removal is idempotent: removing an already-absent id is a silent no-op,
// matching "removed exactly once" being the caller's responsibility, not a
// contract this method enforces by erroring.
func (e *Environment) Remove(pid id.ProcessId) {
	e.directory.Delete(pid)
}

// Lookup returns the handle for pid, if the process is currently live.
func (e *Environment) Lookup(pid id.ProcessId) (signal.Handle, bool) {
	v, ok := e.directory.Load(pid)
	if !ok {
		return nil, false
	}
	return v.(signal.Handle), true
}

// Exists reports whether pid is currently live, for the `exists` host call
// (spec §4.5).
func (e *Environment) Exists(pid id.ProcessId) bool {
	_, ok := e.Lookup(pid)
	return ok
}

// RegisterInsert implements the registry's insert(name, version): replaces
// an exact-version entry or appends, keeping the per-name slice sorted by
// version (spec §4.4).
func (e *Environment) RegisterInsert(name, version string, h signal.Handle) error {
	v, err := semver.Parse(version)
	if err != nil {
		return &ErrInvalidVersion{Version: version, Cause: err}
	}

	e.regMu.Lock()
	defer e.regMu.Unlock()

	entries := e.registry[name]
	for i := range entries {
		if entries[i].version.EQ(v) {
			entries[i].handle = h
			return nil
		}
	}
	entries = append(entries, registryEntry{version: v, handle: h})
	sort.Slice(entries, func(i, j int) bool { return entries[i].version.LT(entries[j].version) })
	e.registry[name] = entries
	return nil
}

// RegisterGet implements the registry's get(name, version_req): applies a
// semver range and returns the latest matching entry (spec §4.4).
func (e *Environment) RegisterGet(name, versionReq string) (signal.Handle, error) {
	rng, err := semver.ParseRange(versionReq)
	if err != nil {
		return nil, &ErrInvalidVersion{Version: versionReq, Cause: err}
	}

	e.regMu.RLock()
	defer e.regMu.RUnlock()

	entries := e.registry[name]
	for i := len(entries) - 1; i >= 0; i-- {
		if rng(entries[i].version) {
			return entries[i].handle, nil
		}
	}
	return nil, &ErrNotFound{What: fmt.Sprintf("registry entry %s@%s", name, versionReq)}
}

// RegisterRemove implements the registry's remove(name, version): removal
// by exact version (spec §4.4).
func (e *Environment) RegisterRemove(name, version string) error {
	v, err := semver.Parse(version)
	if err != nil {
		return &ErrInvalidVersion{Version: version, Cause: err}
	}

	e.regMu.Lock()
	defer e.regMu.Unlock()

	entries := e.registry[name]
	for i := range entries {
		if entries[i].version.EQ(v) {
			e.registry[name] = append(entries[:i], entries[i+1:]...)
			return nil
		}
	}
	return &ErrNotFound{What: fmt.Sprintf("registry entry %s@%s", name, version)}
}
