package process

import (
	"context"
	"errors"

	"github.com/lunatic-solutions/lunatic/environment"
	"github.com/lunatic-solutions/lunatic/message"
	"github.com/lunatic-solutions/lunatic/runtimeglue"
	"github.com/lunatic-solutions/lunatic/signal"
)

// ErrCapability is returned when a spawn requests a parent link and the
// child's ProcessConfig lacks can_spawn_processes. Unlinked spawns are not
// checked here; the caller's own capability is checked by the host call.
var ErrCapability = errors.New("process: capability not granted")

// LinkRequest describes the optional parent link a spawn should establish,
// mirroring the original runtime's link-establishment race avoidance (spec
// §4.3 "Link establishment races").
type LinkRequest struct {
	Parent *Process
	Tag    message.Tag
}

// Spawn allocates a ProcessId, optionally pre-seeds the parent/child link
// signals in the exact order spec §4.3 requires, compiles and instantiates
// the guest, and starts the driver loop in a new goroutine. It returns the
// new process's handle immediately and a channel that receives its
// Outcome once the driver loop exits.
//
// Link-establishment race avoidance: if link is non-nil, link.Parent
// records the link to the child directly (untagged, matching the
// original's `Link(None, child)` self-signal: the tag the child
// eventually reports on death comes from the child's own link record, not
// the parent's), and the child's signal inbox has `Link(tag, parent)` as
// its very first entry, before the driver loop — hence before the
// guest — ever runs. A child that traps on its first instruction still
// notifies the parent.
func Spawn(
	ctx context.Context,
	env *environment.Environment,
	exec runtimeglue.Executor,
	wasm []byte,
	cfg runtimeglue.ProcessConfig,
	entry string,
	params []runtimeglue.Value,
	link *LinkRequest,
) (*Process, <-chan Outcome, error) {
	if link != nil && !cfg.CanSpawnProcesses {
		return nil, nil, ErrCapability
	}
	mod, err := exec.Compile(ctx, wasm)
	if err != nil {
		return nil, nil, err
	}
	return spawnFromModule(ctx, env, exec, mod, cfg, entry, params, link)
}

// SpawnCompiled is Spawn for a module that has already been compiled (e.g.
// via a host call's compile_module, spec §6 spawn), skipping the compile
// step so the same CompiledModule can back many spawns.
func SpawnCompiled(
	ctx context.Context,
	env *environment.Environment,
	exec runtimeglue.Executor,
	mod runtimeglue.CompiledModule,
	cfg runtimeglue.ProcessConfig,
	entry string,
	params []runtimeglue.Value,
	link *LinkRequest,
) (*Process, <-chan Outcome, error) {
	if link != nil && !cfg.CanSpawnProcesses {
		return nil, nil, ErrCapability
	}
	return spawnFromModule(ctx, env, exec, mod, cfg, entry, params, link)
}

func spawnFromModule(
	ctx context.Context,
	env *environment.Environment,
	exec runtimeglue.Executor,
	mod runtimeglue.CompiledModule,
	cfg runtimeglue.ProcessConfig,
	entry string,
	params []runtimeglue.Value,
	link *LinkRequest,
) (*Process, <-chan Outcome, error) {
	pid := env.NextProcessID()
	child := New(pid, env, cfg)

	if link != nil {
		// Send, not a direct recordLink call: routing through the parent's
		// own signal inbox preserves FIFO ordering against whatever the
		// parent already had queued (spec §4.3's link-race note mirrors the
		// original's "this signal is going to be processed before the link
		// is established (FIFO)").
		link.Parent.Handle().Send(signal.Link(message.NoTag, child.Handle()))
		child.seedFirstSignal(signal.Link(link.Tag, link.Parent.Handle()))
	}

	env.Insert(pid, child.Handle())

	instance, err := exec.Instantiate(ctx, mod, cfg)
	if err != nil {
		env.Remove(pid)
		return nil, nil, err
	}

	futCh := instance.Run(ctx, entry, params)
	outcomeCh := make(chan Outcome, 1)
	go func() {
		outcomeCh <- child.Run(ctx, futCh)
	}()

	return child, outcomeCh, nil
}
