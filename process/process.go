// Package process implements the per-process driver loop described in spec
// §4.3: a task bound to (id, Environment, signal inbox, mailbox) that races
// its signal inbox against the progress of its guest execution, biased
// toward signals, and tears itself down exactly once on exit.
package process

import (
	"sync"
	"sync/atomic"

	"github.com/lunatic-solutions/lunatic/environment"
	"github.com/lunatic-solutions/lunatic/id"
	"github.com/lunatic-solutions/lunatic/internal/chunkqueue"
	"github.com/lunatic-solutions/lunatic/mailbox"
	"github.com/lunatic-solutions/lunatic/message"
	"github.com/lunatic-solutions/lunatic/runtimeglue"
	"github.com/lunatic-solutions/lunatic/signal"
)

// linkEntry is one bidirectional link record: the peer to notify, and the
// tag this process will stamp on the LinkDied it eventually sends that
// peer (spec §4.3 teardown step b).
type linkEntry struct {
	peer signal.Handle
	tag  message.Tag
}

// Process is a live actor: its own signal inbox and mailbox, its link set,
// and its die-when-link-dies flag. The zero value is not usable; construct
// with New.
type Process struct {
	pid id.ProcessId
	env *environment.Environment
	box *mailbox.Mailbox
	cfg runtimeglue.ProcessConfig

	sigMu sync.Mutex
	sigQ  *chunkqueue.Queue[signal.Signal]
	wake  chan struct{}

	mu              sync.Mutex
	links           map[id.ProcessId]linkEntry
	dieWhenLinkDies bool

	dead atomic.Bool
}

// New constructs a process identified by pid within env, running under
// cfg (spec §3 "ProcessConfig" — the capability set host calls consult,
// e.g. can_spawn_processes). The process is not yet live: call env.Insert
// (or use Spawn) once the caller has finished any pre-seeding of its
// signal inbox (spec §4.3 "link establishment races").
func New(pid id.ProcessId, env *environment.Environment, cfg runtimeglue.ProcessConfig) *Process {
	return &Process{
		pid:             pid,
		env:             env,
		cfg:             cfg,
		box:             mailbox.New(),
		sigQ:            chunkqueue.New[signal.Signal](),
		wake:            make(chan struct{}, 1),
		links:           make(map[id.ProcessId]linkEntry),
		dieWhenLinkDies: true,
	}
}

// Config returns the ProcessConfig this process itself runs under, the
// capability set its own host calls (spawn, create_config, ...) must be
// checked against — distinct from any ProcessConfig it holds a resource-table
// handle to for spawning a *child* under (spec §4.5 "spawn requires
// can_spawn_processes").
func (p *Process) Config() runtimeglue.ProcessConfig { return p.cfg }

// ID returns the process's identity.
func (p *Process) ID() id.ProcessId { return p.pid }

// Mailbox returns the process's selective-receive message queue.
func (p *Process) Mailbox() *mailbox.Mailbox { return p.box }

// Environment returns the owning environment.
func (p *Process) Environment() *environment.Environment { return p.env }

// Handle returns a signal.Handle capable of delivering signals to this
// process. Cheap to call repeatedly; every call returns an equivalent
// handle.
func (p *Process) Handle() signal.Handle { return processHandle{p} }

// processHandle implements signal.Handle over a live *Process.
type processHandle struct{ p *Process }

func (h processHandle) ProcessID() id.ProcessId { return h.p.pid }

func (h processHandle) Send(sig signal.Signal) { h.p.enqueueSignal(sig) }

// enqueueSignal appends sig to the process's signal inbox and wakes the
// driver loop. A signal sent after the process has torn down is a silent
// no-op (spec §4.2 "if the target does not exist the send is silently
// dropped" — the same best-effort policy extends to signals).
func (p *Process) enqueueSignal(sig signal.Signal) {
	if p.dead.Load() {
		return
	}
	p.sigMu.Lock()
	p.sigQ.PushBack(sig)
	p.sigMu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// seedFirstSignal enqueues sig directly, ahead of anything else, before the
// process has started its driver loop. Used only by Spawn's link-race
// avoidance (spec §4.3): the child's very first observed signal is the Link
// to its parent, so a crash on the child's first instruction still notifies
// the parent.
func (p *Process) seedFirstSignal(sig signal.Signal) {
	p.sigQ.PushBack(sig)
}

func (p *Process) popSignal() (signal.Signal, bool) {
	p.sigMu.Lock()
	defer p.sigMu.Unlock()
	return p.sigQ.PopFront()
}

// Links returns a snapshot of the process's current link set, for
// inspection (tests, introspection tooling).
func (p *Process) Links() map[id.ProcessId]signal.Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[id.ProcessId]signal.Handle, len(p.links))
	for pid, e := range p.links {
		out[pid] = e.peer
	}
	return out
}

// recordLink inserts or replaces the link entry for peer (spec §4.3 step 2
// "Link(tag, peer) -> insert {peer.id -> (peer, tag)} into links").
func (p *Process) recordLink(tag message.Tag, peer signal.Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.links[peer.ProcessID()] = linkEntry{peer: peer, tag: tag}
}

// dropLink removes any link entry for peerID (spec §4.3 "UnLink(peer_id)
// -> remove from links").
func (p *Process) dropLink(peerID id.ProcessId) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.links, peerID)
}

func (p *Process) snapshotLinks() []linkEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]linkEntry, 0, len(p.links))
	for _, e := range p.links {
		out = append(out, e)
	}
	return out
}

func (p *Process) setDieWhenLinkDies(b bool) {
	p.mu.Lock()
	p.dieWhenLinkDies = b
	p.mu.Unlock()
}

func (p *Process) getDieWhenLinkDies() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dieWhenLinkDies
}
