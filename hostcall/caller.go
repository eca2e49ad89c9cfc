// Package hostcall implements the guest-visible host-function surface
// (spec §4.5, §6): for each function, untrusted i32/i64 guest arguments
// plus access to the current process's tables and scratch message, with
// every result either a status code or a trap (spec §7).
package hostcall

import (
	"github.com/lunatic-solutions/lunatic/control"
	"github.com/lunatic-solutions/lunatic/distributed"
	"github.com/lunatic-solutions/lunatic/environment"
	"github.com/lunatic-solutions/lunatic/id"
	"github.com/lunatic-solutions/lunatic/message"
	"github.com/lunatic-solutions/lunatic/process"
	"github.com/lunatic-solutions/lunatic/runtimeglue"
)

// Caller bundles everything a host call needs: the owning process, its
// environment, the guest's linear memory, its compile/execute collaborator,
// and its per-process resource tables and scratch message (spec §3
// "Each process's scratch holds at most one Message between host calls").
//
// A Caller is owned by exactly one process's driver goroutine; host calls
// run on that goroutine, so nothing here needs its own lock beyond what
// Process/Environment/Mailbox already provide (spec §5 "host calls execute
// on the driver's task so no locking is needed between host calls of the
// same process").
type Caller struct {
	Proc *process.Process
	Env  *environment.Environment
	Exec runtimeglue.Executor
	Mem  runtimeglue.GuestMemory

	// Distributed and Nodes are nil on a node that never joined a cluster;
	// the distributed-module host calls trap in that case (spec §6
	// "Distributed module").
	Distributed *distributed.Client
	Nodes       *control.Client
	OwnNodeID   id.NodeId

	// SourceModuleID is the cluster-wide module id this process was
	// spawned from via the distributed spawn path, 0 otherwise (spec §6
	// "module_id()").
	SourceModuleID uint64

	scratch *message.Message

	Modules    *message.ResourceTable[runtimeglue.CompiledModule]
	Configs    *message.ResourceTable[*runtimeglue.ProcessConfig]
	TCPStreams *message.ResourceTable[any]
	TLSStreams *message.ResourceTable[any]
	UDPSockets *message.ResourceTable[any]
}

// NewCaller constructs a Caller for proc, running under env with exec as
// its compile/instantiate collaborator and mem as its guest linear memory.
func NewCaller(proc *process.Process, env *environment.Environment, exec runtimeglue.Executor, mem runtimeglue.GuestMemory) *Caller {
	return &Caller{
		Proc:       proc,
		Env:        env,
		Exec:       exec,
		Mem:        mem,
		Modules:    message.NewResourceTable[runtimeglue.CompiledModule](),
		Configs:    message.NewResourceTable[*runtimeglue.ProcessConfig](),
		TCPStreams: message.NewResourceTable[any](),
		TLSStreams: message.NewResourceTable[any](),
		UDPSockets: message.NewResourceTable[any](),
	}
}

// readGuestBytes reads len bytes at ptr from guest memory, trapping on OOB
// (spec §4.5 "Traps if OOB").
func (c *Caller) readGuestBytes(ptr, length int64) ([]byte, error) {
	if length < 0 {
		return nil, trap("negative length %d", length)
	}
	buf := make([]byte, length)
	n, err := c.Mem.ReadAt(buf, ptr)
	if err != nil || int64(n) != length {
		return nil, trap("out-of-bounds guest read at %d, len %d", ptr, length)
	}
	return buf, nil
}

func (c *Caller) writeGuestBytes(ptr int64, data []byte) (int, error) {
	n, err := c.Mem.WriteAt(data, ptr)
	if err != nil {
		return 0, trap("out-of-bounds guest write at %d, len %d", ptr, len(data))
	}
	return n, nil
}

func (c *Caller) writeGuestI64(ptr int64, v int64) error {
	var buf [8]byte
	putLE64(buf[:], uint64(v))
	if _, err := c.writeGuestBytes(ptr, buf[:]); err != nil {
		return err
	}
	return nil
}

func putLE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func getLE64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
