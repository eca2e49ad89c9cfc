package hostcall

import (
	"context"
	"time"

	"github.com/lunatic-solutions/lunatic/id"
	"github.com/lunatic-solutions/lunatic/message"
	"github.com/lunatic-solutions/lunatic/signal"
)

// TimeoutSentinel is the uniform status code for "the operation's
// timeout_ms elapsed, or the remote peer was unreachable" (spec §5, §6).
const TimeoutSentinel int64 = 9027

// NoTimeout is the millisecond value meaning "wait indefinitely" (spec §5
// "the sentinel u64::MAX... means no timeout"; resolved for this repo's
// int64 ABI as math.MaxInt64, per the Open Question decision in SPEC_FULL.md).
const NoTimeout int64 = 1<<63 - 1

// CreateData replaces scratch with a fresh Data message (spec §6
// create_data). No failure mode.
func (c *Caller) CreateData(tag int64, capacityHint int64) {
	c.scratch = message.NewData(message.NewTagFromABI(tag), int(capacityHint))
}

// WriteData appends guest memory [ptr, ptr+length) to scratch's buffer
// (spec §6 write_data). Traps if OOB, scratch is empty, or scratch is a
// LinkDied message.
func (c *Caller) WriteData(ptr, length int64) (int64, error) {
	if c.scratch == nil {
		return 0, trap("write_data: scratch is empty")
	}
	if c.scratch.Kind() != message.KindData {
		return 0, trap("write_data: scratch is a LinkDied message")
	}
	buf, err := c.readGuestBytes(ptr, length)
	if err != nil {
		return 0, err
	}
	n, _ := c.scratch.Write(buf)
	return int64(n), nil
}

// ReadData copies from scratch's buffer into guest memory (spec §6
// read_data), symmetric to WriteData.
func (c *Caller) ReadData(ptr, length int64) (int64, error) {
	if c.scratch == nil {
		return 0, trap("read_data: scratch is empty")
	}
	if c.scratch.Kind() != message.KindData {
		return 0, trap("read_data: scratch is a LinkDied message")
	}
	if length < 0 {
		return 0, trap("read_data: negative length %d", length)
	}
	buf := make([]byte, length)
	n, _ := c.scratch.Read(buf)
	if n > 0 {
		if _, err := c.writeGuestBytes(ptr, buf[:n]); err != nil {
			return 0, err
		}
	}
	return int64(n), nil
}

// SeekData sets scratch's read cursor (spec §6 seek_data).
func (c *Caller) SeekData(i int64) error {
	if c.scratch == nil || c.scratch.Kind() != message.KindData {
		return trap("seek_data: scratch is not a Data message")
	}
	c.scratch.Seek(i)
	return nil
}

// GetTag returns scratch's tag in ABI convention (spec §6 get_tag).
func (c *Caller) GetTag() (int64, error) {
	if c.scratch == nil {
		return 0, trap("get_tag: scratch is empty")
	}
	return c.scratch.Tag().ABI(), nil
}

// DataSize returns scratch's buffer length (spec §6 data_size).
func (c *Caller) DataSize() (int64, error) {
	if c.scratch == nil || c.scratch.Kind() != message.KindData {
		return 0, trap("data_size: scratch is not a Data message")
	}
	return c.scratch.Size(), nil
}

// pushResource moves resourceID out of table and into scratch's resource
// vector (spec §6 push_<R>); shared by the four push_<R> host calls.
func pushResource[T any](c *Caller, table *message.ResourceTable[T], kind message.ResourceKind, resourceID int64) (int64, error) {
	if c.scratch == nil || c.scratch.Kind() != message.KindData {
		return 0, trap("push: scratch is not a Data message")
	}
	v, ok := table.Take(uint64(resourceID))
	if !ok {
		return 0, trap("push: no resource %d in table", resourceID)
	}
	idx, err := c.scratch.PushResource(message.NewResource(kind, v))
	if err != nil {
		return 0, trap("push: %v", err)
	}
	return idx, nil
}

// takeResource moves the resource at index out of scratch and back into
// table, returning its new process-local id (spec §6 take_<R>).
func takeResource[T any](c *Caller, table *message.ResourceTable[T], kind message.ResourceKind, index int64) (int64, error) {
	if c.scratch == nil || c.scratch.Kind() != message.KindData {
		return 0, trap("take: scratch is not a Data message")
	}
	r, err := c.scratch.TakeResource(index, kind)
	if err != nil {
		return 0, trap("take: %v", err)
	}
	return int64(table.Put(r.Value().(T))), nil
}

func (c *Caller) PushModule(moduleID int64) (int64, error) {
	return pushResource(c, c.Modules, message.ResourceKindModule, moduleID)
}
func (c *Caller) TakeModule(index int64) (int64, error) {
	return takeResource(c, c.Modules, message.ResourceKindModule, index)
}
func (c *Caller) PushTCPStream(id int64) (int64, error) {
	return pushResource(c, c.TCPStreams, message.ResourceKindTCPStream, id)
}
func (c *Caller) TakeTCPStream(index int64) (int64, error) {
	return takeResource(c, c.TCPStreams, message.ResourceKindTCPStream, index)
}
func (c *Caller) PushTLSStream(id int64) (int64, error) {
	return pushResource(c, c.TLSStreams, message.ResourceKindTLSStream, id)
}
func (c *Caller) TakeTLSStream(index int64) (int64, error) {
	return takeResource(c, c.TLSStreams, message.ResourceKindTLSStream, index)
}
func (c *Caller) PushUDPSocket(id int64) (int64, error) {
	return pushResource(c, c.UDPSockets, message.ResourceKindUDPSocket, id)
}
func (c *Caller) TakeUDPSocket(index int64) (int64, error) {
	return takeResource(c, c.UDPSockets, message.ResourceKindUDPSocket, index)
}

// Send transfers scratch into target's mailbox via a Message signal (spec
// §6 send). Traps if scratch is empty; silently drops if the target is not
// in the local directory (spec §4.2 "at-most-once").
func (c *Caller) Send(targetPID int64) error {
	if c.scratch == nil {
		return trap("send: scratch is empty")
	}
	target, ok := c.Env.Lookup(id.ProcessId(targetPID))
	if ok {
		target.Send(signal.NewMessage(c.scratch))
	}
	c.scratch = nil
	return nil
}

// SendReceiveSkipSearch atomically sends scratch to target, then awaits a
// reply tagged with scratch's own tag, without re-scanning messages queued
// before the send (spec §4.6, §6 send_receive_skip_search).
func (c *Caller) SendReceiveSkipSearch(targetPID, timeoutMs int64) (int64, error) {
	if c.scratch == nil {
		return 0, trap("send_receive_skip_search: scratch is empty")
	}
	tag := c.scratch.Tag()
	if err := c.Send(targetPID); err != nil {
		return 0, err
	}

	ctx, cancel := withTimeout(timeoutMs)
	defer cancel()

	filter := tagFilter(tag)
	msg, err := c.Proc.Mailbox().PopSkipSearch(ctx, filter)
	if err != nil {
		return TimeoutSentinel, nil
	}
	c.scratch = msg
	if msg.Kind() == message.KindLinkDied {
		return 1, nil
	}
	return 0, nil
}

// Receive awaits a message matching tags (little-endian i64s decoded from
// guest memory; an empty tag set matches any), placing it into scratch
// (spec §6 receive). Returns 0 for Data, 1 for LinkDied, TimeoutSentinel on
// expiry.
func (c *Caller) Receive(tagsPtr int64, tagCount int32, timeoutMs int64) (int64, error) {
	filter, err := c.decodeTags(tagsPtr, tagCount)
	if err != nil {
		return 0, err
	}

	ctx, cancel := withTimeout(timeoutMs)
	defer cancel()

	msg, err := c.Proc.Mailbox().Pop(ctx, filter)
	if err != nil {
		return TimeoutSentinel, nil
	}
	c.scratch = msg
	if msg.Kind() == message.KindLinkDied {
		return 1, nil
	}
	return 0, nil
}

func (c *Caller) decodeTags(ptr int64, count int32) (map[int64]struct{}, error) {
	if count == 0 {
		return nil, nil
	}
	if count < 0 {
		return nil, trap("receive: negative tag count %d", count)
	}
	buf, err := c.readGuestBytes(ptr, int64(count)*8)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]struct{}, count)
	for i := 0; i < int(count); i++ {
		out[int64(getLE64(buf[i*8:]))] = struct{}{}
	}
	return out, nil
}

func tagFilter(tag message.Tag) map[int64]struct{} {
	if !tag.Present {
		return nil
	}
	return map[int64]struct{}{tag.Value: {}}
}

func withTimeout(timeoutMs int64) (context.Context, context.CancelFunc) {
	if timeoutMs < 0 || timeoutMs == NoTimeout {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), time.Duration(timeoutMs)*time.Millisecond)
}
