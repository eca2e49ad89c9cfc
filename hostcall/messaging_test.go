package hostcall

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunatic-solutions/lunatic/environment"
	"github.com/lunatic-solutions/lunatic/message"
	"github.com/lunatic-solutions/lunatic/process"
	"github.com/lunatic-solutions/lunatic/runtimeglue"
	"github.com/lunatic-solutions/lunatic/runtimeglue/runtimegluetest"
)

func init() {
	runtimegluetest.Register("block", func(ctx context.Context, inst *runtimegluetest.Instance, params []runtimeglue.Value) runtimeglue.ExecResult {
		<-ctx.Done()
		return runtimeglue.ExecResult{}
	})
}

// newTestCaller builds a Caller over a process that has no driver loop of
// its own: fine for exercising scratch/mailbox-read host calls directly,
// but any signal a Caller sends (Send, Link, Unlink...) needs the *target*
// process to actually be running in order to drain its signal inbox into
// its mailbox, so callers that need that use spawnBlockedProcess instead.
func newTestCaller(t *testing.T, env *environment.Environment) *Caller {
	t.Helper()
	pid := env.NextProcessID()
	p := process.New(pid, env, runtimeglue.ProcessConfig{
		CanCompileModules: true,
		CanCreateConfigs:  true,
		CanSpawnProcesses: true,
	})
	env.Insert(pid, p.Handle())
	mem := runtimegluetest.NewStandaloneMemory(1 << 16)
	return NewCaller(p, env, runtimegluetest.Executor{}, mem)
}

// spawnBlockedProcess starts a real driver loop running the "block"
// program, so signals sent to it get processed (spec §4.3) until ctx is
// canceled.
func spawnBlockedProcess(t *testing.T, ctx context.Context, env *environment.Environment) *process.Process {
	t.Helper()
	p, _, err := process.Spawn(ctx, env, runtimegluetest.Executor{}, []byte("block"), runtimeglue.ProcessConfig{}, "_start", nil, nil)
	require.NoError(t, err)
	return p
}

func TestCreateWriteReadRoundTrip(t *testing.T) {
	env := environment.New(1)
	c := newTestCaller(t, env)

	c.CreateData(7, 0)
	_, werr := c.Mem.WriteAt([]byte("hello"), 0)
	require.NoError(t, werr)

	n, err := c.WriteData(0, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	size, err := c.DataSize()
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)

	tag, err := c.GetTag()
	require.NoError(t, err)
	assert.Equal(t, int64(7), tag)

	n, err = c.ReadData(100, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	buf := make([]byte, 5)
	_, rerr := c.Mem.ReadAt(buf, 100)
	require.NoError(t, rerr)
	assert.Equal(t, "hello", string(buf))
}

func TestWriteDataTrapsOnEmptyScratch(t *testing.T) {
	env := environment.New(1)
	c := newTestCaller(t, env)
	_, err := c.WriteData(0, 1)
	assert.True(t, IsTrap(err))
}

func TestSeekDataThenRead(t *testing.T) {
	env := environment.New(1)
	c := newTestCaller(t, env)
	c.CreateData(0, 0)
	_, werr := c.Mem.WriteAt([]byte("abcdef"), 0)
	require.NoError(t, werr)
	_, err := c.WriteData(0, 6)
	require.NoError(t, err)

	require.NoError(t, c.SeekData(2))
	n, err := c.ReadData(0, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestPushTakeModuleRoundTrip(t *testing.T) {
	env := environment.New(1)
	c := newTestCaller(t, env)
	modID := int64(c.Modules.Put(struct{}{}))

	c.CreateData(0, 0)
	idx, err := c.PushModule(modID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), idx)

	_, ok := c.Modules.Get(uint64(modID))
	assert.False(t, ok, "push must remove the resource from the table")

	newID, err := c.TakeModule(idx)
	require.NoError(t, err)
	_, ok = c.Modules.Get(uint64(newID))
	assert.True(t, ok)
}

func TestSendDeliversToMailbox(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env := environment.New(1)
	sender := newTestCaller(t, env)
	target := spawnBlockedProcess(t, ctx, env)

	sender.CreateData(3, 0)
	require.NoError(t, sender.Send(int64(target.ID())))

	popCtx, popCancel := context.WithTimeout(context.Background(), time.Second)
	defer popCancel()
	msg, err := target.Mailbox().Pop(popCtx, nil)
	require.NoError(t, err)
	assert.Equal(t, message.NewTag(3), msg.Tag())
}

func TestSendTrapsOnEmptyScratch(t *testing.T) {
	env := environment.New(1)
	c := newTestCaller(t, env)
	err := c.Send(999)
	assert.True(t, IsTrap(err))
}

func TestReceiveTimesOut(t *testing.T) {
	env := environment.New(1)
	c := newTestCaller(t, env)
	code, err := c.Receive(0, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, TimeoutSentinel, code)
}

func TestReceiveMatchesTaggedMessage(t *testing.T) {
	env := environment.New(1)
	c := newTestCaller(t, env)

	msg := message.NewData(message.NewTag(5), 0)
	c.Proc.Mailbox().Push(msg)

	code, err := c.Receive(0, 0, int64(time.Second/time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, int64(0), code)
	tag, _ := c.GetTag()
	assert.Equal(t, int64(5), tag)
}

func TestSendReceiveSkipSearch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env := environment.New(1)
	sender := newTestCaller(t, env)
	target := spawnBlockedProcess(t, ctx, env)

	sender.CreateData(11, 0)
	go func() {
		popCtx, popCancel := context.WithTimeout(context.Background(), time.Second)
		defer popCancel()
		req, err := target.Mailbox().Pop(popCtx, nil)
		if err != nil {
			return
		}
		reply := message.NewData(req.Tag(), 0)
		sender.Proc.Mailbox().Push(reply)
	}()

	code, err := sender.SendReceiveSkipSearch(int64(target.ID()), int64(time.Second/time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, int64(0), code)
}
