package environment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunatic-solutions/lunatic/id"
	"github.com/lunatic-solutions/lunatic/message"
	"github.com/lunatic-solutions/lunatic/signal"
)

type fakeHandle struct{ pid id.ProcessId }

func (f *fakeHandle) ProcessID() id.ProcessId { return f.pid }
func (f *fakeHandle) Send(signal.Signal)      {}

func TestProcessIdsNeverReused(t *testing.T) {
	env := New(1)
	seen := make(map[id.ProcessId]bool)
	for i := 0; i < 1000; i++ {
		pid := env.NextProcessID()
		require.False(t, seen[pid], "pid %v reused", pid)
		seen[pid] = true
	}
}

func TestDirectoryInsertLookupRemove(t *testing.T) {
	env := New(1)
	pid := env.NextProcessID()
	h := &fakeHandle{pid: pid}

	_, ok := env.Lookup(pid)
	assert.False(t, ok)
	assert.False(t, env.Exists(pid))

	env.Insert(pid, h)
	got, ok := env.Lookup(pid)
	require.True(t, ok)
	assert.Same(t, h, got)
	assert.True(t, env.Exists(pid))

	env.Remove(pid)
	_, ok = env.Lookup(pid)
	assert.False(t, ok)

	// idempotent
	env.Remove(pid)
}

func TestRegistryInsertGetLatestMatching(t *testing.T) {
	env := New(1)
	h1 := &fakeHandle{pid: 1}
	h2 := &fakeHandle{pid: 2}
	h3 := &fakeHandle{pid: 3}

	require.NoError(t, env.RegisterInsert("svc", "1.0.0", h1))
	require.NoError(t, env.RegisterInsert("svc", "1.2.0", h2))
	require.NoError(t, env.RegisterInsert("svc", "2.0.0", h3))

	got, err := env.RegisterGet("svc", ">=1.0.0 <2.0.0")
	require.NoError(t, err)
	assert.Same(t, h2, got)

	got, err = env.RegisterGet("svc", ">=0.0.0")
	require.NoError(t, err)
	assert.Same(t, h3, got)
}

func TestRegistryInsertReplacesExactVersion(t *testing.T) {
	env := New(1)
	h1 := &fakeHandle{pid: 1}
	h2 := &fakeHandle{pid: 2}

	require.NoError(t, env.RegisterInsert("svc", "1.0.0", h1))
	require.NoError(t, env.RegisterInsert("svc", "1.0.0", h2))

	got, err := env.RegisterGet("svc", "1.0.0")
	require.NoError(t, err)
	assert.Same(t, h2, got)
}

func TestRegistryInvalidVersionFails(t *testing.T) {
	env := New(1)
	err := env.RegisterInsert("svc", "not-a-version", &fakeHandle{pid: 1})
	var verr *ErrInvalidVersion
	require.ErrorAs(t, err, &verr)
}

func TestRegistryRemoveByExactVersion(t *testing.T) {
	env := New(1)
	h1 := &fakeHandle{pid: 1}
	require.NoError(t, env.RegisterInsert("svc", "1.0.0", h1))
	require.NoError(t, env.RegisterRemove("svc", "1.0.0"))

	_, err := env.RegisterGet("svc", "1.0.0")
	var nf *ErrNotFound
	require.ErrorAs(t, err, &nf)
}

func TestRegistryGetNoMatchFails(t *testing.T) {
	env := New(1)
	require.NoError(t, env.RegisterInsert("svc", "1.0.0", &fakeHandle{pid: 1}))
	_, err := env.RegisterGet("svc", ">=2.0.0")
	var nf *ErrNotFound
	require.ErrorAs(t, err, &nf)
}

var _ message.ProcessHandle = (*fakeHandle)(nil)
