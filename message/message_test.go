package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagABIRoundTrip(t *testing.T) {
	assert.Equal(t, NoTag, NewTagFromABI(0))
	assert.Equal(t, int64(0), NoTag.ABI())

	tag := NewTagFromABI(42)
	assert.True(t, tag.Present)
	assert.Equal(t, int64(42), tag.ABI())
}

func TestTagMatches(t *testing.T) {
	assert.True(t, NoTag.Matches(nil))
	assert.True(t, NoTag.Matches(map[int64]struct{}{}))
	assert.False(t, NoTag.Matches(map[int64]struct{}{1: {}}))

	tag := NewTag(7)
	assert.True(t, tag.Matches(map[int64]struct{}{7: {}, 9: {}}))
	assert.False(t, tag.Matches(map[int64]struct{}{9: {}}))
	assert.True(t, tag.Matches(nil))
}

func TestDataWriteReadCursor(t *testing.T) {
	m := NewData(NoTag, 0)
	n, err := m.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, int64(5), m.Size())

	buf := make([]byte, 3)
	n, err = m.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "hel", string(buf))

	// short read at the tail
	n, err = m.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "lo", string(buf[:n]))

	n, err = m.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSeekThenRead(t *testing.T) {
	m := NewData(NoTag, 0)
	_, _ = m.Write([]byte("abcdef"))
	m.Seek(2)
	buf := make([]byte, 2)
	n, err := m.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "cd", string(buf[:n]))

	// seeking past the end yields only short reads, never an error.
	m.Seek(1000)
	n, err = m.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestLinkDiedMessageHasNoBuffer(t *testing.T) {
	m := NewLinkDied(NewTag(3))
	assert.Equal(t, KindLinkDied, m.Kind())
	assert.Equal(t, int64(0), m.Size())
	_, err := m.Write([]byte("x"))
	assert.Error(t, err)
	_, err = m.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestResourcePushTakeStability(t *testing.T) {
	m := NewData(NoTag, 0)
	idx0, err := m.PushResource(NewResource(ResourceKindProcess, "proc-a"))
	require.NoError(t, err)
	idx1, err := m.PushResource(NewResource(ResourceKindProcess, "proc-b"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), idx0)
	assert.Equal(t, int64(1), idx1)

	r, err := m.TakeResource(idx0, ResourceKindProcess)
	require.NoError(t, err)
	assert.Equal(t, "proc-a", r.Value())

	// index 1 is still valid after taking index 0.
	r, err = m.TakeResource(idx1, ResourceKindProcess)
	require.NoError(t, err)
	assert.Equal(t, "proc-b", r.Value())

	assert.Equal(t, 2, m.ResourceCount())
}

func TestResourceTakeKindMismatch(t *testing.T) {
	m := NewData(NoTag, 0)
	idx, _ := m.PushResource(NewResource(ResourceKindProcess, "p"))
	_, err := m.TakeResource(idx, ResourceKindModule)
	var mismatch *ErrResourceMismatch
	require.ErrorAs(t, err, &mismatch)
	assert.False(t, mismatch.OutOfRng)
}

func TestResourceTakeOutOfRange(t *testing.T) {
	m := NewData(NoTag, 0)
	_, err := m.TakeResource(5, ResourceKindProcess)
	var mismatch *ErrResourceMismatch
	require.ErrorAs(t, err, &mismatch)
	assert.True(t, mismatch.OutOfRng)
}

func TestHasRemoteIneligibleResource(t *testing.T) {
	m := NewData(NoTag, 0)
	assert.False(t, m.HasRemoteIneligibleResource())

	_, _ = m.PushResource(NewResource(ResourceKindProcess, "p"))
	assert.False(t, m.HasRemoteIneligibleResource())

	_, _ = m.PushResource(NewResource(ResourceKindTCPStream, "conn"))
	assert.True(t, m.HasRemoteIneligibleResource())
}

func TestCloneIsIndependent(t *testing.T) {
	m := NewData(NewTag(1), 0)
	_, _ = m.Write([]byte("abc"))
	_, _ = m.PushResource(NewResource(ResourceKindProcess, "p"))

	c := m.Clone()
	_, _ = m.Write([]byte("def"))
	_, _ = m.PushResource(NewResource(ResourceKindProcess, "q"))

	assert.Equal(t, int64(3), c.Size())
	assert.Equal(t, 1, c.ResourceCount())
}

func TestResourceTableRoundTrip(t *testing.T) {
	tbl := NewResourceTable[string]()
	id1 := tbl.Put("a")
	id2 := tbl.Put("b")
	assert.Equal(t, 2, tbl.Len())

	v, ok := tbl.Get(id1)
	require.True(t, ok)
	assert.Equal(t, "a", v)

	v, ok = tbl.Take(id1)
	require.True(t, ok)
	assert.Equal(t, "a", v)
	assert.Equal(t, 1, tbl.Len())

	_, ok = tbl.Take(id1)
	assert.False(t, ok)

	v, ok = tbl.Get(id2)
	require.True(t, ok)
	assert.Equal(t, "b", v)
}
