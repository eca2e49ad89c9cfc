package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lunatic-solutions/lunatic/id"
	"github.com/lunatic-solutions/lunatic/message"
)

type fakeHandle struct {
	pid  id.ProcessId
	sent []Signal
}

func (f *fakeHandle) ProcessID() id.ProcessId { return f.pid }
func (f *fakeHandle) Send(sig Signal)         { f.sent = append(f.sent, sig) }

func TestSignalVariantAccessors(t *testing.T) {
	m := message.NewData(message.NoTag, 0)
	s := NewMessage(m)
	assert.Equal(t, KindMessage, s.Kind())
	assert.Same(t, m, s.Message())

	assert.Equal(t, KindKill, Kill().Kind())

	s = DieWhenLinkDies(true)
	assert.Equal(t, KindDieWhenLinkDies, s.Kind())
	assert.True(t, s.Flag())

	peer := &fakeHandle{pid: 9}
	s = Link(message.NewTag(3), peer)
	assert.Equal(t, KindLink, s.Kind())
	assert.Equal(t, message.NewTag(3), s.Tag())
	assert.Equal(t, peer, s.Peer())

	s = UnLink(5)
	assert.Equal(t, KindUnLink, s.Kind())
	assert.Equal(t, id.ProcessId(5), s.PeerID())

	s = LinkDied(7, message.NewTag(1), ReasonFailure)
	assert.Equal(t, KindLinkDied, s.Kind())
	assert.Equal(t, id.ProcessId(7), s.PeerID())
	assert.Equal(t, message.NewTag(1), s.Tag())
	assert.Equal(t, ReasonFailure, s.Reason())
}

func TestLinkUntaggedRoundTrips(t *testing.T) {
	peer := &fakeHandle{pid: 1}
	s := Link(message.NoTag, peer)
	assert.Equal(t, message.NoTag, s.Tag())
}
