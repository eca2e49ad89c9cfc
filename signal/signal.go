// Package signal defines the control-plane Signal sum type delivered to a
// process's signal inbox (spec §3, §4.3), and the ProcessHandle capability
// used to deliver one.
package signal

import (
	"github.com/lunatic-solutions/lunatic/id"
	"github.com/lunatic-solutions/lunatic/message"
)

// Reason classifies why a linked peer died, carried on LinkDied (spec §3).
type Reason uint8

const (
	ReasonNormal Reason = iota
	ReasonFailure
	ReasonNoProcess
)

func (r Reason) String() string {
	switch r {
	case ReasonFailure:
		return "failure"
	case ReasonNoProcess:
		return "no_process"
	default:
		return "normal"
	}
}

// Kind discriminates the Signal variants.
type Kind uint8

const (
	KindMessage Kind = iota
	KindKill
	KindDieWhenLinkDies
	KindLink
	KindUnLink
	KindLinkDied
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindKill:
		return "kill"
	case KindDieWhenLinkDies:
		return "die_when_link_dies"
	case KindLink:
		return "link"
	case KindUnLink:
		return "unlink"
	case KindLinkDied:
		return "link_died"
	default:
		return "unknown"
	}
}

// Signal is the control message delivered to a process's signal inbox (spec
// §3). Exactly one of the accessor sets below is meaningful, selected by
// Kind; this mirrors the Rust enum with a flat struct rather than an
// interface hierarchy, since every variant is handled centrally by the
// driver loop's single switch (spec §4.3) and there is no behavior to
// dispatch polymorphically.
type Signal struct {
	kind Kind

	msg *message.Message // KindMessage

	flag bool // KindDieWhenLinkDies

	peer   Handle       // KindLink
	tag    int64        // KindLink, KindLinkDied
	tagSet bool         // KindLink, KindLinkDied
	peerID id.ProcessId // KindUnLink, KindLinkDied
	reason Reason       // KindLinkDied
}

// NewMessage wraps a delivered data/link-died message as a signal.
func NewMessage(m *message.Message) Signal {
	return Signal{kind: KindMessage, msg: m}
}

// Kill requests the receiving process terminate at its next suspension
// point (spec §4.3 step 2 "Kill").
func Kill() Signal { return Signal{kind: KindKill} }

// DieWhenLinkDies sets the receiving process's own die-when-link-dies flag.
func DieWhenLinkDies(b bool) Signal { return Signal{kind: KindDieWhenLinkDies, flag: b} }

// Link requests the receiving process record a bidirectional link to peer,
// tagged with an optional tag (tagSet false means untagged LinkDied
// notifications for this peer).
func Link(tag message.Tag, peer Handle) Signal {
	return Signal{kind: KindLink, peer: peer, tag: tag.Value, tagSet: tag.Present}
}

// UnLink requests the receiving process drop any link to peerID.
func UnLink(peerID id.ProcessId) Signal {
	return Signal{kind: KindUnLink, peerID: peerID}
}

// LinkDied notifies the receiving process that peerID, previously linked
// with tag, has died for reason (spec §4.3 step 2 "LinkDied").
func LinkDied(peerID id.ProcessId, tag message.Tag, reason Reason) Signal {
	return Signal{kind: KindLinkDied, peerID: peerID, tag: tag.Value, tagSet: tag.Present, reason: reason}
}

func (s Signal) Kind() Kind { return s.kind }

// Message returns the carried message. Valid only when Kind() == KindMessage.
func (s Signal) Message() *message.Message { return s.msg }

// Flag returns the die-when-link-dies value. Valid only when Kind() ==
// KindDieWhenLinkDies.
func (s Signal) Flag() bool { return s.flag }

// Peer returns the linked handle. Valid only when Kind() == KindLink.
func (s Signal) Peer() Handle { return s.peer }

// Tag returns the link/link-died tag. Valid when Kind() is KindLink or
// KindLinkDied.
func (s Signal) Tag() message.Tag {
	if !s.tagSet {
		return message.NoTag
	}
	return message.NewTag(s.tag)
}

// PeerID returns the affected peer's id. Valid when Kind() is KindUnLink or
// KindLinkDied.
func (s Signal) PeerID() id.ProcessId { return s.peerID }

// Reason returns the death reason. Valid only when Kind() == KindLinkDied.
func (s Signal) Reason() Reason { return s.reason }

// Handle is the cheap-to-clone capability to deliver a Signal to a process,
// satisfying message.ProcessHandle so a Data message can carry a process
// resource (spec §3 "ProcessHandle"). Concrete construction lives in
// package process, which owns the signal inbox this delivers into.
type Handle interface {
	message.ProcessHandle
	// Send enqueues sig on the target's signal inbox. Send never blocks
	// indefinitely on a dead target: delivery to a process whose driver
	// loop has already torn down is a silent no-op (spec §4.2 "if the
	// target does not exist the send is silently dropped").
	Send(sig Signal)
}
