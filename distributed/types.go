// Package distributed implements the chunked-RPC distributed client
// described in spec §4.6: per-source inboxes, per-node outboxes, a
// congestion worker, a per-node transport worker, and in-flight response
// correlation. Module distribution (RawWasm) is folded in here per
// SPEC_FULL.md, mirroring the original runtime's module cache living
// alongside its distributed client.
package distributed

import (
	"encoding/binary"
	"errors"

	"github.com/lunatic-solutions/lunatic/id"
	"github.com/lunatic-solutions/lunatic/message"
)

// RawWasm is a compiled-code blob registered cluster-wide, keyed by an id
// visible to every node (spec §4.7 "add_module/get_module").
type RawWasm struct {
	ID    uint64
	Bytes []byte
}

// ContentKind discriminates the logical payloads carried over the wire
// (spec §4.6 "Request(Message / Spawn / Response)").
type ContentKind uint8

const (
	ContentMessage ContentKind = iota
	ContentSpawn
	ContentResponse
)

// MessageContent is a Data/LinkDied message bound for a remote process's
// mailbox.
type MessageContent struct {
	Tag     message.Tag
	Payload []byte
}

// SpawnContent requests a remote spawn of moduleID's entry function.
type SpawnContent struct {
	ModuleID uint64
	Entry    string
	Params   []byte // already-encoded spawn-argument records
	Link     bool
	LinkTag  int64
}

// ResponseContent carries a reply to an earlier request correlated by
// MessageId.
type ResponseContent struct {
	Code    int32 // result code, spec §4.6 "remote spawn/send result codes"
	Payload []byte
}

// ErrDecode is returned when a received logical payload cannot be parsed.
var ErrDecode = errors.New("distributed: malformed payload")

// EncodeMessage serializes a MessageContent into the transport-independent
// logical-payload form (chunked by wire.Split once serialized).
func EncodeMessage(c MessageContent) []byte {
	buf := make([]byte, 1+9+len(c.Payload))
	buf[0] = byte(ContentMessage)
	putTag(buf[1:10], c.Tag)
	copy(buf[10:], c.Payload)
	return buf
}

// EncodeSpawn serializes a SpawnContent.
func EncodeSpawn(c SpawnContent) []byte {
	entry := []byte(c.Entry)
	buf := make([]byte, 0, 1+8+2+len(entry)+1+9+4+len(c.Params))
	buf = append(buf, byte(ContentSpawn))
	buf = appendUint64(buf, c.ModuleID)
	buf = appendUint16(buf, uint16(len(entry)))
	buf = append(buf, entry...)
	if c.Link {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = appendInt64(buf, c.LinkTag)
	buf = appendUint32(buf, uint32(len(c.Params)))
	buf = append(buf, c.Params...)
	return buf
}

// EncodeResponse serializes a ResponseContent.
func EncodeResponse(c ResponseContent) []byte {
	buf := make([]byte, 0, 1+4+len(c.Payload))
	buf = append(buf, byte(ContentResponse))
	buf = appendInt32(buf, c.Code)
	buf = append(buf, c.Payload...)
	return buf
}

// Content is the decoded union of a logical payload: exactly one of the
// three fields is meaningful, selected by Kind.
type Content struct {
	Kind     ContentKind
	Message  MessageContent
	Spawn    SpawnContent
	Response ResponseContent
}

// Decode parses a logical payload produced by one of the Encode* functions.
func Decode(buf []byte) (Content, error) {
	if len(buf) < 1 {
		return Content{}, ErrDecode
	}
	switch ContentKind(buf[0]) {
	case ContentMessage:
		if len(buf) < 10 {
			return Content{}, ErrDecode
		}
		return Content{Kind: ContentMessage, Message: MessageContent{
			Tag:     tagFrom(buf[1:10]),
			Payload: append([]byte(nil), buf[10:]...),
		}}, nil

	case ContentSpawn:
		rest := buf[1:]
		if len(rest) < 8+2 {
			return Content{}, ErrDecode
		}
		moduleID := binary.LittleEndian.Uint64(rest[0:8])
		entryLen := binary.LittleEndian.Uint16(rest[8:10])
		rest = rest[10:]
		if len(rest) < int(entryLen)+1+8+4 {
			return Content{}, ErrDecode
		}
		entry := string(rest[:entryLen])
		rest = rest[entryLen:]
		link := rest[0] != 0
		rest = rest[1:]
		linkTag := int64(binary.LittleEndian.Uint64(rest[:8]))
		rest = rest[8:]
		paramsLen := binary.LittleEndian.Uint32(rest[:4])
		rest = rest[4:]
		if uint32(len(rest)) < paramsLen {
			return Content{}, ErrDecode
		}
		return Content{Kind: ContentSpawn, Spawn: SpawnContent{
			ModuleID: moduleID,
			Entry:    entry,
			Params:   append([]byte(nil), rest[:paramsLen]...),
			Link:     link,
			LinkTag:  linkTag,
		}}, nil

	case ContentResponse:
		if len(buf) < 5 {
			return Content{}, ErrDecode
		}
		return Content{Kind: ContentResponse, Response: ResponseContent{
			Code:    int32(binary.LittleEndian.Uint32(buf[1:5])),
			Payload: append([]byte(nil), buf[5:]...),
		}}, nil

	default:
		return Content{}, ErrDecode
	}
}

func putTag(dst []byte, t message.Tag) {
	if t.Present {
		dst[0] = 1
	} else {
		dst[0] = 0
	}
	binary.LittleEndian.PutUint64(dst[1:9], uint64(t.Value))
}

func tagFrom(src []byte) message.Tag {
	if src[0] == 0 {
		return message.NoTag
	}
	return message.NewTag(int64(binary.LittleEndian.Uint64(src[1:9])))
}

func appendUint64(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

func appendInt64(dst []byte, v int64) []byte { return appendUint64(dst, uint64(v)) }

func appendUint32(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func appendInt32(dst []byte, v int32) []byte { return appendUint32(dst, uint32(v)) }

func appendUint16(dst []byte, v uint16) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return append(dst, b[:]...)
}

// ResultCode values mirror the host-call contract (spec §4.6 "Remote spawn
// result codes").
const (
	ResultSpawned      int32 = 0
	ResultSent         int32 = 0
	ResultNodeNotFound int32 = 1
	ResultModuleNotFound int32 = 2
	ResultConnection   int32 = 9027
)

// MessageCtx is one outbound logical message awaiting chunking/delivery
// (spec §4.6).
type MessageCtx struct {
	MessageID id.MessageId
	Env       id.EnvironmentId
	Src       id.ProcessId
	Node      id.NodeId
	Dest      id.ProcessId
	Payload   []byte
}
