// Package wire implements the distributed client's chunk framing (spec
// §4.6 "Wire framing") and a raw-bytes grpc codec, so a logical payload
// can travel over a gRPC bidi stream as a sequence of opaque chunks
// instead of a generated protobuf message per call.
package wire

import (
	"encoding/binary"
	"errors"

	"github.com/lunatic-solutions/lunatic/id"
)

// Chunk is one framed piece of a logical message addressed to one node
// (spec §4.6 MessageChunk): "each chunk header includes {message_id,
// chunk_index, total_chunks, env, src, dest}".
type Chunk struct {
	MessageID   id.MessageId
	ChunkIndex  uint32
	TotalChunks uint32
	Env         id.EnvironmentId
	Src         id.ProcessId
	Dest        id.ProcessId
	Payload     []byte
}

// headerSize is the byte width of a Chunk's fixed fields, ahead of its
// variable-length payload.
const headerSize = 8 + 4 + 4 + 8 + 8 + 8

// ErrShortFrame is returned by Decode when buf is too small to hold a
// complete chunk header.
var ErrShortFrame = errors.New("wire: frame too short to contain a chunk header")

// Encode serializes c as a single length-prefix-free frame: the raw
// codec passes these bytes through to the transport untouched (spec §4.6,
// "wire framing (message independent of transport)").
func Encode(c Chunk) []byte {
	buf := make([]byte, headerSize+len(c.Payload))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(c.MessageID))
	binary.LittleEndian.PutUint32(buf[8:12], c.ChunkIndex)
	binary.LittleEndian.PutUint32(buf[12:16], c.TotalChunks)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(c.Env))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(c.Src))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(c.Dest))
	copy(buf[headerSize:], c.Payload)
	return buf
}

// Decode parses a frame produced by Encode. The returned Chunk's Payload
// aliases buf; callers that retain it past the life of buf must copy.
func Decode(buf []byte) (Chunk, error) {
	if len(buf) < headerSize {
		return Chunk{}, ErrShortFrame
	}
	return Chunk{
		MessageID:   id.MessageId(binary.LittleEndian.Uint64(buf[0:8])),
		ChunkIndex:  binary.LittleEndian.Uint32(buf[8:12]),
		TotalChunks: binary.LittleEndian.Uint32(buf[12:16]),
		Env:         id.EnvironmentId(binary.LittleEndian.Uint64(buf[16:24])),
		Src:         id.ProcessId(binary.LittleEndian.Uint64(buf[24:32])),
		Dest:        id.ProcessId(binary.LittleEndian.Uint64(buf[32:40])),
		Payload:     buf[headerSize:],
	}, nil
}

// Split breaks payload into chunks no larger than mtu bytes each (spec
// §4.6: "split into chunks <= a configured MTU"). mtu <= 0 means "one
// chunk, unbounded". An empty payload still produces exactly one chunk
// (TotalChunks == 1), so zero-length messages (e.g. bare Kill requests)
// frame correctly.
func Split(payload []byte) func(mtu int) []Chunk {
	return func(mtu int) []Chunk {
		if mtu <= 0 || len(payload) <= mtu {
			return []Chunk{{TotalChunks: 1, Payload: payload}}
		}
		var chunks []Chunk
		for off := 0; off < len(payload); off += mtu {
			end := off + mtu
			if end > len(payload) {
				end = len(payload)
			}
			chunks = append(chunks, Chunk{ChunkIndex: uint32(off / mtu), Payload: payload[off:end]})
		}
		total := uint32(len(chunks))
		for i := range chunks {
			chunks[i].TotalChunks = total
		}
		return chunks
	}
}

// Reassembler buffers out-of-order chunks for one in-flight logical
// message until all TotalChunks have arrived (spec §4.6: "out-of-order
// delivery within a logical message is possible and the receiver must
// buffer until complete").
type Reassembler struct {
	total    uint32
	received uint32
	parts    [][]byte
}

// NewReassembler starts reassembly of a message expected to arrive as
// total chunks.
func NewReassembler(total uint32) *Reassembler {
	if total == 0 {
		total = 1
	}
	return &Reassembler{total: total, parts: make([][]byte, total)}
}

// Add stores chunk c's payload. It returns the fully reassembled payload
// and true once every chunk index 0..TotalChunks-1 has been seen, copying
// each chunk's payload so the caller is free to reuse its receive buffer.
func (r *Reassembler) Add(c Chunk) ([]byte, bool) {
	if c.ChunkIndex >= uint32(len(r.parts)) {
		return nil, false
	}
	if r.parts[c.ChunkIndex] == nil {
		r.parts[c.ChunkIndex] = append([]byte(nil), c.Payload...)
		r.received++
	}
	if r.received < r.total {
		return nil, false
	}
	var size int
	for _, p := range r.parts {
		size += len(p)
	}
	out := make([]byte, 0, size)
	for _, p := range r.parts {
		out = append(out, p...)
	}
	return out, true
}

// RawCodec is a grpc/encoding.Codec that treats every message as an
// opaque []byte, so distributed's bidi stream carries Chunk frames
// (already serialized by Encode) without a protobuf round-trip (spec
// §4.6, "inprocgrpc's per-call dispatch" note in the domain stack table).
type RawCodec struct{}

// Name implements encoding.Codec.
func (RawCodec) Name() string { return "lunatic-raw" }

// Marshal implements encoding.Codec. v must be a []byte.
func (RawCodec) Marshal(v any) ([]byte, error) {
	b, ok := v.(*[]byte)
	if ok {
		return *b, nil
	}
	b2, ok := v.([]byte)
	if !ok {
		return nil, errors.New("wire: RawCodec.Marshal requires []byte or *[]byte")
	}
	return b2, nil
}

// Unmarshal implements encoding.Codec. v must be a *[]byte.
func (RawCodec) Unmarshal(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return errors.New("wire: RawCodec.Unmarshal requires *[]byte")
	}
	*b = append((*b)[:0], data...)
	return nil
}
