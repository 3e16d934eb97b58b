// Package frame builds and parses the on-wire datagram that carries one
// encoded chunk plus its placement metadata.
//
// The wire layout is a fixed big-endian binary header followed by a
// length-prefixed payload, so sender and receiver stay interoperable
// without sharing a language runtime or a self-describing serialization
// format.
package frame

import (
	"encoding/binary"
	"errors"

	"github.com/faanross/datadiode/internal/digest"
)

const (
	msgTagLen   = 6
	chunkTagLen = 2
	// HeaderSize is the fixed portion of a serialized frame, before the
	// variable-length payload.
	HeaderSize = 4 + 4 + 2 + 2 + msgTagLen + chunkTagLen + 2
)

// ErrParse is returned when a datagram cannot be deserialized into a frame.
var ErrParse = errors.New("frame: parse error")

// ErrChunkIndexOutOfRange is returned when chunk_index >= total_chunks.
var ErrChunkIndexOutOfRange = errors.New("frame: chunk_index out of range")

// Frame is the on-wire tuple carrying one encoded chunk plus the placement
// metadata the receiver needs to reassemble it: which message it belongs
// to, where it sits within that message, and which redundant copy it is.
type Frame struct {
	TotalChunks uint32
	ChunkIndex  uint32
	CopyCount   uint16
	CopyIndex   uint16
	MsgTag      digest.MessageTag
	ChunkTag    digest.ChunkTag
	Payload     []byte // the encoded chunk bytes (post-FEC)
}

// Build constructs a Frame, rejecting an invalid chunk placement.
func Build(totalChunks, chunkIndex uint32, copyCount, copyIndex uint16, msgTag digest.MessageTag, chunkTag digest.ChunkTag, payload []byte) (Frame, error) {
	if chunkIndex >= totalChunks {
		return Frame{}, ErrChunkIndexOutOfRange
	}
	return Frame{
		TotalChunks: totalChunks,
		ChunkIndex:  chunkIndex,
		CopyCount:   copyCount,
		CopyIndex:   copyIndex,
		MsgTag:      msgTag,
		ChunkTag:    chunkTag,
		Payload:     payload,
	}, nil
}

// Marshal serializes f into a single UDP-payload-ready byte slice.
func (f Frame) Marshal() []byte {
	out := make([]byte, HeaderSize+len(f.Payload))
	binary.BigEndian.PutUint32(out[0:4], f.TotalChunks)
	binary.BigEndian.PutUint32(out[4:8], f.ChunkIndex)
	binary.BigEndian.PutUint16(out[8:10], f.CopyCount)
	binary.BigEndian.PutUint16(out[10:12], f.CopyIndex)
	copy(out[12:12+msgTagLen], []byte(f.MsgTag))
	copy(out[12+msgTagLen:12+msgTagLen+chunkTagLen], []byte(f.ChunkTag))
	binary.BigEndian.PutUint16(out[HeaderSize-2:HeaderSize], uint16(len(f.Payload)))
	copy(out[HeaderSize:], f.Payload)
	return out
}

// Unmarshal parses a datagram into a Frame. It validates structural bounds
// (chunk_index < total_chunks, declared payload length matches) but not
// cross-frame consistency (total_chunks agreement across a message), which
// requires per-message state owned by the receiver.
func Unmarshal(raw []byte) (Frame, error) {
	if len(raw) < HeaderSize {
		return Frame{}, ErrParse
	}

	total := binary.BigEndian.Uint32(raw[0:4])
	index := binary.BigEndian.Uint32(raw[4:8])
	copyCount := binary.BigEndian.Uint16(raw[8:10])
	copyIndex := binary.BigEndian.Uint16(raw[10:12])
	msgTag := digest.MessageTag(raw[12 : 12+msgTagLen])
	chunkTag := digest.ChunkTag(raw[12+msgTagLen : 12+msgTagLen+chunkTagLen])
	payloadLen := binary.BigEndian.Uint16(raw[HeaderSize-2 : HeaderSize])

	if int(payloadLen) != len(raw)-HeaderSize {
		return Frame{}, ErrParse
	}
	if index >= total {
		return Frame{}, ErrChunkIndexOutOfRange
	}

	payload := make([]byte, payloadLen)
	copy(payload, raw[HeaderSize:])

	return Frame{
		TotalChunks: total,
		ChunkIndex:  index,
		CopyCount:   copyCount,
		CopyIndex:   copyIndex,
		MsgTag:      msgTag,
		ChunkTag:    chunkTag,
		Payload:     payload,
	}, nil
}
