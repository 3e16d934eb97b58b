// Package digest computes the message and chunk tags used to group and
// verify frames on the wire. MD5 is used purely as a content fingerprint
// here, not for any security property.
package digest

import (
	"crypto/md5"
	"encoding/hex"
)

// MessageTag is the last 6 hex characters of a message's MD5 digest. It
// groups frames belonging to the same message.
type MessageTag string

// ChunkTag is the last 2 hex characters of a chunk's MD5 digest. It is a
// cheap integrity check performed after FEC decode.
type ChunkTag string

// Message computes the MessageTag for a whole message.
func Message(msg []byte) MessageTag {
	sum := md5.Sum(msg)
	full := hex.EncodeToString(sum[:])
	return MessageTag(full[len(full)-6:])
}

// Chunk computes the ChunkTag for a single decoded chunk.
func Chunk(chunk []byte) ChunkTag {
	sum := md5.Sum(chunk)
	full := hex.EncodeToString(sum[:])
	return ChunkTag(full[len(full)-2:])
}
