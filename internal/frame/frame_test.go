package frame

import (
	"bytes"
	"testing"

	"github.com/faanross/datadiode/internal/digest"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	f, err := Build(3, 1, 2, 1, digest.MessageTag("abc123"), digest.ChunkTag("ff"), []byte("encoded chunk bytes"))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	raw := f.Marshal()
	got, err := Unmarshal(raw)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if got.TotalChunks != f.TotalChunks || got.ChunkIndex != f.ChunkIndex ||
		got.CopyCount != f.CopyCount || got.CopyIndex != f.CopyIndex ||
		got.MsgTag != f.MsgTag || got.ChunkTag != f.ChunkTag ||
		!bytes.Equal(got.Payload, f.Payload) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, f)
	}
}

func TestBuildRejectsChunkIndexOutOfRange(t *testing.T) {
	if _, err := Build(3, 3, 1, 1, "abc123", "ff", nil); err != ErrChunkIndexOutOfRange {
		t.Fatalf("got %v, want ErrChunkIndexOutOfRange", err)
	}
	if _, err := Build(3, 5, 1, 1, "abc123", "ff", nil); err != ErrChunkIndexOutOfRange {
		t.Fatalf("got %v, want ErrChunkIndexOutOfRange", err)
	}
}

func TestUnmarshalRejectsShortInput(t *testing.T) {
	if _, err := Unmarshal([]byte{1, 2, 3}); err != ErrParse {
		t.Fatalf("got %v, want ErrParse", err)
	}
}

func TestUnmarshalRejectsBadPayloadLength(t *testing.T) {
	f, _ := Build(3, 0, 1, 1, "abc123", "ff", []byte("payload"))
	raw := f.Marshal()
	truncated := raw[:len(raw)-2]
	if _, err := Unmarshal(truncated); err != ErrParse {
		t.Fatalf("got %v, want ErrParse", err)
	}
}

func TestUnmarshalRejectsChunkIndexOutOfRange(t *testing.T) {
	f, _ := Build(3, 0, 1, 1, "abc123", "ff", []byte("payload"))
	raw := f.Marshal()
	// Corrupt chunk_index to equal total_chunks.
	raw[7] = 3
	if _, err := Unmarshal(raw); err != ErrChunkIndexOutOfRange {
		t.Fatalf("got %v, want ErrChunkIndexOutOfRange", err)
	}
}
