package fec

import (
	"bytes"
	"math/rand"
	"testing"
)

func sample(n int, seed int64) []byte {
	r := rand.New(rand.NewSource(seed))
	b := make([]byte, n)
	r.Read(b)
	return b
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, size := range []int{1, 16, 111, 1024} {
		chunk := sample(size, int64(size))
		encoded := Encode(chunk)
		if len(encoded) != len(chunk)+ParityBytes {
			t.Fatalf("size %d: encoded length = %d, want %d", size, len(encoded), len(chunk)+ParityBytes)
		}
		decoded, err := Decode(encoded)
		if err != nil {
			t.Fatalf("size %d: decode failed: %v", size, err)
		}
		if !bytes.Equal(decoded, chunk) {
			t.Fatalf("size %d: decode mismatch", size)
		}
	}
}

func TestSingleByteCorruptionRecovered(t *testing.T) {
	chunk := sample(64, 1)
	encoded := Encode(chunk)

	for pos := 0; pos < len(encoded); pos++ {
		corrupted := append([]byte(nil), encoded...)
		corrupted[pos] ^= 0xFF
		decoded, err := Decode(corrupted)
		if err != nil {
			t.Fatalf("pos %d: decode failed: %v", pos, err)
		}
		if !bytes.Equal(decoded, chunk) {
			t.Fatalf("pos %d: decode mismatch after single-byte flip", pos)
		}
	}
}

func TestTwoByteCorruptionRecovered(t *testing.T) {
	chunk := sample(64, 2)
	encoded := Encode(chunk)

	corrupted := append([]byte(nil), encoded...)
	corrupted[0] ^= 0x3C
	corrupted[len(corrupted)-1] ^= 0x81

	decoded, err := Decode(corrupted)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !bytes.Equal(decoded, chunk) {
		t.Fatal("decode mismatch after two-byte flip")
	}
}

func TestThreeByteCorruptionUnrecoverable(t *testing.T) {
	chunk := sample(64, 3)
	encoded := Encode(chunk)

	corrupted := append([]byte(nil), encoded...)
	corrupted[0] ^= 0x11
	corrupted[10] ^= 0x22
	corrupted[20] ^= 0x33

	_, err := Decode(corrupted)
	if err != ErrUnrecoverable {
		t.Fatalf("got err = %v, want ErrUnrecoverable for corruption beyond the correction budget", err)
	}
}

func TestDecodeRejectsShortInput(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3}); err != ErrUnrecoverable {
		t.Fatalf("got %v, want ErrUnrecoverable", err)
	}
}
