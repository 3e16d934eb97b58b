// Package fec implements the per-chunk Reed-Solomon forward error correction
// codec: a fixed parity budget is appended to each chunk so the receiver can
// correct a bounded number of byte errors without any retransmission channel.
//
// github.com/klauspost/reedsolomon is deliberately not used here: it
// implements erasure coding, which requires the caller to already know which
// shards are missing before it can rebuild them. This codec has to find and
// correct bytes that are merely flipped, at unknown positions, with no
// erasure hints — a different problem, solved below with a direct GF(256)
// Reed-Solomon encode/decode.
package fec

import (
	"errors"

	"github.com/faanross/datadiode/internal/gf256"
)

// ParityBytes is the fixed number of parity bytes appended to every encoded
// chunk. Sender and receiver MUST agree on this value; it is a compile-time
// constant, not a runtime parameter.
const ParityBytes = 4

// maxCorrectable is floor(ParityBytes/2), the number of byte errors this
// codec can correct per encoded chunk.
const maxCorrectable = ParityBytes / 2

// ErrUnrecoverable is returned when decode cannot reconstruct the original
// chunk, either because more bytes were corrupted than the parity budget
// allows or because the input is too short to be a valid encoded chunk.
var ErrUnrecoverable = errors.New("fec: unrecoverable corruption")

// generator is the fixed Reed-Solomon generator polynomial for ParityBytes
// parity symbols, with roots alpha^1..alpha^ParityBytes.
var generator = buildGenerator(ParityBytes)

func buildGenerator(nsym int) []byte {
	g := []byte{1}
	for i := 1; i <= nsym; i++ {
		g = gf256.PolyMul(g, []byte{1, gf256.Pow(2, i)})
	}
	return g
}

// Encode appends ParityBytes parity bytes to chunk using systematic
// Reed-Solomon encoding. len(Encode(chunk)) == len(chunk) + ParityBytes.
func Encode(chunk []byte) []byte {
	out := make([]byte, len(chunk)+ParityBytes)
	copy(out, chunk)

	for i := 0; i < len(chunk); i++ {
		coef := out[i]
		if coef == 0 {
			continue
		}
		for j, gc := range generator {
			out[i+j] ^= gf256.Mul(gc, coef)
		}
	}
	copy(out, chunk)
	return out
}

// Decode recovers the original chunk from an encoded chunk, correcting up to
// maxCorrectable byte errors at unknown positions. It returns
// ErrUnrecoverable if the input is malformed or corruption exceeds the
// parity budget.
func Decode(encoded []byte) ([]byte, error) {
	n := len(encoded)
	if n <= ParityBytes {
		return nil, ErrUnrecoverable
	}
	k := n - ParityBytes

	synd := syndromes(encoded)
	if synd[0] == 0 && synd[1] == 0 && synd[2] == 0 && synd[3] == 0 {
		out := make([]byte, k)
		copy(out, encoded[:k])
		return out, nil
	}

	s1, s2, s3, s4 := synd[0], synd[1], synd[2], synd[3]

	if corrected, ok := tryCorrect2(encoded, s1, s2, s3, s4); ok {
		return corrected[:k], nil
	}
	if corrected, ok := tryCorrect1(encoded, s1, s2); ok {
		return corrected[:k], nil
	}
	return nil, ErrUnrecoverable
}

// syndromes computes S1..S4 = encoded(alpha^1)..encoded(alpha^4).
func syndromes(encoded []byte) [4]byte {
	var s [4]byte
	for i := range s {
		s[i] = gf256.PolyEval(encoded, gf256.Pow(2, i+1))
	}
	return s
}

// tryCorrect2 attempts Peterson-Gorenstein-Zierler decoding assuming exactly
// two byte errors. The 2x2 syndrome matrix is singular (det==0) whenever the
// true error count is less than two, which tryCorrect1 then handles.
func tryCorrect2(encoded []byte, s1, s2, s3, s4 byte) ([]byte, bool) {
	det := gf256.Mul(s1, s3) ^ gf256.Mul(s2, s2)
	if det == 0 {
		return nil, false
	}
	sigma2 := gf256.Div(gf256.Mul(s3, s3)^gf256.Mul(s2, s4), det)
	sigma1 := gf256.Div(gf256.Mul(s1, s4)^gf256.Mul(s2, s3), det)

	n := len(encoded)
	var exps []int
	for i := 0; i < n; i++ {
		xinv := gf256.Inv(gf256.Pow(2, i))
		val := byte(1) ^ gf256.Mul(sigma1, xinv) ^ gf256.Mul(sigma2, gf256.Mul(xinv, xinv))
		if val == 0 {
			exps = append(exps, i)
			if len(exps) > 2 {
				return nil, false
			}
		}
	}
	if len(exps) != 2 {
		return nil, false
	}

	x1 := gf256.Pow(2, exps[0])
	x2 := gf256.Pow(2, exps[1])
	d := gf256.Mul(x1, gf256.Mul(x2, x2)) ^ gf256.Mul(x2, gf256.Mul(x1, x1))
	if d == 0 {
		return nil, false
	}
	e1 := gf256.Div(gf256.Mul(s1, gf256.Mul(x2, x2))^gf256.Mul(x2, s2), d)
	e2 := gf256.Div(gf256.Mul(x1, s2)^gf256.Mul(s1, gf256.Mul(x1, x1)), d)

	corrected := append([]byte(nil), encoded...)
	corrected[n-1-exps[0]] ^= e1
	corrected[n-1-exps[1]] ^= e2

	if !verifyZero(corrected) {
		return nil, false
	}
	return corrected, true
}

// tryCorrect1 attempts decoding assuming exactly one byte error.
func tryCorrect1(encoded []byte, s1, s2 byte) ([]byte, bool) {
	if s1 == 0 {
		return nil, false
	}
	sigma1 := gf256.Div(s2, s1)

	n := len(encoded)
	var exps []int
	for i := 0; i < n; i++ {
		xinv := gf256.Inv(gf256.Pow(2, i))
		val := byte(1) ^ gf256.Mul(sigma1, xinv)
		if val == 0 {
			exps = append(exps, i)
			if len(exps) > 1 {
				return nil, false
			}
		}
	}
	if len(exps) != 1 {
		return nil, false
	}

	x1 := gf256.Pow(2, exps[0])
	e1 := gf256.Div(s1, x1)

	corrected := append([]byte(nil), encoded...)
	corrected[n-1-exps[0]] ^= e1

	if !verifyZero(corrected) {
		return nil, false
	}
	return corrected, true
}

func verifyZero(encoded []byte) bool {
	s := syndromes(encoded)
	return s[0] == 0 && s[1] == 0 && s[2] == 0 && s[3] == 0
}
