// Package gf256 implements arithmetic over GF(2^8) with the primitive
// polynomial x^8+x^4+x^3+x^2+1 (0x11D), the field used by internal/fec for
// Reed-Solomon encode/decode.
package gf256

// primPoly is the primitive polynomial used to build the exp/log tables.
const primPoly = 0x11d

var expTable [512]byte
var logTable [256]byte

func init() {
	x := 1
	for i := 0; i < 255; i++ {
		expTable[i] = byte(x)
		logTable[byte(x)] = byte(i)
		x <<= 1
		if x&0x100 != 0 {
			x ^= primPoly
		}
	}
	for i := 255; i < 512; i++ {
		expTable[i] = expTable[i-255]
	}
}

// Mul multiplies two field elements.
func Mul(a, b byte) byte {
	if a == 0 || b == 0 {
		return 0
	}
	return expTable[int(logTable[a])+int(logTable[b])]
}

// Div divides a by b. b must be nonzero.
func Div(a, b byte) byte {
	if a == 0 {
		return 0
	}
	return expTable[(int(logTable[a])-int(logTable[b])+255)%255]
}

// Pow raises a to the given non-negative power.
func Pow(a byte, power int) byte {
	if a == 0 {
		if power == 0 {
			return 1
		}
		return 0
	}
	p := (int(logTable[a]) * power) % 255
	if p < 0 {
		p += 255
	}
	return expTable[p]
}

// Inv returns the multiplicative inverse of a. a must be nonzero.
func Inv(a byte) byte {
	return expTable[255-int(logTable[a])]
}

// PolyEval evaluates poly (coefficients highest-degree first, as in a
// codeword) at x using Horner's method.
func PolyEval(poly []byte, x byte) byte {
	y := poly[0]
	for i := 1; i < len(poly); i++ {
		y = Mul(y, x) ^ poly[i]
	}
	return y
}

// PolyMul multiplies two polynomials (highest-degree coefficient first).
func PolyMul(p, q []byte) []byte {
	out := make([]byte, len(p)+len(q)-1)
	for i, pc := range p {
		if pc == 0 {
			continue
		}
		for j, qc := range q {
			out[i+j] ^= Mul(pc, qc)
		}
	}
	return out
}
