package vectorstore

import (
	"encoding/binary"
	"fmt"
	"math"
)

// packDense serializes a float32 slice as raw little-endian bytes,
// L2-normalizing first when normalize is requested. The zero vector passes
// through unchanged rather than dividing by zero.
func packDense(vec []float32, dimension int, normalize bool) ([]byte, error) {
	if len(vec) != dimension {
		return nil, fmt.Errorf("%w: got %d want %d", ErrDimensionMismatch, len(vec), dimension)
	}
	out := vec
	if normalize {
		out = normalizeVector(vec)
	}
	buf := make([]byte, 4*len(out))
	for i, f := range out {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf, nil
}

func unpackDense(b []byte) []float32 {
	n := len(b) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

func normalizeVector(v []float32) []float32 {
	var sumSq float64
	for _, f := range v {
		sumSq += float64(f) * float64(f)
	}
	if sumSq == 0 {
		return v
	}
	norm := math.Sqrt(sumSq)
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) / norm)
	}
	return out
}

// packBits packs a bit source, which may be []bool, []int (0/1), or a
// pre-packed []byte.
func packBits(src any, dimension int) ([]byte, error) {
	switch v := src.(type) {
	case []byte:
		if 8*len(v) < dimension {
			return nil, fmt.Errorf("%w: got %d bits want >= %d", ErrDimensionMismatch, 8*len(v), dimension)
		}
		out := make([]byte, len(v))
		copy(out, v)
		return out, nil
	case []bool:
		if len(v) != dimension {
			return nil, fmt.Errorf("%w: got %d want %d", ErrDimensionMismatch, len(v), dimension)
		}
		return packBools(v), nil
	case []int:
		if len(v) != dimension {
			return nil, fmt.Errorf("%w: got %d want %d", ErrDimensionMismatch, len(v), dimension)
		}
		bools := make([]bool, len(v))
		for i, b := range v {
			bools[i] = b != 0
		}
		return packBools(bools), nil
	default:
		return nil, fmt.Errorf("vectorstore: unsupported bit source type %T", src)
	}
}

func packBools(bits []bool) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

// popcountTable is the 256-entry lookup table used by the in-language
// Hamming fallback.
var popcountTable [256]byte

func init() {
	for i := 0; i < 256; i++ {
		n := i
		var c byte
		for n != 0 {
			c += byte(n & 1)
			n >>= 1
		}
		popcountTable[i] = c
	}
}

// hammingFallback computes the Hamming distance between two equal-length
// packed byte sequences via byte-wise XOR and table lookup.
func hammingFallback(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dist int
	for i := 0; i < n; i++ {
		dist += int(popcountTable[a[i]^b[i]])
	}
	return dist
}

func cosineScore(q, v []float32) float64 {
	var dot float64
	n := len(q)
	if len(v) < n {
		n = len(v)
	}
	for i := 0; i < n; i++ {
		dot += float64(q[i]) * float64(v[i])
	}
	return dot
}

func euclideanScore(q, v []float32) float64 {
	var sum float64
	n := len(q)
	if len(v) < n {
		n = len(v)
	}
	for i := 0; i < n; i++ {
		d := float64(q[i]) - float64(v[i])
		sum += d * d
	}
	return -math.Sqrt(sum)
}
