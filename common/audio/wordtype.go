package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// WordType names the numeric format of one sample on the wire.
type WordType string

const (
	WordUint8   WordType = "uint8"
	WordInt16   WordType = "int16"
	WordInt32   WordType = "int32"
	WordFloat32 WordType = "float32"
	WordFloat64 WordType = "float64"
)

// Size returns the number of bytes per sample, or 0 for an unknown word type.
func (w WordType) Size() int {
	switch w {
	case WordUint8:
		return 1
	case WordInt16:
		return 2
	case WordInt32, WordFloat32:
		return 4
	case WordFloat64:
		return 8
	default:
		return 0
	}
}

// Valid reports whether w is a supported word type.
func (w WordType) Valid() bool { return w.Size() > 0 }

// FullScale returns the largest positive sample amplitude of w: 1 for float
// types, the signed maximum for integer types and 127 around the 128 midpoint
// for uint8.
func (w WordType) FullScale() float64 {
	switch w {
	case WordUint8:
		return math.MaxInt8
	case WordInt16:
		return math.MaxInt16
	case WordInt32:
		return math.MaxInt32
	default:
		return 1
	}
}

// Midpoint returns the sample value of silence for w.
func (w WordType) Midpoint() float64 {
	if w == WordUint8 {
		return 128
	}
	return 0
}

// AppendSamples appends samples encoded as little-endian w to dst.
// Integer word types round to nearest and saturate at the type's range.
func (w WordType) AppendSamples(dst []byte, samples []float64) ([]byte, error) {
	size := w.Size()
	if size == 0 {
		return nil, fmt.Errorf("audio: unknown word type %q", string(w))
	}

	start := len(dst)
	n := start + len(samples)*size
	if cap(dst) < n {
		grown := make([]byte, start, n)
		copy(grown, dst)
		dst = grown
	}
	dst = dst[:n]
	b := dst[start:]

	switch w {
	case WordUint8:
		for i, s := range samples {
			b[i] = uint8(clampRound(s, 0, math.MaxUint8))
		}
	case WordInt16:
		for i, s := range samples {
			binary.LittleEndian.PutUint16(b[i*2:], uint16(int16(clampRound(s, math.MinInt16, math.MaxInt16))))
		}
	case WordInt32:
		for i, s := range samples {
			binary.LittleEndian.PutUint32(b[i*4:], uint32(int32(clampRound(s, math.MinInt32, math.MaxInt32))))
		}
	case WordFloat32:
		for i, s := range samples {
			binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(float32(s)))
		}
	case WordFloat64:
		for i, s := range samples {
			binary.LittleEndian.PutUint64(b[i*8:], math.Float64bits(s))
		}
	}
	return dst, nil
}

// DecodeSamples decodes a flat little-endian buffer of w samples.
// len(b) must be a multiple of w.Size().
func (w WordType) DecodeSamples(b []byte) ([]float64, error) {
	size := w.Size()
	if size == 0 {
		return nil, fmt.Errorf("audio: unknown word type %q", string(w))
	}
	if len(b)%size != 0 {
		return nil, fmt.Errorf("audio: %d bytes is not a whole number of %s samples", len(b), w)
	}

	out := make([]float64, len(b)/size)
	switch w {
	case WordUint8:
		for i := range out {
			out[i] = float64(b[i])
		}
	case WordInt16:
		for i := range out {
			out[i] = float64(int16(binary.LittleEndian.Uint16(b[i*2:])))
		}
	case WordInt32:
		for i := range out {
			out[i] = float64(int32(binary.LittleEndian.Uint32(b[i*4:])))
		}
	case WordFloat32:
		for i := range out {
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:])))
		}
	case WordFloat64:
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
		}
	}
	return out, nil
}

func clampRound(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	v = math.Round(v)
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
