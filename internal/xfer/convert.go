package xfer

import (
	"encoding/binary"
	"math"

	"github.com/caflang/pgasrt/internal/descriptor"
)

// needsConversion reports whether copying one element from src to dst
// requires going through convertElement rather than a raw byte copy
// (spec §4.4: "only invoked when types or kinds differ"). A character
// pair also needs conversion when their declared lengths differ, even
// though Type and Kind match, since padding still has to happen.
func needsConversion(src, dst *descriptor.Descriptor) bool {
	if src.Type != dst.Type || src.Kind != dst.Kind {
		return true
	}
	return src.Type == descriptor.Character && src.ElemSize != dst.ElemSize
}

// convertElement converts one element's raw bytes from src's type/kind
// to dst's, routing through a widening intermediate (largest supported
// integer/real/complex width) the way the compiler's own
// BT_INTEGER/BT_REAL/BT_COMPLEX conversion table does (spec §4.4).
// Character conversion right-pads with space instead of numerically
// converting.
func convertElement(raw []byte, src, dst *descriptor.Descriptor) []byte {
	if src.Type == descriptor.Character || dst.Type == descriptor.Character {
		return convertCharacter(raw, src.Kind, dst.Kind, dst.ElemSize)
	}

	switch src.Type {
	case descriptor.Integer:
		v := decodeInt(raw, src.Kind)
		return encodeNumeric(dst.Type, dst.Kind, float64(v), complex(float64(v), 0), v)
	case descriptor.Real:
		v := decodeFloat(raw, src.Kind)
		return encodeNumeric(dst.Type, dst.Kind, v, complex(v, 0), int64(v))
	case descriptor.Complex:
		v := decodeComplex(raw, src.Kind)
		return encodeNumeric(dst.Type, dst.Kind, real(v), v, int64(real(v)))
	default:
		// Logical/Derived: no numeric conversion defined; copy verbatim
		// up to the narrower width.
		n := len(raw)
		if dst.Kind < n {
			n = dst.Kind
		}
		out := make([]byte, dst.Kind)
		copy(out, raw[:n])
		return out
	}
}

func encodeNumeric(dstType descriptor.TypeCode, dstKind int, f float64, c complex128, i int64) []byte {
	switch dstType {
	case descriptor.Integer:
		return encodeInt(i, dstKind)
	case descriptor.Real:
		return encodeFloat(f, dstKind)
	case descriptor.Complex:
		return encodeComplex(c, dstKind)
	default:
		return make([]byte, dstKind)
	}
}

func decodeInt(raw []byte, kind int) int64 {
	switch kind {
	case 1:
		return int64(int8(raw[0]))
	case 2:
		return int64(int16(binary.LittleEndian.Uint16(raw)))
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(raw)))
	default:
		return int64(binary.LittleEndian.Uint64(raw))
	}
}

func encodeInt(v int64, kind int) []byte {
	out := make([]byte, kind)
	switch kind {
	case 1:
		out[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(out, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(out, uint32(v))
	default:
		binary.LittleEndian.PutUint64(out, uint64(v))
	}
	return out
}

func decodeFloat(raw []byte, kind int) float64 {
	if kind == 4 {
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(raw)))
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(raw))
}

func encodeFloat(v float64, kind int) []byte {
	out := make([]byte, kind)
	if kind == 4 {
		binary.LittleEndian.PutUint32(out, math.Float32bits(float32(v)))
		return out
	}
	binary.LittleEndian.PutUint64(out, math.Float64bits(v))
	return out
}

func decodeComplex(raw []byte, kind int) complex128 {
	half := kind / 2
	re := decodeFloat(raw[:half], half)
	im := decodeFloat(raw[half:], half)
	return complex(re, im)
}

func encodeComplex(v complex128, kind int) []byte {
	half := kind / 2
	out := make([]byte, kind)
	copy(out[:half], encodeFloat(real(v), half))
	copy(out[half:], encodeFloat(imag(v), half))
	return out
}

// convertCharacter converts a single source character element's bytes
// (srcKind bytes per character) to a dstKind representation, right-padded
// to dstElemSize bytes, using an ASCII space for a 1-byte kind or a 4-byte
// (UTF-32) space for a wide kind (spec §4.4's "ASCII space for
// single-byte kind, 32-bit space for 4-byte kind").
//
// A kind-1-to-kind-4 widen zero-extends each source byte into its own
// 4-byte slot; a kind-4-to-kind-1 narrow maps each codepoint in [0,127]
// to that byte and anything higher to '?' (testable property P5). When
// srcKind == dstKind this degenerates to a byte-for-byte copy padded (or
// truncated) out to length, since the character units already agree.
func convertCharacter(raw []byte, srcKind, dstKind, dstElemSize int) []byte {
	out := make([]byte, dstElemSize)

	switch {
	case srcKind == dstKind:
		n := len(raw)
		if n > dstElemSize {
			n = dstElemSize
		}
		copy(out, raw[:n])
		pad := spaceUnit(dstKind)
		for i := n; i+len(pad) <= dstElemSize; i += len(pad) {
			copy(out[i:], pad)
		}

	case srcKind == 1 && dstKind == 4:
		srcChars := len(raw)
		dstChars := dstElemSize / 4
		n := srcChars
		if n > dstChars {
			n = dstChars
		}
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint32(out[i*4:], uint32(raw[i]))
		}
		pad := spaceUnit(4)
		for i := n * 4; i+len(pad) <= dstElemSize; i += len(pad) {
			copy(out[i:], pad)
		}

	case srcKind == 4 && dstKind == 1:
		srcChars := len(raw) / 4
		n := srcChars
		if n > dstElemSize {
			n = dstElemSize
		}
		for i := 0; i < n; i++ {
			cp := binary.LittleEndian.Uint32(raw[i*4:])
			if cp > 127 {
				out[i] = '?'
			} else {
				out[i] = byte(cp)
			}
		}
		for i := n; i < dstElemSize; i++ {
			out[i] = ' '
		}

	default:
		// No other character kind pairing is defined by this runtime;
		// fall back to a direct byte copy truncated/padded to size.
		n := len(raw)
		if n > dstElemSize {
			n = dstElemSize
		}
		copy(out, raw[:n])
	}
	return out
}

func spaceUnit(kind int) []byte {
	if kind == 4 {
		return []byte{' ', 0, 0, 0}
	}
	return []byte{' '}
}
