package transport

import (
	"encoding/binary"
	"math"
)

// ApplyOp performs op on the little-endian-encoded value at dst (len ==
// DTypeSize(dt)) using src as the operand, returning the pre-operation
// value. Both local and tcpb backends share this so the RMW semantics
// (spec §4.1 accumulate/fetch_and_op) are identical regardless of
// transport.
func ApplyOp(dst, src []byte, dt DType, op AtomicOp) []byte {
	old := append([]byte(nil), dst...)
	switch dt {
	case DTypeInt32:
		a := int32(binary.LittleEndian.Uint32(dst))
		b := int32(binary.LittleEndian.Uint32(src))
		binary.LittleEndian.PutUint32(dst, uint32(intOp(int64(a), int64(b), op)))
	case DTypeInt64:
		a := int64(binary.LittleEndian.Uint64(dst))
		b := int64(binary.LittleEndian.Uint64(src))
		binary.LittleEndian.PutUint64(dst, uint64(intOp(a, b, op)))
	case DTypeFloat32:
		a := math.Float32frombits(binary.LittleEndian.Uint32(dst))
		b := math.Float32frombits(binary.LittleEndian.Uint32(src))
		binary.LittleEndian.PutUint32(dst, math.Float32bits(float32(floatOp(float64(a), float64(b), op))))
	case DTypeFloat64:
		a := math.Float64frombits(binary.LittleEndian.Uint64(dst))
		b := math.Float64frombits(binary.LittleEndian.Uint64(src))
		binary.LittleEndian.PutUint64(dst, math.Float64bits(floatOp(a, b, op)))
	default:
		// byte-wise bitwise ops / replace for everything else (complex,
		// raw bytes): sum is undefined, treated as replace.
		switch op {
		case OpReplace, OpSum:
			copy(dst, src)
		case OpBand:
			for i := range dst {
				dst[i] &= src[i]
			}
		case OpBor:
			for i := range dst {
				dst[i] |= src[i]
			}
		case OpBxor:
			for i := range dst {
				dst[i] ^= src[i]
			}
		case OpNoOp:
			// no mutation; dst already holds the read value.
		}
	}
	return old
}

func intOp(a, b int64, op AtomicOp) int64 {
	switch op {
	case OpReplace:
		return b
	case OpSum:
		return a + b
	case OpBand:
		return a & b
	case OpBor:
		return a | b
	case OpBxor:
		return a ^ b
	case OpMin:
		if b < a {
			return b
		}
		return a
	case OpMax:
		if b > a {
			return b
		}
		return a
	case OpNoOp:
		return a
	default:
		return a
	}
}

func floatOp(a, b float64, op AtomicOp) float64 {
	switch op {
	case OpReplace:
		return b
	case OpSum:
		return a + b
	case OpMin:
		if b < a {
			return b
		}
		return a
	case OpMax:
		if b > a {
			return b
		}
		return a
	case OpNoOp:
		return a
	default:
		return a
	}
}

// BytesEqual reports byte-for-byte equality, used by CompareAndSwap's
// compare argument.
func BytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
