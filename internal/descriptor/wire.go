package descriptor

import "encoding/binary"

// MaxRank bounds the dimension count a wire-encoded descriptor carries,
// matching the Fortran front end's own compile-time cap (spec §3 never
// states one explicitly; §8 requires coverage through rank 7, so 7 is
// the floor this module commits to).
const MaxRank = 7

// WireSize is the fixed byte length of an encoded descriptor: enough for
// any rank up to MaxRank, so the registry can size a desc_win once at
// register time without inspecting the descriptor it will later carry.
const WireSize = 8*6 + MaxRank*8*3 // offset,elemsize,type,kind,charlen,rank + dims

// EncodeWire packs d into a fixed-size buffer a remote image can fetch
// via a one-sided get against the segment's companion descriptor window
// (spec §3's desc_win, spec §4.2's register-only/full variants).
func EncodeWire(d *Descriptor) []byte {
	buf := make([]byte, WireSize)
	binary.LittleEndian.PutUint64(buf[0:], uint64(d.Offset))
	binary.LittleEndian.PutUint64(buf[8:], uint64(d.ElemSize))
	binary.LittleEndian.PutUint64(buf[16:], uint64(d.Type))
	binary.LittleEndian.PutUint64(buf[24:], uint64(d.Kind))
	binary.LittleEndian.PutUint64(buf[32:], uint64(d.CharLen))
	binary.LittleEndian.PutUint64(buf[40:], uint64(d.Rank()))
	off := 48
	for i := 0; i < d.Rank() && i < MaxRank; i++ {
		binary.LittleEndian.PutUint64(buf[off:], uint64(d.Dims[i].Stride))
		binary.LittleEndian.PutUint64(buf[off+8:], uint64(d.Dims[i].Lower))
		binary.LittleEndian.PutUint64(buf[off+16:], uint64(d.Dims[i].Upper))
		off += 24
	}
	return buf
}

// DecodeWire is EncodeWire's inverse.
func DecodeWire(buf []byte) *Descriptor {
	d := &Descriptor{
		Offset:   int64(binary.LittleEndian.Uint64(buf[0:])),
		ElemSize: int64(binary.LittleEndian.Uint64(buf[8:])),
		Type:     TypeCode(binary.LittleEndian.Uint64(buf[16:])),
		Kind:     int(binary.LittleEndian.Uint64(buf[24:])),
		CharLen:  int64(binary.LittleEndian.Uint64(buf[32:])),
	}
	rank := int(binary.LittleEndian.Uint64(buf[40:]))
	off := 48
	for i := 0; i < rank && i < MaxRank; i++ {
		d.Dims = append(d.Dims, Dim{
			Stride: int64(binary.LittleEndian.Uint64(buf[off:])),
			Lower:  int64(binary.LittleEndian.Uint64(buf[off+8:])),
			Upper:  int64(binary.LittleEndian.Uint64(buf[off+16:])),
		})
		off += 24
	}
	return d
}
