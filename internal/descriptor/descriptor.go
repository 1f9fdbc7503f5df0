// Package descriptor implements pure, allocation-free geometry queries
// over the compiler's array descriptor record (spec §3, §4.3): extent,
// size, contiguity, and the linear-index-to-byte-offset hot path used
// inside every transfer loop.
//
// The descriptor's base_addr is out of scope for this core (spec §1) —
// callers address an element's bytes by combining a Descriptor's
// geometry with whatever local/remote buffer the transfer engine is
// already holding. This package never touches memory itself.
package descriptor

// TypeCode is the compiler's BT_* element-type tag (spec §4.4).
type TypeCode int

const (
	Integer TypeCode = iota
	Real
	Complex
	Character
	Logical
	Derived
)

// Dim is one dimension's (stride, lower_bound, upper_bound) triple, all
// in element units (spec §3).
type Dim struct {
	Stride int64
	Lower  int64
	Upper  int64
}

// Descriptor is the fixed-record shape spec §3 defines: an element
// offset, a packed dtype (rank/type/size), and one Dim per dimension.
// Rank 0 means scalar (Dims is empty).
type Descriptor struct {
	Offset   int64 // element offset, spec §3
	ElemSize int64 // element byte size
	Type     TypeCode
	Kind     int // element kind width in bytes (1/2/4/8/16/32)
	Dims     []Dim
	CharLen  int64 // character arrays carry an extra length (spec §3)
}

func (d *Descriptor) Rank() int { return len(d.Dims) }

// PackDType packs {rank, type-code, element-size} into one machine word
// the way the compiler's descriptor record does (spec §3): rank in the
// low bits, type code in the middle, element size in the high bits.
func PackDType(rank int, t TypeCode, elemSize int64) uint64 {
	return uint64(rank&0x7) | uint64(t&0x7)<<3 | uint64(elemSize)<<6
}

// UnpackDType is PackDType's inverse.
func UnpackDType(v uint64) (rank int, t TypeCode, elemSize int64) {
	rank = int(v & 0x7)
	t = TypeCode((v >> 3) & 0x7)
	elemSize = int64(v >> 6)
	return
}

// Extent returns max(0, upper-lower+1) for dimension dim, spec §3.
func (d *Descriptor) Extent(dim int) int64 {
	e := d.Dims[dim].Upper - d.Dims[dim].Lower + 1
	if e < 0 {
		return 0
	}
	return e
}

// Size returns the total element count: the product of every
// dimension's extent, or 1 for a rank-0 (scalar) descriptor.
func (d *Descriptor) Size() int64 {
	if d.Rank() == 0 {
		return 1
	}
	var size int64 = 1
	for i := range d.Dims {
		size *= d.Extent(i)
	}
	return size
}

// ByteSize is Size() * ElemSize; for rank>=1 character arrays the caller
// is expected to have set ElemSize to the per-element byte width (CharLen
// already folded in), per spec §3/§4.7.
func (d *Descriptor) ByteSize() int64 { return d.Size() * d.ElemSize }

// IsContiguous reports whether every dimension's stride equals the
// running product of the extents of the lower dimensions (spec §3, §4.3,
// testable property P4). A rank-0 descriptor is trivially contiguous.
func (d *Descriptor) IsContiguous() bool {
	if d.Rank() == 0 {
		return true
	}
	var runningExtent int64 = 1
	for i := range d.Dims {
		if d.Dims[i].Stride != runningExtent {
			return false
		}
		runningExtent *= d.Extent(i)
	}
	return true
}

// ElementOffset returns the byte offset of the i-th element in linear
// index order (0 <= i < Size()), implementing spec §4.3's three-step
// algorithm exactly:
//
//  1. walk dimensions 0..rank-2, accumulating
//     ((i / runningExtent) mod extent_d) * stride_d, and growing
//     runningExtent by *= extent_d after each dimension;
//  2. for the last dimension add (i / runningExtent) * stride_{rank-1}
//     — dividing by the accumulated running product, never by the last
//     dimension's own extent (the corrected convention spec §4.3/§9
//     require; the legacy bug divides by a stale tot_ext/extent*stride
//     variable instead);
//  3. multiply the element-unit accumulator by ElemSize for the byte
//     offset.
func (d *Descriptor) ElementOffset(i int64) int64 {
	if d.Rank() == 0 {
		return d.Offset * d.ElemSize
	}
	var (
		acc           int64
		runningExtent int64 = 1
	)
	last := d.Rank() - 1
	for dim := 0; dim < last; dim++ {
		extent := d.Extent(dim)
		idx := (i / runningExtent) % extent
		acc += idx * d.Dims[dim].Stride
		runningExtent *= extent
	}
	acc += (i / runningExtent) * d.Dims[last].Stride
	return (d.Offset + acc) * d.ElemSize
}

// IsCharacter reports whether the descriptor carries character data.
func (d *Descriptor) IsCharacter() bool { return d.Type == Character }
