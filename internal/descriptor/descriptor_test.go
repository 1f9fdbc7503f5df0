package descriptor

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
)

// contiguous builds a column-major (Fortran-order) rank-n descriptor over
// extents, the shape IsContiguous is defined against: dim 0's stride is 1,
// each later dimension's stride is the running product of the extents of
// the dimensions before it.
func contiguous(extents ...int64) *Descriptor {
	d := &Descriptor{ElemSize: 8, Type: Real, Kind: 8}
	var stride int64 = 1
	for _, e := range extents {
		d.Dims = append(d.Dims, Dim{Stride: stride, Lower: 1, Upper: e})
		stride *= e
	}
	return d
}

var _ = Describe("Descriptor", func() {
	Describe("IsContiguous", func() {
		DescribeTable("reports contiguity across ranks",
			func(extents []int64) {
				d := contiguous(extents...)
				Expect(d.IsContiguous()).To(BeTrue())
				Expect(d.Rank()).To(Equal(len(extents)))
			},
			Entry("rank 0 (scalar)", []int64{}),
			Entry("rank 1", []int64{4}),
			Entry("rank 2", []int64{3, 4}),
			Entry("rank 3", []int64{2, 3, 4}),
			Entry("rank 4", []int64{2, 2, 3, 4}),
			Entry("rank 5", []int64{2, 2, 2, 3, 4}),
			Entry("rank 6", []int64{2, 2, 2, 2, 3, 4}),
			Entry("rank 7", []int64{2, 2, 2, 2, 2, 3, 4}),
		)

		It("reports non-contiguous when a stride skips a gap", func() {
			d := contiguous(3, 4)
			d.Dims[1].Stride = 10 // should be 3
			Expect(d.IsContiguous()).To(BeFalse())
		})

		It("treats a singleton trailing section as still contiguous", func() {
			// a(1:3, 2:2) of a 3x4 array: non-unit lower bound on the
			// sliced dimension, but the slice itself is still one
			// contiguous run since its extent is 1.
			d := contiguous(3, 4)
			d.Dims[1] = Dim{Stride: 3, Lower: 2, Upper: 2}
			Expect(d.IsContiguous()).To(BeTrue())
		})
	})

	Describe("Size", func() {
		It("is 1 for a scalar", func() {
			Expect((&Descriptor{ElemSize: 4}).Size()).To(Equal(int64(1)))
		})

		It("is the product of extents", func() {
			d := contiguous(3, 4, 5)
			Expect(d.Size()).To(Equal(int64(60)))
		})

		It("clamps an empty section to zero elements", func() {
			d := contiguous(3)
			d.Dims[0].Upper = 0 // a(1:0) is a zero-length section
			Expect(d.Extent(0)).To(Equal(int64(0)))
			Expect(d.Size()).To(Equal(int64(0)))
		})
	})

	Describe("ElementOffset", func() {
		It("walks a scalar to its own offset", func() {
			d := &Descriptor{Offset: 7, ElemSize: 8}
			Expect(d.ElementOffset(0)).To(Equal(int64(56)))
		})

		It("matches hand-computed column-major offsets for rank 2", func() {
			d := contiguous(3, 4)
			// linear index i corresponds to (row, col) = (i%3, i/3) in
			// zero-based column-major order; offset is (row + col*3)*8.
			for i := int64(0); i < d.Size(); i++ {
				row := i % 3
				col := i / 3
				want := (row + col*3) * d.ElemSize
				Expect(d.ElementOffset(i)).To(Equal(want), "i=%d", i)
			}
		})

		It("accounts for a non-unit lower bound via the descriptor's own offset field", func() {
			// a(2:4) aliased at element offset 10: linear index 0 is
			// element 2 of the section, landing at offset (10+0)*8.
			d := &Descriptor{Offset: 10, ElemSize: 8, Dims: []Dim{{Stride: 1, Lower: 2, Upper: 4}}}
			Expect(d.ElementOffset(0)).To(Equal(int64(80)))
			Expect(d.ElementOffset(2)).To(Equal(int64(96)))
		})

		It("divides by the running extent product, not the last dimension's own extent", func() {
			// a 2x3 strided section (col stride 10, not 2): the corrected
			// algorithm must still divide by the running product (2) for
			// the last dimension, never by the last dimension's own
			// extent (3) or a stale combined stride.
			d := &Descriptor{ElemSize: 8, Dims: []Dim{
				{Stride: 1, Lower: 1, Upper: 2},
				{Stride: 10, Lower: 1, Upper: 3},
			}}
			// i=5 -> row = 5%2 = 1, col = 5/2 = 2 -> offset (1 + 2*10)*8
			Expect(d.ElementOffset(5)).To(Equal(int64((1 + 2*10) * 8)))
		})

		It("regression: rank 3 with a non-unit last-dimension stride", func() {
			// a 2x3x2 section where the last dimension's stride (100) is
			// neither 1 nor the running extent product (6), so a bug that
			// divides by the last dimension's own extent (2) or multiplies
			// by it instead of the running product would miscompute every
			// index past the first plane.
			d := &Descriptor{ElemSize: 8, Dims: []Dim{
				{Stride: 1, Lower: 1, Upper: 2},
				{Stride: 2, Lower: 1, Upper: 3},
				{Stride: 100, Lower: 1, Upper: 2},
			}}
			Expect(d.Rank()).To(Equal(3))
			Expect(d.Size()).To(Equal(int64(12)))

			for i := int64(0); i < d.Size(); i++ {
				d0 := i % 2
				d1 := (i / 2) % 3
				d2 := i / 6
				want := (d0*1 + d1*2 + d2*100) * d.ElemSize
				Expect(d.ElementOffset(i)).To(Equal(want), "i=%d", i)
			}
		})
	})

	Describe("PackDType/UnpackDType", func() {
		It("round-trips rank, type code, and element size", func() {
			packed := PackDType(3, Complex, 16)
			rank, t, elemSize := UnpackDType(packed)
			Expect(rank).To(Equal(3))
			Expect(t).To(Equal(Complex))
			Expect(elemSize).To(Equal(int64(16)))
		})
	})

	Describe("IsCharacter", func() {
		It("is true only for Character descriptors", func() {
			Expect((&Descriptor{Type: Character}).IsCharacter()).To(BeTrue())
			Expect((&Descriptor{Type: Integer}).IsCharacter()).To(BeFalse())
		})
	})
})
