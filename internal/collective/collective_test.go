package collective

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/caflang/pgasrt/internal/descriptor"
	"github.com/caflang/pgasrt/internal/tassert"
	"github.com/caflang/pgasrt/internal/transport/local"
)

func setup(t *testing.T) (context.Context, *Collective, *local.Backend) {
	t.Helper()
	ctx := context.Background()
	b := local.New()
	tassert.CheckFatal(t, b.Init(ctx))
	return ctx, New(b), b
}

func i64bytes(v int64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(v))
	return buf
}

func f64bytes(v float64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
	return buf
}

func TestSumSingleImageIsIdentity(t *testing.T) {
	ctx, c, b := setup(t)
	win, err := b.WinCreate(8)
	tassert.CheckFatal(t, err)
	tassert.CheckFatal(t, b.Put(ctx, win, 0, 0, i64bytes(41)))

	desc := &descriptor.Descriptor{ElemSize: 8, Type: descriptor.Integer, Kind: 8}
	tassert.CheckFatal(t, c.Sum(ctx, win, 0, desc, 0))

	out := make([]byte, 8)
	tassert.CheckFatal(t, b.Get(ctx, win, 0, 0, out))
	tassert.Fatal(t, bytes.Equal(out, i64bytes(41)), "sum over a single image should be the identity")
}

func TestBroadcastRoundTrips(t *testing.T) {
	ctx, c, b := setup(t)
	win, err := b.WinCreate(8)
	tassert.CheckFatal(t, err)
	tassert.CheckFatal(t, b.Put(ctx, win, 0, 0, i64bytes(7)))

	desc := &descriptor.Descriptor{ElemSize: 8, Type: descriptor.Integer, Kind: 8}
	tassert.CheckFatal(t, c.Broadcast(ctx, win, 0, desc, 0))

	out := make([]byte, 8)
	tassert.CheckFatal(t, b.Get(ctx, win, 0, 0, out))
	tassert.Fatal(t, bytes.Equal(out, i64bytes(7)), "broadcast from and to the sole image should preserve the value")
}

func TestReduceWithCustomFunc(t *testing.T) {
	ctx, c, b := setup(t)
	win, err := b.WinCreate(16)
	tassert.CheckFatal(t, err)
	tassert.CheckFatal(t, b.Put(ctx, win, 0, 0, f64bytes(3)))
	tassert.CheckFatal(t, b.Put(ctx, win, 0, 8, f64bytes(9)))

	desc := &descriptor.Descriptor{
		ElemSize: 8, Type: descriptor.Real, Kind: 8,
		Dims: []descriptor.Dim{{Stride: 1, Lower: 1, Upper: 2}},
	}

	maxFn := func(a, b []byte) []byte {
		av := math.Float64frombits(binary.LittleEndian.Uint64(a))
		bv := math.Float64frombits(binary.LittleEndian.Uint64(b))
		if bv > av {
			return b
		}
		return a
	}

	tassert.CheckFatal(t, c.Reduce(ctx, win, 0, desc, maxFn, false, 0))

	out := make([]byte, 16)
	tassert.CheckFatal(t, b.Get(ctx, win, 0, 0, out))
	tassert.Fatal(t, bytes.Equal(out[0:8], f64bytes(3)), "single-image reduce is a no-op fold, first element unchanged")
	tassert.Fatal(t, bytes.Equal(out[8:16], f64bytes(9)), "single-image reduce is a no-op fold, second element unchanged")
}

func TestReduceRejectsUnsupportedType(t *testing.T) {
	ctx, c, b := setup(t)
	win, err := b.WinCreate(8)
	tassert.CheckFatal(t, err)

	desc := &descriptor.Descriptor{ElemSize: 8, Type: descriptor.Derived, Kind: 8}
	err = c.Reduce(ctx, win, 0, desc, func(a, _ []byte) []byte { return a }, false, 0)
	tassert.Fatal(t, err != nil, "co_reduce over a derived type must be rejected")
}

func TestReduceRejects64BitInteger(t *testing.T) {
	ctx, c, b := setup(t)
	win, err := b.WinCreate(8)
	tassert.CheckFatal(t, err)
	tassert.CheckFatal(t, b.Put(ctx, win, 0, 0, i64bytes(5)))

	// co_reduce's type restriction is narrower than co_sum/co_min/co_max:
	// a 64-bit integer is not in its supported list, even though Sum
	// accepts it fine (see TestSumSingleImageIsIdentity).
	desc := &descriptor.Descriptor{ElemSize: 8, Type: descriptor.Integer, Kind: 8}
	err = c.Reduce(ctx, win, 0, desc, func(a, _ []byte) []byte { return a }, false, 0)
	tassert.Fatal(t, err != nil, "co_reduce over a 64-bit integer must be rejected")
}
