// Package collective implements co_broadcast, co_sum/co_min/co_max, and
// the user-defined co_reduce (spec §4.7), layered on transport.Backend's
// own Reduce/Broadcast primitives rather than reimplementing coordination.
package collective

import (
	"context"
	"encoding/binary"

	"github.com/caflang/pgasrt/internal/descriptor"
	"github.com/caflang/pgasrt/internal/transport"
	"github.com/caflang/pgasrt/internal/xerrors"
)

// Collective is a thin wrapper over transport.Backend; one instance is
// shared by every coarray in a process.
type Collective struct {
	backend transport.Backend
}

func New(backend transport.Backend) *Collective {
	return &Collective{backend: backend}
}

// resolveRoot translates the ABI's result_image convention (spec §4.7):
// 0 means all-reduce, otherwise it is a 1-based image id.
func (c *Collective) resolveRoot(resultImage int) (root int, all bool) {
	if resultImage == 0 {
		return 0, true
	}
	return resultImage - 1, false
}

func dtypeFor(d *descriptor.Descriptor) (transport.DType, error) {
	switch d.Type {
	case descriptor.Integer:
		if d.Kind == 4 {
			return transport.DTypeInt32, nil
		}
		return transport.DTypeInt64, nil
	case descriptor.Real:
		if d.Kind == 4 {
			return transport.DTypeFloat32, nil
		}
		return transport.DTypeFloat64, nil
	case descriptor.Complex:
		if d.Kind == 8 {
			return transport.DTypeComplex64, nil
		}
		return transport.DTypeComplex128, nil
	default:
		return 0, xerrors.New(xerrors.StatFailure, "co_reduce: unsupported element type")
	}
}

// Broadcast implements co_broadcast (spec §4.7). sourceImage follows the
// ABI's 1-based convention, 0-translated by the caller at the boundary
// like every other image argument in this module — except here it is
// never a "self" sentinel, so callers pass the 0-based rank directly.
func (c *Collective) Broadcast(ctx context.Context, win transport.Window, offset int64, desc *descriptor.Descriptor, root int) error {
	if desc.IsCharacter() && desc.Rank() >= 1 {
		return xerrors.New(xerrors.StatFailure, "co_broadcast: character arrays of rank >= 1 are not supported")
	}
	me := c.backend.MyRank()

	if desc.Rank() == 0 {
		if desc.IsCharacter() {
			return c.broadcastCharacter(ctx, win, offset, desc, root, me)
		}
		return c.broadcastBytes(ctx, win, offset, desc.ByteSize(), root, me)
	}

	n := desc.Size()
	for i := int64(0); i < n; i++ {
		off := offset + desc.ElementOffset(i)
		if err := c.broadcastBytes(ctx, win, off, desc.ElemSize, root, me); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collective) broadcastBytes(ctx context.Context, win transport.Window, offset, n int64, root, me int) error {
	buf := make([]byte, n)
	if me == root {
		if err := c.backend.Get(ctx, win, me, offset, buf); err != nil {
			return xerrors.Transport("co_broadcast", err)
		}
	}
	if err := c.backend.Broadcast(ctx, buf, root); err != nil {
		return xerrors.Transport("co_broadcast", err)
	}
	if me != root {
		if err := c.backend.Put(ctx, win, me, offset, buf); err != nil {
			return xerrors.Transport("co_broadcast", err)
		}
	}
	return nil
}

// broadcastCharacter implements the scalar-character case: the length
// travels first, as a 4-byte integer, then that many bytes (spec §4.7).
func (c *Collective) broadcastCharacter(ctx context.Context, win transport.Window, offset int64, desc *descriptor.Descriptor, root, me int) error {
	lenBuf := make([]byte, 4)
	if me == root {
		binary.LittleEndian.PutUint32(lenBuf, uint32(desc.ElemSize))
	}
	if err := c.backend.Broadcast(ctx, lenBuf, root); err != nil {
		return xerrors.Transport("co_broadcast", err)
	}
	length := int64(binary.LittleEndian.Uint32(lenBuf))

	data := make([]byte, length)
	if me == root {
		if err := c.backend.Get(ctx, win, me, offset, data); err != nil {
			return xerrors.Transport("co_broadcast", err)
		}
	}
	if err := c.backend.Broadcast(ctx, data, root); err != nil {
		return xerrors.Transport("co_broadcast", err)
	}
	if me != root {
		n := length
		if n > desc.ElemSize {
			n = desc.ElemSize
		}
		out := make([]byte, desc.ElemSize)
		copy(out, data[:n])
		for i := n; i < desc.ElemSize; i++ {
			out[i] = ' '
		}
		if err := c.backend.Put(ctx, win, me, offset, out); err != nil {
			return xerrors.Transport("co_broadcast", err)
		}
	}
	return nil
}

func (c *Collective) builtinReduce(ctx context.Context, win transport.Window, offset int64, desc *descriptor.Descriptor, op transport.AtomicOp, resultImage int) error {
	dt, err := dtypeFor(desc)
	if err != nil {
		return err
	}
	root, all := c.resolveRoot(resultImage)
	me := c.backend.MyRank()
	n := desc.Size()

	// Contiguous sources cover the whole array in one collective call
	// (spec §4.7); non-contiguous sources loop element by element.
	if desc.IsContiguous() {
		buf := make([]byte, n*desc.ElemSize)
		if err := c.backend.Get(ctx, win, me, offset, buf); err != nil {
			return xerrors.Transport("co_reduce", err)
		}
		combined, err := c.backend.Reduce(ctx, op, buf, int(n), dt, root, all)
		if err != nil {
			return xerrors.Transport("co_reduce", err)
		}
		if all || me == root {
			if err := c.backend.Put(ctx, win, me, offset, combined); err != nil {
				return xerrors.Transport("co_reduce", err)
			}
		}
		return nil
	}

	for i := int64(0); i < n; i++ {
		off := offset + desc.ElementOffset(i)
		buf := make([]byte, desc.ElemSize)
		if err := c.backend.Get(ctx, win, me, off, buf); err != nil {
			return xerrors.Transport("co_reduce", err)
		}
		combined, err := c.backend.Reduce(ctx, op, buf, 1, dt, root, all)
		if err != nil {
			return xerrors.Transport("co_reduce", err)
		}
		if all || me == root {
			if err := c.backend.Put(ctx, win, me, off, combined); err != nil {
				return xerrors.Transport("co_reduce", err)
			}
		}
	}
	return nil
}

// Sum implements co_sum.
func (c *Collective) Sum(ctx context.Context, win transport.Window, offset int64, desc *descriptor.Descriptor, resultImage int) error {
	return c.builtinReduce(ctx, win, offset, desc, transport.OpSum, resultImage)
}

// Min implements co_min.
func (c *Collective) Min(ctx context.Context, win transport.Window, offset int64, desc *descriptor.Descriptor, resultImage int) error {
	return c.builtinReduce(ctx, win, offset, desc, transport.OpMin, resultImage)
}

// Max implements co_max.
func (c *Collective) Max(ctx context.Context, win transport.Window, offset int64, desc *descriptor.Descriptor, resultImage int) error {
	return c.builtinReduce(ctx, win, offset, desc, transport.OpMax, resultImage)
}

// ReduceFunc pairwise-combines two elements' raw bytes, the adapter spec
// §4.7 describes the core installing over the user's function pointer.
type ReduceFunc func(a, b []byte) []byte

// reduceElemSupported implements co_reduce's narrower type restriction
// (spec.md: "32-bit integer, 32-bit float, 64-bit float, logical, and
// character") — unlike the built-in co_sum/co_min/co_max, a 64-bit
// integer is not accepted here.
func reduceElemSupported(d *descriptor.Descriptor) bool {
	switch d.Type {
	case descriptor.Integer:
		return d.Kind == 4
	case descriptor.Real:
		return d.Kind == 4 || d.Kind == 8
	case descriptor.Logical, descriptor.Character:
		return true
	default:
		return false
	}
}

// Reduce implements the user-defined co_reduce (spec §4.7): fn combines
// pairwise over a vector of elements; byRef records whether the user's
// function takes its arguments by reference or by value (an ABI-trampoline
// distinction that does not affect this Go-level combine loop, which
// always passes byte-slice references; the flag is accepted and not
// otherwise used). Character is always combined by reference, per spec
// §4.7.
//
// Every image supplies the same descriptor but its own local contribution;
// root gathers every image's element via one-sided Get, folds them
// pairwise starting from its own element and then every other image in
// ascending order, then (for an all-reduce) broadcasts the combined
// vector back out.
func (c *Collective) Reduce(ctx context.Context, win transport.Window, offset int64, desc *descriptor.Descriptor, fn ReduceFunc, byRef bool, resultImage int) error {
	_ = byRef
	if !reduceElemSupported(desc) {
		return xerrors.New(xerrors.StatFailure, "co_reduce: unsupported element type for user-defined reduction")
	}
	root, all := c.resolveRoot(resultImage)
	me := c.backend.MyRank()
	size := c.backend.Size()
	n := desc.Size()

	if me == root {
		for i := int64(0); i < n; i++ {
			off := offset + desc.ElementOffset(i)
			acc := make([]byte, desc.ElemSize)
			if err := c.backend.Get(ctx, win, root, off, acc); err != nil {
				return xerrors.Transport("co_reduce", err)
			}
			for peer := 0; peer < size; peer++ {
				if peer == root {
					continue
				}
				buf := make([]byte, desc.ElemSize)
				if err := c.backend.Get(ctx, win, peer, off, buf); err != nil {
					return xerrors.Transport("co_reduce", err)
				}
				acc = fn(acc, buf)
			}
			if err := c.backend.Put(ctx, win, root, off, acc); err != nil {
				return xerrors.Transport("co_reduce", err)
			}
		}
	}

	if err := c.backend.Barrier(ctx); err != nil {
		return xerrors.Transport("co_reduce", err)
	}
	if !all {
		return nil
	}

	for i := int64(0); i < n; i++ {
		off := offset + desc.ElementOffset(i)
		if err := c.broadcastBytes(ctx, win, off, desc.ElemSize, root, me); err != nil {
			return err
		}
	}
	return nil
}
