// Package local implements transport.Backend for a single image,
// grounded on original_source/single/single.c: num_images() == 1, every
// operation targets this image's own memory. Windows are real anonymous
// memory mappings (transport.MemWindows), not plain Go slices, so
// put/get/accumulate/CAS genuinely address a distinct memory region the
// way an RMA window would, and win_lock brackets a real mutex per window
// rather than being a no-op.
package local

import (
	"context"
	"fmt"

	"github.com/caflang/pgasrt/internal/transport"
)

// Backend is the single-process transport.Backend.
type Backend struct {
	windows     *transport.MemWindows
	initialized bool
}

// New constructs a local backend. Construction never fails; the local
// substrate has nothing to dial or authenticate.
func New() *Backend {
	return &Backend{windows: transport.NewMemWindows()}
}

func (b *Backend) Init(context.Context) error {
	b.initialized = true
	return nil
}

func (b *Backend) Finalize(context.Context) error {
	b.windows.Close()
	b.initialized = false
	return nil
}

// OwnsTransport is always true: the local backend has no external
// substrate to adopt.
func (b *Backend) OwnsTransport() bool { return true }

func (b *Backend) MyRank() int { return 0 }
func (b *Backend) Size() int   { return 1 }

// Barrier is a no-op: with one image there is nothing to wait for.
func (b *Backend) Barrier(context.Context) error { return nil }

func (b *Backend) WinCreate(bytes int) (transport.Window, error) { return b.windows.Create(bytes) }
func (b *Backend) WinFree(w transport.Window) error              { return b.windows.Free(w) }

func (b *Backend) checkRank(rank int) error {
	if rank != 0 {
		return fmt.Errorf("local transport: image %d does not exist (single-image backend)", rank)
	}
	return nil
}

func (b *Backend) WinLock(w transport.Window, rank int, _ transport.LockMode) error {
	if err := b.checkRank(rank); err != nil {
		return err
	}
	return b.windows.Lock(w)
}

func (b *Backend) WinUnlock(w transport.Window, rank int) error {
	if err := b.checkRank(rank); err != nil {
		return err
	}
	return b.windows.Unlock(w)
}

// WinFlush is a no-op: every put under this backend is already
// synchronous.
func (b *Backend) WinFlush(transport.Window, int) error { return nil }

func (b *Backend) Put(_ context.Context, w transport.Window, dstRank int, dstOffset int64, src []byte) error {
	if err := b.checkRank(dstRank); err != nil {
		return err
	}
	return b.windows.WithLocked(w, dstOffset, len(src), func(mem []byte) error {
		copy(mem, src)
		return nil
	})
}

func (b *Backend) Get(_ context.Context, w transport.Window, srcRank int, srcOffset int64, dst []byte) error {
	if err := b.checkRank(srcRank); err != nil {
		return err
	}
	return b.windows.WithLocked(w, srcOffset, len(dst), func(mem []byte) error {
		copy(dst, mem)
		return nil
	})
}

func (b *Backend) Accumulate(_ context.Context, w transport.Window, rank int, offset int64, src []byte, dt transport.DType, op transport.AtomicOp) error {
	if err := b.checkRank(rank); err != nil {
		return err
	}
	return b.windows.WithLocked(w, offset, len(src), func(mem []byte) error {
		transport.ApplyOp(mem, src, dt, op)
		return nil
	})
}

func (b *Backend) CompareAndSwap(_ context.Context, w transport.Window, rank int, offset int64, newVal, compare []byte, _ transport.DType) ([]byte, error) {
	if err := b.checkRank(rank); err != nil {
		return nil, err
	}
	var old []byte
	err := b.windows.WithLocked(w, offset, len(newVal), func(mem []byte) error {
		old = append([]byte(nil), mem...)
		if transport.BytesEqual(mem, compare) {
			copy(mem, newVal)
		}
		return nil
	})
	return old, err
}

func (b *Backend) FetchAndOp(_ context.Context, w transport.Window, rank int, offset int64, src []byte, dt transport.DType, op transport.AtomicOp) ([]byte, error) {
	if err := b.checkRank(rank); err != nil {
		return nil, err
	}
	var old []byte
	err := b.windows.WithLocked(w, offset, len(src), func(mem []byte) error {
		old = transport.ApplyOp(mem, src, dt, op)
		return nil
	})
	return old, err
}

// Reduce with a single image is the identity: the result is src itself.
func (b *Backend) Reduce(_ context.Context, _ transport.AtomicOp, src []byte, _ int, _ transport.DType, _ int, _ bool) ([]byte, error) {
	return append([]byte(nil), src...), nil
}

// Broadcast with a single image is a no-op: the sole image is both
// source and destination.
func (b *Backend) Broadcast(context.Context, []byte, int) error { return nil }

// StridedDatatypeCapable: this module standardizes on the transfer
// engine's element-wise loop strategy (spec §4.4 permits either strided
// sub-strategy but requires picking one and applying it consistently);
// the local backend operates on Go-owned memory directly, where the
// element-wise loop is already as cheap as a typed descriptor would be.
func (b *Backend) StridedDatatypeCapable() bool { return false }

var _ transport.Backend = (*Backend)(nil)
