// Package xfer implements the transfer engine (spec §4.4): send, get,
// and sendget, the one-sided copies that move data between a coarray
// segment and a local buffer, with kind conversion, character padding,
// and aliasing safety. This is the largest component of the core (spec
// budgets it at roughly a third of the reference implementation).
//
// Every rank/image argument here is 0-based, matching transport.Backend;
// the compiler ABI's 1-based image numbering (spec §3) is translated at
// the internal/abi boundary, not here.
package xfer

import (
	"context"

	"github.com/caflang/pgasrt/internal/descriptor"
	"github.com/caflang/pgasrt/internal/token"
	"github.com/caflang/pgasrt/internal/transport"
	"github.com/caflang/pgasrt/internal/xerrors"
)

// Engine is a thin, stateless-except-for-the-backend wrapper; one Engine
// is shared by every coarray in a process.
type Engine struct {
	backend transport.Backend
	// onPut, when set, is notified once after every successful Send that
	// targets another image (and once per element SendGet writes there), so
	// internal/syncp can maintain spec §4.5's deferred-put list without
	// this package depending on syncp directly.
	onPut func(win transport.Window, rank int)
}

func New(backend transport.Backend) *Engine {
	return &Engine{backend: backend}
}

// SetPutNotifier installs the hook internal/syncp uses to track
// outstanding puts for sync_memory/sync_all.
func (e *Engine) SetPutNotifier(fn func(win transport.Window, rank int)) {
	e.onPut = fn
}

func (e *Engine) rank() int { return e.backend.MyRank() }

func (e *Engine) notifyPut(win transport.Window, rank int) {
	if e.onPut != nil && rank != e.rank() {
		e.onPut(win, rank)
	}
}

// canBulkFastPath reports whether remote and local qualify for the
// rank>=1 bulk branch of spec §4.4's fast path: identical type/kind,
// equal element size if character, and both sides contiguous.
func canBulkFastPath(remote, local *descriptor.Descriptor) bool {
	if remote.Type != local.Type || remote.Kind != local.Kind {
		return false
	}
	if remote.IsCharacter() && remote.ElemSize != local.ElemSize {
		return false
	}
	return remote.IsContiguous() && local.IsContiguous()
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

type direction struct{ toRemote bool }

// Send copies remote.Size() elements from localBuf into tok's segment on
// image, at byte offset+element_offset(remote, i) for each i (spec
// §4.4). mrt signals the local and remote memory might alias.
func (e *Engine) Send(ctx context.Context, tok *token.Token, offset int64, image int, remote, local *descriptor.Descriptor, localBuf []byte, mrt bool) error {
	return e.move(ctx, tok, offset, image, remote, local, localBuf, direction{toRemote: true}, mrt)
}

// Get is Send's mirror: it copies from tok's segment on image into
// localBuf, and only returns once localBuf holds the transferred data
// (spec §4.4).
func (e *Engine) Get(ctx context.Context, tok *token.Token, offset int64, image int, remote, local *descriptor.Descriptor, localBuf []byte, mrt bool) error {
	return e.move(ctx, tok, offset, image, remote, local, localBuf, direction{toRemote: false}, mrt)
}

// move implements both Send and Get: the only difference between the
// two is which side of each primitive transport call is "local" and
// which is "remote", so one implementation drives the aliasing check,
// the scalar-or-bulk fast path, and the element-wise fallback for both.
func (e *Engine) move(ctx context.Context, tok *token.Token, offset int64, image int, remote, local *descriptor.Descriptor, localBuf []byte, dir direction, mrt bool) error {
	op := "send"
	if !dir.toRemote {
		op = "get"
	}

	// Aliasing (spec §4.4): when the transfer targets this same image
	// and the compiler flagged possible overlap, stage every element
	// into a scratch buffer before writing any of them back, so a
	// partially-complete transfer never reads its own not-yet-written
	// output.
	var err error
	switch {
	case image == e.rank() && mrt:
		err = e.stagedCopy(ctx, tok, offset, image, remote, local, localBuf, dir, op)
	case remote.Rank() == 0:
		err = e.scalarFastPath(ctx, tok, offset, image, remote, local, localBuf, dir, op)
	case !needsConversion(local, remote) && canBulkFastPath(remote, local):
		err = e.bulkFastPath(ctx, tok, offset, image, remote, local, localBuf, dir, op)
	default:
		err = e.elementwise(ctx, tok, offset, image, remote, local, localBuf, dir, op)
	}
	if err == nil && dir.toRemote {
		e.notifyPut(tok.Win, image)
	}
	return err
}

func (e *Engine) scalarFastPath(ctx context.Context, tok *token.Token, offset int64, image int, remote, local *descriptor.Descriptor, localBuf []byte, dir direction, op string) error {
	minSz := min64(local.ElemSize, remote.ElemSize)
	localStart := local.Offset * local.ElemSize
	remoteOff := offset + remote.Offset*remote.ElemSize

	if dir.toRemote {
		data := localBuf[localStart : localStart+minSz]
		if err := e.backend.Put(ctx, tok.Win, image, remoteOff, data); err != nil {
			return xerrors.Transport(op, err)
		}
		if remote.IsCharacter() && remote.ElemSize > local.ElemSize {
			pad := spacePad(remote.ElemSize-local.ElemSize, remote.Kind)
			if err := e.backend.Put(ctx, tok.Win, image, remoteOff+minSz, pad); err != nil {
				return xerrors.Transport(op, err)
			}
		}
		return nil
	}

	dst := localBuf[localStart : localStart+minSz]
	if err := e.backend.Get(ctx, tok.Win, image, remoteOff, dst); err != nil {
		return xerrors.Transport(op, err)
	}
	if local.IsCharacter() && local.ElemSize > remote.ElemSize {
		pad := spacePad(local.ElemSize-remote.ElemSize, local.Kind)
		copy(localBuf[localStart+minSz:localStart+local.ElemSize], pad)
	}
	return nil
}

func (e *Engine) bulkFastPath(ctx context.Context, tok *token.Token, offset int64, image int, remote, local *descriptor.Descriptor, localBuf []byte, dir direction, op string) error {
	n := remote.Size()
	total := n * remote.ElemSize
	localStart := local.Offset * local.ElemSize
	remoteOff := offset + remote.Offset*remote.ElemSize

	if dir.toRemote {
		data := localBuf[localStart : localStart+total]
		if err := e.backend.Put(ctx, tok.Win, image, remoteOff, data); err != nil {
			return xerrors.Transport(op, err)
		}
		return nil
	}
	dst := localBuf[localStart : localStart+total]
	if err := e.backend.Get(ctx, tok.Win, image, remoteOff, dst); err != nil {
		return xerrors.Transport(op, err)
	}
	return nil
}

// elementwise is the strided-path fallback (spec §4.4's sub-strategy
// (b)): one primitive transfer per element, computing byte offsets via
// internal/descriptor, converting per element when types/kinds differ.
func (e *Engine) elementwise(ctx context.Context, tok *token.Token, offset int64, image int, remote, local *descriptor.Descriptor, localBuf []byte, dir direction, op string) error {
	n := remote.Size()
	convert := needsConversion(local, remote)

	for i := int64(0); i < n; i++ {
		remoteOff := offset + remote.ElementOffset(i)
		localOff := local.ElementOffset(i)

		if dir.toRemote {
			raw := localBuf[localOff : localOff+local.ElemSize]
			out := raw
			if convert {
				out = convertElement(raw, local, remote)
			}
			if err := e.backend.Put(ctx, tok.Win, image, remoteOff, out); err != nil {
				return xerrors.Transport(op, err)
			}
			continue
		}

		raw := make([]byte, remote.ElemSize)
		if err := e.backend.Get(ctx, tok.Win, image, remoteOff, raw); err != nil {
			return xerrors.Transport(op, err)
		}
		out := raw
		if convert {
			out = convertElement(raw, remote, local)
		}
		copy(localBuf[localOff:localOff+local.ElemSize], out)
	}
	return nil
}

// stagedCopy implements spec §4.4's aliasing rule: every element is read
// in full before any element is written, so overlapping source and
// destination ranges can never observe a partially-written result.
func (e *Engine) stagedCopy(ctx context.Context, tok *token.Token, offset int64, image int, remote, local *descriptor.Descriptor, localBuf []byte, dir direction, op string) error {
	n := remote.Size()
	convert := needsConversion(local, remote)
	staged := make([][]byte, n)

	if dir.toRemote {
		for i := int64(0); i < n; i++ {
			localOff := local.ElementOffset(i)
			raw := append([]byte(nil), localBuf[localOff:localOff+local.ElemSize]...)
			if convert {
				raw = convertElement(raw, local, remote)
			}
			staged[i] = raw
		}
		for i := int64(0); i < n; i++ {
			remoteOff := offset + remote.ElementOffset(i)
			if err := e.backend.Put(ctx, tok.Win, image, remoteOff, staged[i]); err != nil {
				return xerrors.Transport(op, err)
			}
		}
		return nil
	}

	for i := int64(0); i < n; i++ {
		remoteOff := offset + remote.ElementOffset(i)
		raw := make([]byte, remote.ElemSize)
		if err := e.backend.Get(ctx, tok.Win, image, remoteOff, raw); err != nil {
			return xerrors.Transport(op, err)
		}
		if convert {
			raw = convertElement(raw, remote, local)
		}
		staged[i] = raw
	}
	for i := int64(0); i < n; i++ {
		localOff := local.ElementOffset(i)
		copy(localBuf[localOff:localOff+local.ElemSize], staged[i])
	}
	return nil
}

func spacePad(n int64, kind int) []byte {
	unit := spaceUnit(kind)
	out := make([]byte, 0, n)
	for int64(len(out))+int64(len(unit)) <= n {
		out = append(out, unit...)
	}
	return out
}
