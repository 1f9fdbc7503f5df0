package xfer

import (
	"context"

	"github.com/caflang/pgasrt/internal/descriptor"
	"github.com/caflang/pgasrt/internal/token"
	"github.com/caflang/pgasrt/internal/xerrors"
)

// SendGet reads srcDesc.Size() elements from src's segment on srcImage
// and writes them into dst's segment on dstImage, converting per element
// when src and dst differ in type/kind (spec §4.4). The read side always
// completes before the corresponding write, element by element, through
// one reusable scratch buffer — freed (its backing array dropped) via a
// single defer that covers every return path, per this module's resolved
// reading of the source's ambiguous scratch-buffer-lifetime behavior.
func (e *Engine) SendGet(ctx context.Context, dstTok *token.Token, dstOffset int64, dstImage int, dstDesc *descriptor.Descriptor, srcTok *token.Token, srcOffset int64, srcImage int, srcDesc *descriptor.Descriptor) error {
	n := srcDesc.Size()
	convert := needsConversion(srcDesc, dstDesc)

	scratchSz := srcDesc.ElemSize
	if dstDesc.ElemSize > scratchSz {
		scratchSz = dstDesc.ElemSize
	}
	scratch := make([]byte, scratchSz)
	defer func() { scratch = nil }()

	for i := int64(0); i < n; i++ {
		srcOff := srcOffset + srcDesc.ElementOffset(i)
		raw := scratch[:srcDesc.ElemSize]
		if err := e.backend.Get(ctx, srcTok.Win, srcImage, srcOff, raw); err != nil {
			return xerrors.Transport("sendget", err)
		}

		out := raw
		if convert {
			out = convertElement(raw, srcDesc, dstDesc)
		}

		dstOff := dstOffset + dstDesc.ElementOffset(i)
		if err := e.backend.Put(ctx, dstTok.Win, dstImage, dstOff, out); err != nil {
			return xerrors.Transport("sendget", err)
		}
		e.notifyPut(dstTok.Win, dstImage)
	}
	return nil
}
