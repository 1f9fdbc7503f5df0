// Package abi is the compiler-facing entry-point surface (spec §6): one
// free function per ABI operation, each translating the compiler's
// 1-based image numbering into the internal 0-based convention every
// other package in this module uses, and each reporting failures through
// the optional (stat, errmsg) out-parameter pair spec §7 defines rather
// than a Go error return — matching the shape a Fortran compiler's
// generated call sites actually expect.
//
// A nil stat means "abort via error_stop on failure" (spec §7); a
// non-nil stat receives the numeric code and, if errmsg is also
// non-nil, a blank-padded message.
package abi

import (
	"context"
	"errors"

	"github.com/caflang/pgasrt/internal/atomics"
	"github.com/caflang/pgasrt/internal/collective"
	"github.com/caflang/pgasrt/internal/descriptor"
	"github.com/caflang/pgasrt/internal/runtime"
	"github.com/caflang/pgasrt/internal/token"
	"github.com/caflang/pgasrt/internal/xerrors"
)

// rt is the one runtime instance a compiler-generated module links
// against; spec §3's entry points are free functions, not methods on a
// caller-held handle.
var rt = runtime.New()

// CAFToken is the opaque, pointer-sized handle the ABI returns from
// register and threads back through every later call (spec §9's
// caf_token_t, realized here as a stable pointer into the registry).
type CAFToken = *token.Token

// RegKind enumerates spec §6's registration kinds.
type RegKind int

const (
	CoarrayStatic RegKind = iota
	CoarrayAlloc
	LockStaticKind
	LockAllocKind
	CriticalKind
	EventStaticKind
	EventAllocKind
	CoarrayAllocAllocateOnly
	CoarrayAllocRegisterOnly
)

func (rk RegKind) toTokenKindVariant() (token.Kind, token.Variant) {
	switch rk {
	case CoarrayStatic:
		return token.StaticCoarray, token.VariantFull
	case CoarrayAlloc:
		return token.AllocatableCoarray, token.VariantFull
	case LockStaticKind:
		return token.LockStatic, token.VariantFull
	case LockAllocKind:
		return token.LockAlloc, token.VariantFull
	case CriticalKind:
		return token.CriticalVariable, token.VariantFull
	case EventStaticKind:
		return token.EventStatic, token.VariantFull
	case EventAllocKind:
		return token.EventAlloc, token.VariantFull
	case CoarrayAllocAllocateOnly:
		return token.AllocatableCoarray, token.VariantAllocateOnly
	case CoarrayAllocRegisterOnly:
		return token.AllocatableCoarray, token.VariantRegisterOnly
	default:
		return token.AllocatableCoarray, token.VariantFull
	}
}

// toRank translates a 1-based ABI image id to the internal 0-based rank.
func toRank(image int) int { return image - 1 }

// report resolves err into the (stat, errmsg) contract (spec §7). A
// *xerrors.Failure is the programmer-error/stopped-image class: it is
// reported via stat when the caller provided one, and aborts the
// process via error_stop otherwise. Any other non-nil error is a
// transport failure, which spec §7 makes unconditionally fatal.
func report(ctx context.Context, err error, stat *int, errmsg []byte) {
	if err == nil {
		if stat != nil {
			*stat = xerrors.StatSuccess
		}
		return
	}
	var f *xerrors.Failure
	if errors.As(err, &f) {
		if stat != nil {
			*stat = f.Stat
			if errmsg != nil {
				xerrors.WriteErrmsg(errmsg, f.Msg)
			}
			return
		}
		rt.ErrorStop(ctx, f.Stat)
		return
	}
	rt.ErrorStop(ctx, 1)
}

func Init(ctx context.Context) error { return rt.Init(ctx) }

func Finalize(ctx context.Context) error { return rt.Finalize(ctx) }

// ThisImage returns the compiler's 1-based image number.
func ThisImage() int { return rt.ThisImage() + 1 }

func NumImages() int { return rt.NumImages() }

func Register(ctx context.Context, size int64, kind RegKind, stat *int, errmsg []byte) CAFToken {
	tk, vr := kind.toTokenKindVariant()
	tok, err := rt.Register(ctx, size, tk, vr)
	report(ctx, err, stat, errmsg)
	return tok
}

func Deregister(ctx context.Context, tok CAFToken, deallocateOnly bool, stat *int, errmsg []byte) {
	err := rt.Deregister(ctx, tok, deallocateOnly)
	report(ctx, err, stat, errmsg)
}

func SyncAll(ctx context.Context, stat *int, errmsg []byte) {
	report(ctx, rt.SyncAll(ctx), stat, errmsg)
}

func SyncMemory(ctx context.Context, stat *int, errmsg []byte) {
	report(ctx, rt.SyncMemory(ctx), stat, errmsg)
}

// SyncImages translates each 1-based image id in images; an empty images
// slice with all == true means "every other image" (count == -1,
// spec §4.5/§8 P7).
func SyncImages(ctx context.Context, images []int, all bool, stat *int, errmsg []byte) {
	ranks := make([]int, len(images))
	for i, img := range images {
		ranks[i] = toRank(img)
	}
	report(ctx, rt.SyncImages(ctx, ranks, all), stat, errmsg)
}

func Send(ctx context.Context, tok CAFToken, offset int64, image int, remote, local *descriptor.Descriptor, buf []byte, mrt bool, stat *int, errmsg []byte) {
	report(ctx, rt.Send(ctx, tok, offset, toRank(image), remote, local, buf, mrt), stat, errmsg)
}

func Get(ctx context.Context, tok CAFToken, offset int64, image int, remote, local *descriptor.Descriptor, buf []byte, mrt bool, stat *int, errmsg []byte) {
	report(ctx, rt.Get(ctx, tok, offset, toRank(image), remote, local, buf, mrt), stat, errmsg)
}

func SendGet(ctx context.Context, dstTok CAFToken, dstOffset int64, dstImage int, dstDesc *descriptor.Descriptor, srcTok CAFToken, srcOffset int64, srcImage int, srcDesc *descriptor.Descriptor, stat *int, errmsg []byte) {
	err := rt.SendGet(ctx, dstTok, dstOffset, toRank(dstImage), dstDesc, srcTok, srcOffset, toRank(srcImage), srcDesc)
	report(ctx, err, stat, errmsg)
}

// CoBroadcast implements co_broadcast. sourceImage is 1-based.
func CoBroadcast(ctx context.Context, tok CAFToken, offset int64, desc *descriptor.Descriptor, sourceImage int, stat *int, errmsg []byte) {
	report(ctx, rt.Broadcast(ctx, tok.Win, offset, desc, toRank(sourceImage)), stat, errmsg)
}

// CoSum/CoMin/CoMax implement co_sum/co_min/co_max. resultImage follows
// spec §4.7's own convention (0 == all-reduce), so it is passed through
// unchanged rather than via toRank.
func CoSum(ctx context.Context, tok CAFToken, offset int64, desc *descriptor.Descriptor, resultImage int, stat *int, errmsg []byte) {
	report(ctx, rt.Sum(ctx, tok.Win, offset, desc, resultImage), stat, errmsg)
}

func CoMin(ctx context.Context, tok CAFToken, offset int64, desc *descriptor.Descriptor, resultImage int, stat *int, errmsg []byte) {
	report(ctx, rt.Min(ctx, tok.Win, offset, desc, resultImage), stat, errmsg)
}

func CoMax(ctx context.Context, tok CAFToken, offset int64, desc *descriptor.Descriptor, resultImage int, stat *int, errmsg []byte) {
	report(ctx, rt.Max(ctx, tok.Win, offset, desc, resultImage), stat, errmsg)
}

// CoReduce implements the user-defined co_reduce; resultImage follows
// the same 0-means-all convention as CoSum/CoMin/CoMax.
func CoReduce(ctx context.Context, tok CAFToken, offset int64, desc *descriptor.Descriptor, fn collective.ReduceFunc, byRef bool, resultImage int, stat *int, errmsg []byte) {
	report(ctx, rt.Reduce(ctx, tok.Win, offset, desc, fn, byRef, resultImage), stat, errmsg)
}

// Lock implements lock(slot, image, acquired). image follows spec §4.6's
// own convention (0 == self), passed through unchanged. When acquired is
// non-nil, Lock returns immediately with the outcome instead of spinning.
func Lock(ctx context.Context, tok CAFToken, offset int64, image int, acquired *bool, stat *int, errmsg []byte) {
	got, err := rt.Lock(ctx, tok.Win, offset, image, acquired != nil)
	if acquired != nil {
		*acquired = got
	}
	report(ctx, err, stat, errmsg)
}

func Unlock(ctx context.Context, tok CAFToken, offset int64, image int, stat *int, errmsg []byte) {
	report(ctx, rt.Unlock(ctx, tok.Win, offset, image), stat, errmsg)
}

func AtomicDefine(ctx context.Context, tok CAFToken, offset int64, image int, v int64, stat *int, errmsg []byte) {
	report(ctx, rt.AtomicDefine(ctx, tok.Win, offset, image, v), stat, errmsg)
}

func AtomicRef(ctx context.Context, tok CAFToken, offset int64, image int, out *int64, stat *int, errmsg []byte) {
	v, err := rt.AtomicRef(ctx, tok.Win, offset, image)
	if out != nil {
		*out = v
	}
	report(ctx, err, stat, errmsg)
}

func AtomicCAS(ctx context.Context, tok CAFToken, offset int64, image int, compare, newVal int64, oldOut *int64, stat *int, errmsg []byte) {
	old, err := rt.AtomicCAS(ctx, tok.Win, offset, image, compare, newVal)
	if oldOut != nil {
		*oldOut = old
	}
	report(ctx, err, stat, errmsg)
}

// Op is spec §6's atomic_op opcode space (1=sum, 2=and, 4=or, 5=xor).
type Op = atomics.Op

const (
	OpSum  = atomics.OpSum
	OpBand = atomics.OpBand
	OpBor  = atomics.OpBor
	OpBxor = atomics.OpBxor
)

func AtomicOp(ctx context.Context, tok CAFToken, offset int64, image int, op Op, value int64, oldOut *int64, stat *int, errmsg []byte) {
	old, err := rt.AtomicOp(ctx, tok.Win, offset, image, op, value)
	if oldOut != nil {
		*oldOut = old
	}
	report(ctx, err, stat, errmsg)
}

func EventPost(ctx context.Context, tok CAFToken, offset int64, image int, stat *int, errmsg []byte) {
	report(ctx, rt.EventPost(ctx, tok.Win, offset, image), stat, errmsg)
}

func EventWait(ctx context.Context, tok CAFToken, offset int64, untilCount int64, stat *int, errmsg []byte) {
	report(ctx, rt.EventWait(ctx, tok.Win, offset, untilCount), stat, errmsg)
}

func EventQuery(ctx context.Context, tok CAFToken, offset int64, image int, out *int64, stat *int, errmsg []byte) {
	count, err := rt.EventQuery(ctx, tok.Win, offset, image)
	if out != nil {
		*out = count
	}
	report(ctx, err, stat, errmsg)
}

// ErrorStop aborts every image with code (spec §4.8).
func ErrorStop(ctx context.Context, code int) { rt.ErrorStop(ctx, code) }

// ErrorStopStr writes msg to standard error, then aborts with code 1.
func ErrorStopStr(ctx context.Context, msg string) { rt.ErrorStopStr(ctx, msg) }

// StopNumeric implements the non-error STOP statement's numeric form.
func StopNumeric(ctx context.Context, code int) { rt.StopNumeric(ctx, code) }

// StopStr implements STOP "message".
func StopStr(ctx context.Context, msg string) { rt.StopStr(ctx, msg) }

// IsContiguous implements is_contiguous(desc) — spec §8 (P4): true iff
// every dimension's stride matches the running extent product of the
// lower dimensions.
func IsContiguous(desc *descriptor.Descriptor) bool { return desc.IsContiguous() }
