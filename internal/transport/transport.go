// Package transport defines the pluggable substrate the core core (token
// registry, transfer engine, synchronization, atomics, collectives) is
// built on (spec §1, §4.1). It is the one seam spec.md explicitly leaves
// external; this module ships two concrete Backend implementations
// (transport/local, transport/tcpb) selected at runtime by
// internal/config, never at compile time (spec §9's explicit guidance
// against PREFIX-macro backend dispatch).
package transport

import "context"

// Window is an opaque handle to a cluster-wide memory region created by
// WinCreate. Implementations are free to choose any representation
// internally; callers never interpret the value.
type Window uint64

// LockMode brackets one-sided operations against a remote rank.
type LockMode int

const (
	LockShared LockMode = iota
	LockExclusive
)

// AtomicOp enumerates the RMW operator space spec §4.1/§4.6 require.
type AtomicOp int

const (
	OpReplace AtomicOp = iota
	OpSum
	OpBand
	OpBor
	OpBxor
	OpMin
	OpMax
	OpNoOp
)

// DType names the wire datatype an Accumulate/CAS/FetchAndOp/Reduce call
// operates on; it is the transport-level analogue of a descriptor's
// (Type, Kind) pair (spec §6).
type DType int

const (
	DTypeInt32 DType = iota
	DTypeInt64
	DTypeFloat32
	DTypeFloat64
	DTypeComplex64
	DTypeComplex128
	DTypeByte
)

// Backend is the fixed capability set spec §4.1 requires of the
// transport substrate.
type Backend interface {
	// Init brings up the cluster. If the substrate was already
	// initialized externally, Init must adopt it rather than
	// re-initializing (OwnsTransport then reports false, spec §4.8).
	Init(ctx context.Context) error
	Finalize(ctx context.Context) error
	OwnsTransport() bool

	MyRank() int
	Size() int

	// Barrier returns only when every image has entered (spec §4.1).
	Barrier(ctx context.Context) error

	WinCreate(bytes int) (Window, error)
	WinFree(w Window) error

	WinLock(w Window, rank int, mode LockMode) error
	WinUnlock(w Window, rank int) error
	WinFlush(w Window, rank int) error

	Put(ctx context.Context, w Window, dstRank int, dstOffset int64, src []byte) error
	Get(ctx context.Context, w Window, srcRank int, srcOffset int64, dst []byte) error

	Accumulate(ctx context.Context, w Window, rank int, offset int64, src []byte, dt DType, op AtomicOp) error
	CompareAndSwap(ctx context.Context, w Window, rank int, offset int64, newVal, compare []byte, dt DType) (old []byte, err error)
	FetchAndOp(ctx context.Context, w Window, rank int, offset int64, src []byte, dt DType, op AtomicOp) (old []byte, err error)

	// Reduce combines src across every participating image; when
	// all is true every image receives the combined value (spec
	// §4.1/§4.7), otherwise only root does.
	Reduce(ctx context.Context, op AtomicOp, src []byte, n int, dt DType, root int, all bool) ([]byte, error)
	Broadcast(ctx context.Context, buf []byte, root int) error

	// StridedDatatypeCapable reports whether this backend prefers the
	// typed-strided-descriptor strategy (spec §4.4) over the
	// element-wise loop. Both backends report false, and the transfer
	// engine does not consult it: its strided path is always the
	// element-wise loop.
	StridedDatatypeCapable() bool
}

// DTypeSize returns the wire size in bytes of one element of dt.
func DTypeSize(dt DType) int64 {
	switch dt {
	case DTypeInt32, DTypeFloat32:
		return 4
	case DTypeInt64, DTypeFloat64, DTypeComplex64:
		return 8
	case DTypeComplex128:
		return 16
	case DTypeByte:
		return 1
	default:
		return 8
	}
}
