// Package atomics implements single-word atomics, the test-and-set
// mutex, and the counting-event semaphore (spec §4.6), each operating on
// one machine-word slot inside a registered segment.
//
// image arguments follow the ABI's own convention (spec §4.6): 1-based,
// with 0 meaning "self" — distinct from every other package in this
// module, which uses 0-based transport ranks. resolveRank is the one
// seam that translates between the two.
package atomics

import (
	"context"
	"time"

	"github.com/caflang/pgasrt/internal/transport"
	"github.com/caflang/pgasrt/internal/xerrors"
)

const wordSize = 8

// Op is the compiler ABI's literal atomic_op opcode space (spec §4.6),
// deliberately distinct from transport.AtomicOp's own numbering.
type Op int

const (
	OpSum  Op = 1
	OpBand Op = 2
	OpBor  Op = 4
	OpBxor Op = 5
)

func (o Op) toTransport() transport.AtomicOp {
	switch o {
	case OpSum:
		return transport.OpSum
	case OpBand:
		return transport.OpBand
	case OpBor:
		return transport.OpBor
	case OpBxor:
		return transport.OpBxor
	default:
		return transport.OpNoOp
	}
}

// Atomics is a thin wrapper over transport.Backend; one instance is
// shared by every atomic/lock/event variable in a process.
type Atomics struct {
	backend transport.Backend
}

func New(backend transport.Backend) *Atomics {
	return &Atomics{backend: backend}
}

func (a *Atomics) resolveRank(image int) int {
	if image == 0 {
		return a.backend.MyRank()
	}
	return image - 1
}

func encodeWord(v int64) []byte {
	buf := make([]byte, wordSize)
	for i := 0; i < wordSize; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	return buf
}

func decodeWord(buf []byte) int64 {
	var v int64
	for i := 0; i < wordSize; i++ {
		v |= int64(buf[i]) << (8 * i)
	}
	return v
}

// lockBracket wraps a single-primitive atomic op in a win_lock/win_unlock
// pair around rank, per spec §4.6: "one transport primitive bracketed
// by lock/unlock (or flush if lock-all is in use)".
func (a *Atomics) lockBracket(win transport.Window, rank int, fn func() error) error {
	if err := a.backend.WinLock(win, rank, transport.LockExclusive); err != nil {
		return err
	}
	err := fn()
	if uErr := a.backend.WinUnlock(win, rank); uErr != nil && err == nil {
		err = uErr
	}
	return err
}

// Define is an atomic write: a fetch_and_op with REPLACE whose fetched
// previous value is discarded.
func (a *Atomics) Define(ctx context.Context, win transport.Window, offset int64, image int, v int64) error {
	rank := a.resolveRank(image)
	err := a.lockBracket(win, rank, func() error {
		_, err := a.backend.FetchAndOp(ctx, win, rank, offset, encodeWord(v), transport.DTypeInt64, transport.OpReplace)
		return err
	})
	return xerrors.Transport("atomic_define", err)
}

// Ref is an atomic read (spec §4.6: fetch_and_op with NO_OP).
func (a *Atomics) Ref(ctx context.Context, win transport.Window, offset int64, image int) (int64, error) {
	rank := a.resolveRank(image)
	var old []byte
	err := a.lockBracket(win, rank, func() error {
		var err error
		old, err = a.backend.FetchAndOp(ctx, win, rank, offset, encodeWord(0), transport.DTypeInt64, transport.OpNoOp)
		return err
	})
	if err != nil {
		return 0, xerrors.Transport("atomic_ref", err)
	}
	return decodeWord(old), nil
}

// CAS is an atomic compare-and-swap.
func (a *Atomics) CAS(ctx context.Context, win transport.Window, offset int64, image int, compare, newVal int64) (int64, error) {
	rank := a.resolveRank(image)
	var old []byte
	err := a.lockBracket(win, rank, func() error {
		var err error
		old, err = a.backend.CompareAndSwap(ctx, win, rank, offset, encodeWord(newVal), encodeWord(compare), transport.DTypeInt64)
		return err
	})
	if err != nil {
		return 0, xerrors.Transport("atomic_cas", err)
	}
	return decodeWord(old), nil
}

// FetchOp is an atomic fetch-and-op.
func (a *Atomics) FetchOp(ctx context.Context, win transport.Window, offset int64, image int, op Op, value int64) (int64, error) {
	rank := a.resolveRank(image)
	var old []byte
	err := a.lockBracket(win, rank, func() error {
		var err error
		old, err = a.backend.FetchAndOp(ctx, win, rank, offset, encodeWord(value), transport.DTypeInt64, op.toTransport())
		return err
	})
	if err != nil {
		return 0, xerrors.Transport("atomic_op", err)
	}
	return decodeWord(old), nil
}

// Lock acquires the mutex at (win, offset, image) (spec §4.6). When
// tryOnly is false it spins with linear backoff (this_image * i
// microseconds for spin i) until it wins the CAS; when true it returns
// immediately with the outcome.
func (a *Atomics) Lock(ctx context.Context, win transport.Window, offset int64, image int, tryOnly bool) (acquired bool, err error) {
	rank := a.resolveRank(image)
	me := int64(a.backend.MyRank() + 1)

	for i := 0; ; i++ {
		var old []byte
		lockErr := a.lockBracket(win, rank, func() error {
			var err error
			old, err = a.backend.CompareAndSwap(ctx, win, rank, offset, encodeWord(me), encodeWord(0), transport.DTypeInt64)
			return err
		})
		if lockErr != nil {
			return false, xerrors.Transport("lock", lockErr)
		}
		prev := decodeWord(old)
		if prev == 0 {
			return true, nil
		}
		if prev == me {
			return false, xerrors.LockViolation("lock: image already holds this lock")
		}
		if tryOnly {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		default:
		}
		time.Sleep(time.Duration(me*int64(i+1)) * time.Microsecond)
	}
}

// Unlock releases the mutex at (win, offset, image). Unlocking a slot
// that was never locked is a runtime error (spec §4.6).
func (a *Atomics) Unlock(ctx context.Context, win transport.Window, offset int64, image int) error {
	rank := a.resolveRank(image)
	var old []byte
	err := a.lockBracket(win, rank, func() error {
		var err error
		old, err = a.backend.FetchAndOp(ctx, win, rank, offset, encodeWord(0), transport.DTypeInt64, transport.OpReplace)
		return err
	})
	if err != nil {
		return xerrors.Transport("unlock", err)
	}
	if decodeWord(old) == 0 {
		return xerrors.LockViolation("unlock: lock was never held")
	}
	return nil
}

const (
	eventFastSpin    = 20000
	eventThrottleUnit = 5 * time.Microsecond
)

// Post increments the event slot by one (spec §4.6).
func (a *Atomics) Post(ctx context.Context, win transport.Window, offset int64, image int) error {
	rank := a.resolveRank(image)
	err := a.backend.Accumulate(ctx, win, rank, offset, encodeWord(1), transport.DTypeInt64, transport.OpSum)
	return xerrors.Transport("event_post", err)
}

// Wait blocks on this image's own event slot until it reaches at least
// untilCount, then atomically subtracts untilCount (spec §4.6): a
// bounded fast-spin followed by a throttled, linearly-growing sleep.
func (a *Atomics) Wait(ctx context.Context, win transport.Window, offset int64, untilCount int64) error {
	rank := a.backend.MyRank()
	for i := 0; ; i++ {
		buf := make([]byte, wordSize)
		if err := a.backend.Get(ctx, win, rank, offset, buf); err != nil {
			return xerrors.Transport("event_wait", err)
		}
		if decodeWord(buf) >= untilCount {
			_, err := a.backend.FetchAndOp(ctx, win, rank, offset, encodeWord(-untilCount), transport.DTypeInt64, transport.OpSum)
			return xerrors.Transport("event_wait", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if i >= eventFastSpin {
			time.Sleep(time.Duration(i-eventFastSpin+1) * eventThrottleUnit)
		}
	}
}

// Query atomically reads the event slot's current count.
func (a *Atomics) Query(ctx context.Context, win transport.Window, offset int64, image int) (int64, error) {
	rank := a.resolveRank(image)
	old, err := a.backend.FetchAndOp(ctx, win, rank, offset, encodeWord(0), transport.DTypeInt64, transport.OpNoOp)
	if err != nil {
		return 0, xerrors.Transport("event_query", err)
	}
	return decodeWord(old), nil
}
