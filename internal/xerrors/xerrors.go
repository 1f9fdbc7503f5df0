// Package xerrors defines the runtime's user-visible stat codes (spec
// §6) and wraps transport-level failures with stack context via
// pkg/errors for diagnostic logging, without altering the observable
// stat/errmsg contract the caller sees.
package xerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Stat codes exposed through the compiler ABI's stat argument.
const (
	StatSuccess       = 0
	StatAllocFailed   = 1
	StatFailure       = 2
	StatLockViolation = 99
	StatDupSyncImages = 3000
	StatStoppedImage  = 6000
)

// Failure carries a stat code and a human-readable message, the shape
// every ABI entry point reports through (stat, errmsg) out-parameters.
type Failure struct {
	Stat int
	Msg  string
}

func (f *Failure) Error() string { return f.Msg }

func New(stat int, msg string) *Failure { return &Failure{Stat: stat, Msg: msg} }

func Newf(stat int, format string, args ...any) *Failure {
	return &Failure{Stat: stat, Msg: fmt.Sprintf(format, args...)}
}

// StoppedImage is the canned failure spec.md §7 requires whenever a peer
// stopped-image is detected in sync_all/sync_images/register/deregister.
func StoppedImage(op string) *Failure {
	return New(StatStoppedImage, op+": runtime already finalized (stopped image)")
}

// DupSyncImages is the canned failure for a duplicate id in sync_images.
func DupSyncImages() *Failure {
	return New(StatDupSyncImages, "sync_images: duplicate image id in list")
}

// LockViolation is the canned failure for double-lock / unlock-never-locked.
func LockViolation(msg string) *Failure {
	return New(StatLockViolation, msg)
}

// WriteErrmsg blank-pads (or truncates) msg into buf, mirroring Fortran's
// fixed-length CHARACTER assignment semantics for errmsg.
func WriteErrmsg(buf []byte, msg string) {
	n := copy(buf, msg)
	for i := n; i < len(buf); i++ {
		buf[i] = ' '
	}
}

// Transport wraps a transport-layer error with stack context; the core
// translates every Transport error into a fatal error_stop per spec §4.4.
func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, "transport error during %s", op)
}

