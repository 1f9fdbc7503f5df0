// Package checkpoint provides best-effort, off-hot-path snapshotting of
// static coarray segments (SPEC_FULL.md §M) for post-mortem debugging.
// The token registry is the only caller; a checkpoint failure is logged
// and never surfaces as a user-visible stat (spec.md §7 governs only the
// core operations, not this diagnostic side channel).
package checkpoint

import "context"

// Backend stores one named snapshot. Implementations must tolerate being
// called concurrently for distinct keys.
type Backend interface {
	Put(ctx context.Context, key string, data []byte) error
	Close() error
}

// Nop discards every snapshot; it is the default when no checkpoint
// target is configured.
type Nop struct{}

func (Nop) Put(context.Context, string, []byte) error { return nil }
func (Nop) Close() error                              { return nil }

var _ Backend = Nop{}
