// Package syncp implements synchronization (spec §4.5): sync_memory,
// sync_all, and sync_images, plus the img_status publication channel
// stopped-image detection reads.
package syncp

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caflang/pgasrt/internal/nlog"
	"github.com/caflang/pgasrt/internal/transport"
	"github.com/caflang/pgasrt/internal/xerrors"
)

const wordSize = 8

const (
	statusRunning int64 = 0
	statusStopped int64 = 1
)

const pollInterval = 200 * time.Microsecond

// pendingPut is one (window, target rank) pair recorded by the transfer
// engine's put notifier (spec §4.5's "singly linked list of (win,
// target_rank) pairs", modeled as an ordinary slice rather than an
// intrusive list — the token registry's same redesign applies here).
type pendingPut struct {
	win  transport.Window
	rank int
}

// Sync owns one image's sync bookkeeping: the deferred-put list, the
// img_status window, and a per-sender arrival-counter window used to
// implement sync_images without relying on the global Barrier (spec
// §4.5 explicitly distinguishes "synchronize with every peer" from a
// barrier: "not a barrier — each peer is still individually waited on").
//
// arrivalsWin holds one machine-word counter per possible sender:
// slot[j] on image i counts the acks image i has received from image j
// and not yet consumed. sync_images sends its own acks, then polls each
// listed peer's slot until it is positive and subtracts one from it, so
// an ack that arrives before this image enters the matching sync_images
// is kept for that call, and each call consumes exactly one ack per
// listed peer.
type Sync struct {
	backend     transport.Backend
	statusWin   transport.Window
	arrivalsWin transport.Window

	mu      sync.Mutex
	pending []pendingPut

	finalized atomic.Bool
}

// New allocates the status and arrivals windows and publishes this
// image's initial "running" status (spec §3: "Init ... creates the
// status window"). Collective: every image must call New in the same
// order, like any other window-creating operation (spec §4.2).
func New(ctx context.Context, backend transport.Backend) (*Sync, error) {
	statusWin, err := backend.WinCreate(backend.Size() * wordSize)
	if err != nil {
		return nil, xerrors.Newf(xerrors.StatAllocFailed, "syncp: creating status window: %v", err)
	}
	arrivalsWin, err := backend.WinCreate(backend.Size() * wordSize)
	if err != nil {
		return nil, xerrors.Newf(xerrors.StatAllocFailed, "syncp: creating arrivals window: %v", err)
	}
	s := &Sync{backend: backend, statusWin: statusWin, arrivalsWin: arrivalsWin}
	if err := s.publishStatus(ctx, statusRunning); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sync) publishStatus(ctx context.Context, v int64) error {
	buf := make([]byte, wordSize)
	encodeWord(buf, v)
	me := s.backend.MyRank()
	return s.backend.Put(ctx, s.statusWin, me, int64(me)*wordSize, buf)
}

func (s *Sync) readStatus(ctx context.Context, peer int) (int64, error) {
	buf := make([]byte, wordSize)
	if err := s.backend.Get(ctx, s.statusWin, peer, int64(peer)*wordSize, buf); err != nil {
		return 0, err
	}
	return decodeWord(buf), nil
}

// readArrivals reads this image's own arrivals[sender] slot.
func (s *Sync) readArrivals(ctx context.Context, sender int) (int64, error) {
	me := s.backend.MyRank()
	buf := make([]byte, wordSize)
	if err := s.backend.Get(ctx, s.arrivalsWin, me, int64(sender)*wordSize, buf); err != nil {
		return 0, err
	}
	return decodeWord(buf), nil
}

// ackTo increments peer's arrivals[me] slot by one (spec §4.5's "send an
// acknowledgment to that peer").
func (s *Sync) ackTo(ctx context.Context, peer int) error {
	me := s.backend.MyRank()
	one := make([]byte, wordSize)
	encodeWord(one, 1)
	_, err := s.backend.FetchAndOp(ctx, s.arrivalsWin, peer, int64(me)*wordSize, one, transport.DTypeInt64, transport.OpSum)
	return err
}

// RecordPut appends (win, rank) to the deferred-put list; installed on
// internal/xfer's Engine via SetPutNotifier.
func (s *Sync) RecordPut(win transport.Window, rank int) {
	s.mu.Lock()
	s.pending = append(s.pending, pendingPut{win: win, rank: rank})
	s.mu.Unlock()
}

// SyncMemory flushes every deferred put issued from this image (spec
// §4.5): walks the pending list, flushes each (win, rank) pair, and
// frees the list.
func (s *Sync) SyncMemory(ctx context.Context) error {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, p := range pending {
		if err := s.backend.WinFlush(p.win, p.rank); err != nil {
			return xerrors.Transport("sync_memory", err)
		}
	}
	return nil
}

// SyncAll drains pending puts then invokes the transport barrier (spec
// §4.5).
func (s *Sync) SyncAll(ctx context.Context) error {
	if s.finalized.Load() {
		return xerrors.StoppedImage("sync_all")
	}
	if err := s.SyncMemory(ctx); err != nil {
		return err
	}
	if err := s.backend.Barrier(ctx); err != nil {
		return xerrors.Transport("sync_all", err)
	}
	return nil
}

// SyncImages synchronizes with the explicit peer subset named by images
// (0-based, spec §4.5's algorithm translated from the ABI's 1-based
// ids). all == true with images == nil means "every peer" (spec's
// count == -1). A peers list that is empty, or contains only this
// image, is the count == 0 no-op.
func (s *Sync) SyncImages(ctx context.Context, images []int, all bool) error {
	if s.finalized.Load() {
		return xerrors.StoppedImage("sync_images")
	}
	if err := s.SyncMemory(ctx); err != nil {
		return err
	}

	me := s.backend.MyRank()
	peers := images
	if all {
		peers = make([]int, 0, s.backend.Size()-1)
		for r := 0; r < s.backend.Size(); r++ {
			if r != me {
				peers = append(peers, r)
			}
		}
	}
	if len(peers) == 0 {
		return nil
	}
	if len(peers) == 1 && peers[0] == me {
		return nil
	}
	if firstDuplicate(peers) {
		return xerrors.DupSyncImages()
	}

	pending := make(map[int]struct{}, len(peers))
	for _, p := range peers {
		if p == me {
			continue
		}
		status, err := s.readStatus(ctx, p)
		if err != nil {
			return xerrors.Transport("sync_images: reading peer status", err)
		}
		if status == statusStopped {
			return xerrors.StoppedImage("sync_images")
		}
		pending[p] = struct{}{}
	}

	for _, p := range peers {
		if p == me {
			continue
		}
		if err := s.ackTo(ctx, p); err != nil {
			return xerrors.Transport("sync_images: sending ack", err)
		}
	}

	minusOne := make([]byte, wordSize)
	encodeWord(minusOne, -1)
	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return xerrors.Transport("sync_images", ctx.Err())
		default:
		}
		for p := range pending {
			n, err := s.readArrivals(ctx, p)
			if err != nil {
				return xerrors.Transport("sync_images: waiting for ack", err)
			}
			if n > 0 {
				if _, err := s.backend.FetchAndOp(ctx, s.arrivalsWin, me, int64(p)*wordSize, minusOne, transport.DTypeInt64, transport.OpSum); err != nil {
					return xerrors.Transport("sync_images: consuming ack", err)
				}
				delete(pending, p)
			}
		}
		if len(pending) > 0 {
			time.Sleep(pollInterval)
		}
	}
	return nil
}

func firstDuplicate(images []int) bool {
	seen := make(map[int]struct{}, len(images))
	for _, id := range images {
		if _, ok := seen[id]; ok {
			return true
		}
		seen[id] = struct{}{}
	}
	return false
}

// MarkStopped publishes STOPPED into this image's status slot (spec
// §3/§4.5: "Only finalize writes to it"). Called once, from finalize.
func (s *Sync) MarkStopped(ctx context.Context) error {
	s.finalized.Store(true)
	if err := s.publishStatus(ctx, statusStopped); err != nil {
		nlog.Warningf("syncp: publishing stopped status: %v", err)
		return xerrors.Transport("finalize: publish status", err)
	}
	return nil
}

func (s *Sync) Close() error {
	if err := s.backend.WinFree(s.arrivalsWin); err != nil {
		return err
	}
	return s.backend.WinFree(s.statusWin)
}

func encodeWord(buf []byte, v int64) {
	for i := 0; i < wordSize; i++ {
		buf[i] = byte(v >> (8 * i))
	}
}

func decodeWord(buf []byte) int64 {
	var v int64
	for i := 0; i < wordSize; i++ {
		v |= int64(buf[i]) << (8 * i)
	}
	return v
}
