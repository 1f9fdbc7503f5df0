package syncp

import (
	"context"
	"errors"
	"testing"

	"github.com/caflang/pgasrt/internal/tassert"
	"github.com/caflang/pgasrt/internal/transport/local"
	"github.com/caflang/pgasrt/internal/xerrors"
)

func setup(t *testing.T) (context.Context, *Sync, *local.Backend) {
	t.Helper()
	ctx := context.Background()
	b := local.New()
	tassert.CheckFatal(t, b.Init(ctx))
	s, err := New(ctx, b)
	tassert.CheckFatal(t, err)
	return ctx, s, b
}

func TestSyncMemoryDrainsPendingPuts(t *testing.T) {
	ctx, s, b := setup(t)
	win, err := b.WinCreate(8)
	tassert.CheckFatal(t, err)

	s.RecordPut(win, 0)
	s.RecordPut(win, 0)
	tassert.CheckFatal(t, s.SyncMemory(ctx))

	s.mu.Lock()
	n := len(s.pending)
	s.mu.Unlock()
	tassert.Fatal(t, n == 0, "expected pending list drained, got %d entries", n)
}

func TestSyncAll(t *testing.T) {
	ctx, s, _ := setup(t)
	tassert.CheckFatal(t, s.SyncAll(ctx))
}

func TestSyncImagesEmptySetIsNoop(t *testing.T) {
	ctx, s, _ := setup(t)
	tassert.CheckFatal(t, s.SyncImages(ctx, nil, false))
}

func TestSyncImagesAllWithSingleImageIsNoop(t *testing.T) {
	ctx, s, _ := setup(t)
	tassert.CheckFatal(t, s.SyncImages(ctx, nil, true))
}

func TestSyncImagesRejectsDuplicates(t *testing.T) {
	ctx, s, _ := setup(t)
	err := s.SyncImages(ctx, []int{0, 1, 1}, false)
	tassert.Fatal(t, err != nil, "duplicate image ids must be rejected")
}

func TestSyncAllAfterMarkStoppedFails(t *testing.T) {
	ctx, s, _ := setup(t)
	tassert.CheckFatal(t, s.MarkStopped(ctx))

	err := s.SyncAll(ctx)
	tassert.Fatal(t, err != nil, "sync_all after finalize must fail")
	var f *xerrors.Failure
	tassert.Fatal(t, errors.As(err, &f) && f.Stat == xerrors.StatStoppedImage, "expected a stopped-image failure, got %v", err)
}
