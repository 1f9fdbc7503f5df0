package atomics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/caflang/pgasrt/internal/tassert"
	"github.com/caflang/pgasrt/internal/transport/local"
)

func setup(t *testing.T) (context.Context, *Atomics, *local.Backend) {
	t.Helper()
	ctx := context.Background()
	b := local.New()
	tassert.CheckFatal(t, b.Init(ctx))
	return ctx, New(b), b
}

func TestDefineAndRef(t *testing.T) {
	ctx, a, b := setup(t)
	win, err := b.WinCreate(wordSize)
	tassert.CheckFatal(t, err)

	tassert.CheckFatal(t, a.Define(ctx, win, 0, 0, 42))
	got, err := a.Ref(ctx, win, 0, 0)
	tassert.CheckFatal(t, err)
	tassert.Fatal(t, got == 42, "expected 42, got %d", got)
}

func TestCAS(t *testing.T) {
	ctx, a, b := setup(t)
	win, err := b.WinCreate(wordSize)
	tassert.CheckFatal(t, err)
	tassert.CheckFatal(t, a.Define(ctx, win, 0, 0, 10))

	old, err := a.CAS(ctx, win, 0, 0, 10, 20)
	tassert.CheckFatal(t, err)
	tassert.Fatal(t, old == 10, "expected old value 10, got %d", old)

	got, err := a.Ref(ctx, win, 0, 0)
	tassert.CheckFatal(t, err)
	tassert.Fatal(t, got == 20, "cas with matching compare should have swapped, got %d", got)

	// A CAS whose compare doesn't match must leave the slot untouched.
	old, err = a.CAS(ctx, win, 0, 0, 999, 30)
	tassert.CheckFatal(t, err)
	tassert.Fatal(t, old == 20, "expected old value 20, got %d", old)
	got, err = a.Ref(ctx, win, 0, 0)
	tassert.CheckFatal(t, err)
	tassert.Fatal(t, got == 20, "mismatched cas must not swap, got %d", got)
}

func TestFetchOp(t *testing.T) {
	ctx, a, b := setup(t)
	win, err := b.WinCreate(wordSize)
	tassert.CheckFatal(t, err)
	tassert.CheckFatal(t, a.Define(ctx, win, 0, 0, 5))

	old, err := a.FetchOp(ctx, win, 0, 0, OpSum, 7)
	tassert.CheckFatal(t, err)
	tassert.Fatal(t, old == 5, "expected old value 5, got %d", old)

	got, err := a.Ref(ctx, win, 0, 0)
	tassert.CheckFatal(t, err)
	tassert.Fatal(t, got == 12, "expected 12 after sum, got %d", got)
}

func TestLockUnlock(t *testing.T) {
	ctx, a, b := setup(t)
	win, err := b.WinCreate(wordSize)
	tassert.CheckFatal(t, err)

	acquired, err := a.Lock(ctx, win, 0, 0, true)
	tassert.CheckFatal(t, err)
	tassert.Fatal(t, acquired, "first try-lock should succeed")

	// A second try-lock attempt from the same image must fail as a
	// double-lock violation, not silently re-acquire.
	_, err = a.Lock(ctx, win, 0, 0, true)
	tassert.Fatal(t, err != nil, "re-locking an already-held lock must error")

	tassert.CheckFatal(t, a.Unlock(ctx, win, 0, 0))

	// Unlocking an already-unlocked slot is a violation.
	err = a.Unlock(ctx, win, 0, 0)
	tassert.Fatal(t, err != nil, "unlocking a free lock must error")

	acquired, err = a.Lock(ctx, win, 0, 0, true)
	tassert.CheckFatal(t, err)
	tassert.Fatal(t, acquired, "lock should be acquirable again after unlock")
	tassert.CheckFatal(t, a.Unlock(ctx, win, 0, 0))
}

func TestPostWaitQuery(t *testing.T) {
	ctx, a, b := setup(t)
	win, err := b.WinCreate(wordSize)
	tassert.CheckFatal(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	waitErr := make(chan error, 1)
	go func() {
		defer wg.Done()
		waitErr <- a.Wait(ctx, win, 0, 3)
	}()

	// give the waiter a moment to start spinning before posting.
	time.Sleep(time.Millisecond)
	for i := 0; i < 3; i++ {
		tassert.CheckFatal(t, a.Post(ctx, win, 0, 0))
	}

	wg.Wait()
	tassert.CheckFatal(t, <-waitErr)

	got, err := a.Query(ctx, win, 0, 0)
	tassert.CheckFatal(t, err)
	tassert.Fatal(t, got == 0, "expected counter drained to 0 after wait consumed it, got %d", got)
}
