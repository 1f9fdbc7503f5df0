package abi

import (
	"context"
	"os"
	"testing"

	"github.com/caflang/pgasrt/internal/descriptor"
	"github.com/caflang/pgasrt/internal/tassert"
)

func TestMain(m *testing.M) {
	os.Unsetenv("PGASRT_CONFIG")
	ctx := context.Background()
	if err := Init(ctx); err != nil {
		panic(err)
	}
	code := m.Run()
	_ = Finalize(ctx)
	os.Exit(code)
}

func TestThisImageIsOneBased(t *testing.T) {
	tassert.Fatal(t, ThisImage() == 1, "local backend's sole image must report as image 1, got %d", ThisImage())
	tassert.Fatal(t, NumImages() == 1, "expected 1 image, got %d", NumImages())
}

func TestRegisterDeregisterReportsSuccess(t *testing.T) {
	ctx := context.Background()
	var stat int
	tok := Register(ctx, 64, CoarrayStatic, &stat, nil)
	tassert.Fatal(t, stat == 0, "expected stat=0 on success, got %d", stat)
	tassert.Fatal(t, tok != nil, "expected a non-nil token")

	Deregister(ctx, tok, false, &stat, nil)
	tassert.Fatal(t, stat == 0, "expected stat=0 on deregister success, got %d", stat)
}

func TestAtomicDefineRefRoundTrip(t *testing.T) {
	ctx := context.Background()
	var stat int
	tok := Register(ctx, 8, LockStaticKind, &stat, nil)
	tassert.Fatal(t, stat == 0, "register failed with stat=%d", stat)

	AtomicDefine(ctx, tok, 0, 0, 99, &stat, nil)
	tassert.Fatal(t, stat == 0, "atomic_define failed with stat=%d", stat)

	var out int64
	AtomicRef(ctx, tok, 0, 0, &out, &stat, nil)
	tassert.Fatal(t, stat == 0, "atomic_ref failed with stat=%d", stat)
	tassert.Fatal(t, out == 99, "expected 99, got %d", out)
}

func TestLockUnlockViaABI(t *testing.T) {
	ctx := context.Background()
	var stat int
	tok := Register(ctx, 8, LockStaticKind, &stat, nil)
	tassert.Fatal(t, stat == 0, "register failed with stat=%d", stat)

	var acquired bool
	Lock(ctx, tok, 0, 0, &acquired, &stat, nil)
	tassert.Fatal(t, stat == 0 && acquired, "expected the first try-lock to succeed")

	Unlock(ctx, tok, 0, 0, &stat, nil)
	tassert.Fatal(t, stat == 0, "unlock failed with stat=%d", stat)

	// Unlocking an already-free lock must report the lock-violation stat
	// rather than aborting, since a non-nil stat was supplied.
	Unlock(ctx, tok, 0, 0, &stat, nil)
	tassert.Fatal(t, stat != 0, "expected a non-zero stat for unlocking a free lock")
}

func TestIsContiguous(t *testing.T) {
	d := &descriptor.Descriptor{ElemSize: 8}
	tassert.Fatal(t, IsContiguous(d), "a scalar descriptor must be contiguous")
}
