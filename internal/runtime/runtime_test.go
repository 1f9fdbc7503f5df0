package runtime

import (
	"context"
	"os"
	"testing"

	"github.com/caflang/pgasrt/internal/tassert"
	"github.com/caflang/pgasrt/internal/token"
)

// newTestRuntime returns an initialized Runtime over the default ("local")
// transport; PGASRT_CONFIG is cleared so no side-file overrides it.
func newTestRuntime(t *testing.T) (context.Context, *Runtime) {
	t.Helper()
	os.Unsetenv("PGASRT_CONFIG")
	ctx := context.Background()
	r := New()
	tassert.CheckFatal(t, r.Init(ctx))
	t.Cleanup(func() { _ = r.Finalize(ctx) })
	return ctx, r
}

func TestInitIsIdempotent(t *testing.T) {
	ctx, r := newTestRuntime(t)
	tokens := r.Tokens
	tassert.CheckFatal(t, r.Init(ctx))
	tassert.Fatal(t, r.Tokens == tokens, "a second Init must not rebuild components")
}

func TestThisImageAndNumImages(t *testing.T) {
	_, r := newTestRuntime(t)
	tassert.Fatal(t, r.ThisImage() == 0, "local backend's sole image is rank 0, got %d", r.ThisImage())
	tassert.Fatal(t, r.NumImages() == 1, "local backend reports one image, got %d", r.NumImages())
}

func TestRegisterDeregisterThroughRuntime(t *testing.T) {
	ctx, r := newTestRuntime(t)
	tok, err := r.Register(ctx, 64, token.StaticCoarray, token.VariantFull)
	tassert.CheckFatal(t, err)
	tassert.CheckFatal(t, r.Deregister(ctx, tok, false))
}

func TestFinalizeIsIdempotent(t *testing.T) {
	ctx, r := newTestRuntime(t)
	tassert.CheckFatal(t, r.Finalize(ctx))
	tassert.CheckFatal(t, r.Finalize(ctx))
}

func TestSyncAllThroughRuntime(t *testing.T) {
	ctx, r := newTestRuntime(t)
	tassert.CheckFatal(t, r.SyncAll(ctx))
}
