package token

import (
	"context"
	"testing"

	"github.com/caflang/pgasrt/internal/checkpoint"
	"github.com/caflang/pgasrt/internal/tassert"
	"github.com/caflang/pgasrt/internal/transport/local"
)

func setup(t *testing.T) (context.Context, *Registry) {
	t.Helper()
	ctx := context.Background()
	b := local.New()
	tassert.CheckFatal(t, b.Init(ctx))
	return ctx, New(b, checkpoint.Nop{}, nil)
}

func TestRegisterDeregisterRecordsAuditEvents(t *testing.T) {
	ctx := context.Background()
	b := local.New()
	tassert.CheckFatal(t, b.Init(ctx))
	audit, err := checkpoint.OpenAuditLog(":memory:")
	tassert.CheckFatal(t, err)
	defer audit.Close()

	r := New(b, checkpoint.Nop{}, audit)
	tok, err := r.Register(ctx, 64, AllocatableCoarray, VariantFull)
	tassert.CheckFatal(t, err)
	tassert.CheckFatal(t, r.Deregister(ctx, tok, false))

	events, err := audit.History(tok.ID)
	tassert.CheckFatal(t, err)
	tassert.Fatal(t, len(events) == 2, "expected 2 audit events, got %d: %v", len(events), events)
	tassert.Fatal(t, events[0] == "register", "expected first event to be register, got %q", events[0])
	tassert.Fatal(t, events[1] == "deregister", "expected second event to be deregister, got %q", events[1])
}

func TestRegisterDeregisterCoarray(t *testing.T) {
	ctx, r := setup(t)
	tok, err := r.Register(ctx, 64, StaticCoarray, VariantFull)
	tassert.CheckFatal(t, err)
	tassert.Fatal(t, tok.HasDesc, "VariantFull should create a descriptor window")
	tassert.Fatal(t, tok.Static, "coarray_static tokens must be static")
	tassert.Fatal(t, len(r.All()) == 1, "expected one live token, got %d", len(r.All()))

	tassert.CheckFatal(t, r.Deregister(ctx, tok, false))
	tassert.Fatal(t, len(r.All()) == 0, "expected no live tokens after deregister")
}

func TestRegisterAllocateOnlyHasNoDescriptor(t *testing.T) {
	ctx, r := setup(t)
	tok, err := r.Register(ctx, 32, AllocatableCoarray, VariantAllocateOnly)
	tassert.CheckFatal(t, err)
	tassert.Fatal(t, !tok.HasDesc, "allocate-only variant should not create a descriptor window")
	tassert.CheckFatal(t, r.Deregister(ctx, tok, false))
}

func TestLockStaticAndAllocAreDistinctKinds(t *testing.T) {
	ctx, r := setup(t)
	stat, err := r.Register(ctx, 1, LockStatic, VariantFull)
	tassert.CheckFatal(t, err)
	tassert.Fatal(t, stat.Static, "lock_static tokens must be static")

	alloc, err := r.Register(ctx, 1, LockAlloc, VariantFull)
	tassert.CheckFatal(t, err)
	tassert.Fatal(t, !alloc.Static, "lock_alloc tokens must not be static")

	tassert.CheckFatal(t, r.Deregister(ctx, alloc, false))
}

func TestFinalizeFreesEveryLiveToken(t *testing.T) {
	ctx, r := setup(t)
	_, err := r.Register(ctx, 16, StaticCoarray, VariantFull)
	tassert.CheckFatal(t, err)
	_, err = r.Register(ctx, 1, EventStatic, VariantFull)
	tassert.CheckFatal(t, err)

	r.Finalize()
	tassert.Fatal(t, len(r.All()) == 0, "finalize should drain every live token")

	_, err = r.Register(ctx, 16, StaticCoarray, VariantFull)
	tassert.Fatal(t, err != nil, "register after finalize must fail")
}
