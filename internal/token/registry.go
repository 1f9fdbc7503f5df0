// Package token implements the coarray segment registry (spec §4.2): it
// allocates, tracks, and releases the cluster-wide transport windows that
// back every coarray, lock, critical, and event variable.
//
// The source runtime links tokens into an intrusive doubly-linked list
// (a `prev`/`next` pair embedded in each token struct). spec.md §9 flags
// that shape as not worth reproducing in a memory-safe language; this
// registry instead owns its tokens in two ordinary slices used as
// stacks, exactly the redesign spec.md calls out.
package token

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teris-io/shortid"

	"github.com/caflang/pgasrt/internal/checkpoint"
	"github.com/caflang/pgasrt/internal/descriptor"
	"github.com/caflang/pgasrt/internal/nlog"
	"github.com/caflang/pgasrt/internal/transport"
	"github.com/caflang/pgasrt/internal/xerrors"
)

// Kind is a token's registration kind (spec §3's reg_kind enumeration).
type Kind int

const (
	StaticCoarray Kind = iota
	AllocatableCoarray
	LockStatic
	LockAlloc
	CriticalVariable
	EventStatic
	EventAlloc
)

// Variant selects which windows register actually creates (spec §4.2's
// allocation variants, used by different compiler ABI call sites).
type Variant int

const (
	// VariantFull creates both the data window and its companion
	// descriptor window.
	VariantFull Variant = iota
	// VariantAllocateOnly creates only the data window.
	VariantAllocateOnly
	// VariantRegisterOnly creates only the descriptor window, over
	// memory the caller already owns.
	VariantRegisterOnly
)

func (k Kind) counterSlots() bool {
	switch k {
	case LockStatic, LockAlloc, CriticalVariable, EventStatic, EventAlloc:
		return true
	}
	return false
}

// isStatic reports whether a token of kind k lives until finalize rather
// than being explicitly deregistered by user code (spec §6's reg_kind
// list: coarray_static, lock_static, event_static all share this
// lifetime; a CRITICAL construct's lock is compiler-generated and static
// for the same reason, even though spec.md names it just "critical").
func (k Kind) isStatic() bool {
	switch k {
	case StaticCoarray, LockStatic, CriticalVariable, EventStatic:
		return true
	}
	return false
}

// wordSize is the machine-word width of one lock/event/critical slot.
const wordSize = 8

// Token is the registry's live handle on one coarray segment (spec §3).
type Token struct {
	ID        string
	Win       transport.Window
	DescWin   transport.Window
	HasDesc   bool
	Kind      Kind
	Variant   Variant
	SizeBytes int64
	Static    bool
}

// Registry owns every live token for one image. Collective operations
// (Register, Deregister) assume every image calls them in the same order
// (spec §1's SPMD assumption) — the registry itself performs no
// cross-image coordination beyond the barriers spec §4.2 already
// mandates.
type Registry struct {
	backend transport.Backend
	ckpt    checkpoint.Backend
	audit   *checkpoint.AuditLog
	sid     *shortid.Shortid

	mu     sync.Mutex
	all    []*Token // LIFO stack, all live tokens
	static []*Token // sublist: tokens freed only at finalize

	finalized atomic.Bool
}

// New builds a Registry over backend. ckpt may be checkpoint.Nop{} when
// no snapshot target is configured; audit may be nil when no audit log
// is configured, in which case Register/Deregister record nothing.
func New(backend transport.Backend, ckpt checkpoint.Backend, audit *checkpoint.AuditLog) *Registry {
	sid, err := shortid.New(1, shortid.DefaultABC, 1)
	if err != nil {
		// shortid.New only fails on a malformed alphabet/seed; the
		// defaults above are always valid, so this is unreachable in
		// practice but handled rather than panicking on a diagnostic id
		// generator.
		sid = nil
	}
	return &Registry{backend: backend, ckpt: ckpt, audit: audit, sid: sid}
}

func (r *Registry) nextID() string {
	if r.sid == nil {
		return "tok"
	}
	id, err := r.sid.Generate()
	if err != nil {
		return "tok"
	}
	return id
}

// Register creates a new token (spec §4.2). size is in bytes for
// coarray kinds, and a slot count for lock/event/critical kinds (each
// slot occupies one machine word).
func (r *Registry) Register(ctx context.Context, size int64, kind Kind, variant Variant) (*Token, error) {
	if r.finalized.Load() {
		return nil, xerrors.StoppedImage("register")
	}

	winBytes := size
	if kind.counterSlots() {
		winBytes = size * wordSize
	}

	tok := &Token{
		ID:        r.nextID(),
		Kind:      kind,
		Variant:   variant,
		SizeBytes: winBytes,
		Static:    kind.isStatic(),
	}

	if variant != VariantRegisterOnly {
		win, err := r.backend.WinCreate(int(winBytes))
		if err != nil {
			return nil, xerrors.Newf(xerrors.StatAllocFailed, "register: win_create(%d bytes): %v", winBytes, err)
		}
		tok.Win = win
	}

	if variant != VariantAllocateOnly {
		// register-only tokens need this window even though they own no
		// data window.
		descWin, err := r.backend.WinCreate(descriptor.WireSize)
		if err != nil {
			return nil, xerrors.Newf(xerrors.StatAllocFailed, "register: desc win_create: %v", err)
		}
		tok.DescWin = descWin
		tok.HasDesc = true
	}

	if kind.counterSlots() {
		zero := make([]byte, winBytes)
		if err := r.backend.Put(ctx, tok.Win, r.backend.MyRank(), 0, zero); err != nil {
			return nil, xerrors.Transport("register: zero-init", err)
		}
		if err := r.backend.Barrier(ctx); err != nil {
			return nil, xerrors.Transport("register: zero-init barrier", err)
		}
	}

	r.mu.Lock()
	r.all = append(r.all, tok)
	if tok.Static {
		r.static = append(r.static, tok)
	}
	r.mu.Unlock()

	if tok.Static && r.ckpt != nil {
		go r.checkpointStatic(tok)
	}
	r.recordAudit(tok.ID, "register")

	return tok, nil
}

// Deregister releases tok (spec §4.2). deallocateOnly frees only the
// data window, keeping the descriptor window alive across a subsequent
// reallocation.
func (r *Registry) Deregister(ctx context.Context, tok *Token, deallocateOnly bool) error {
	if r.finalized.Load() {
		return xerrors.StoppedImage("deregister")
	}
	if err := r.backend.Barrier(ctx); err != nil {
		return xerrors.Transport("deregister barrier", err)
	}

	r.mu.Lock()
	r.all = removeToken(r.all, tok)
	if tok.Static {
		r.static = removeToken(r.static, tok)
	}
	r.mu.Unlock()

	if tok.Variant != VariantRegisterOnly {
		if err := r.backend.WinFree(tok.Win); err != nil {
			return xerrors.Transport("deregister: win_free", err)
		}
	}
	if !deallocateOnly && tok.HasDesc {
		if err := r.backend.WinFree(tok.DescWin); err != nil {
			return xerrors.Transport("deregister: desc win_free", err)
		}
	}
	r.recordAudit(tok.ID, "deregister")
	return nil
}

// recordAudit is a best-effort log write; a failure never reaches the
// caller of Register/Deregister, the same fire-and-forget treatment
// checkpointStatic gives its own snapshot writes.
func (r *Registry) recordAudit(tokenID, event string) {
	if r.audit == nil {
		return
	}
	if err := r.audit.Record(tokenID, event, time.Now()); err != nil {
		nlog.Warningf("token: audit: recording %s for token %s: %v", event, tokenID, err)
	}
}

// Finalize drains and frees every live token, in LIFO order, then marks
// the registry as no longer accepting register/deregister calls (spec
// §3's finalize contract: "leaves neither segments nor windows behind").
func (r *Registry) Finalize() {
	r.mu.Lock()
	toks := append([]*Token(nil), r.all...)
	r.all = nil
	r.static = nil
	r.mu.Unlock()

	for i := len(toks) - 1; i >= 0; i-- {
		t := toks[i]
		if t.Variant != VariantRegisterOnly {
			if err := r.backend.WinFree(t.Win); err != nil {
				nlog.Warningf("token: finalize: freeing token %s: %v", t.ID, err)
			}
		}
		if t.HasDesc {
			if err := r.backend.WinFree(t.DescWin); err != nil {
				nlog.Warningf("token: finalize: freeing token %s descriptor window: %v", t.ID, err)
			}
		}
	}
	r.finalized.Store(true)
}

// checkpointStatic is a best-effort, fire-and-forget snapshot hook; any
// failure is logged and never reaches the caller of Register (spec.md's
// §7 stat/errmsg contract governs only the core operations, not this
// diagnostic side channel, SPEC_FULL.md §4.2).
func (r *Registry) checkpointStatic(tok *Token) {
	data := make([]byte, tok.SizeBytes)
	if err := r.backend.Get(context.Background(), tok.Win, r.backend.MyRank(), 0, data); err != nil {
		nlog.Warningf("token: checkpoint: reading token %s: %v", tok.ID, err)
		return
	}
	if err := r.ckpt.Put(context.Background(), tok.ID, data); err != nil {
		nlog.Warningf("token: checkpoint: writing token %s: %v", tok.ID, err)
	}
}

func removeToken(list []*Token, tok *Token) []*Token {
	for i, t := range list {
		if t == tok {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// All returns a snapshot of every live token, most-recently-registered
// first.
func (r *Registry) All() []*Token {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Token, len(r.all))
	for i, t := range r.all {
		out[len(r.all)-1-i] = t
	}
	return out
}

func (r *Registry) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fmt.Sprintf("token.Registry{live=%d static=%d}", len(r.all), len(r.static))
}
