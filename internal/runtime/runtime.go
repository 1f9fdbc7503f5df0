// Package runtime assembles every core component behind one lifecycle
// (spec §4.8): Init/Finalize/ErrorStop, idempotent bring-up, and
// owns_transport adoption. It is also where cross-cutting metrics
// recording lives — one Observe() call per operation, mirroring
// aistore's target/proxy pattern of each xaction recording its own stats
// on completion rather than every internal component doing so itself.
//
// Most methods here take and return 0-based ranks and image ids,
// exactly like transport.Backend; the compiler ABI's 1-based numbering
// is translated once, at the internal/abi boundary. The exceptions keep
// the ABI convention and pass it through unchanged: the image argument
// of the atomic, lock and event methods (1-based, 0 meaning this image;
// see internal/atomics) and the resultImage of Sum/Min/Max/Reduce
// (0 meaning every image, otherwise 1-based).
package runtime

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/caflang/pgasrt/internal/atomics"
	"github.com/caflang/pgasrt/internal/checkpoint"
	"github.com/caflang/pgasrt/internal/collective"
	"github.com/caflang/pgasrt/internal/config"
	"github.com/caflang/pgasrt/internal/descriptor"
	"github.com/caflang/pgasrt/internal/discovery"
	"github.com/caflang/pgasrt/internal/metrics"
	"github.com/caflang/pgasrt/internal/nlog"
	"github.com/caflang/pgasrt/internal/syncp"
	"github.com/caflang/pgasrt/internal/token"
	"github.com/caflang/pgasrt/internal/transport"
	"github.com/caflang/pgasrt/internal/transport/local"
	"github.com/caflang/pgasrt/internal/transport/tcpb"
	"github.com/caflang/pgasrt/internal/xerrors"
	"github.com/caflang/pgasrt/internal/xfer"
)

// osExit is a var so error_stop/stop paths are exercisable from tests.
var osExit = os.Exit

// Runtime owns one image's entire runtime state. The zero value is
// usable: every field is populated by Init.
type Runtime struct {
	cfg           *config.Config
	backend       transport.Backend
	ownsTransport bool
	ckpt          checkpoint.Backend
	audit         *checkpoint.AuditLog

	Tokens     *token.Registry
	Xfer       *xfer.Engine
	Sync       *syncp.Sync
	Atomics    *atomics.Atomics
	Collective *collective.Collective

	metrics    *metrics.Recorder
	promReg    *prometheus.Registry

	mu          sync.Mutex
	initialized bool
	finalized   atomic.Bool
}

// New returns an uninitialized Runtime; call Init before using it.
func New() *Runtime { return &Runtime{} }

// Init brings up the transport and every core component (spec §4.8). A
// second call is a no-op: "initialization is idempotent".
func (r *Runtime) Init(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized {
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("runtime: loading config: %w", err)
	}
	r.cfg = cfg

	backend, err := buildBackend(cfg)
	if err != nil {
		return fmt.Errorf("runtime: building transport backend: %w", err)
	}
	if err := backend.Init(ctx); err != nil {
		return fmt.Errorf("runtime: transport init: %w", err)
	}
	r.backend = backend
	// A backend that was already brought up by the host program (rather
	// than by this Init call) reports OwnsTransport() == false, so
	// Finalize leaves the substrate alive (spec §4.8).
	r.ownsTransport = backend.OwnsTransport()

	r.ckpt, err = buildCheckpoint(ctx, cfg)
	if err != nil {
		return fmt.Errorf("runtime: building checkpoint backend: %w", err)
	}

	r.audit, err = buildAuditLog(cfg)
	if err != nil {
		return fmt.Errorf("runtime: building audit log: %w", err)
	}

	r.Tokens = token.New(backend, r.ckpt, r.audit)
	r.Xfer = xfer.New(backend)
	syncSync, err := syncp.New(ctx, backend)
	if err != nil {
		return fmt.Errorf("runtime: building sync: %w", err)
	}
	r.Sync = syncSync
	r.Xfer.SetPutNotifier(syncSync.RecordPut)
	r.Atomics = atomics.New(backend)
	r.Collective = collective.New(backend)

	rec, reg := metrics.New()
	r.metrics = rec
	r.promReg = reg

	r.initialized = true
	return nil
}

func buildBackend(cfg *config.Config) (transport.Backend, error) {
	switch cfg.Transport {
	case "", "local":
		return local.New(), nil
	case "tcp":
		disc, err := discovery.FromConfig(cfg)
		if err != nil {
			return nil, err
		}
		return tcpb.New(cfg, disc), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

func buildCheckpoint(ctx context.Context, cfg *config.Config) (checkpoint.Backend, error) {
	if cfg.CheckpointBucket == "" {
		return checkpoint.Nop{}, nil
	}
	return checkpoint.NewS3Backend(ctx, cfg.CheckpointBucket, cfg.CheckpointPrefix)
}

// buildAuditLog returns nil (no audit log) when unconfigured; the token
// registry treats a nil *checkpoint.AuditLog as "don't record".
func buildAuditLog(cfg *config.Config) (*checkpoint.AuditLog, error) {
	if cfg.AuditLogPath == "" {
		return nil, nil
	}
	return checkpoint.OpenAuditLog(cfg.AuditLogPath)
}

// MetricsRegistry exposes the private Prometheus registry the host
// process may serve (e.g. via promhttp.HandlerFor); this module has no
// HTTP surface of its own.
func (r *Runtime) MetricsRegistry() *prometheus.Registry { return r.promReg }

func (r *Runtime) observe(op string, start time.Time, err error) {
	r.metrics.Observe(op, start, err)
}

// ThisImage is this process's 0-based rank.
func (r *Runtime) ThisImage() int { return r.backend.MyRank() }

// NumImages is the job's total image count.
func (r *Runtime) NumImages() int { return r.backend.Size() }

// Register, Deregister, Send, Get, SendGet, SyncAll, SyncMemory,
// SyncImages, Broadcast, Sum, Min, Max, Reduce, Lock, Unlock, and the
// atomic/event primitives are thin metrics-observing wrappers over the
// corresponding component; see the component packages for the actual
// algorithm each implements.

func (r *Runtime) Register(ctx context.Context, size int64, kind token.Kind, variant token.Variant) (tok *token.Token, err error) {
	defer func(start time.Time) { r.observe("register", start, err) }(time.Now())
	tok, err = r.Tokens.Register(ctx, size, kind, variant)
	return
}

func (r *Runtime) Deregister(ctx context.Context, tok *token.Token, deallocateOnly bool) (err error) {
	defer func(start time.Time) { r.observe("deregister", start, err) }(time.Now())
	err = r.Tokens.Deregister(ctx, tok, deallocateOnly)
	return
}

func (r *Runtime) Send(ctx context.Context, tok *token.Token, offset int64, image int, remote, local *descriptor.Descriptor, buf []byte, mrt bool) (err error) {
	defer func(start time.Time) { r.observe("send", start, err) }(time.Now())
	err = r.Xfer.Send(ctx, tok, offset, image, remote, local, buf, mrt)
	return
}

func (r *Runtime) Get(ctx context.Context, tok *token.Token, offset int64, image int, remote, local *descriptor.Descriptor, buf []byte, mrt bool) (err error) {
	defer func(start time.Time) { r.observe("get", start, err) }(time.Now())
	err = r.Xfer.Get(ctx, tok, offset, image, remote, local, buf, mrt)
	return
}

func (r *Runtime) SendGet(ctx context.Context, dstTok *token.Token, dstOffset int64, dstImage int, dstDesc *descriptor.Descriptor, srcTok *token.Token, srcOffset int64, srcImage int, srcDesc *descriptor.Descriptor) (err error) {
	defer func(start time.Time) { r.observe("sendget", start, err) }(time.Now())
	err = r.Xfer.SendGet(ctx, dstTok, dstOffset, dstImage, dstDesc, srcTok, srcOffset, srcImage, srcDesc)
	return
}

func (r *Runtime) SyncAll(ctx context.Context) (err error) {
	defer func(start time.Time) { r.observe("sync_all", start, err) }(time.Now())
	err = r.Sync.SyncAll(ctx)
	return
}

func (r *Runtime) SyncMemory(ctx context.Context) (err error) {
	defer func(start time.Time) { r.observe("sync_memory", start, err) }(time.Now())
	err = r.Sync.SyncMemory(ctx)
	return
}

func (r *Runtime) SyncImages(ctx context.Context, images []int, all bool) (err error) {
	defer func(start time.Time) { r.observe("sync_images", start, err) }(time.Now())
	err = r.Sync.SyncImages(ctx, images, all)
	return
}

func (r *Runtime) Broadcast(ctx context.Context, win transport.Window, offset int64, desc *descriptor.Descriptor, root int) (err error) {
	defer func(start time.Time) { r.observe("co_broadcast", start, err) }(time.Now())
	err = r.Collective.Broadcast(ctx, win, offset, desc, root)
	return
}

func (r *Runtime) Sum(ctx context.Context, win transport.Window, offset int64, desc *descriptor.Descriptor, resultImage int) (err error) {
	defer func(start time.Time) { r.observe("co_sum", start, err) }(time.Now())
	err = r.Collective.Sum(ctx, win, offset, desc, resultImage)
	return
}

func (r *Runtime) Min(ctx context.Context, win transport.Window, offset int64, desc *descriptor.Descriptor, resultImage int) (err error) {
	defer func(start time.Time) { r.observe("co_min", start, err) }(time.Now())
	err = r.Collective.Min(ctx, win, offset, desc, resultImage)
	return
}

func (r *Runtime) Max(ctx context.Context, win transport.Window, offset int64, desc *descriptor.Descriptor, resultImage int) (err error) {
	defer func(start time.Time) { r.observe("co_max", start, err) }(time.Now())
	err = r.Collective.Max(ctx, win, offset, desc, resultImage)
	return
}

func (r *Runtime) Reduce(ctx context.Context, win transport.Window, offset int64, desc *descriptor.Descriptor, fn collective.ReduceFunc, byRef bool, resultImage int) (err error) {
	defer func(start time.Time) { r.observe("co_reduce", start, err) }(time.Now())
	err = r.Collective.Reduce(ctx, win, offset, desc, fn, byRef, resultImage)
	return
}

func (r *Runtime) Lock(ctx context.Context, win transport.Window, offset int64, image int, tryOnly bool) (acquired bool, err error) {
	defer func(start time.Time) { r.observe("lock", start, err) }(time.Now())
	acquired, err = r.Atomics.Lock(ctx, win, offset, image, tryOnly)
	return
}

func (r *Runtime) Unlock(ctx context.Context, win transport.Window, offset int64, image int) (err error) {
	defer func(start time.Time) { r.observe("unlock", start, err) }(time.Now())
	err = r.Atomics.Unlock(ctx, win, offset, image)
	return
}

func (r *Runtime) AtomicDefine(ctx context.Context, win transport.Window, offset int64, image int, v int64) (err error) {
	defer func(start time.Time) { r.observe("atomic_define", start, err) }(time.Now())
	err = r.Atomics.Define(ctx, win, offset, image, v)
	return
}

func (r *Runtime) AtomicRef(ctx context.Context, win transport.Window, offset int64, image int) (v int64, err error) {
	defer func(start time.Time) { r.observe("atomic_ref", start, err) }(time.Now())
	v, err = r.Atomics.Ref(ctx, win, offset, image)
	return
}

func (r *Runtime) AtomicCAS(ctx context.Context, win transport.Window, offset int64, image int, compare, newVal int64) (old int64, err error) {
	defer func(start time.Time) { r.observe("atomic_cas", start, err) }(time.Now())
	old, err = r.Atomics.CAS(ctx, win, offset, image, compare, newVal)
	return
}

func (r *Runtime) AtomicOp(ctx context.Context, win transport.Window, offset int64, image int, op atomics.Op, value int64) (old int64, err error) {
	defer func(start time.Time) { r.observe("atomic_op", start, err) }(time.Now())
	old, err = r.Atomics.FetchOp(ctx, win, offset, image, op, value)
	return
}

func (r *Runtime) EventPost(ctx context.Context, win transport.Window, offset int64, image int) (err error) {
	defer func(start time.Time) { r.observe("event_post", start, err) }(time.Now())
	err = r.Atomics.Post(ctx, win, offset, image)
	return
}

func (r *Runtime) EventWait(ctx context.Context, win transport.Window, offset int64, untilCount int64) (err error) {
	defer func(start time.Time) { r.observe("event_wait", start, err) }(time.Now())
	err = r.Atomics.Wait(ctx, win, offset, untilCount)
	return
}

func (r *Runtime) EventQuery(ctx context.Context, win transport.Window, offset int64, image int) (count int64, err error) {
	defer func(start time.Time) { r.observe("event_query", start, err) }(time.Now())
	count, err = r.Atomics.Query(ctx, win, offset, image)
	return
}

// ErrorStop implements spec §4.8's error_stop: best-effort publish of
// STOPPED so peers detect the condition via sync_all/sync_images, then
// abort this process with exit code code.
func (r *Runtime) ErrorStop(ctx context.Context, code int) {
	nlog.Errorf("error_stop: code=%d", code)
	r.finalizeBestEffort(ctx)
	osExit(code)
}

// ErrorStopStr is error_stop with a message written to stderr first.
func (r *Runtime) ErrorStopStr(ctx context.Context, msg string) {
	fmt.Fprintln(os.Stderr, msg)
	r.finalizeBestEffort(ctx)
	osExit(1)
}

// StopNumeric implements the non-error STOP statement's numeric form.
func (r *Runtime) StopNumeric(ctx context.Context, code int) {
	r.finalizeBestEffort(ctx)
	osExit(code)
}

// StopStr implements STOP "message": printed to stdout, exit code 0.
func (r *Runtime) StopStr(ctx context.Context, msg string) {
	fmt.Fprintln(os.Stdout, msg)
	r.finalizeBestEffort(ctx)
	osExit(0)
}

func (r *Runtime) finalizeBestEffort(ctx context.Context) {
	if err := r.Finalize(ctx); err != nil {
		nlog.Warningf("runtime: finalize during stop: %v", err)
	}
}

// Finalize implements spec §4.8: publish STOPPED, barrier, free every
// registered segment in LIFO order, free the status window, then, only
// if this Runtime owns the transport, tear it down. Safe to call more
// than once; only the first call does any work.
func (r *Runtime) Finalize(ctx context.Context) error {
	if !r.finalized.CompareAndSwap(false, true) {
		return nil
	}

	if err := r.Sync.MarkStopped(ctx); err != nil {
		nlog.Warningf("runtime: finalize: publishing stopped status: %v", err)
	}
	if err := r.backend.Barrier(ctx); err != nil {
		nlog.Warningf("runtime: finalize: barrier: %v", err)
	}

	r.Tokens.Finalize()

	if err := r.Sync.Close(); err != nil {
		nlog.Warningf("runtime: finalize: closing sync windows: %v", err)
	}
	if err := r.ckpt.Close(); err != nil {
		nlog.Warningf("runtime: finalize: closing checkpoint backend: %v", err)
	}
	if r.audit != nil {
		if err := r.audit.Close(); err != nil {
			nlog.Warningf("runtime: finalize: closing audit log: %v", err)
		}
	}

	if !r.ownsTransport {
		return nil
	}
	if err := r.backend.Finalize(ctx); err != nil {
		return xerrors.Transport("finalize", err)
	}
	return nil
}
