// Package tcpb implements transport.Backend for a distributed job: a
// full-mesh of TCP connections, one-sided put/get/accumulate/CAS/
// fetch_and_op emulated as a request/response pair serviced by a
// per-peer receive loop that applies the operation directly to the
// target window under that window's mutex (spec §4.1's "one-sided"
// contract from the caller's point of view — the receive loop is
// plumbing, never a second call site in user code, matching spec §5's
// "optional helper thread" framing). Grounded on
// original_source/src/mpi/mpi_caf.c's two-sided-bootstrap-plus-one-sided-
// emulation shape and the teacher's transport.StreamBundle fan-out idiom
// (xact/xs/tcb.go's bundle.NewDataMover).
package tcpb

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/caflang/pgasrt/internal/config"
	"github.com/caflang/pgasrt/internal/discovery"
	"github.com/caflang/pgasrt/internal/nlog"
	"github.com/caflang/pgasrt/internal/transport"
)

const (
	envRank = "PGASRT_RANK"
	envSize = "PGASRT_SIZE"
)

// handshake identifies a dialing peer to the accepting side (spec §3's
// fixed image count: every image learns its peers' ranks once at
// bring-up, never again).
type handshake struct {
	Rank  int
	Token string
}

type Backend struct {
	cfg       *config.Config
	discovery discovery.Strategy

	windows *transport.MemWindows

	rank int
	size int

	listener net.Listener

	peersMu sync.Mutex
	peers   map[int]*conn

	barrierGen uint64
	reduceGen  uint64
	bcastGen   uint64

	barrierMu     sync.Mutex
	barrierEpochs map[uint64]*barrierEpoch

	reduceMu     sync.Mutex
	reduceEpochs map[uint64]*reduceEpoch

	bcastMu     sync.Mutex
	bcastEpochs map[uint64]*bcastEpoch
}

// New constructs a distributed backend. disc resolves the ordered peer
// address list consulted at Init; cfg carries compression/checksum/join
// options (internal/config).
func New(cfg *config.Config, disc discovery.Strategy) *Backend {
	return &Backend{
		cfg:           cfg,
		discovery:     disc,
		windows:       transport.NewMemWindows(),
		peers:         make(map[int]*conn),
		barrierEpochs: make(map[uint64]*barrierEpoch),
		reduceEpochs:  make(map[uint64]*reduceEpoch),
		bcastEpochs:   make(map[uint64]*bcastEpoch),
	}
}

func (b *Backend) Init(ctx context.Context) error {
	rank, err := envInt(envRank, 0)
	if err != nil {
		return err
	}
	size, err := envInt(envSize, 1)
	if err != nil {
		return err
	}
	b.rank, b.size = rank, size

	addrs, err := b.discovery.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("tcp transport: resolving peer addresses: %w", err)
	}
	if len(addrs) != size {
		return fmt.Errorf("tcp transport: discovery returned %d addresses, expected %d", len(addrs), size)
	}

	listener, err := net.Listen("tcp", addrs[rank])
	if err != nil {
		return fmt.Errorf("tcp transport: listen on %s: %w", addrs[rank], err)
	}
	b.listener = listener
	go b.acceptLoop()

	expected := size - 1
	if expected == 0 {
		return nil
	}

	eg, _ := errgroup.WithContext(ctx)
	for j := rank + 1; j < size; j++ {
		peer, addr := j, addrs[j]
		eg.Go(func() error { return b.dialPeer(peer, addr) })
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	deadline := time.Now().Add(30 * time.Second)
	for {
		b.peersMu.Lock()
		n := len(b.peers)
		b.peersMu.Unlock()
		if n == expected {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("tcp transport: bring-up timed out waiting for %d peers, have %d", expected, n)
		}
		time.Sleep(10 * time.Millisecond)
	}
	nlog.Infof("tcp transport: image %d/%d up, %d peer connections established", rank, size, expected)
	return nil
}

func (b *Backend) acceptLoop() {
	for {
		nc, err := b.listener.Accept()
		if err != nil {
			return
		}
		go b.acceptConn(nc)
	}
}

func (b *Backend) acceptConn(nc net.Conn) {
	c := newConn(-1, nc)
	var hs handshake
	if err := c.dec.Decode(&hs); err != nil {
		nlog.Warningf("tcp transport: handshake read failed: %v", err)
		nc.Close()
		return
	}
	if b.cfg.JoinSecret != "" {
		if err := verifyJoinToken(hs.Token, b.cfg.JoinSecret, hs.Rank); err != nil {
			nlog.Warningf("tcp transport: rejecting image %d: %v", hs.Rank, err)
			nc.Close()
			return
		}
	}
	c.rank = hs.Rank
	b.peersMu.Lock()
	b.peers[hs.Rank] = c
	b.peersMu.Unlock()
	c.readLoop(b)
}

func (b *Backend) dialPeer(rank int, addr string) error {
	var (
		nc  net.Conn
		err error
	)
	deadline := time.Now().Add(30 * time.Second)
	for {
		nc, err = net.Dial("tcp", addr)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("tcp transport: dialing image %d at %s: %w", rank, addr, err)
		}
		time.Sleep(50 * time.Millisecond)
	}
	c := newConn(rank, nc)
	token := ""
	if b.cfg.JoinSecret != "" {
		token, err = signJoinToken(b.cfg.JoinSecret, b.rank)
		if err != nil {
			return err
		}
	}
	if err := c.enc.Encode(handshake{Rank: b.rank, Token: token}); err != nil {
		return fmt.Errorf("tcp transport: handshake to image %d: %w", rank, err)
	}
	b.peersMu.Lock()
	b.peers[rank] = c
	b.peersMu.Unlock()
	go c.readLoop(b)
	return nil
}

func (b *Backend) Finalize(context.Context) error {
	if b.listener != nil {
		b.listener.Close()
	}
	b.peersMu.Lock()
	for _, c := range b.peers {
		c.nc.Close()
	}
	b.peersMu.Unlock()
	b.windows.Close()
	return nil
}

// OwnsTransport is always true for this backend: there is no notion of
// an externally-initialized TCP mesh to adopt.
func (b *Backend) OwnsTransport() bool { return true }

func (b *Backend) MyRank() int { return b.rank }
func (b *Backend) Size() int   { return b.size }

func (b *Backend) peer(rank int) (*conn, error) {
	b.peersMu.Lock()
	c, ok := b.peers[rank]
	b.peersMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("tcp transport: no connection to image %d", rank)
	}
	return c, nil
}

func (b *Backend) WinCreate(bytes int) (transport.Window, error) { return b.windows.Create(bytes) }
func (b *Backend) WinFree(w transport.Window) error              { return b.windows.Free(w) }

func (b *Backend) WinLock(w transport.Window, rank int, _ transport.LockMode) error {
	if rank == b.rank {
		return b.windows.Lock(w)
	}
	return nil // remote lock is implicit: the receive loop applies ops atomically.
}

func (b *Backend) WinUnlock(w transport.Window, rank int) error {
	if rank == b.rank {
		return b.windows.Unlock(w)
	}
	return nil
}

// WinFlush is a no-op: every remote op below is a synchronous RPC, so
// completion is already guaranteed by the time the call returns.
func (b *Backend) WinFlush(transport.Window, int) error { return nil }

// StridedDatatypeCapable: the tcp backend has no wire-level vector/
// indexed datatype of its own; it uses the transfer engine's
// element-wise loop, same as the local backend (spec §4.4 requires
// picking one strided sub-strategy and applying it consistently; a
// future RDMA-capable backend is the natural place to report true here).
func (b *Backend) StridedDatatypeCapable() bool { return false }

func envInt(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("tcp transport: invalid %s=%q: %w", name, v, err)
	}
	return n, nil
}

var _ transport.Backend = (*Backend)(nil)
