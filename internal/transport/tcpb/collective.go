package tcpb

import (
	"context"
	"sync/atomic"

	"github.com/caflang/pgasrt/internal/transport"
)

// Barrier/Reduce/Broadcast are each keyed by a call-count "generation"
// that every image increments locally on its own Nth call to that
// operation, and every request carries the caller's generation so the
// coordinating image can group arrivals by call. Because every
// collective is invoked the same number of times, in the same order, on
// every image (spec §1's SPMD assumption, §5's ordering guarantees), the
// generation numbers agree across images without any negotiation.

type barrierEpoch struct {
	count   int
	release chan struct{}
}

// Barrier routes through image 0 as the fixed coordinator: every other
// image sends one "enter" RPC and blocks for the response, which only
// arrives once rank 0 has seen size() arrivals (including its own).
func (b *Backend) Barrier(ctx context.Context) error {
	gen := atomic.AddUint64(&b.barrierGen, 1) - 1
	if b.rank == 0 {
		<-b.arriveBarrier(gen)
		return nil
	}
	c, err := b.peer(0)
	if err != nil {
		return err
	}
	_, err = c.call(&request{Kind: opBarrierEnter, Gen: gen})
	return err
}

func (b *Backend) arriveBarrier(gen uint64) chan struct{} {
	b.barrierMu.Lock()
	e, ok := b.barrierEpochs[gen]
	if !ok {
		e = &barrierEpoch{release: make(chan struct{})}
		b.barrierEpochs[gen] = e
	}
	e.count++
	reached := e.count == b.size
	if reached {
		delete(b.barrierEpochs, gen)
	}
	b.barrierMu.Unlock()
	if reached {
		close(e.release)
	}
	return e.release
}

func (b *Backend) serveBarrierEnter(gen uint64) {
	<-b.arriveBarrier(gen)
}

type reduceEpoch struct {
	count    int
	combined []byte
	dt       transport.DType
	op       transport.AtomicOp
	release  chan struct{}
}

// Reduce routes through whichever image is named root for this call;
// every image (root included) contributes exactly once.
func (b *Backend) Reduce(ctx context.Context, op transport.AtomicOp, src []byte, n int, dt transport.DType, root int, all bool) ([]byte, error) {
	gen := atomic.AddUint64(&b.reduceGen, 1) - 1
	if b.rank == root {
		release, e := b.arriveReduce(gen, op, dt, src)
		<-release
		return e.combined, nil
	}
	c, err := b.peer(root)
	if err != nil {
		return nil, err
	}
	req := b.preparePayload(&request{Kind: opReduceContribute, Gen: gen, Root: root, Op: op, DType: dt, All: all}, src, nil)
	resp, err := c.call(req)
	if err != nil {
		return nil, err
	}
	if !all {
		return nil, nil
	}
	return b.unwrapPayload(resp.Codec, resp.Data, resp.OrigLen)
}

func (b *Backend) arriveReduce(gen uint64, op transport.AtomicOp, dt transport.DType, data []byte) (chan struct{}, *reduceEpoch) {
	b.reduceMu.Lock()
	e, ok := b.reduceEpochs[gen]
	if !ok {
		e = &reduceEpoch{release: make(chan struct{}), op: op, dt: dt}
		b.reduceEpochs[gen] = e
	}
	if e.combined == nil {
		e.combined = append([]byte(nil), data...)
	} else {
		transport.ApplyOp(e.combined, data, dt, op)
	}
	e.count++
	reached := e.count == b.size
	if reached {
		delete(b.reduceEpochs, gen)
	}
	b.reduceMu.Unlock()
	if reached {
		close(e.release)
	}
	return e.release, e
}

// serveReduceContribute is called (on the root image only — the request
// was routed to root's connection) for every non-root contributor.
func (b *Backend) serveReduceContribute(gen uint64, root int, op transport.AtomicOp, dt transport.DType, all bool, data []byte) []byte {
	release, e := b.arriveReduce(gen, op, dt, data)
	<-release
	if !all {
		return nil
	}
	return e.combined
}

type bcastEpoch struct {
	ready   chan struct{}
	buf     []byte
	codec   string
	origLen int
}

// Broadcast: root publishes its buffer once, every other image fetches
// it over RPC (blocking until root publishes), then every image
// (including root) passes through a trailing Barrier so root cannot
// reuse/free buf before all fetches complete and so the epoch map never
// grows unbounded.
func (b *Backend) Broadcast(ctx context.Context, buf []byte, root int) error {
	gen := atomic.AddUint64(&b.bcastGen, 1) - 1
	if b.rank == root {
		compressed, codec, origLen := compress(b.cfg.CompressionCodec, b.cfg.CompressionThreshold, buf)
		b.bcastMu.Lock()
		e, ok := b.bcastEpochs[gen]
		if !ok {
			e = &bcastEpoch{ready: make(chan struct{})}
			b.bcastEpochs[gen] = e
		}
		e.buf, e.codec, e.origLen = compressed, codec, origLen
		close(e.ready)
		b.bcastMu.Unlock()
		if err := b.Barrier(ctx); err != nil {
			return err
		}
		b.bcastMu.Lock()
		delete(b.bcastEpochs, gen)
		b.bcastMu.Unlock()
		return nil
	}
	c, err := b.peer(root)
	if err != nil {
		return err
	}
	resp, err := c.call(&request{Kind: opBroadcastFetch, Gen: gen, Root: root})
	if err != nil {
		return err
	}
	data, err := b.unwrapPayload(resp.Codec, resp.Data, resp.OrigLen)
	if err != nil {
		return err
	}
	copy(buf, data)
	return b.Barrier(ctx)
}

func (b *Backend) serveBroadcastFetch(gen uint64) (data []byte, codec string, origLen int) {
	b.bcastMu.Lock()
	e, ok := b.bcastEpochs[gen]
	if !ok {
		e = &bcastEpoch{ready: make(chan struct{})}
		b.bcastEpochs[gen] = e
	}
	b.bcastMu.Unlock()
	<-e.ready
	return e.buf, e.codec, e.origLen
}
