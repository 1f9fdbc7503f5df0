package tcpb

import (
	"context"

	"github.com/caflang/pgasrt/internal/transport"
)

func (b *Backend) Put(_ context.Context, w transport.Window, dstRank int, dstOffset int64, src []byte) error {
	if dstRank == b.rank {
		return b.windows.WithLocked(w, dstOffset, len(src), func(mem []byte) error {
			copy(mem, src)
			return nil
		})
	}
	c, err := b.peer(dstRank)
	if err != nil {
		return err
	}
	req := b.preparePayload(&request{Kind: opPut, Win: w, Offset: dstOffset, Len: len(src)}, src, nil)
	_, err = c.call(req)
	return err
}

func (b *Backend) Get(_ context.Context, w transport.Window, srcRank int, srcOffset int64, dst []byte) error {
	if srcRank == b.rank {
		return b.windows.WithLocked(w, srcOffset, len(dst), func(mem []byte) error {
			copy(dst, mem)
			return nil
		})
	}
	c, err := b.peer(srcRank)
	if err != nil {
		return err
	}
	resp, err := c.call(&request{Kind: opGet, Win: w, Offset: srcOffset, Len: len(dst)})
	if err != nil {
		return err
	}
	data, err := b.unwrapPayload(resp.Codec, resp.Data, resp.OrigLen)
	if err != nil {
		return err
	}
	copy(dst, data)
	return nil
}

func (b *Backend) Accumulate(_ context.Context, w transport.Window, rank int, offset int64, src []byte, dt transport.DType, op transport.AtomicOp) error {
	if rank == b.rank {
		return b.windows.WithLocked(w, offset, len(src), func(mem []byte) error {
			transport.ApplyOp(mem, src, dt, op)
			return nil
		})
	}
	c, err := b.peer(rank)
	if err != nil {
		return err
	}
	req := b.preparePayload(&request{Kind: opAccumulate, Win: w, Offset: offset, Len: len(src), DType: dt, Op: op}, src, nil)
	_, err = c.call(req)
	return err
}

func (b *Backend) CompareAndSwap(_ context.Context, w transport.Window, rank int, offset int64, newVal, compare []byte, dt transport.DType) ([]byte, error) {
	if rank == b.rank {
		var old []byte
		err := b.windows.WithLocked(w, offset, len(newVal), func(mem []byte) error {
			old = append([]byte(nil), mem...)
			if transport.BytesEqual(mem, compare) {
				copy(mem, newVal)
			}
			return nil
		})
		return old, err
	}
	c, err := b.peer(rank)
	if err != nil {
		return nil, err
	}
	req := &request{Kind: opCAS, Win: w, Offset: offset, Len: len(newVal), DType: dt, Data: newVal, Compare: compare}
	resp, err := c.call(req)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (b *Backend) FetchAndOp(_ context.Context, w transport.Window, rank int, offset int64, src []byte, dt transport.DType, op transport.AtomicOp) ([]byte, error) {
	if rank == b.rank {
		var old []byte
		err := b.windows.WithLocked(w, offset, len(src), func(mem []byte) error {
			old = transport.ApplyOp(mem, src, dt, op)
			return nil
		})
		return old, err
	}
	c, err := b.peer(rank)
	if err != nil {
		return nil, err
	}
	req := &request{Kind: opFetchOp, Win: w, Offset: offset, Len: len(src), DType: dt, Op: op, Data: src}
	resp, err := c.call(req)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// preparePayload compresses and (optionally) checksums data according to
// b.cfg before it is attached to a request's Data field.
func (b *Backend) preparePayload(req *request, data, compare []byte) *request {
	out, codec, origLen := compress(b.cfg.CompressionCodec, b.cfg.CompressionThreshold, data)
	req.Data = out
	req.Codec = codec
	req.OrigLen = origLen
	req.Compare = compare
	if b.cfg.VerifyChecksum {
		req.Sum = checksum(data)
	}
	return req
}

func (b *Backend) unwrapPayload(codec string, data []byte, origLen int) ([]byte, error) {
	return decompress(codec, data, origLen)
}

// handleRequest services one inbound request on connection c, applying
// it to this image's own window(s) and writing back a response. Spawned
// in its own goroutine per request (see conn.readLoop) so a blocking
// collective arrival never stalls the connection's other traffic.
func (b *Backend) handleRequest(c *conn, req *request) {
	resp := &response{ID: req.ID, OK: true}
	switch req.Kind {
	case opPut:
		data, err := b.unwrapPayload(req.Codec, req.Data, req.OrigLen)
		if err == nil && len(req.Sum) > 0 && !verifyChecksum(data, req.Sum) {
			err = errChecksumMismatch
		}
		if err == nil {
			err = b.windows.WithLocked(req.Win, req.Offset, len(data), func(mem []byte) error {
				copy(mem, data)
				return nil
			})
		}
		setErr(resp, err)
	case opGet:
		var out []byte
		err := b.windows.WithLocked(req.Win, req.Offset, req.Len, func(mem []byte) error {
			out = append([]byte(nil), mem...)
			return nil
		})
		if err == nil {
			compressed, codec, origLen := compress(b.cfg.CompressionCodec, b.cfg.CompressionThreshold, out)
			resp.Data, resp.Codec, resp.OrigLen = compressed, codec, origLen
		}
		setErr(resp, err)
	case opAccumulate:
		data, err := b.unwrapPayload(req.Codec, req.Data, req.OrigLen)
		if err == nil && len(req.Sum) > 0 && !verifyChecksum(data, req.Sum) {
			err = errChecksumMismatch
		}
		if err == nil {
			err = b.windows.WithLocked(req.Win, req.Offset, len(data), func(mem []byte) error {
				transport.ApplyOp(mem, data, req.DType, req.Op)
				return nil
			})
		}
		setErr(resp, err)
	case opCAS:
		var old []byte
		err := b.windows.WithLocked(req.Win, req.Offset, len(req.Data), func(mem []byte) error {
			old = append([]byte(nil), mem...)
			if transport.BytesEqual(mem, req.Compare) {
				copy(mem, req.Data)
			}
			return nil
		})
		resp.Data = old
		setErr(resp, err)
	case opFetchOp:
		var old []byte
		err := b.windows.WithLocked(req.Win, req.Offset, len(req.Data), func(mem []byte) error {
			old = transport.ApplyOp(mem, req.Data, req.DType, req.Op)
			return nil
		})
		resp.Data = old
		setErr(resp, err)
	case opBarrierEnter:
		b.serveBarrierEnter(req.Gen)
	case opReduceContribute:
		data, err := b.unwrapPayload(req.Codec, req.Data, req.OrigLen)
		if err != nil {
			setErr(resp, err)
			break
		}
		resp.Data = b.serveReduceContribute(req.Gen, req.Root, req.Op, req.DType, req.All, data)
	case opBroadcastFetch:
		resp.Data, resp.Codec, resp.OrigLen = b.serveBroadcastFetch(req.Gen)
	default:
		setErr(resp, errUnknownOp)
	}
	_ = c.writeResponse(resp)
}

func setErr(resp *response, err error) {
	if err != nil {
		resp.OK = false
		resp.Err = err.Error()
	}
}

var (
	errChecksumMismatch = simpleErr("payload checksum mismatch")
	errUnknownOp        = simpleErr("unknown request kind")
)

type simpleErr string

func (e simpleErr) Error() string { return string(e) }
