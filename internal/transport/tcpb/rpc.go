package tcpb

import (
	"encoding/gob"
	"fmt"
	"net"
	"sync"

	"github.com/caflang/pgasrt/internal/nlog"
	"github.com/caflang/pgasrt/internal/transport"
)

type opKind uint8

const (
	opPut opKind = iota
	opGet
	opAccumulate
	opCAS
	opFetchOp
	opBarrierEnter
	opReduceContribute
	opBroadcastFetch
)

// request is the wire shape of every one-sided call this backend emits.
// A single struct covers every opKind; fields unused by a given kind are
// left zero. This is deliberately a plain, gob-friendly record rather
// than a tagged union — the teacher's own wire records (e.g.
// transport.ObjHdr) are flat structs of this shape too.
type request struct {
	ID      uint64
	Kind    opKind
	Win     transport.Window
	Offset  int64
	Len     int
	DType   transport.DType
	Op      transport.AtomicOp
	All     bool
	Gen     uint64
	Root    int
	Data    []byte // payload: src / newVal / reduce contribution
	Compare []byte // CAS compare operand
	Codec   string
	OrigLen int
	OrigCmp int
	Sum     []byte // optional blake2b checksum of the pre-compression Data
}

type response struct {
	ID      uint64
	OK      bool
	Err     string
	Data    []byte
	Codec   string
	OrigLen int
}

// conn wraps one outbound+inbound TCP connection to a peer rank with a
// request/response multiplexer: callers block on a per-request channel,
// a single reader goroutine demultiplexes responses (and dispatches
// inbound requests to the backend's handler) off the wire.
type conn struct {
	rank int
	nc   net.Conn
	enc  *gob.Encoder
	dec  *gob.Decoder

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[uint64]chan *response

	nextID uint64
	idMu   sync.Mutex
}

func newConn(rank int, nc net.Conn) *conn {
	return &conn{
		rank:    rank,
		nc:      nc,
		enc:     gob.NewEncoder(nc),
		dec:     gob.NewDecoder(nc),
		pending: make(map[uint64]chan *response),
	}
}

func (c *conn) allocID() uint64 {
	c.idMu.Lock()
	defer c.idMu.Unlock()
	c.nextID++
	return c.nextID
}

func (c *conn) writeRequest(req *request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.enc.Encode(wireFrame{IsRequest: true, Req: req})
}

func (c *conn) writeResponse(resp *response) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.enc.Encode(wireFrame{IsRequest: false, Resp: resp})
}

// wireFrame is the single gob-encodable envelope multiplexed over one
// TCP connection; gob's own framing gives us message boundaries for
// free, so no manual length-prefixing is needed on top.
type wireFrame struct {
	IsRequest bool
	Req       *request
	Resp      *response
}

// call sends req and blocks for the matching response.
func (c *conn) call(req *request) (*response, error) {
	req.ID = c.allocID()
	ch := make(chan *response, 1)
	c.pendingMu.Lock()
	c.pending[req.ID] = ch
	c.pendingMu.Unlock()

	if err := c.writeRequest(req); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, req.ID)
		c.pendingMu.Unlock()
		return nil, err
	}
	resp := <-ch
	if resp == nil {
		return nil, fmt.Errorf("tcp transport: connection to image %d closed while awaiting response", c.rank)
	}
	if !resp.OK {
		return nil, fmt.Errorf("tcp transport: peer image %d: %s", c.rank, resp.Err)
	}
	return resp, nil
}

// readLoop demultiplexes frames: responses are routed to the waiting
// caller, requests are dispatched (each in its own goroutine, so a
// request that must block — e.g. a barrier arrival — never stalls the
// rest of this connection's traffic) to b's handler.
func (c *conn) readLoop(b *Backend) {
	for {
		var f wireFrame
		if err := c.dec.Decode(&f); err != nil {
			nlog.Warningf("tcp transport: connection to image %d closed: %v", c.rank, err)
			c.pendingMu.Lock()
			for id, ch := range c.pending {
				close(ch)
				delete(c.pending, id)
			}
			c.pendingMu.Unlock()
			return
		}
		if f.IsRequest {
			go b.handleRequest(c, f.Req)
			continue
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[f.Resp.ID]
		if ok {
			delete(c.pending, f.Resp.ID)
		}
		c.pendingMu.Unlock()
		if ok {
			ch <- f.Resp
		}
	}
}
