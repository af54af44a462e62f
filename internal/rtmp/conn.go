package rtmp

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/streamhub/streamhub/internal/pio"
	"github.com/streamhub/streamhub/internal/pool"
)

// conn is the low-level chunk-stream connection: handshake done, chunk
// (de)serialization and control-message bookkeeping live here. The AMF
// command layer and hub wiring live one level up in session.go.
//
// Grounded on the teacher's core.go Conn.
type conn struct {
	net.Conn
	chunkSize           uint32
	remoteChunkSize     uint32
	windowAckSize       uint32
	remoteWindowAckSize uint32
	received            uint32
	ackReceived         uint32

	rw     *readWriter
	pool   *pool.Pool
	chunks map[uint32]*chunkStream
}

func newConn(c net.Conn, bufSize int) *conn {
	return &conn{
		Conn:                c,
		chunkSize:           128,
		remoteChunkSize:     128,
		windowAckSize:       2500000,
		remoteWindowAckSize: 2500000,
		pool:                pool.New(),
		rw:                  newReadWriter(c, bufSize),
		chunks:              make(map[uint32]*chunkStream),
	}
}

func (c *conn) handshakeServer() error {
	return handshakeServer(c.rw, c.Conn)
}

func (c *conn) handshakeClient() error {
	return handshakeClient(c.rw, c.Conn)
}

// ReadMessage blocks until one full RTMP message has been assembled
// and returns it, handling Ack/SetChunkSize/WindowAckSize bookkeeping
// transparently.
func (c *conn) ReadMessage() (*chunkStream, error) {
	var out *chunkStream
	for {
		h, err := c.rw.ReadUintBE(1)
		if err != nil {
			return nil, err
		}
		format := h >> 6
		csid := h & 0x3f

		cs, ok := c.chunks[csid]
		if !ok {
			cs = &chunkStream{}
			c.chunks[csid] = cs
		}
		cs.tmpFormat = format
		cs.CSID = csid
		if err := cs.readChunk(c.rw, c.remoteChunkSize, c.pool); err != nil {
			return nil, err
		}
		if cs.full() {
			out = cs
			break
		}
	}

	c.handleControlMessage(out)
	c.ack(out.Length)
	return out, nil
}

func (c *conn) WriteMessage(cs *chunkStream) error {
	if cs.TypeID == typeSetChunkSize {
		c.chunkSize = binary.BigEndian.Uint32(cs.Data)
	}
	return cs.writeChunk(c.rw, int(c.chunkSize))
}

func (c *conn) Flush() error { return c.rw.Flush() }

func (c *conn) handleControlMessage(cs *chunkStream) {
	switch cs.TypeID {
	case typeSetChunkSize:
		c.remoteChunkSize = binary.BigEndian.Uint32(cs.Data)
	case typeWindowAckSize:
		c.remoteWindowAckSize = binary.BigEndian.Uint32(cs.Data)
	}
}

// ack implements the §4.C "Ack window: when unacked received bytes >=
// window, send Ack" rule.
func (c *conn) ack(size uint32) {
	c.received += size
	c.ackReceived += size
	if c.received >= 0xf0000000 {
		c.received = 0
	}
	if c.ackReceived >= c.remoteWindowAckSize {
		cs := newControlMessage(typeAck, 4, c.ackReceived)
		cs.writeChunk(c.rw, int(c.chunkSize))
		c.ackReceived = 0
	}
}

func newControlMessage(id, size, value uint32) *chunkStream {
	cs := &chunkStream{
		Format:   0,
		CSID:     2,
		TypeID:   id,
		StreamID: 0,
		Length:   size,
		Data:     make([]byte, size),
	}
	pio.PutU32BE(cs.Data[:size], value)
	return cs
}

func (c *conn) NewSetChunkSize(size uint32) *chunkStream {
	return newControlMessage(typeSetChunkSize, 4, size)
}

func (c *conn) NewWindowAckSize(size uint32) *chunkStream {
	return newControlMessage(typeWindowAckSize, 4, size)
}

// NewSetPeerBandwidth issues a dynamic-limit SetPeerBandwidth (limit
// type 2), matching the teacher's default — §4.C notes limit types
// {hard, soft, dynamic} exist but the server only ever advertises
// dynamic.
func (c *conn) NewSetPeerBandwidth(size uint32) *chunkStream {
	cs := newControlMessage(typeSetPeerBandwidth, 5, size)
	cs.Data[4] = 2
	return cs
}

const (
	eventStreamBegin      uint32 = 0
	eventStreamIsRecorded uint32 = 4
)

func (c *conn) userControlMessage(eventType, extra uint32) *chunkStream {
	buflen := extra + 2
	cs := &chunkStream{
		Format:   0,
		CSID:     2,
		TypeID:   typeUserControl,
		StreamID: 1,
		Length:   buflen,
		Data:     make([]byte, buflen),
	}
	cs.Data[0] = byte(eventType >> 8)
	cs.Data[1] = byte(eventType)
	return cs
}

func (c *conn) SetBegin() {
	cs := c.userControlMessage(eventStreamBegin, 4)
	pio.PutU32BE(cs.Data[2:6], 1)
	c.WriteMessage(cs)
}

func (c *conn) SetRecorded() {
	cs := c.userControlMessage(eventStreamIsRecorded, 4)
	pio.PutU32BE(cs.Data[2:6], 1)
	c.WriteMessage(cs)
}

func (c *conn) SetDeadline(t time.Time) error { return c.Conn.SetDeadline(t) }
