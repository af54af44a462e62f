package rtmp

import (
	"bytes"
	"io"
	"net"
	"strings"
	"time"

	"github.com/streamhub/streamhub/internal/amf"
	"github.com/streamhub/streamhub/internal/av"
	"github.com/streamhub/streamhub/internal/errs"
)

// ClientMode picks which half of §4.H's Forwarder a Client plays:
// Publish pushes local media out, Play pulls remote media in.
type ClientMode int

const (
	ClientPublish ClientMode = iota
	ClientPlay
)

// Client is an outbound RTMP connection: dial, handshake, connect,
// createStream, then publish or play. Used by internal/forward for
// both halves of §4.H — pushing the hub's contents to a peer and
// pulling a remote source into the hub — instead of the server-side
// Session, which only ever accepts.
//
// Grounded on the teacher's rtmp/conn_client.go ConnClient, restated
// against this package's conn/chunkStream/amf types instead of
// livego's.
type Client struct {
	conn *conn

	app, streamName, tcURL string

	decoder *amf.Decoder
	encoder *amf.Encoder
	bytesw  *bytes.Buffer

	transactionID int
	streamID      uint32
}

// dialTimeout bounds the initial TCP connect, matching the handshake
// timeout used once connected.
const dialTimeout = 5 * time.Second

// Dial connects to addr (host:port) and runs the client handshake.
func Dial(addr string) (*Client, error) {
	nc, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, errs.IO("rtmp client dial", err)
	}
	c := &Client{
		conn:          newConn(nc, 4*1024),
		decoder:       &amf.Decoder{},
		encoder:       &amf.Encoder{},
		bytesw:        bytes.NewBuffer(nil),
		transactionID: 1,
	}
	if err := c.conn.handshakeClient(); err != nil {
		nc.Close()
		return nil, err
	}
	return c, nil
}

// Connect runs the connect + createStream exchange, then publishes or
// plays streamName under app depending on mode.
func (c *Client) Connect(app, streamName, tcURL string, mode ClientMode) error {
	c.app, c.streamName, c.tcURL = app, streamName, tcURL

	if err := c.writeConnect(); err != nil {
		return err
	}
	if err := c.readResult(); err != nil {
		return err
	}
	if err := c.writeCreateStream(); err != nil {
		return err
	}
	if err := c.readResult(); err != nil {
		return err
	}

	switch mode {
	case ClientPublish:
		return c.writePublish()
	default:
		return c.writePlay()
	}
}

func (c *Client) writeCommand(csid, streamID uint32, args ...interface{}) error {
	c.bytesw.Reset()
	for _, v := range args {
		if _, err := c.encoder.Encode(c.bytesw, v, amf.AMF0); err != nil {
			return err
		}
	}
	msg := c.bytesw.Bytes()
	cs := &chunkStream{
		Format:   0,
		CSID:     csid,
		TypeID:   typeAMF0Command,
		StreamID: streamID,
		Length:   uint32(len(msg)),
		Data:     msg,
	}
	if err := c.conn.WriteMessage(cs); err != nil {
		return err
	}
	return c.conn.Flush()
}

func (c *Client) writeConnect() error {
	c.transactionID++
	obj := amf.Object{
		"app":      c.app,
		"type":     "nonprivate",
		"flashVer": "LNX 9,0,124,2",
		"tcUrl":    c.tcURL,
	}
	return c.writeCommand(3, 0, cmdConnect, float64(c.transactionID), obj)
}

func (c *Client) writeCreateStream() error {
	c.transactionID++
	return c.writeCommand(3, 0, cmdCreateStream, float64(c.transactionID), nil)
}

func (c *Client) writePublish() error {
	c.transactionID++
	if err := c.writeCommand(3, c.streamID, cmdPublish, float64(c.transactionID), nil, c.streamName); err != nil {
		return err
	}
	return c.readResult()
}

func (c *Client) writePlay() error {
	c.transactionID++
	if err := c.writeCommand(3, c.streamID, cmdPlay, float64(c.transactionID), nil, c.streamName); err != nil {
		return err
	}
	return c.readResult()
}

// readResult drains messages until one AMF command with a recognizable
// _result/onStatus/error reply arrives, recording the stream ID handed
// back by createStream's _result along the way.
func (c *Client) readResult() error {
	for {
		cs, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		if cs.TypeID != typeAMF0Command && cs.TypeID != typeAMF3Command {
			continue
		}
		data := cs.Data
		if cs.TypeID == typeAMF3Command {
			data = data[1:]
		}
		vs, err := c.decoder.DecodeBatch(bytes.NewReader(data), amf.AMF0)
		if err != nil && err != io.EOF {
			continue
		}
		if len(vs) == 0 {
			continue
		}
		name, _ := vs[0].(string)
		switch name {
		case "_result":
			if len(vs) >= 4 {
				if id, ok := vs[3].(float64); ok {
					c.streamID = uint32(id)
				}
			}
			return nil
		case "_error":
			return errs.ProtocolViolation("rtmp client: peer returned _error")
		case "onStatus":
			if len(vs) >= 3 {
				if obj, ok := vs[2].(amf.Object); ok {
					if code, _ := obj["code"].(string); code != "" {
						lower := strings.ToLower(code)
						if strings.Contains(lower, "error") || strings.Contains(lower, "failed") {
							return errs.ProtocolViolation("rtmp client: " + code)
						}
					}
				}
			}
			return nil
		}
	}
}

// ReadPacket reads the next audio/video/metadata message off the
// wire, skipping commands and control messages, for the Play side.
func (c *Client) ReadPacket() (*av.Packet, error) {
	for {
		cs, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		switch cs.TypeID {
		case typeAudio, typeVideo, typeAMF0ScriptData:
			return &av.Packet{
				IsAudio:    cs.TypeID == typeAudio,
				IsVideo:    cs.TypeID == typeVideo,
				IsMetadata: cs.TypeID == typeAMF0ScriptData,
				TimeStamp:  cs.Timestamp,
				StreamID:   cs.StreamID,
				Data:       cs.Data,
			}, nil
		}
	}
}

// WritePacket sends p as the matching RTMP message type, for the
// Publish side.
func (c *Client) WritePacket(p *av.Packet) error {
	typeID := uint32(typeVideo)
	switch {
	case p.IsAudio:
		typeID = typeAudio
	case p.IsMetadata:
		typeID = typeAMF0ScriptData
	}
	cs := &chunkStream{
		Format:    0,
		CSID:      3,
		Timestamp: p.TimeStamp,
		TypeID:    typeID,
		StreamID:  c.streamID,
		Length:    uint32(len(p.Data)),
		Data:      p.Data,
	}
	if err := c.conn.WriteMessage(cs); err != nil {
		return err
	}
	return c.conn.Flush()
}

func (c *Client) Close() error { return c.conn.Close() }
