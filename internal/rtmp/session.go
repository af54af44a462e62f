package rtmp

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/streamhub/streamhub/internal/amf"
	"github.com/streamhub/streamhub/internal/av"
	"github.com/streamhub/streamhub/internal/config"
	"github.com/streamhub/streamhub/internal/errs"
	"github.com/streamhub/streamhub/internal/flv"
	"github.com/streamhub/streamhub/internal/hub"
	"github.com/streamhub/streamhub/internal/metrics"
	"github.com/streamhub/streamhub/internal/roomkeys"
)

// Command names from §4.C's "required commands" list.
const (
	cmdConnect       = "connect"
	cmdReleaseStream = "releaseStream"
	cmdFCPublish     = "FCPublish"
	cmdCreateStream  = "createStream"
	cmdPublish       = "publish"
	cmdFCUnpublish   = "FCUnpublish"
	cmdDeleteStream  = "deleteStream"
	cmdCloseStream   = "closeStream"
	cmdPlay          = "play"
)

// Session is one accepted RTMP connection taken through
// ACCEPT -> HANDSHAKE -> CONNECT -> {PLAY|PUBLISH} -> STREAMING -> CLOSED.
// Grounded on the teacher's core.go ConnServer merged with server_conn.go's
// connection loop, wired to internal/hub instead of a per-connection
// *Stream and to internal/roomkeys for the §6 publish-token check.
type Session struct {
	conn *conn
	log  *logrus.Entry

	hub     *hub.Hub
	keys    *roomkeys.Store
	cfg     *config.Store
	metrics *metrics.Metrics

	decoder *amf.Decoder
	encoder *amf.Encoder
	bytesw  *bytes.Buffer

	transactionID  int
	app            string
	vhost          string
	streamName     string
	tcURL          string
	objectEncoding int

	isPublisher bool
	streamID    uint32

	publishHandle *hub.PublishHandle
	playHandle    *hub.PlayHandle

	pushStop chan struct{}

	// PlayMiss, if set, is consulted when play names a key with no
	// existing source; it blocks until an edge pull either produces a
	// source or gives up, per §4.H. OnPublish, if set, is called once a
	// local publish claims its key, so the Forwarder can start pushing
	// to configured peers for this session's lifetime.
	PlayMiss  func(hub.StreamKey) bool
	OnPublish func(hub.StreamKey, <-chan struct{})
}

// NewSession wraps an accepted net.Conn. Call Prepare, then Stream, to
// run the handshake and command/streaming loop to completion.
func NewSession(nc net.Conn, h *hub.Hub, keys *roomkeys.Store, cfg *config.Store, m *metrics.Metrics, log *logrus.Entry) *Session {
	return &Session{
		conn:     newConn(nc, 4*1024),
		log:      log,
		hub:      h,
		keys:     keys,
		cfg:      cfg,
		metrics:  m,
		decoder:  &amf.Decoder{},
		encoder:  &amf.Encoder{},
		bytesw:   bytes.NewBuffer(nil),
		streamID: 1,
		pushStop: make(chan struct{}),
	}
}

// Prepare runs the handshake and the connect/createStream/publish-or-
// play exchange up to the point where the stream key is known, but
// stops short of the streaming loop itself. It runs on the accepting
// goroutine, before any worker affinity decision can be made — there
// is no stream key to hash on until a publish or play command names
// one.
func (s *Session) Prepare() error {
	if err := s.conn.handshakeServer(); err != nil {
		return err
	}

	for {
		cs, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}
		switch cs.TypeID {
		case typeAMF0Command, typeAMF3Command:
			if err := s.handleCommand(cs); err != nil {
				return err
			}
		}
		if s.isPublisher || s.playHandle != nil {
			return nil
		}
	}
}

// Stream runs the publish-ingest or play-fanout loop to completion.
// Call only after a successful Prepare.
func (s *Session) Stream() error {
	defer s.teardown()
	if s.isPublisher {
		return s.publishLoop()
	}
	return s.playLoop()
}

func (s *Session) teardown() {
	close(s.pushStop)
	if s.publishHandle != nil {
		s.hub.ClosePublish(s.publishHandle, io.EOF)
	}
	if s.playHandle != nil {
		s.hub.ClosePlay(s.playHandle)
	}
	s.conn.Close()
}

func (s *Session) key() hub.StreamKey {
	return hub.StreamKey{VHost: s.vhost, App: s.app, Stream: s.streamName}.Normalize()
}

func (s *Session) writeCommand(csid, streamID uint32, args ...interface{}) error {
	s.bytesw.Reset()
	for _, v := range args {
		if _, err := s.encoder.Encode(s.bytesw, v, amf.AMF0); err != nil {
			return err
		}
	}
	msg := s.bytesw.Bytes()
	cs := &chunkStream{
		Format:   0,
		CSID:     csid,
		TypeID:   typeAMF0Command,
		StreamID: streamID,
		Length:   uint32(len(msg)),
		Data:     msg,
	}
	if err := s.conn.WriteMessage(cs); err != nil {
		return err
	}
	return s.conn.Flush()
}

func (s *Session) handleCommand(cs *chunkStream) error {
	data := cs.Data
	if cs.TypeID == typeAMF3Command {
		data = data[1:]
	}
	vs, err := s.decoder.DecodeBatch(bytes.NewReader(data), amf.AMF0)
	if err != nil && err != io.EOF {
		return errs.MalformedPayload("amf command", err.Error())
	}
	if len(vs) == 0 {
		return nil
	}
	name, ok := vs[0].(string)
	if !ok {
		return errs.ProtocolViolation("command name not a string")
	}

	switch name {
	case cmdConnect:
		return s.onConnect(cs, vs[1:])
	case cmdCreateStream:
		return s.onCreateStream(cs, vs[1:])
	case cmdReleaseStream, cmdFCPublish, cmdFCUnpublish, cmdDeleteStream, cmdCloseStream:
		return nil // acknowledged implicitly; no response required to keep flowing
	case cmdPublish:
		return s.onPublish(cs, vs[1:])
	case cmdPlay:
		return s.onPlay(cs, vs[1:])
	default:
		s.log.WithField("command", name).Debug("unhandled rtmp command")
		return nil
	}
}

func (s *Session) onConnect(cs *chunkStream, vs []interface{}) error {
	for _, v := range vs {
		if obj, ok := v.(amf.Object); ok {
			if app, ok := obj["app"].(string); ok {
				parts := strings.SplitN(app, "?", 2)
				s.app = parts[0]
			}
			if tcURL, ok := obj["tcUrl"].(string); ok {
				s.tcURL = tcURL
				if u, err := url.Parse(tcURL); err == nil {
					s.vhost = u.Query().Get("vhost")
				}
			}
			if enc, ok := obj["objectEncoding"].(float64); ok {
				s.objectEncoding = int(enc)
			}
		}
		if n, ok := v.(float64); ok {
			s.transactionID = int(n)
		}
	}

	ack := s.conn.NewWindowAckSize(2500000)
	s.conn.WriteMessage(ack)
	bw := s.conn.NewSetPeerBandwidth(2500000)
	s.conn.WriteMessage(bw)
	scs := s.conn.NewSetChunkSize(1024)
	s.conn.WriteMessage(scs)

	resp := amf.Object{"fmsVer": "FMS/3,0,1,123", "capabilities": 31}
	event := amf.Object{
		"level": "status", "code": "NetConnection.Connect.Success",
		"description": "Connection succeeded.", "objectEncoding": s.objectEncoding,
	}
	return s.writeCommand(cs.CSID, cs.StreamID, "_result", s.transactionID, resp, event)
}

func (s *Session) onCreateStream(cs *chunkStream, vs []interface{}) error {
	for _, v := range vs {
		if n, ok := v.(float64); ok {
			s.transactionID = int(n)
		}
	}
	return s.writeCommand(cs.CSID, cs.StreamID, "_result", s.transactionID, nil, s.streamID)
}

func (s *Session) readPublishPlayArgs(vs []interface{}) {
	for i, v := range vs {
		switch x := v.(type) {
		case float64:
			s.transactionID = int(x)
		case string:
			if i == 2 {
				s.streamName = x
			}
		}
	}
}

func (s *Session) onPublish(cs *chunkStream, vs []interface{}) error {
	s.readPublishPlayArgs(vs)

	vhCfg := s.cfg.VHost(s.vhost)
	if vhCfg.Security.Enabled && s.keys != nil {
		if !s.keys.Verify(context.Background(), s.streamName, s.publishToken()) {
			return errs.AuthDenied("invalid publish token")
		}
	}

	handle, err := s.hub.Publish(s.key())
	if err != nil {
		event := amf.Object{"level": "error", "code": "NetStream.Publish.BadName", "description": err.Error()}
		s.writeCommand(cs.CSID, cs.StreamID, "onStatus", 0, nil, event)
		return err
	}
	s.publishHandle = handle
	s.isPublisher = true
	if s.metrics != nil {
		s.metrics.IncPublish()
	}
	if s.OnPublish != nil {
		go s.OnPublish(s.key(), s.pushStop)
	}

	event := amf.Object{"level": "status", "code": "NetStream.Publish.Start", "description": "Start publishing."}
	return s.writeCommand(cs.CSID, cs.StreamID, "onStatus", 0, nil, event)
}

// publishToken recovers the token from tcUrl's query string, the way
// livego-family servers pass publish secrets — grounded on
// rtmp/urladdr.go's query parsing of publish URLs.
func (s *Session) publishToken() string {
	u, err := url.Parse(s.tcURL)
	if err != nil {
		return ""
	}
	return u.Query().Get("token")
}

func (s *Session) onPlay(cs *chunkStream, vs []interface{}) error {
	s.readPublishPlayArgs(vs)

	key := s.key()
	if _, ok := s.hub.Lookup(key); !ok && s.PlayMiss != nil {
		s.PlayMiss(key)
	}

	handle, err := s.hub.Play(key, true, true, true)
	if err != nil {
		return err
	}
	s.playHandle = handle
	if s.metrics != nil {
		s.metrics.IncPlay()
	}

	s.conn.SetRecorded()
	s.conn.SetBegin()

	for _, code := range []string{
		"NetStream.Play.Reset", "NetStream.Play.Start",
		"NetStream.Data.Start", "NetStream.Play.PublishNotify",
	} {
		event := amf.Object{"level": "status", "code": code, "description": code}
		if err := s.writeCommand(cs.CSID, cs.StreamID, "onStatus", 0, nil, event); err != nil {
			return err
		}
	}
	return s.conn.Flush()
}

// publishLoop reads RTMP messages off the wire and injects audio/video/
// script packets into the hub until the connection fails or the
// publisher disconnects.
func (s *Session) publishLoop() error {
	for {
		cs, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}
		switch cs.TypeID {
		case typeAudio, typeVideo, typeAMF0ScriptData:
			p := &av.Packet{
				IsAudio:    cs.TypeID == typeAudio,
				IsVideo:    cs.TypeID == typeVideo,
				IsMetadata: cs.TypeID == typeAMF0ScriptData,
				TimeStamp:  cs.Timestamp,
				StreamID:   cs.StreamID,
				Data:       cs.Data,
			}
			if p.IsMetadata {
				reformed, err := amf.MetaDataReform(p.Data, amf.Add)
				if err == nil {
					p.Data = reformed
				}
			} else if err := flv.DemuxHeaderOnly(p); err != nil {
				s.log.WithError(err).Debug("dropping malformed media tag")
				continue
			}
			if s.metrics != nil {
				s.metrics.AddBytesIn(len(p.Data))
			}
			if err := s.hub.OnMessage(s.publishHandle, p); err != nil {
				return err
			}
		case typeAMF0Command, typeAMF3Command:
			if err := s.handleCommand(cs); err != nil {
				return err
			}
		}
	}
}

// playLoop drains the hub consumer and writes each packet to the wire
// as the matching RTMP message type.
func (s *Session) playLoop() error {
	for {
		p, err := s.playHandle.Pop()
		if err != nil {
			return err
		}
		typeID := uint32(typeVideo)
		switch {
		case p.IsAudio:
			typeID = typeAudio
		case p.IsMetadata:
			typeID = typeAMF0ScriptData
		}
		data := p.Data
		if p.IsMetadata {
			if reformed, err := amf.MetaDataReform(data, amf.Del); err == nil {
				data = reformed
			}
		}
		cs := &chunkStream{
			Format:    0,
			CSID:      3,
			Timestamp: p.TimeStamp,
			TypeID:    typeID,
			StreamID:  s.streamID,
			Length:    uint32(len(data)),
			Data:      data,
		}
		if err := s.conn.WriteMessage(cs); err != nil {
			return err
		}
		if err := s.conn.Flush(); err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.AddBytesOut(len(data))
		}
	}
}
