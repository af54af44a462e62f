package tsmux

import (
	"io"

	"github.com/streamhub/streamhub/internal/av"
	"github.com/streamhub/streamhub/internal/errs"
)

const pesStreamIDVideo = 0xe0
const pesStreamIDAudio = 0xc0

// Muxer packetizes a sequence of av.Packets into an MPEG-TS elementary
// stream, writing PAT/PMT once up front (and again on every keyframe,
// so a segment boundary is always immediately playable) and a PCR at
// least every 100ms as §4.B requires.
type Muxer struct {
	out io.Writer
	w   *tsWriter

	nalLenSize     int
	sps, pps       []byte
	audioConfig    []byte
	hasAudio       bool
	wroteTables    bool
	lastPCRAtMs    uint32
	havePCR        bool
}

// NewMuxer wraps out; write PAT/PMT, then WritePacket for each frame.
func NewMuxer(out io.Writer) *Muxer {
	return &Muxer{out: out, w: newTSWriter(out)}
}

func (m *Muxer) writeTables() error {
	if err := m.w.writeSection(patPID, buildPAT()); err != nil {
		return err
	}
	return m.w.writeSection(pmtPID, buildPMT(m.hasAudio))
}

// WritePacket consumes one hub packet. Video and audio sequence headers
// are cached, not emitted as TS data; every other packet is PES-
// packetized and written out as one or more 188-byte TS packets.
func (m *Muxer) WritePacket(p *av.Packet) error {
	switch {
	case p.IsVideo:
		return m.writeVideo(p)
	case p.IsAudio:
		return m.writeAudio(p)
	default:
		return nil // script/metadata packets have no TS representation
	}
}

func (m *Muxer) writeVideo(p *av.Packet) error {
	vh, ok := p.Header.(av.VideoPacketHeader)
	if !ok {
		return errs.MalformedPayload("tsmux", "video packet missing header")
	}
	if vh.IsSequenceHeader() {
		nalLenSize, sps, pps, err := parseAVCDecoderConfig(p.Data)
		if err != nil {
			return err
		}
		m.nalLenSize, m.sps, m.pps = nalLenSize, sps, pps
		return nil
	}
	if m.sps == nil {
		return nil // no sequence header seen yet; nothing decodable to emit
	}

	keyFrame := vh.IsKeyFrame()
	if !m.wroteTables || keyFrame {
		if err := m.writeTables(); err != nil {
			return err
		}
		m.wroteTables = true
	}

	annexB, err := avccToAnnexB(m.nalLenSize, m.sps, m.pps, p.Data, keyFrame)
	if err != nil {
		return err
	}

	pts := uint64(p.TimeStamp) * 90
	dts := pts
	pes := buildPES(pesStreamIDVideo, pts, dts, annexB)

	pcr := int64(-1)
	if keyFrame || !m.havePCR || p.TimeStamp-m.lastPCRAtMs >= 100 {
		pcr = int64(pts)
		m.lastPCRAtMs = p.TimeStamp
		m.havePCR = true
	}
	return m.w.writePES(videoPID, pes, pcr, keyFrame)
}

func (m *Muxer) writeAudio(p *av.Packet) error {
	ah, ok := p.Header.(av.AudioPacketHeader)
	if !ok {
		return errs.MalformedPayload("tsmux", "audio packet missing header")
	}
	if ah.SoundFormat() != av.SoundAAC {
		return nil // §4.B scopes TS audio to AAC
	}
	if !m.hasAudio {
		m.hasAudio = true
		m.wroteTables = false // force a PMT rewrite advertising the audio stream
	}
	if ah.AACPacketType() == av.AACSeqHeader {
		m.audioConfig = append([]byte(nil), p.Data...)
		return nil
	}
	if m.audioConfig == nil {
		return nil
	}

	hdr, err := adtsHeader(m.audioConfig, len(p.Data))
	if err != nil {
		return err
	}
	adts := append(hdr, p.Data...)

	pts := uint64(p.TimeStamp) * 90
	pes := buildPES(pesStreamIDAudio, pts, pts, adts)
	return m.w.writePES(audioPID, pes, -1, false)
}
