// Package flv implements FLV tag framing and the audio/video tag header
// parser that extracts codec metadata (sequence-header vs NALU, keyframe
// vs inter, sound format) from a packet's payload — spec §4.B's "FLV tag
// framing (11-byte header + body + 4-byte previous-tag-size)".
//
// Grounded on the teacher's rtmp/flv.go (Tag, mediaTag, ParseMediaTagHeader,
// FLVWriter), generalized into a standalone package so both the RTMP
// front-end and the HTTP-FLV front-end (§4.G) can reuse the same tag
// codec instead of it living inside the RTMP package.
package flv

import (
	"fmt"

	"github.com/streamhub/streamhub/internal/av"
)

// Tag is the parsed codec header of one audio or video FLV payload.
type Tag struct {
	soundFormat   uint8
	aacPacketType uint8

	frameType     uint8
	codecID       uint8
	avcPacketType uint8
	compositionTime int32
}

func (t *Tag) SoundFormat() uint8    { return t.soundFormat }
func (t *Tag) AACPacketType() uint8  { return t.aacPacketType }
func (t *Tag) IsKeyFrame() bool      { return t.frameType == av.FrameKey }
func (t *Tag) IsSequenceHeader() bool {
	return t.frameType == av.FrameKey && t.avcPacketType == av.AVCSeqHeader
}
func (t *Tag) CodecID() uint8          { return t.codecID }
func (t *Tag) CompositionTime() int32  { return t.compositionTime }

var (
	_ av.AudioPacketHeader = (*Tag)(nil)
	_ av.VideoPacketHeader = (*Tag)(nil)
)

// ParseMediaTagHeader parses the leading codec-header bytes of an audio
// or video FLV tag body and returns how many bytes it consumed.
func ParseMediaTagHeader(b []byte, isVideo bool) (*Tag, int, error) {
	if isVideo {
		return parseVideoHeader(b)
	}
	return parseAudioHeader(b)
}

func parseAudioHeader(b []byte) (*Tag, int, error) {
	if len(b) < 1 {
		return nil, 0, fmt.Errorf("flv: short audio tag: len=%d", len(b))
	}
	t := &Tag{}
	flags := b[0]
	t.soundFormat = flags >> 4
	n := 1
	if t.soundFormat == av.SoundAAC {
		if len(b) < 2 {
			return nil, 0, fmt.Errorf("flv: short AAC audio tag")
		}
		t.aacPacketType = b[1]
		n = 2
	}
	return t, n, nil
}

func parseVideoHeader(b []byte) (*Tag, int, error) {
	if len(b) < 1 {
		return nil, 0, fmt.Errorf("flv: short video tag: len=%d", len(b))
	}
	t := &Tag{}
	flags := b[0]
	t.frameType = flags >> 4
	t.codecID = flags & 0xf
	n := 1
	if t.frameType == av.FrameKey || t.frameType == av.FrameInter {
		if len(b) < 5 {
			return nil, 0, fmt.Errorf("flv: short AVC video tag")
		}
		t.avcPacketType = b[1]
		t.compositionTime = int32(b[2])<<16 | int32(b[3])<<8 | int32(b[4])
		n = 5
	}
	return t, n, nil
}

// Demux parses p.Data's tag header in place, attaches the resulting Tag
// as p.Header, and trims the header bytes off p.Data so callers see a
// bare access unit / NALU stream.
func Demux(p *av.Packet) error {
	tag, n, err := ParseMediaTagHeader(p.Data, p.IsVideo)
	if err != nil {
		return err
	}
	if tag.CodecID() == av.CodecH264 && len(p.Data) >= 2 && p.Data[0] == 0x17 && p.Data[1] == av.AVCEndOfSeq {
		return fmt.Errorf("flv: AVC end-of-sequence marker, nothing to demux")
	}
	p.Header = tag
	p.Data = p.Data[n:]
	return nil
}

// DemuxHeaderOnly parses the tag header but leaves p.Data untouched —
// used where the caller still needs the raw FLV-tag-body bytes (e.g.
// writing straight through to an HTTP-FLV response).
func DemuxHeaderOnly(p *av.Packet) error {
	tag, _, err := ParseMediaTagHeader(p.Data, p.IsVideo)
	if err != nil {
		return err
	}
	p.Header = tag
	return nil
}
