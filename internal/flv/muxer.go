package flv

import (
	"io"

	"github.com/streamhub/streamhub/internal/amf"
	"github.com/streamhub/streamhub/internal/av"
	"github.com/streamhub/streamhub/internal/pio"
)

const (
	headerLen = 11
)

// FileHeader is the 9-byte FLV signature plus the 4-byte "previous tag
// size 0" that always opens an FLV stream.
var FileHeader = []byte{0x46, 0x4c, 0x56, 0x01, 0x05, 0x00, 0x00, 0x00, 0x09, 0, 0, 0, 0}

// WriteHeader writes the FLV file signature — used by both the HTTP-FLV
// response writer and the DVR file writer before any tags.
func WriteHeader(w io.Writer) error {
	_, err := w.Write(FileHeader)
	return err
}

// Muxer writes av.Packets as FLV tags to an underlying io.Writer, each
// followed by its 4-byte previous-tag-size trailer. The packet's
// TimeStamp is written as given; no timestamp base is applied.
type Muxer struct {
	w   io.Writer
	buf [headerLen]byte
}

func NewMuxer(w io.Writer) *Muxer {
	return &Muxer{w: w}
}

// WriteTag serializes one packet as a full FLV tag: header, body, and
// the trailing previous-tag-size field.
func (m *Muxer) WriteTag(p *av.Packet) error {
	typeID := av.TagVideo
	data := p.Data
	if !p.IsVideo {
		if p.IsMetadata {
			typeID = av.TagScriptDataAMF0
			reformed, err := amf.MetaDataReform(data, amf.Del)
			if err != nil {
				return err
			}
			data = reformed
		} else {
			typeID = av.TagAudio
		}
	}

	dataLen := len(data)
	h := m.buf[:headerLen]
	pio.PutU8(h[0:1], uint8(typeID))
	pio.PutI24BE(h[1:4], int32(dataLen))
	pio.PutI24BE(h[4:7], int32(p.TimeStamp&0xffffff))
	pio.PutU8(h[7:8], uint8(p.TimeStamp>>24&0xff))
	// h[8:11] StreamID, always 0.

	if _, err := m.w.Write(h); err != nil {
		return err
	}
	if _, err := m.w.Write(data); err != nil {
		return err
	}

	var trailer [4]byte
	pio.PutI32BE(trailer[:], int32(dataLen+headerLen))
	_, err := m.w.Write(trailer[:])
	return err
}
