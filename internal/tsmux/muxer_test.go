package tsmux

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamhub/streamhub/internal/av"
)

type videoHeader struct {
	keyFrame, seqHeader bool
}

func (h videoHeader) IsKeyFrame() bool        { return h.keyFrame }
func (h videoHeader) IsSequenceHeader() bool  { return h.seqHeader }
func (h videoHeader) CodecID() uint8          { return av.CodecH264 }
func (h videoHeader) CompositionTime() int32  { return 0 }

func TestMuxerEmitsAlignedPackets(t *testing.T) {
	var buf bytes.Buffer
	m := NewMuxer(&buf)

	// Minimal AVCDecoderConfigurationRecord: version, profile, compat,
	// level, lengthSizeMinusOne=3, numSPS=1, spsLen=4, sps, numPPS=1,
	// ppsLen=2, pps.
	seq := []byte{1, 0x64, 0, 0x1f, 0xff, 0xe1, 0, 4, 0x67, 0x64, 0, 0x1f, 1, 0, 2, 0x68, 0xce}
	require.NoError(t, m.WritePacket(&av.Packet{
		IsVideo: true, Header: videoHeader{seqHeader: true}, Data: seq,
	}))

	nalu := []byte{0, 0, 0, 2, 0x65, 0xaa} // length-prefixed fake IDR NALU
	require.NoError(t, m.WritePacket(&av.Packet{
		IsVideo: true, TimeStamp: 40, Header: videoHeader{keyFrame: true}, Data: nalu,
	}))

	out := buf.Bytes()
	require.True(t, len(out) > 0)
	assert.Equal(t, 0, len(out)%packetSize, "output must be a whole number of 188-byte packets")
	for i := 0; i < len(out); i += packetSize {
		assert.Equal(t, byte(0x47), out[i], "sync byte at packet %d", i/packetSize)
	}
}

func TestBuildPATHasValidCRC(t *testing.T) {
	pat := buildPAT()
	require.True(t, len(pat) > 4)
	body := pat[:len(pat)-4]
	want := crc32MPEG2(body)
	got := uint32(pat[len(pat)-4])<<24 | uint32(pat[len(pat)-3])<<16 | uint32(pat[len(pat)-2])<<8 | uint32(pat[len(pat)-1])
	assert.Equal(t, want, got)
}
