package flv

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/streamhub/streamhub/internal/av"
)

func TestParseVideoHeaderKeyFrame(t *testing.T) {
	// frameType=1 (key), codecID=7 (AVC); avcPacketType=1 (NALU); composition=0
	body := []byte{0x17, 0x01, 0x00, 0x00, 0x00, 0xAA, 0xBB}
	tag, n, err := ParseMediaTagHeader(body, true)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.True(t, tag.IsKeyFrame())
	require.False(t, tag.IsSequenceHeader())
	require.EqualValues(t, av.CodecH264, tag.CodecID())
}

func TestParseVideoHeaderSequenceHeader(t *testing.T) {
	body := []byte{0x17, 0x00, 0x00, 0x00, 0x00}
	tag, _, err := ParseMediaTagHeader(body, true)
	require.NoError(t, err)
	require.True(t, tag.IsSequenceHeader())
}

func TestParseAudioHeaderAAC(t *testing.T) {
	body := []byte{0xAF, 0x01, 0xDE, 0xAD}
	tag, n, err := ParseMediaTagHeader(body, false)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.EqualValues(t, av.SoundAAC, tag.SoundFormat())
	require.EqualValues(t, av.AACRaw, tag.AACPacketType())
}

func TestMuxerWriteTagTimestampRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	m := NewMuxer(&buf)
	p := &av.Packet{
		IsVideo:   true,
		TimeStamp: 0x01020304,
		Data:      []byte{0x17, 0x01, 0, 0, 0, 0xAA},
	}
	require.NoError(t, m.WriteTag(p))

	out := buf.Bytes()
	require.Equal(t, uint8(av.TagVideo), out[0])
	dataLen := int(out[1])<<16 | int(out[2])<<8 | int(out[3])
	require.Equal(t, len(p.Data), dataLen)

	tsBase := uint32(out[4])<<16 | uint32(out[5])<<8 | uint32(out[6])
	tsExt := uint32(out[7])
	gotTS := tsBase | tsExt<<24
	require.Equal(t, p.TimeStamp, gotTS)

	trailer := out[len(out)-4:]
	prevTagSize := uint32(trailer[0])<<24 | uint32(trailer[1])<<16 | uint32(trailer[2])<<8 | uint32(trailer[3])
	require.Equal(t, uint32(headerLen+len(p.Data)), prevTagSize)
}
