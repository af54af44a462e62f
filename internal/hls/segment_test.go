package hls

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/streamhub/streamhub/internal/av"
	"github.com/streamhub/streamhub/internal/config"
	"github.com/streamhub/streamhub/internal/hub"
)

type fakeVideoHeader struct {
	keyFrame bool
	seq      bool
}

func (h fakeVideoHeader) IsKeyFrame() bool       { return h.keyFrame }
func (h fakeVideoHeader) IsSequenceHeader() bool { return h.seq }
func (h fakeVideoHeader) CodecID() uint8         { return av.CodecH264 }
func (h fakeVideoHeader) CompositionTime() int32 { return 0 }

// avcConfig builds a minimal, parseable AVCDecoderConfigurationRecord
// carrying one single-byte "SPS" entry equal to tag, enough for
// tsmux.Muxer to accept real keyframes and to exercise the
// codec-change comparison without real H.264 parameter sets.
func avcConfig(tag byte) []byte {
	return []byte{1, 0x64, 0, 0x1f, 0xff, 0xe1, 0, 1, tag, 0}
}

// avcNALU builds one AVCC-framed NALU (4-byte length prefix, matching
// avcConfig's nalLenSize of 4) with a single-byte payload.
func avcNALU(payload byte) []byte {
	return []byte{0, 0, 0, 1, payload}
}

func newTestSegmenter(t *testing.T, fragment time.Duration) *Segmenter {
	cfg := config.HLSConfig{Path: t.TempDir(), Fragment: fragment, Window: time.Hour, KeepAfterExpire: time.Hour}
	s, err := NewSegmenter(nil, hub.StreamKey{App: "live", Stream: "d"}, cfg, nil, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)
	return s
}

func readPlaylist(t *testing.T, s *Segmenter) string {
	data, err := os.ReadFile(s.dir + "/index.m3u8")
	require.NoError(t, err)
	return string(data)
}

func TestOnPacketMarksDiscontinuityOnATCRebase(t *testing.T) {
	s := newTestSegmenter(t, 100*time.Millisecond)

	require.NoError(t, s.onPacket(&av.Packet{IsVideo: true, TimeStamp: 0, Header: fakeVideoHeader{seq: true}, Data: avcConfig(1)}))
	require.NoError(t, s.onPacket(&av.Packet{IsVideo: true, TimeStamp: 0, Header: fakeVideoHeader{keyFrame: true}, Data: avcNALU(1)}))

	// Rebased packet: forces an immediate cut of the segment so far and
	// flags the segment that starts here as discontinuous.
	require.NoError(t, s.onPacket(&av.Packet{IsVideo: true, TimeStamp: 10, Discontinuity: true, Header: fakeVideoHeader{keyFrame: true}, Data: avcNALU(2)}))

	require.Len(t, s.segments, 1)
	require.False(t, s.segments[0].discontinuity, "segment before the rebase must not be marked")

	// Close the second (post-rebase) segment and confirm it carries the tag.
	require.NoError(t, s.cutSegment(50 * time.Millisecond))
	require.Len(t, s.segments, 2)
	require.True(t, s.segments[1].discontinuity, "segment starting after the rebase must be marked")

	text := readPlaylist(t, s)
	idxSeg0 := strings.Index(text, s.segments[0].path)
	idxDisc := strings.Index(text, "#EXT-X-DISCONTINUITY")
	idxSeg1 := strings.Index(text, s.segments[1].path)
	require.True(t, idxSeg0 >= 0 && idxDisc > idxSeg0 && idxSeg1 > idxDisc,
		"expected order seg-0 < #EXT-X-DISCONTINUITY < seg-1, got:\n%s", text)
}

func TestOnPacketMarksDiscontinuityOnCodecChange(t *testing.T) {
	s := newTestSegmenter(t, time.Hour)

	require.NoError(t, s.onPacket(&av.Packet{IsVideo: true, TimeStamp: 0, Header: fakeVideoHeader{seq: true}, Data: avcConfig(1)}))
	require.NoError(t, s.onPacket(&av.Packet{IsVideo: true, TimeStamp: 0, Header: fakeVideoHeader{keyFrame: true}, Data: avcNALU(1)}))

	require.False(t, s.nextDiscontinuity)

	// A second sequence header with different parameters forces a cut
	// and flags the new segment, even though Fragment hasn't elapsed.
	require.NoError(t, s.onPacket(&av.Packet{IsVideo: true, TimeStamp: 20, Header: fakeVideoHeader{seq: true}, Data: avcConfig(2)}))

	require.Len(t, s.segments, 1)
	require.False(t, s.segments[0].discontinuity)
	require.True(t, s.nextDiscontinuity, "pending flag should carry onto the segment now being accumulated")
}

func TestOnPacketForcesCutOnPublisherGap(t *testing.T) {
	s := newTestSegmenter(t, time.Hour)
	s.cfg.PublisherGapThreshold = 10 * time.Millisecond

	require.NoError(t, s.onPacket(&av.Packet{IsVideo: true, TimeStamp: 0, Header: fakeVideoHeader{seq: true}, Data: avcConfig(1)}))
	require.NoError(t, s.onPacket(&av.Packet{IsVideo: true, TimeStamp: 0, Header: fakeVideoHeader{keyFrame: true}, Data: avcNALU(1)}))

	s.lastPacketAt = time.Now().Add(-time.Second) // simulate a long publisher gap

	require.NoError(t, s.onPacket(&av.Packet{IsVideo: true, TimeStamp: 1000, Header: fakeVideoHeader{keyFrame: true}, Data: avcNALU(2)}))

	require.Len(t, s.segments, 1, "the gap must force a cut even though Fragment hasn't elapsed")
	require.True(t, s.nextDiscontinuity)
}
