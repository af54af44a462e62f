package fmp4

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamhub/streamhub/internal/bitreader"
)

func TestBuildInitSegmentStartsWithFtyp(t *testing.T) {
	v := &VideoConfig{
		SPS:     []byte{0x67, 0x64, 0, 0x1f},
		PPS:     []byte{0x68, 0xce},
		SPSInfo: &bitreader.SPSInfo{ProfileIDC: 100, LevelIDC: 31, Width: 1280, Height: 720},
	}
	a := &AudioConfig{AudioSpecificConfig: []byte{0x12, 0x10}, SampleRate: 44100, Channels: 2}

	out := BuildInitSegment(v, a)
	require.True(t, len(out) > 16)
	assert.Equal(t, "ftyp", string(out[4:8]))

	ftypSize := binary.BigEndian.Uint32(out[0:4])
	moov := out[ftypSize:]
	assert.Equal(t, "moov", string(moov[4:8]))
}

func TestBuildMediaSegmentOffsetsLandInMdat(t *testing.T) {
	samples := []Sample{
		{Duration: 33, Size: 5, SyncSample: true, Data: []byte{1, 2, 3, 4, 5}},
		{Duration: 33, Size: 3, Data: []byte{6, 7, 8}},
	}
	out := BuildMediaSegment(VideoTrackID, 1, 0, samples)

	styp := binary.BigEndian.Uint32(out[0:4])
	moof := out[styp:]
	moofSize := binary.BigEndian.Uint32(moof[0:4])
	assert.Equal(t, "moof", string(moof[4:8]))

	mdat := moof[moofSize:]
	assert.Equal(t, "mdat", string(mdat[4:8]))
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, mdat[8:])
}
