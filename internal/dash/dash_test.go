package dash

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/streamhub/streamhub/internal/fmp4"
)

func TestFillSampleDurationsUsesConsecutiveDeltas(t *testing.T) {
	samples := []fmp4.Sample{{}, {}, {}}
	pts := []uint64{1000, 1033, 1066}
	fillSampleDurations(samples, pts, 967)

	assert.Equal(t, uint32(33), samples[0].Duration)
	assert.Equal(t, uint32(33), samples[1].Duration)
	assert.Equal(t, uint32(33), samples[2].Duration, "final sample reuses the prior delta")
}

func TestTrackCutAdvancesWindowAndSegmentStart(t *testing.T) {
	dir := t.TempDir()
	tr := newTrack(fmp4.VideoTrackID, dir, 3)
	tr.timescale = 1000
	tr.sps = []byte{0x67, 0x64, 0, 0x1f}

	tr.appendSample(0, []byte{0, 0, 0, 1, 0x65}, true)
	tr.appendSample(40, []byte{0, 0, 0, 1, 0x41}, false)

	entry, err := tr.cut()
	assert.NoError(t, err)
	assert.Equal(t, uint64(0), entry.startTime)
	assert.Equal(t, uint64(40), tr.segStartTime)
	assert.Len(t, tr.window, 1)
	assert.Empty(t, tr.samples)
}
