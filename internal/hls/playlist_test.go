package hls

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTargetDurationIsCeilOfMax(t *testing.T) {
	segs := []segment{
		{duration: 9700 * time.Millisecond},
		{duration: 10200 * time.Millisecond},
	}
	assert.Equal(t, 11, targetDuration(segs))
}

func TestTargetDurationEmptyIsOne(t *testing.T) {
	assert.Equal(t, 1, targetDuration(nil))
}

func TestWritePlaylistAtomicRename(t *testing.T) {
	dir := t.TempDir()
	s := &Segmenter{dir: dir, segments: []segment{
		{sequence: 3, path: "seg-3.ts", duration: 10 * time.Second},
		{sequence: 4, path: "seg-4.ts", duration: 10 * time.Second, discontinuity: true},
	}}
	assert.NoError(t, s.writePlaylist(false))

	data, err := os.ReadFile(dir + "/index.m3u8")
	assert.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "#EXT-X-MEDIA-SEQUENCE:3")
	assert.Contains(t, text, "#EXT-X-DISCONTINUITY")
	assert.Contains(t, text, "seg-4.ts")
	assert.NotContains(t, text, "#EXT-X-ENDLIST")
}
