// Package dash implements the §4.F DASH segmenter: a hub play-consumer
// that cuts fMP4 init+media segments per track via internal/fmp4 and
// maintains a dynamic MPD with a SegmentTimeline, mirroring the
// structure internal/hls uses for MPEG-TS/M3U8 but with two
// independently-cut tracks instead of one muxed stream.
package dash

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/streamhub/streamhub/internal/bitreader"
	"github.com/streamhub/streamhub/internal/fmp4"
)

// timelineEntry is one <S t=".." d=".."/> entry of a track's window.
type timelineEntry struct {
	startTime uint64
	duration  uint32
	path      string
}

// track accumulates samples for one elementary stream between cuts and
// tracks the sliding window of already-cut media segments.
type track struct {
	id        uint32
	timescale uint32
	dir       string

	samples      []fmp4.Sample
	pts          []uint64 // absolute presentation time per pending sample, track timescale
	segStartTime uint64
	curTime      uint64
	segSeq       uint32

	audioSamples uint64 // running AAC sample count, used as the audio track's pts clock

	nalLenSize int
	sps, pps   []byte
	spsInfo    *bitreader.SPSInfo
	audioConfig []byte
	sampleRate  uint32
	channels    uint8

	initWritten bool
	window      []timelineEntry
	windowSize  int
}

func newTrack(id uint32, dir string, windowSize int) *track {
	return &track{id: id, dir: dir, windowSize: windowSize}
}

func (t *track) isVideo() bool { return t.id == fmp4.VideoTrackID }

// appendSample records one access unit at absolute presentation time
// pts (in the track's own timescale); per-sample trun durations are
// filled in from consecutive pts deltas when the segment is cut, since
// FLV hands us absolute timestamps, not explicit frame durations.
func (t *track) appendSample(pts uint64, data []byte, sync bool) {
	t.samples = append(t.samples, fmp4.Sample{Size: uint32(len(data)), SyncSample: sync, Data: data})
	t.pts = append(t.pts, pts)
	t.curTime = pts
}

func (t *track) pendingDuration() time.Duration {
	if t.timescale == 0 {
		return 0
	}
	return time.Duration(t.curTime-t.segStartTime) * time.Second / time.Duration(t.timescale)
}

func (t *track) writeInit(v *fmp4.VideoConfig, a *fmp4.AudioConfig) error {
	data := fmp4.BuildInitSegment(v, a)
	if err := writeFileAtomic(filepath.Join(t.dir, t.initName()), data); err != nil {
		return err
	}
	t.initWritten = true
	return nil
}

func (t *track) initName() string {
	if t.isVideo() {
		return "video-init.mp4"
	}
	return "audio-init.mp4"
}

// cut flushes the accumulated samples as one media segment, named per
// §4.F's "video-<time_ms>.m4s"/"audio-<time_ms>.m4s" convention, keyed
// on the segment's start time in the track's own timescale converted
// to milliseconds.
func (t *track) cut() (timelineEntry, error) {
	fillSampleDurations(t.samples, t.pts, t.segStartTime)

	startMs := t.segStartTime * 1000 / uint64(maxU32(t.timescale, 1))
	name := fmtName(t.isVideo(), startMs)
	data := fmp4.BuildMediaSegment(t.id, t.segSeq, t.segStartTime, t.samples)
	if err := writeFileAtomic(filepath.Join(t.dir, name), data); err != nil {
		return timelineEntry{}, err
	}

	entry := timelineEntry{startTime: t.segStartTime, duration: uint32(t.curTime - t.segStartTime), path: name}
	t.window = append(t.window, entry)
	if len(t.window) > t.windowSize {
		evicted := t.window[0]
		t.window = t.window[1:]
		go func(p string) { os.Remove(filepath.Join(t.dir, p)) }(evicted.path)
	}

	t.segSeq++
	t.segStartTime = t.curTime
	t.samples = t.samples[:0]
	t.pts = t.pts[:0]
	return entry, nil
}

// fillSampleDurations sets each sample's trun Duration to the delta to
// the next sample's pts, with the final sample in the segment reusing
// the prior delta (or, for a single-sample segment, its delta from
// segStart).
func fillSampleDurations(samples []fmp4.Sample, pts []uint64, segStart uint64) {
	prev := segStart
	for i := range samples {
		var d uint64
		if i+1 < len(pts) {
			d = pts[i+1] - pts[i]
		} else if i > 0 {
			d = pts[i] - pts[i-1]
		} else {
			d = pts[i] - prev
		}
		samples[i].Duration = uint32(d)
		prev = pts[i]
	}
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

func fmtName(video bool, startMs uint64) string {
	if video {
		return fmt.Sprintf("video-%d.m4s", startMs)
	}
	return fmt.Sprintf("audio-%d.m4s", startMs)
}
