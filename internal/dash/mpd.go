package dash

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// writeMPD renders the dynamic MPD (profile isoff-live:2011) and
// publishes it atomically, per §4.F.
func (s *Segmenter) writeMPD() error {
	if !s.haveAvailability {
		return nil
	}

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	fmt.Fprintf(&b, `<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" profiles="urn:mpeg:dash:profile:isoff-live:2011" `+
		`type="dynamic" availabilityStartTime="%s" minimumUpdatePeriod="PT%.0fS" `+
		`timeShiftBufferDepth="PT%.1fS" minBufferTime="PT2S">`+"\n",
		s.availabilityStart.UTC().Format(time.RFC3339), s.cfg.UpdatePeriod.Seconds(), s.timeshiftDepth().Seconds())
	b.WriteString(`  <Period id="0" start="PT0S">` + "\n")

	if s.video.sps != nil {
		writeAdaptationSet(&b, s.video, "video/mp4", fmt.Sprintf("avc1.%02x%02x%02x", profileByte(s.video), 0, levelByte(s.video)))
	}
	if s.audio.audioConfig != nil {
		writeAdaptationSet(&b, s.audio, "audio/mp4", "mp4a.40.2")
	}

	b.WriteString("  </Period>\n")
	b.WriteString("</MPD>\n")

	return writeFileAtomic(filepath.Join(s.dir, "manifest.mpd"), []byte(b.String()))
}

func (s *Segmenter) timeshiftDepth() time.Duration {
	t := s.video
	if t.sps == nil {
		t = s.audio
	}
	if len(t.window) == 0 {
		return 0
	}
	last := t.window[len(t.window)-1]
	return time.Duration(last.duration) * time.Second / time.Duration(maxU32(t.timescale, 1)) * time.Duration(s.cfg.WindowSize)
}

func writeAdaptationSet(b *strings.Builder, t *track, mimeType, codecs string) {
	fmt.Fprintf(b, `    <AdaptationSet mimeType="%s" codecs="%s" segmentAlignment="true">`+"\n", mimeType, codecs)
	fmt.Fprintf(b, `      <Representation id="%d" bandwidth="0">`+"\n", t.id)
	fmt.Fprintf(b, `        <SegmentTemplate timescale="%d" initialization="%s" media="%s-$Time$.m4s" startNumber="%d">`+"\n",
		t.timescale, t.initName(), trackPrefix(t), firstSegmentNumber(t))
	b.WriteString("          <SegmentTimeline>\n")
	for _, e := range t.window {
		fmt.Fprintf(b, `            <S t="%d" d="%d"/>`+"\n", e.startTime, e.duration)
	}
	b.WriteString("          </SegmentTimeline>\n")
	b.WriteString("        </SegmentTemplate>\n")
	b.WriteString("      </Representation>\n")
	b.WriteString("    </AdaptationSet>\n")
}

func trackPrefix(t *track) string {
	if t.isVideo() {
		return "video"
	}
	return "audio"
}

func firstSegmentNumber(t *track) uint32 {
	if len(t.window) == 0 {
		return t.segSeq
	}
	return t.segSeq - uint32(len(t.window))
}

func profileByte(t *track) uint8 {
	if t.spsInfo != nil {
		return uint8(t.spsInfo.ProfileIDC)
	}
	return 0x64
}

func levelByte(t *track) uint8 {
	if t.spsInfo != nil {
		return uint8(t.spsInfo.LevelIDC)
	}
	return 0x1f
}
