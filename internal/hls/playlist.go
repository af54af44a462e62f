package hls

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// writeFileAtomic writes data to a temp file in the same directory as
// path then renames it into place, the same atomic-publish discipline
// §4.E asks the playlist writer to use, applied to segment files too.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// writePlaylist renders the current sliding window as RFC 8216 v3 text
// and publishes it atomically. Grounded on the pack's
// Emibrown-HLS-Playlist-Orchestrator BuildLivePlaylist layout, extended
// with EXT-X-ALLOW-CACHE and EXT-X-DISCONTINUITY per §4.E.
func (s *Segmenter) writePlaylist(ended bool) error {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	b.WriteString("#EXT-X-ALLOW-CACHE:NO\n")

	if len(s.segments) == 0 {
		b.WriteString("#EXT-X-TARGETDURATION:1\n")
		b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	} else {
		b.WriteString(fmt.Sprintf("#EXT-X-TARGETDURATION:%d\n", targetDuration(s.segments)))
		b.WriteString(fmt.Sprintf("#EXT-X-MEDIA-SEQUENCE:%d\n", s.segments[0].sequence))
		for _, seg := range s.segments {
			if seg.discontinuity {
				b.WriteString("#EXT-X-DISCONTINUITY\n")
			}
			b.WriteString(fmt.Sprintf("#EXTINF:%.3f,\n", seg.duration.Seconds()))
			b.WriteString(seg.path)
			b.WriteString("\n")
		}
	}
	if ended {
		b.WriteString("#EXT-X-ENDLIST\n")
	}

	return writeFileAtomic(filepath.Join(s.dir, "index.m3u8"), []byte(b.String()))
}

func targetDuration(segments []segment) int {
	max := 0.0
	for _, seg := range segments {
		if d := seg.duration.Seconds(); d > max {
			max = d
		}
	}
	if max <= 0 {
		return 1
	}
	return int(math.Ceil(max))
}
