// Package hls implements the §4.E HLS segmenter: it attaches to the
// Live Source Hub as a play consumer, muxes video/audio into rolling
// MPEG-TS segment files via internal/tsmux, and maintains a sliding
// M3U8 playlist written atomically via temp-file-then-rename.
//
// Grounded on internal/hub's Consumer.Pop loop for the subscription
// side and on the pack's Emibrown-HLS-Playlist-Orchestrator
// (playlist_utils.go's BuildLivePlaylist) for the playlist text format
// and sliding-window/target-duration bookkeeping.
package hls

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/streamhub/streamhub/internal/av"
	"github.com/streamhub/streamhub/internal/config"
	"github.com/streamhub/streamhub/internal/hub"
	"github.com/streamhub/streamhub/internal/metrics"
	"github.com/streamhub/streamhub/internal/tsmux"
)

// segment is one completed .ts file tracked in the sliding window.
type segment struct {
	sequence      int
	path          string
	duration      time.Duration
	discontinuity bool
}

// Segmenter owns one stream's HLS output directory.
type Segmenter struct {
	key hub.StreamKey
	cfg config.HLSConfig
	dir string
	log *logrus.Entry

	h       *hub.Hub
	handle  *hub.PlayHandle
	metrics *metrics.Metrics

	mux               *tsmux.Muxer
	curBuf            *bytes.Buffer
	curStart          time.Duration
	curHasKey         bool
	segSeq            int
	nextDiscontinuity bool

	segments       []segment
	audioOnlyUntil time.Time
	lastVideoAt    time.Time
	lastPacketAt   time.Time
	lastVideoSH    []byte
	closed         bool
}

// NewSegmenter creates the output directory and prepares a segmenter
// for key; call Run to start consuming from the hub.
func NewSegmenter(h *hub.Hub, key hub.StreamKey, cfg config.HLSConfig, m *metrics.Metrics, log *logrus.Entry) (*Segmenter, error) {
	dir := filepath.Join(cfg.Path, key.VHost, key.App, key.Stream)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Segmenter{key: key, cfg: cfg, dir: dir, log: log, h: h, metrics: m, lastVideoAt: time.Now()}, nil
}

// Run subscribes to the hub and segments until the source closes or
// stop is closed. It blocks; call it from its own goroutine.
func (s *Segmenter) Run(stop <-chan struct{}) error {
	handle, err := s.h.Play(s.key, true, true, true)
	if err != nil {
		return err
	}
	s.handle = handle
	defer s.finish()

	for {
		select {
		case <-stop:
			return nil
		default:
		}
		p, err := handle.Pop()
		if err != nil {
			return nil // source closed: flush happens in finish()
		}
		if err := s.onPacket(p); err != nil {
			s.log.WithError(err).Warn("hls: dropping packet")
		}
	}
}

func (s *Segmenter) onPacket(p *av.Packet) error {
	now := time.Now()

	// Trigger (a): the hub just ATC-rebased this packet's timestamp.
	forceCut := p.Discontinuity

	// Trigger (c): no packet arrived for longer than the configured
	// publisher gap, so force a cut right here instead of waiting for
	// the next fragment-duration boundary.
	if !s.lastPacketAt.IsZero() && s.cfg.PublisherGapThreshold > 0 && now.Sub(s.lastPacketAt) > s.cfg.PublisherGapThreshold {
		forceCut = true
	}
	s.lastPacketAt = now

	if p.IsVideo {
		s.lastVideoAt = now
	}

	vh, isVideo := p.Header.(av.VideoPacketHeader)

	// Trigger (b): the video sequence header's codec parameters changed.
	if isVideo && vh.IsSequenceHeader() {
		if s.lastVideoSH != nil && !bytes.Equal(s.lastVideoSH, p.Data) {
			forceCut = true
		}
		s.lastVideoSH = append([]byte(nil), p.Data...)
	}

	// A forced cut closes out the segment in progress right at the
	// discontinuity point, then MarkDiscontinuity flags the new segment
	// that starts here — not the one just closed — so the
	// EXT-X-DISCONTINUITY tag lands on the segment that actually starts
	// after the break.
	if forceCut && s.curBuf != nil && s.curBuf.Len() > 0 {
		elapsed := time.Duration(p.TimeStamp)*time.Millisecond - s.curStart
		if err := s.cutSegment(elapsed); err != nil {
			return err
		}
		s.curBuf = nil
	}
	if forceCut {
		s.MarkDiscontinuity()
	}

	if s.curBuf == nil {
		s.startSegment(time.Duration(p.TimeStamp) * time.Millisecond)
	}

	if isVideo && vh.IsKeyFrame() && !vh.IsSequenceHeader() {
		s.curHasKey = true
		elapsed := time.Duration(p.TimeStamp)*time.Millisecond - s.curStart
		if elapsed >= s.cfg.Fragment {
			if err := s.cutSegment(elapsed); err != nil {
				return err
			}
			s.startSegment(time.Duration(p.TimeStamp) * time.Millisecond)
		}
	} else if !isVideo && p.IsAudio {
		elapsed := time.Duration(p.TimeStamp)*time.Millisecond - s.curStart
		if elapsed >= s.cfg.Fragment && time.Since(s.lastVideoAt) > s.cfg.AudioOnlyGrace {
			if err := s.cutSegment(elapsed); err != nil {
				return err
			}
			s.startSegment(time.Duration(p.TimeStamp) * time.Millisecond)
		}
	}

	return s.mux.WritePacket(p)
}

func (s *Segmenter) startSegment(start time.Duration) {
	s.curBuf = &bytes.Buffer{}
	s.mux = tsmux.NewMuxer(s.curBuf)
	s.curStart = start
	s.curHasKey = false
}

func (s *Segmenter) cutSegment(duration time.Duration) error {
	name := fmt.Sprintf("seg-%d.ts", s.segSeq)
	path := filepath.Join(s.dir, name)
	if err := writeFileAtomic(path, s.curBuf.Bytes()); err != nil {
		return err
	}

	s.segments = append(s.segments, segment{
		sequence: s.segSeq, path: name, duration: duration,
		discontinuity: s.nextDiscontinuity,
	})
	s.nextDiscontinuity = false
	s.segSeq++
	if s.metrics != nil {
		s.metrics.IncSegment("hls")
	}

	s.trimWindow()
	return s.writePlaylist(false)
}

// MarkDiscontinuity flags the next cut segment as starting after an
// ATC rebase, a codec-parameter change, or a forced publisher-gap cut,
// per §4.E.
func (s *Segmenter) MarkDiscontinuity() { s.nextDiscontinuity = true }

func (s *Segmenter) trimWindow() {
	var total time.Duration
	for i := len(s.segments) - 1; i >= 0; i-- {
		total += s.segments[i].duration
		if total > s.cfg.Window {
			for _, evicted := range s.segments[:i] {
				s.scheduleCleanup(evicted)
			}
			s.segments = s.segments[i:]
			return
		}
	}
}

func (s *Segmenter) scheduleCleanup(seg segment) {
	go func() {
		time.Sleep(s.cfg.KeepAfterExpire)
		os.Remove(filepath.Join(s.dir, seg.path))
	}()
}

func (s *Segmenter) finish() {
	if s.closed {
		return
	}
	s.closed = true
	if s.curBuf != nil && s.curBuf.Len() > 0 {
		elapsed := s.cfg.Fragment // best-effort duration for a partial final segment
		_ = s.cutSegment(elapsed)
	}
	if s.cfg.OnError == "fragment" {
		s.writePlaylist(true)
	}
	if s.h != nil && s.handle != nil {
		s.h.ClosePlay(s.handle)
	}
}
