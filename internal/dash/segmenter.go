package dash

import (
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/streamhub/streamhub/internal/av"
	"github.com/streamhub/streamhub/internal/bitreader"
	"github.com/streamhub/streamhub/internal/config"
	"github.com/streamhub/streamhub/internal/fmp4"
	"github.com/streamhub/streamhub/internal/hub"
	"github.com/streamhub/streamhub/internal/metrics"
	"github.com/streamhub/streamhub/internal/tsmux"
)

// Segmenter owns one stream's DASH output directory: a video track, an
// optional audio track, and the MPD they feed.
type Segmenter struct {
	key hub.StreamKey
	cfg config.DASHConfig
	dir string
	log *logrus.Entry

	h       *hub.Hub
	handle  *hub.PlayHandle
	metrics *metrics.Metrics

	video *track
	audio *track

	availabilityStart time.Time
	haveAvailability  bool
	lastMPDWrite      time.Time
}

func NewSegmenter(h *hub.Hub, key hub.StreamKey, cfg config.DASHConfig, m *metrics.Metrics, log *logrus.Entry) (*Segmenter, error) {
	dir := filepath.Join(cfg.Path, key.VHost, key.App, key.Stream)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Segmenter{
		key: key, cfg: cfg, dir: dir, log: log, h: h, metrics: m,
		video: newTrack(fmp4.VideoTrackID, dir, cfg.WindowSize),
		audio: newTrack(fmp4.AudioTrackID, dir, cfg.WindowSize),
	}, nil
}

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
			return nil
		}
		if err := s.onPacket(p); err != nil {
			s.log.WithError(err).Warn("dash: dropping packet")
		}
	}
}

func (s *Segmenter) onPacket(p *av.Packet) error {
	if !s.haveAvailability {
		s.availabilityStart = time.Now().Add(-time.Duration(p.TimeStamp) * time.Millisecond)
		s.haveAvailability = true
	}

	switch {
	case p.IsVideo:
		return s.onVideo(p)
	case p.IsAudio:
		return s.onAudio(p)
	default:
		return nil
	}
}

func (s *Segmenter) onVideo(p *av.Packet) error {
	vh, ok := p.Header.(av.VideoPacketHeader)
	if !ok {
		return nil
	}
	t := s.video
	t.timescale = 1000

	if vh.IsSequenceHeader() {
		nalLenSize, sps, pps, err := tsmux.ParseAVCDecoderConfig(p.Data)
		if err != nil {
			return err
		}
		t.nalLenSize, t.sps, t.pps = nalLenSize, sps, pps
		if len(sps) > 1 {
			if info, err := bitreader.ParseSPS(sps[1:]); err == nil {
				t.spsInfo = info
			}
		}
		return s.refreshInit()
	}
	if t.sps == nil {
		return nil
	}

	keyFrame := vh.IsKeyFrame()
	if keyFrame && t.pendingDuration() >= s.cfg.Fragment && len(t.samples) > 0 {
		if _, err := t.cut(); err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.IncSegment("dash")
		}
		if err := s.maybeWriteMPD(); err != nil {
			return err
		}
	}

	// DASH fMP4 samples stay in AVCC form (no Annex-B start codes): the
	// avcC box, unlike TS, carries the NALU length size for players to
	// re-split on, so only the MP4 sample itself needs the raw NALUs.
	t.appendSample(uint64(p.TimeStamp), p.Data, keyFrame)
	return nil
}

func (s *Segmenter) onAudio(p *av.Packet) error {
	ah, ok := p.Header.(av.AudioPacketHeader)
	if !ok || ah.SoundFormat() != av.SoundAAC {
		return nil
	}
	t := s.audio

	if ah.AACPacketType() == av.AACSeqHeader {
		t.audioConfig = append([]byte(nil), p.Data...)
		rate, channels := tsmux.ParseAudioSpecificConfig(p.Data)
		t.sampleRate, t.channels = rate, channels
		t.timescale = rate
		return s.refreshInit()
	}
	if t.audioConfig == nil || t.timescale == 0 {
		return nil
	}

	// §4.F: "timestamp base for audio-only is derived from AAC sample
	// count" — each access unit is a fixed 1024-sample frame at t.timescale.
	t.appendSample(t.audioSamples, p.Data, true)
	t.audioSamples += 1024

	if t.pendingDuration() >= s.cfg.Fragment && len(t.samples) > 0 {
		if _, err := t.cut(); err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.IncSegment("dash")
		}
		return s.maybeWriteMPD()
	}
	return nil
}

func (s *Segmenter) refreshInit() error {
	var v *fmp4.VideoConfig
	if s.video.sps != nil {
		v = &fmp4.VideoConfig{SPS: s.video.sps, PPS: s.video.pps, SPSInfo: s.video.spsInfo, Timescale: 1000}
		if err := s.video.writeInit(v, nil); err != nil {
			return err
		}
	}
	if s.audio.audioConfig != nil {
		a := &fmp4.AudioConfig{AudioSpecificConfig: s.audio.audioConfig, SampleRate: s.audio.sampleRate, Channels: s.audio.channels, Timescale: s.audio.sampleRate}
		if err := s.audio.writeInit(nil, a); err != nil {
			return err
		}
	}
	return nil
}

// maybeWriteMPD implements §4.F's "emitted only once both audio and
// video (or the declared single track) have >= window_size segments"
// gate, then rate-limits further rewrites to UpdatePeriod.
func (s *Segmenter) maybeWriteMPD() error {
	ready := true
	if s.video.sps != nil && len(s.video.window) < s.cfg.WindowSize {
		ready = false
	}
	if s.audio.audioConfig != nil && len(s.audio.window) < s.cfg.WindowSize {
		ready = false
	}
	if !ready {
		return nil
	}
	if !s.lastMPDWrite.IsZero() && time.Since(s.lastMPDWrite) < s.cfg.UpdatePeriod {
		return nil
	}
	s.lastMPDWrite = time.Now()
	return s.writeMPD()
}

func (s *Segmenter) finish() {
	if len(s.video.samples) > 0 {
		s.video.cut()
	}
	if len(s.audio.samples) > 0 {
		s.audio.cut()
	}
	s.writeMPD()
	if s.h != nil && s.handle != nil {
		s.h.ClosePlay(s.handle)
	}
}
