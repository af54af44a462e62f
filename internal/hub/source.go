package hub

import (
	"sync"
	"time"

	"github.com/streamhub/streamhub/internal/av"
	"github.com/streamhub/streamhub/internal/config"
	"github.com/streamhub/streamhub/internal/errs"
	"github.com/streamhub/streamhub/internal/uid"
)

// LiveSource is the §3 per-stream aggregate. All mutation of
// metadata/audioSH/videoSH/gop happens on the publisher's goroutine
// (the scheduler worker the stream is pinned to, per §5); consumers is
// guarded by mu for the concurrent adds/removes that plays and closes
// perform from other connections.
type LiveSource struct {
	Key StreamKey

	vhostCfg config.VHost

	mu          sync.Mutex
	publisherID PublisherID
	consumers   map[string]*Consumer

	metadata specialCache
	audioSH  specialCache
	videoSH  specialCache
	gop      *gopCache
	atc      *atcCorrector

	createdAt   time.Time
	lastPublish time.Time
	drained     bool
}

func newLiveSource(key StreamKey, cfg config.VHost) *LiveSource {
	gopN := 0
	if cfg.GopCache {
		gopN = maxInt(cfg.GopCacheNum, 1)
	}
	return &LiveSource{
		Key:       key,
		vhostCfg:  cfg,
		consumers: make(map[string]*Consumer),
		gop:       newGopCache(gopN),
		atc:       newATCCorrector(uint32(cfg.ATCThreshold / time.Millisecond)),
		createdAt: time.Now(),
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// PublishHandle is returned by Hub.Publish and scopes subsequent
// OnMessage/Close calls to the claim that created it.
type PublishHandle struct {
	source *LiveSource
	id     PublisherID
}

// claimPublisher enforces the §4.D at-most-one-publisher invariant.
func (s *LiveSource) claimPublisher(latestWins bool) (PublisherID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.publisherID != "" {
		if !latestWins {
			return "", errs.InUse(s.Key.String())
		}
	}
	id := PublisherID(uid.NewID())
	s.publisherID = id
	s.drained = false
	s.lastPublish = time.Now()
	return id, nil
}

// OnMessage injects one packet from the publisher, updating the
// relevant cache and fanning it out to every consumer in arrival
// order — §5's per-stream ordering guarantee.
func (s *LiveSource) OnMessage(id PublisherID, p *av.Packet) error {
	s.mu.Lock()
	if s.publisherID != id {
		s.mu.Unlock()
		return errs.AuthDenied("stale publisher handle")
	}
	s.lastPublish = time.Now()

	corrected, rebased := s.atc.correct(p.TimeStamp)
	p.TimeStamp = corrected
	// Discontinuity surfaces the ATC rebase to segmenters (§4.E trigger
	// (a)); hls.Segmenter.onPacket turns it into EXT-X-DISCONTINUITY.
	p.Discontinuity = rebased

	if p.IsMetadata {
		s.metadata.write(p)
	} else if !p.IsVideo {
		if ah, ok := p.Header.(av.AudioPacketHeader); ok &&
			ah.SoundFormat() == av.SoundAAC && ah.AACPacketType() == av.AACSeqHeader {
			s.audioSH.write(p)
		} else {
			s.gop.write(p)
		}
	} else {
		if vh, ok := p.Header.(av.VideoPacketHeader); ok && vh.IsSequenceHeader() {
			s.videoSH.write(p)
		} else {
			s.gop.write(p)
		}
	}

	consumers := make([]*Consumer, 0, len(s.consumers))
	for _, c := range s.consumers {
		consumers = append(consumers, c)
	}
	s.mu.Unlock()

	for _, c := range consumers {
		c.enqueue(p)
	}
	return nil
}

// Close implements the publisher-close half of §4.D's close contract:
// the source transitions to drained and every consumer sees EOF.
func (s *LiveSource) Close(id PublisherID, cause error) {
	s.mu.Lock()
	if s.publisherID != id {
		s.mu.Unlock()
		return
	}
	s.publisherID = ""
	s.drained = true
	consumers := make([]*Consumer, 0, len(s.consumers))
	for _, c := range s.consumers {
		consumers = append(consumers, c)
	}
	s.mu.Unlock()

	for _, c := range consumers {
		c.mu.Lock()
		c.detached = true
		c.closeErr = cause
		c.mu.Unlock()
		select {
		case c.notify <- struct{}{}:
		default:
		}
	}

	s.gop.reset()
}

// play attaches a new Consumer and replays the §4.D cold-start prefix
// in the spec's exact order: metadata, audio SH, video SH, gop cache,
// then live. The teacher's Cache.Send sends video SH before audio SH;
// this is corrected here to match §4.D.
func (s *LiveSource) play(wantAudio, wantVideo, wantScript bool, highWater time.Duration) (*Consumer, error) {
	s.mu.Lock()
	c := newConsumer(uid.NewID(), s, wantAudio, wantVideo, wantScript, highWater)
	s.consumers[c.id] = c

	if wantScript {
		if p := s.metadata.packet(); p != nil {
			cp := *p
			c.queue = append(c.queue, &cp)
		}
	}
	if wantAudio {
		if p := s.audioSH.packet(); p != nil {
			cp := *p
			c.queue = append(c.queue, &cp)
		}
	}
	if wantVideo {
		if p := s.videoSH.packet(); p != nil {
			cp := *p
			c.queue = append(c.queue, &cp)
		}
	}
	for _, p := range s.gop.packets() {
		if (p.IsAudio && wantAudio) || (p.IsVideo && wantVideo) || (p.IsMetadata && wantScript) {
			c.queue = append(c.queue, p)
		}
	}
	s.mu.Unlock()

	return c, nil
}

func (s *LiveSource) consumerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.consumers)
}

func (s *LiveSource) removeConsumer(c *Consumer) {
	s.mu.Lock()
	delete(s.consumers, c.id)
	s.mu.Unlock()
}

// idleSince reports, for a source with neither a publisher nor any
// consumer, the time since its last publish claim or message — used by
// the Hub's idle-grace reaper. It does not track when the last consumer
// left.
func (s *LiveSource) idleSince() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.publisherID != "" || len(s.consumers) > 0 {
		return 0, false
	}
	return time.Since(s.lastPublish), true
}
