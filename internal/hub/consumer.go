package hub

import (
	"sync"
	"time"

	"github.com/streamhub/streamhub/internal/av"
	"github.com/streamhub/streamhub/internal/errs"
)

// Consumer is a per-subscriber queue fed by a LiveSource's fan-out.
// Grounded on the teacher's rtmp/stream.go PackWriterCloser/ws map
// (a WriteCloser per subscriber, ranged over on every published
// packet), generalized from a bare sync.Map entry into the §3
// Consumer type with its own bounded, duration-based outgoing ring and
// keyframe-aligned overflow policy.
type Consumer struct {
	av.RWBaser

	id     string
	source *LiveSource

	wantAudio  bool
	wantVideo  bool
	wantScript bool

	highWater time.Duration

	mu       sync.Mutex
	queue    []*av.Packet
	paused   bool
	detached bool
	closeErr error

	notify chan struct{}
}

func newConsumer(id string, src *LiveSource, wantAudio, wantVideo, wantScript bool, highWater time.Duration) *Consumer {
	return &Consumer{
		RWBaser:    av.NewRWBaser(15 * time.Second),
		id:         id,
		source:     src,
		wantAudio:  wantAudio,
		wantVideo:  wantVideo,
		wantScript: wantScript,
		highWater:  highWater,
		notify:     make(chan struct{}, 1),
	}
}

func (c *Consumer) Info() av.Info {
	return av.Info{Key: c.source.Key.String(), URL: c.source.Key.String(), UID: c.id}
}

// enqueue appends p to the outgoing queue, applying §3's keyframe-
// aligned drop policy when the queue's spanned duration exceeds the
// consumer's high-water mark. It never blocks.
func (c *Consumer) enqueue(p *av.Packet) {
	if p.IsAudio && !c.wantAudio {
		return
	}
	if p.IsVideo && !c.wantVideo {
		return
	}
	if p.IsMetadata && !c.wantScript {
		return
	}

	c.mu.Lock()
	if c.detached {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, p)
	c.trimLocked()
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// trimLocked drops queued frames back to the most recent keyframe when
// the queue's spanned duration exceeds the high-water mark. If there is
// no keyframe to drop back to, the consumer is marked stalled so the
// caller drops it.
func (c *Consumer) trimLocked() {
	if c.highWater <= 0 || len(c.queue) < 2 {
		return
	}
	span := time.Duration(c.queue[len(c.queue)-1].TimeStamp-c.queue[0].TimeStamp) * time.Millisecond
	if span <= c.highWater {
		return
	}

	lastKeyIdx := -1
	for i := len(c.queue) - 1; i >= 0; i-- {
		pk := c.queue[i]
		if pk.IsVideo {
			if vh, ok := pk.Header.(av.VideoPacketHeader); ok && vh.IsKeyFrame() && !vh.IsSequenceHeader() {
				lastKeyIdx = i
				break
			}
		}
	}
	if lastKeyIdx <= 0 {
		c.detached = true
		c.closeErr = errs.Overflow(c.source.Key.String())
		return
	}
	c.queue = c.queue[lastKeyIdx:]
}

// Pop blocks until either a packet is available or the channel closes
// (source drained / consumer detached), mirroring the teacher's
// range-over-sync.Map write loop but pull-based for the HTTP-FLV and
// segmenter consumers that read at their own pace.
func (c *Consumer) Pop() (*av.Packet, error) {
	for {
		c.mu.Lock()
		if c.detached && len(c.queue) == 0 {
			err := c.closeErr
			c.mu.Unlock()
			if err == nil {
				err = errs.Shutdown()
			}
			return nil, err
		}
		if len(c.queue) > 0 {
			p := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return p, nil
		}
		c.mu.Unlock()
		<-c.notify
	}
}

func (c *Consumer) Write(p *av.Packet) error {
	c.Touch()
	tagType := av.TagVideo
	if !p.IsVideo {
		tagType = av.TagAudio
	}
	c.RecordTimestamp(p.TimeStamp, tagType)
	c.enqueue(p)
	return nil
}

func (c *Consumer) Close(err error) {
	c.mu.Lock()
	if !c.detached {
		c.detached = true
		c.closeErr = err
	}
	c.mu.Unlock()
	select {
	case c.notify <- struct{}{}:
	default:
	}
	c.source.removeConsumer(c)
}

var _ av.WriteCloser = (*Consumer)(nil)
