package forward

import (
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/streamhub/streamhub/internal/hub"
	"github.com/streamhub/streamhub/internal/metrics"
	"github.com/streamhub/streamhub/internal/rtmp"
)

// Puller is the edge-pull half of §4.H: on a local play-miss it dials
// a configured origin, publishes the remote stream into the hub, and
// "goes idle on the first successful push" — once the origin's media
// starts flowing into the hub, the puller's only remaining job is to
// keep retrying if the origin connection later drops.
type Puller struct {
	h       *hub.Hub
	metrics *metrics.Metrics
	log     *logrus.Entry

	mu       sync.Mutex
	inFlight map[string]chan struct{} // key.String() -> closed once the first packet arrives
}

func NewPuller(h *hub.Hub, m *metrics.Metrics, log *logrus.Entry) *Puller {
	return &Puller{h: h, metrics: m, log: log, inFlight: make(map[string]chan struct{})}
}

// Ensure starts pulling origin for key if no pull is already in
// flight, and blocks until either the first packet has arrived (the
// source now exists) or the deadline elapses. A later call for the same
// key shares the in-flight pull: it returns at once if that pull has
// already delivered its first packet, and otherwise waits the same way.
// If retries run out before a first packet arrives, it returns false.
func (p *Puller) Ensure(key hub.StreamKey, origin string, maxAttempts int, waitFirstPacket time.Duration) bool {
	if origin == "" {
		return false
	}
	k := key.String()

	p.mu.Lock()
	ready, ok := p.inFlight[k]
	if !ok {
		ready = make(chan struct{})
		p.inFlight[k] = ready
		go p.run(key, origin, maxAttempts, ready)
	}
	p.mu.Unlock()

	select {
	case <-ready:
		return true
	case <-time.After(waitFirstPacket):
		return false
	}
}

func (p *Puller) run(key hub.StreamKey, origin string, maxAttempts int, ready chan struct{}) {
	log := p.log.WithFields(logrus.Fields{"stream_key": key.String(), "origin": origin})
	b := newBackoff(maxAttempts)
	var signaled bool

	for {
		err := p.pullOnce(key, origin, ready, &signaled)
		if err != nil {
			log.WithError(err).Warn("edge pull attempt failed")
			if p.metrics != nil {
				p.metrics.IncForwardError()
			}
		} else {
			b.reset()
		}

		delay, ok := b.next()
		if !ok {
			log.Error("edge pull: retries exhausted")
			p.clear(key)
			return
		}
		time.Sleep(delay)
	}
}

func (p *Puller) clear(key hub.StreamKey) {
	p.mu.Lock()
	delete(p.inFlight, key.String())
	p.mu.Unlock()
}

func (p *Puller) pullOnce(key hub.StreamKey, origin string, ready chan struct{}, signaled *bool) error {
	addr, app, stream, err := rtmp.ParseURL(origin)
	if err != nil {
		return err
	}
	if app == "" {
		app = key.App
	}
	if stream == "" {
		stream = key.Stream
	}

	client, err := rtmp.Dial(addr)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Connect(app, stream, rtmp.TCURL(addr, app), rtmp.ClientPlay); err != nil {
		return err
	}

	handle, err := p.h.Publish(key)
	if err != nil {
		return err
	}
	defer p.h.ClosePublish(handle, io.EOF)

	for {
		pkt, err := client.ReadPacket()
		if err != nil {
			return err
		}
		if !*signaled {
			*signaled = true
			close(ready)
		}
		if err := p.h.OnMessage(handle, pkt); err != nil {
			return err
		}
	}
}
