package forward

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/streamhub/streamhub/internal/hub"
	"github.com/streamhub/streamhub/internal/metrics"
	"github.com/streamhub/streamhub/internal/rtmp"
)

// Pusher is the forward-push half of §4.H: on local publish, open a
// persistent RTMP session to each configured peer and stream the
// hub's contents to it, retrying with backoff on peer failure.
type Pusher struct {
	h       *hub.Hub
	metrics *metrics.Metrics
	log     *logrus.Entry
}

func NewPusher(h *hub.Hub, m *metrics.Metrics, log *logrus.Entry) *Pusher {
	return &Pusher{h: h, metrics: m, log: log}
}

// Start spawns one retrying push loop per peer address and returns
// immediately; the loops run until stop is closed.
func (p *Pusher) Start(key hub.StreamKey, peers []string, maxAttempts int, stop <-chan struct{}) {
	for _, peer := range peers {
		go p.run(key, peer, maxAttempts, stop)
	}
}

func (p *Pusher) run(key hub.StreamKey, peer string, maxAttempts int, stop <-chan struct{}) {
	log := p.log.WithFields(logrus.Fields{"stream_key": key.String(), "peer": peer})
	b := newBackoff(maxAttempts)

	for {
		select {
		case <-stop:
			return
		default:
		}

		if err := p.pushOnce(key, peer, stop); err != nil {
			log.WithError(err).Warn("forward push attempt failed")
			if p.metrics != nil {
				p.metrics.IncForwardError()
			}
		} else {
			b.reset()
			continue
		}

		delay, ok := b.next()
		if !ok {
			log.Error("forward push: retries exhausted")
			return
		}
		select {
		case <-time.After(delay):
		case <-stop:
			return
		}
	}
}

func (p *Pusher) pushOnce(key hub.StreamKey, peer string, stop <-chan struct{}) error {
	handle, err := p.h.Play(key, true, true, true)
	if err != nil {
		return err
	}
	defer p.h.ClosePlay(handle)

	addr, app, stream, err := rtmp.ParseURL(peer)
	if err != nil {
		return err
	}
	if stream == "" {
		stream = key.Stream
	}

	client, err := rtmp.Dial(addr)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Connect(app, stream, rtmp.TCURL(addr, app), rtmp.ClientPublish); err != nil {
		return err
	}

	unblock := make(chan struct{})
	go func() {
		select {
		case <-stop:
			p.h.ClosePlay(handle)
		case <-unblock:
		}
	}()
	defer close(unblock)

	for {
		pkt, err := handle.Pop()
		if err != nil {
			select {
			case <-stop:
				return nil
			default:
				return err
			}
		}
		if err := client.WritePacket(pkt); err != nil {
			return err
		}
	}
}
