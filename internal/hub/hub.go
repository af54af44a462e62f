package hub

import (
	"sync"
	"time"

	"github.com/streamhub/streamhub/internal/av"
	"github.com/streamhub/streamhub/internal/config"
	"github.com/streamhub/streamhub/internal/errs"
)

// Hub is the process-wide Live Source Hub: a registry of LiveSources
// keyed by StreamKey, reaped on idle-grace expiry. It replaces the
// teacher's ad-hoc stream registry (there isn't one in krisnova-twinx's
// rtmp package — each server_conn looks up its own *Stream off a
// package-level map.Map in server.go) with the explicit §4.D public
// contract: Publish/Play/OnMessage/Close. Stream-to-worker affinity
// (§5) is the caller's concern — the RTMP server makes its Publish or
// Play call on the accepting goroutine, then picks a worker with
// sched.Pool.For(key) for the session's streaming loop. The source
// table itself is guarded by mu.
type Hub struct {
	cfg   *config.Store
	mu    sync.Mutex
	srcs  map[string]*LiveSource
	stopC chan struct{}
}

func New(cfg *config.Store) *Hub {
	h := &Hub{
		cfg:   cfg,
		srcs:  make(map[string]*LiveSource),
		stopC: make(chan struct{}),
	}
	go h.reapLoop()
	return h
}

func (h *Hub) Stop() {
	close(h.stopC)
}

// reapLoop is the §3 "idle grace period elapses, it is reaped" janitor,
// ticking every 5s per SPEC_FULL.md's §4.D expansion note.
func (h *Hub) reapLoop() {
	t := time.NewTicker(5 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-h.stopC:
			return
		case <-t.C:
			h.reapOnce()
		}
	}
}

func (h *Hub) reapOnce() {
	h.mu.Lock()
	var victims []string
	for k, src := range h.srcs {
		idle, isIdle := src.idleSince()
		if isIdle && idle >= src.vhostCfg.IdleGrace {
			victims = append(victims, k)
		}
	}
	for _, k := range victims {
		delete(h.srcs, k)
	}
	h.mu.Unlock()
}

func (h *Hub) getOrCreate(key StreamKey) *LiveSource {
	key = key.Normalize()
	k := key.String()

	h.mu.Lock()
	defer h.mu.Unlock()
	if src, ok := h.srcs[k]; ok {
		return src
	}
	vhCfg := h.cfg.VHost(key.VHost)
	src := newLiveSource(key, vhCfg)
	h.srcs[k] = src
	return src
}

// Publish claims the publisher slot of key's LiveSource, creating the
// source lazily if this is the first publish or play for key.
func (h *Hub) Publish(key StreamKey) (*PublishHandle, error) {
	src := h.getOrCreate(key)
	id, err := src.claimPublisher(src.vhostCfg.LatestWinsPublisher)
	if err != nil {
		return nil, err
	}
	return &PublishHandle{source: src, id: id}, nil
}

// OnMessage injects a message into the source the handle was claimed
// from, per §4.D.
func (h *Hub) OnMessage(handle *PublishHandle, p *av.Packet) error {
	if handle == nil {
		return errs.ProtocolViolation("nil publish handle")
	}
	return handle.source.OnMessage(handle.id, p)
}

// ClosePublish implements the publisher-close half of §4.D's close
// contract.
func (h *Hub) ClosePublish(handle *PublishHandle, cause error) {
	if handle == nil {
		return
	}
	handle.source.Close(handle.id, cause)
}

// PlayHandle is returned by Play; its Consumer replays the §4.D
// cold-start prefix then the live tail.
type PlayHandle struct {
	*Consumer
}

// Play attaches a consumer to key's LiveSource (creating it lazily if
// this is the first play or publish for key) and begins the §4.D
// cold-start replay.
func (h *Hub) Play(key StreamKey, wantAudio, wantVideo, wantScript bool) (*PlayHandle, error) {
	src := h.getOrCreate(key)
	c, err := src.play(wantAudio, wantVideo, wantScript, src.vhostCfg.QueueLength)
	if err != nil {
		return nil, err
	}
	return &PlayHandle{Consumer: c}, nil
}

// ClosePlay detaches a consumer; per §4.D "consumer close detaches
// silently" — no EOF is broadcast to anyone else.
func (h *Hub) ClosePlay(handle *PlayHandle) {
	if handle == nil {
		return
	}
	handle.Consumer.Close(nil)
}

// Stats reports the number of currently registered sources and the
// total consumers attached across all of them, for the ambient
// /metrics endpoint's gauges (§6).
func (h *Hub) Stats() (sources, consumers int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sources = len(h.srcs)
	for _, src := range h.srcs {
		consumers += src.consumerCount()
	}
	return sources, consumers
}

// Lookup returns the LiveSource for key if one currently exists,
// without creating it — used by the HTTP front-end to return 404
// instead of lazily spinning up a source for an unpublished path.
func (h *Hub) Lookup(key StreamKey) (*LiveSource, bool) {
	key = key.Normalize()
	h.mu.Lock()
	defer h.mu.Unlock()
	src, ok := h.srcs[key.String()]
	return src, ok
}
