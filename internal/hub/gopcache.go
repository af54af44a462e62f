package hub

import "github.com/streamhub/streamhub/internal/av"

// gopCache is a bounded FIFO of GOPs (groups of pictures), each one a
// slice of packets starting at a video keyframe. Grounded on the
// teacher's rtmp/cache.go GopCache/array types, generalized to hold N
// whole GOPs (cache_last_n_gops) instead of a fixed ring of N
// pre-allocated slots, and to expose a simple slice-of-slices view for
// Consumer replay instead of writer-push semantics.
type gopCache struct {
	maxGOPs int
	gops    [][]*av.Packet
	cur     []*av.Packet
	started bool
}

// newGopCache builds a cache holding up to maxGOPs whole GOPs.
// maxGOPs <= 0 means the cache is disabled: write and packets become
// no-ops, matching vhost.gop_cache: false (§4.D).
func newGopCache(maxGOPs int) *gopCache {
	return &gopCache{maxGOPs: maxGOPs}
}

func (g *gopCache) enabled() bool { return g.maxGOPs > 0 }

// write appends p to the cache. On a video keyframe (that is not itself
// a sequence header) a new GOP boundary begins; older GOPs beyond
// maxGOPs are evicted oldest-first. A no-op when the cache is disabled.
func (g *gopCache) write(p *av.Packet) {
	if !g.enabled() {
		return
	}

	isKeyFrame := false
	if p.IsVideo {
		if vh, ok := p.Header.(av.VideoPacketHeader); ok {
			isKeyFrame = vh.IsKeyFrame() && !vh.IsSequenceHeader()
		}
	}

	if isKeyFrame {
		if g.cur != nil {
			g.gops = append(g.gops, g.cur)
		}
		g.cur = make([]*av.Packet, 0, 64)
		g.started = true
		for len(g.gops) > g.maxGOPs-1 {
			g.gops = g.gops[1:]
		}
	}

	if !g.started {
		return
	}
	g.cur = append(g.cur, p)
}

// packets returns every cached packet, oldest GOP first, in original
// arrival order within each GOP — the §3 GopCache invariant "the first
// element is always a keyframe or the cache is empty".
func (g *gopCache) packets() []*av.Packet {
	if !g.enabled() {
		return nil
	}
	var out []*av.Packet
	for _, gop := range g.gops {
		out = append(out, gop...)
	}
	out = append(out, g.cur...)
	return out
}

func (g *gopCache) reset() {
	g.gops = nil
	g.cur = nil
	g.started = false
}
