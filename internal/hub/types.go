// Package hub implements the Live Source Hub: the central per-process
// publish/play broker described in §4.D. A LiveSource aggregates one
// publisher's media (metadata, sequence headers, GOP cache) and fans
// it out to any number of Consumers, enforcing the at-most-one-
// publisher invariant and absolute timestamp correction described in
// the spec.
//
// Grounded on the teacher's rtmp/stream.go (Stream, PackWriterCloser)
// and rtmp/cache.go (Cache, GopCache, SpecialCache), restructured
// around an explicit Hub registry (rtmp/rtmp.go's RoomKeys-adjacent
// global state is instead owned by a *Hub value passed to collaborators,
// per §9's dependency-injection design note) and corrected to the
// spec's cold-start ordering (metadata, audio SH, video SH, gop, live —
// the teacher sends video SH before audio SH).
package hub

import (
	"fmt"
	"strings"

	"github.com/streamhub/streamhub/internal/av"
	"github.com/streamhub/streamhub/internal/config"
)

// StreamKey is the (vhost, app, stream) triple identifying a LiveSource.
type StreamKey struct {
	VHost  string
	App    string
	Stream string
}

// Normalize substitutes the default vhost name for an empty VHost, per
// §3's "a reserved vhost __defaultVhost__ is used when the client omits
// vhost".
func (k StreamKey) Normalize() StreamKey {
	if k.VHost == "" {
		k.VHost = config.DefaultVHostName
	}
	return k
}

func (k StreamKey) String() string {
	return strings.Join([]string{k.VHost, k.App, k.Stream}, "/")
}

// PublisherID identifies the current publisher's session, used to
// scope a PublishHandle to the claim that created it.
type PublisherID string

// specialCache holds at most one packet — used for the metadata object
// and the audio/video sequence headers, each of which the §3 data
// model stores "separately from the message stream" and replaces
// wholesale whenever a fresh one arrives.
type specialCache struct {
	p *av.Packet
}

func (s *specialCache) write(p *av.Packet) { s.p = p }

func (s *specialCache) sendTo(w av.WriteCloser) error {
	if s.p == nil {
		return nil
	}
	return w.Write(s.p)
}

func (s *specialCache) packet() *av.Packet { return s.p }

// ErrInUse describes the case where another publisher already holds the
// key and the vhost is not configured "latest wins"; Hub.Publish reports
// that conflict as an errs.InUse error, not as this value.
var ErrInUse = fmt.Errorf("hub: publisher already in use")
