// Package forward implements §4.H's Forwarder/Edge Puller: an outbound
// RTMP client that either mirrors the hub's contents to configured
// peers on local publish (push) or pulls a remote origin into the hub
// on a local play-miss (pull).
//
// Grounded on the teacher's rtmp/proxy.go (RtmpRelay for the pull
// side, StaticPush for the push side), rebuilt against internal/rtmp's
// Client instead of core.ConnClient and internal/hub instead of a
// package-level stream map.
package forward

import (
	"math/rand"
	"time"
)

// backoff implements §4.H's "exponential backoff (100ms -> 30s,
// jittered +/-30%) with a max attempt count" retry policy.
type backoff struct {
	attempt     int
	maxAttempts int
}

const (
	backoffMin = 100 * time.Millisecond
	backoffMax = 30 * time.Second
)

func newBackoff(maxAttempts int) *backoff {
	return &backoff{maxAttempts: maxAttempts}
}

// next returns the delay before the next attempt, or ok=false once
// maxAttempts (if positive) has been exhausted.
func (b *backoff) next() (time.Duration, bool) {
	if b.maxAttempts > 0 && b.attempt >= b.maxAttempts {
		return 0, false
	}
	base := backoffMin << uint(b.attempt)
	if base <= 0 || base > backoffMax {
		base = backoffMax
	}
	b.attempt++

	jitter := int64(base) * 3 / 10
	delta := rand.Int63n(2*jitter+1) - jitter
	d := time.Duration(int64(base) + delta)
	if d < 0 {
		d = 0
	}
	return d, true
}

func (b *backoff) reset() { b.attempt = 0 }
