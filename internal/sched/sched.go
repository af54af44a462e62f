// Package sched implements the cooperative task scheduler from spec
// §4.A/§9: "goroutines pinned via a single-runner channel per worker".
// Each Worker serializes all mutations of the stream state it owns
// through one job channel, so code running inside a submitted job can
// assume exclusive access to that worker's state without an explicit
// lock — the same guarantee the original's single-threaded-per-worker
// model gives for free, reproduced here with Go's concurrency primitives
// instead of a user-space coroutine runtime.
package sched

import (
	"context"
	"hash/fnv"
	"time"
)

// Worker runs submitted jobs one at a time, in submission order. A
// connection goroutine calls Submit to mutate state the worker owns
// and blocks until that mutation
// has run — the same suspension-point discipline §5 describes, mapped
// onto a request/response channel instead of a coroutine yield.
type Worker struct {
	id   int
	jobs chan func()
	done chan struct{}
}

func NewWorker(id int) *Worker {
	w := &Worker{
		id:   id,
		jobs: make(chan func(), 256),
		done: make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Worker) ID() int { return w.id }

func (w *Worker) run() {
	for job := range w.jobs {
		job()
	}
	close(w.done)
}

// Submit enqueues fn and blocks until it has run. FIFO per worker: jobs
// run in the order they were submitted, matching §4.A's wakeup ordering
// guarantee.
func (w *Worker) Submit(fn func()) {
	result := make(chan struct{})
	w.jobs <- func() {
		fn()
		close(result)
	}
	<-result
}

// Go enqueues fn without waiting for it to complete.
func (w *Worker) Go(fn func()) {
	w.jobs <- fn
}

// Stop drains and stops accepting new jobs.
func (w *Worker) Stop() {
	close(w.jobs)
	<-w.done
}

// Pool assigns stream keys to workers by a stable hash, so a given
// stream is always handled by the same worker for the lifetime of the
// process — the "a stream is a property of one worker and is not
// migrated" rule from §5.
type Pool struct {
	workers []*Worker
}

func NewPool(n int) *Pool {
	if n < 1 {
		n = 1
	}
	p := &Pool{workers: make([]*Worker, n)}
	for i := range p.workers {
		p.workers[i] = NewWorker(i)
	}
	return p
}

func (p *Pool) Size() int { return len(p.workers) }

// For returns the worker that owns key.
func (p *Pool) For(key string) *Worker {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	idx := int(h.Sum32()) % len(p.workers)
	if idx < 0 {
		idx += len(p.workers)
	}
	return p.workers[idx]
}

func (p *Pool) Stop() {
	for _, w := range p.workers {
		w.Stop()
	}
}

// Sleep suspends the calling task for d, or until ctx is cancelled —
// the scheduler's sleep primitive, mapped onto context.Context so
// cancellation is cooperative: the caller observes ctx.Err() on wake.
// Returns false if woken by cancellation rather than by timeout.
func Sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
