// Package dispatch runs callbacks one at a time, in the order they were
// posted, on a dedicated goroutine.
package dispatch

import "sync"

// Queue is an unbounded FIFO of callbacks. Post never blocks, so it can be
// called while the producer holds its own lock; the callbacks themselves run
// outside that lock.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []func()
	stopped bool
	idle    bool
	done    chan struct{}
}

// New starts a queue.
func New() *Queue {
	q := &Queue{done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// Post schedules fn. Posts after Stop are dropped.
func (q *Queue) Post(fn func()) {
	if fn == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	q.items = append(q.items, fn)
	q.cond.Broadcast()
}

// Stop discards pending callbacks and ends the worker once the callback
// currently running (if any) returns. Safe to call more than once and from
// inside a callback.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = true
	q.items = nil
	q.cond.Broadcast()
}

// Done is closed when the worker has exited after Stop.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Drain blocks until every callback posted so far has run. It must not be
// called from inside a callback.
func (q *Queue) Drain() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for !q.stopped && (len(q.items) > 0 || !q.idle) {
		q.cond.Wait()
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.stopped {
			q.idle = true
			q.cond.Broadcast()
			q.cond.Wait()
		}
		if q.stopped {
			q.mu.Unlock()
			return
		}
		fn := q.items[0]
		q.items = q.items[1:]
		q.idle = false
		q.mu.Unlock()

		fn()
	}
}
