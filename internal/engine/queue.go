package engine

import "sync"

// workQueue is a FIFO of instance IDs with pending work.
//
// An ID is queued at most once: enqueuing an ID that is already waiting is
// a no-op. An ID is also never handed to two workers at once: enqueuing an
// ID that is in flight is deferred until Done is called for it. The signal
// channel (buffer of 1) lets workers wait with select next to ctx.Done;
// closing the queue closes it and wakes every waiter.
type workQueue struct {
	mu       sync.Mutex
	ids      []string
	queued   map[string]bool
	inflight map[string]bool
	deferred map[string]bool
	closed   bool
	signal   chan struct{}
}

func newWorkQueue() *workQueue {
	return &workQueue{
		ids:      make([]string, 0, 16),
		queued:   make(map[string]bool),
		inflight: make(map[string]bool),
		deferred: make(map[string]bool),
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue adds id unless it is already queued. It returns false once the
// queue is closed.
func (q *workQueue) Enqueue(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if q.queued[id] {
		return true
	}
	if q.inflight[id] {
		q.deferred[id] = true
		return true
	}
	q.push(id)
	return true
}

func (q *workQueue) push(id string) {
	q.queued[id] = true
	q.ids = append(q.ids, id)
	if q.closed {
		return
	}
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// TryDequeue removes the front ID without blocking. A dequeued ID counts
// as in flight until Done is called for it.
func (q *workQueue) TryDequeue() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ids) == 0 {
		return "", false
	}
	id := q.ids[0]
	if len(q.ids) == 1 {
		q.ids = q.ids[:0]
	} else {
		q.ids = q.ids[1:]
	}
	delete(q.queued, id)
	q.inflight[id] = true
	return id, true
}

// Done marks a dequeued ID as processed. An ID enqueued while it was in
// flight goes to the back of the queue now.
func (q *workQueue) Done(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.inflight[id] {
		return
	}
	delete(q.inflight, id)
	if q.deferred[id] {
		delete(q.deferred, id)
		q.push(id)
	}
}

// Wait returns the channel that signals possible work.
func (q *workQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued IDs.
func (q *workQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}

// Idle reports whether nothing is queued or in flight.
func (q *workQueue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids) == 0 && len(q.inflight) == 0
}

// Close stops accepting IDs and wakes all waiters.
func (q *workQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Closed reports whether Close was called.
func (q *workQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
