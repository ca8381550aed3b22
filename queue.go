package telemetry

import (
	"sync"
	"time"
)

// sendQueue is the transport's bounded admission buffer. Enqueue never
// blocks: when the buffer is at capacity the item is shed, because the
// producer is the application's error path and must not stall on network
// backpressure.
type sendQueue struct {
	mu     sync.RWMutex
	items  chan *envelopeItem
	closed bool
}

func newSendQueue(capacity int) *sendQueue {
	return &sendQueue{
		items: make(chan *envelopeItem, capacity),
	}
}

// enqueue hands an admitted item to the worker. Admission is bounded by the
// in-flight tracker, so the buffered channel always has room; the only
// failure mode is a closed queue.
func (q *sendQueue) enqueue(item *envelopeItem) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return false
	}

	item.enqueuedAt = time.Now()
	select {
	case q.items <- item:
		return true
	default:
		return false
	}
}

// close stops admission and closes the channel so the worker drains out.
func (q *sendQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.items)
}

func (q *sendQueue) isClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

// inflightTracker counts admitted-but-unresolved items and lets Flush wait
// for the count to reach zero. Slots are released on every completion path,
// so the count can never leak.
type inflightTracker struct {
	mu   sync.Mutex
	n    int
	idle chan struct{}
}

func newInflightTracker() *inflightTracker {
	idle := make(chan struct{})
	close(idle)
	return &inflightTracker{idle: idle}
}

// tryAdd acquires a slot unless limit slots are already held. The limit
// bounds concurrent in-flight items, including the one the worker is
// currently delivering.
func (t *inflightTracker) tryAdd(limit int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.n >= limit {
		return false
	}
	if t.n == 0 {
		t.idle = make(chan struct{})
	}
	t.n++
	return true
}

// done releases a slot, waking waiters when the count reaches zero.
func (t *inflightTracker) done() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.n--
	if t.n == 0 {
		close(t.idle)
	}
}

// wait blocks until the in-flight count reaches zero or the timeout elapses.
// A timeout only stops the waiting; pending completions still release their
// slots afterwards.
func (t *inflightTracker) wait(timeout time.Duration) bool {
	t.mu.Lock()
	idle := t.idle
	t.mu.Unlock()

	select {
	case <-idle:
		return true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-idle:
		return true
	case <-timer.C:
		return false
	}
}
