// Package service provides the shared worker plumbing of the control plane
// services: a bounded FIFO queue draining on its own goroutine, with
// cooperative, idempotent shutdown (QueuedDeliverer puts it in front of
// RTMP responding, ZIP responding and NBP; Echo handles datagrams inline),
// and the Ticker that drives the periodic RTMP/ZIP sending and the RT ager. This mirrors the original implementation's Service base class,
// generalized to Go's channel-based concurrency idioms instead of Python
// threads and queue.Queue.
package service

import "sync"

// Item is anything a Queue can carry; individual services define their own
// concrete item types (an inbound datagram plus its rx Port, a timer tick).
type Item interface{}

// Queue is a bounded FIFO work queue drained by a single worker goroutine.
// Push is safe to call from any goroutine, including before Run has
// started draining; the channel buffer absorbs delivery during startup.
type Queue struct {
	items chan Item

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewQueue returns a Queue with the given channel buffer depth.
func NewQueue(capacity int) *Queue {
	return &Queue{
		items:  make(chan Item, capacity),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Push enqueues item. If the queue has already been stopped, Push is a
// silent no-op — matching spec.md §7's "everything else is silent drop"
// for datagrams that arrive during shutdown.
func (q *Queue) Push(item Item) {
	select {
	case <-q.stopCh:
		return
	default:
	}
	select {
	case q.items <- item:
	case <-q.stopCh:
	}
}

// Run drains the queue on the calling goroutine, calling handle for every
// item, until Stop is called. Run returns once draining has stopped;
// callers typically invoke it via `go q.Run(handle)`.
func (q *Queue) Run(handle func(Item)) {
	defer close(q.doneCh)
	for {
		select {
		case item := <-q.items:
			handle(item)
		case <-q.stopCh:
			return
		}
	}
}

// Stop signals the worker goroutine to exit and waits for it to join.
// Idempotent.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
	<-q.doneCh
}
