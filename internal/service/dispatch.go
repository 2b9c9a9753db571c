package service

import (
	"github.com/wesleywu/atalk-router/internal/ddp"
	"github.com/wesleywu/atalk-router/internal/port"
)

// Deliverer is the subset of router.Deliverer services implement; defined
// here (rather than imported from router) so this package has no
// import-time dependency on router.
type Deliverer interface {
	Deliver(d ddp.Datagram, rxPort port.Port)
}

// inboundItem is what QueuedDeliverer pushes onto its Queue: one datagram
// plus the Port it arrived on.
type inboundItem struct {
	d      ddp.Datagram
	rxPort port.Port
}

// QueuedDeliverer wraps a Deliverer so that Deliver only enqueues; the
// actual handling runs on the wrapper's own worker goroutine, draining its
// Queue in arrival order. This is what gives each control-plane service
// its own inbound queue per spec.md §5 ("services block on their inbound
// queues... within one service's work queue, processing is FIFO"),
// instead of running inline on the calling Port's receive goroutine.
type QueuedDeliverer struct {
	inner Deliverer
	queue *Queue
}

// NewQueuedDeliverer returns a QueuedDeliverer wrapping inner, buffering up
// to capacity inbound datagrams before Deliver starts blocking the caller.
// Start must be called before any datagram is delivered to it.
func NewQueuedDeliverer(inner Deliverer, capacity int) *QueuedDeliverer {
	return &QueuedDeliverer{inner: inner, queue: NewQueue(capacity)}
}

// Deliver enqueues d for asynchronous handling and returns immediately.
func (q *QueuedDeliverer) Deliver(d ddp.Datagram, rxPort port.Port) {
	q.queue.Push(inboundItem{d: d, rxPort: rxPort})
}

// Start begins draining the queue on a new goroutine.
func (q *QueuedDeliverer) Start() error {
	go q.queue.Run(func(item Item) {
		in := item.(inboundItem)
		q.inner.Deliver(in.d, in.rxPort)
	})
	return nil
}

// Stop signals the worker goroutine to exit and waits for it to join.
func (q *QueuedDeliverer) Stop() error {
	q.queue.Stop()
	return nil
}
