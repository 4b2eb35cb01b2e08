// Package queue provides the in-memory buffer between the crawl loop and
// the journal writer. The crawl pushes events without blocking; a single
// writer drains them in arrival order.
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/petstay/hotel-scraper/internal/crawl"
)

var (
	ErrQueueEmpty  = errors.New("queue is empty")
	ErrQueueClosed = errors.New("queue is closed")
)

// EventQueue is a bounded FIFO of crawl events. When the buffer is full
// the oldest event is dropped so Push never blocks the producer.
type EventQueue struct {
	events   []crawl.Event
	capacity int
	dropped  uint64
	mu       sync.Mutex
	cond     *sync.Cond
	closed   bool
}

func NewEventQueue(capacity int) *EventQueue {
	if capacity <= 0 {
		capacity = 1000
	}
	q := &EventQueue{
		events:   make([]crawl.Event, 0, capacity),
		capacity: capacity,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends an event. A full queue drops its oldest entry first.
func (q *EventQueue) Push(ev crawl.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	if len(q.events) >= q.capacity {
		q.events = q.events[1:]
		q.dropped++
	}
	q.events = append(q.events, ev)
	q.cond.Signal()

	return nil
}

// Pop blocks until an event is available, the queue is closed, or ctx is
// done. Buffered events still pop after Close.
func (q *EventQueue) Pop(ctx context.Context) (crawl.Event, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Broadcast rather than Signal: several readers may block here, and
	// each re-checks its own loop condition on wake.
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	for len(q.events) == 0 && !q.closed && ctx.Err() == nil {
		q.cond.Wait()
	}

	if len(q.events) == 0 {
		if q.closed {
			return crawl.Event{}, ErrQueueClosed
		}
		return crawl.Event{}, ctx.Err()
	}

	ev := q.events[0]
	q.events = q.events[1:]

	return ev, nil
}

// Drain returns up to max buffered events without blocking. The journal
// writer calls this after a blocking Pop to batch whatever else arrived.
func (q *EventQueue) Drain(max int) []crawl.Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.events)
	if n == 0 {
		return nil
	}
	if max > 0 && n > max {
		n = max
	}

	batch := make([]crawl.Event, n)
	copy(batch, q.events[:n])
	q.events = q.events[n:]

	return batch
}

func (q *EventQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Dropped reports how many events were discarded because the buffer was
// full.
func (q *EventQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close stops accepting events. Buffered events remain drainable until the
// queue is empty.
func (q *EventQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()

	return nil
}
