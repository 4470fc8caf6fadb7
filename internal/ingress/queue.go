package ingress

import (
	"sync"
	"time"
)

// Queue is an unbounded FIFO of events. Push never blocks on the consumer;
// Drain hands back everything pending in push order.
type Queue struct {
	mu      sync.Mutex
	pending []Event
}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Push(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	q.mu.Lock()
	q.pending = append(q.pending, ev)
	EventQueueDepth.Set(float64(len(q.pending)))
	q.mu.Unlock()

	EventsTotal.WithLabelValues(ev.Kind.String()).Inc()
}

// Drain returns all queued events and empties the queue. It returns nil
// when nothing is pending.
func (q *Queue) Drain() []Event {
	q.mu.Lock()
	events := q.pending
	q.pending = nil
	EventQueueDepth.Set(0)
	q.mu.Unlock()

	return events
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
