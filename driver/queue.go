package driver

import "sync"

// eventQueue is an unbounded FIFO. The receive loop must never block on a
// slow handler, since handlers issue calls whose replies the receive loop
// delivers.
type eventQueue struct {
	mu     sync.Mutex
	items  []*Event
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{signal: make(chan struct{}, 1)}
}

func (q *eventQueue) push(ev *Event) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// pop blocks until an event is available or done is closed.
func (q *eventQueue) pop(done <-chan struct{}) (*Event, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return ev, true
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-done:
			return nil, false
		}
	}
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
