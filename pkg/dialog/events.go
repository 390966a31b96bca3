package dialog

import (
	"sync"

	"github.com/arzzra/multiline/pkg/line"
)

// eventQueue неограниченная очередь событий одной сессии.
// События копятся до установки обработчика и доставляются последовательно
// одной горутиной, которая живет, пока очередь не пуста.
type eventQueue struct {
	mu      sync.Mutex
	handler line.EventHandler
	pending []line.SessionEvent
	running bool
}

func (q *eventQueue) push(ev line.SessionEvent) {
	q.mu.Lock()
	q.pending = append(q.pending, ev)
	start := q.handler != nil && !q.running
	if start {
		q.running = true
	}
	q.mu.Unlock()

	if start {
		go q.run()
	}
}

func (q *eventQueue) setHandler(h line.EventHandler) {
	q.mu.Lock()
	q.handler = h
	start := h != nil && len(q.pending) > 0 && !q.running
	if start {
		q.running = true
	}
	q.mu.Unlock()

	if start {
		go q.run()
	}
}

func (q *eventQueue) run() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 || q.handler == nil {
			q.running = false
			q.mu.Unlock()
			return
		}
		ev := q.pending[0]
		q.pending[0] = line.SessionEvent{}
		q.pending = q.pending[1:]
		h := q.handler
		q.mu.Unlock()

		h(ev)
	}
}
