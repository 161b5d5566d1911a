package realtime

import "sync"

// pendingMessage is an outbound send captured while disconnected.
type pendingMessage struct {
	event string
	data  any
}

// pendingQueue buffers outbound messages in FIFO order until a connection
// is open. Draining takes a stable snapshot so appends issued while a
// drain is in progress land after the snapshot.
type pendingQueue struct {
	mu    sync.Mutex
	items []pendingMessage
}

func newPendingQueue() *pendingQueue {
	return &pendingQueue{}
}

func (q *pendingQueue) push(event string, data any) {
	q.mu.Lock()
	q.items = append(q.items, pendingMessage{event: event, data: data})
	q.mu.Unlock()
}

// takeAll removes and returns all queued messages in order.
func (q *pendingQueue) takeAll() []pendingMessage {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()
	return items
}

// requeue puts undelivered messages back at the head, before anything
// appended since the snapshot was taken.
func (q *pendingQueue) requeue(items []pendingMessage) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(append([]pendingMessage(nil), items...), q.items...)
	q.mu.Unlock()
}

func (q *pendingQueue) clear() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}

func (q *pendingQueue) len() int {
	q.mu.Lock()
	n := len(q.items)
	q.mu.Unlock()
	return n
}
