package world

import (
	"errors"
	"sort"
	"sync"
)

// ErrQueueFull is returned by Submit when the queue is at capacity. The
// submitter sees the failure immediately; the tick loop is never blocked.
var ErrQueueFull = errors.New("action queue full")

// ActionQueue buffers agent intents between ticks. Multi-producer, single
// consumer: transports Submit concurrently, only the tick loop Swaps.
type ActionQueue struct {
	mu      sync.Mutex
	buf     []Action
	cap     int
	arrival uint64
}

func NewActionQueue(capacity int) *ActionQueue {
	if capacity <= 0 {
		capacity = 4096
	}
	return &ActionQueue{cap: capacity}
}

func (q *ActionQueue) Submit(a Action) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) >= q.cap {
		return ErrQueueFull
	}
	q.arrival++
	a.arrival = q.arrival
	q.buf = append(q.buf, a)
	return nil
}

// Swap atomically takes the buffered actions and installs a fresh buffer,
// so submissions during tick processing land in the next tick. The drained
// batch is in deterministic order: FIFO by queue arrival, ties broken by
// agent identifier, never by wall-clock arrival time.
func (q *ActionQueue) Swap() []Action {
	q.mu.Lock()
	batch := q.buf
	q.buf = nil
	q.mu.Unlock()

	sort.SliceStable(batch, func(i, j int) bool {
		if batch[i].arrival != batch[j].arrival {
			return batch[i].arrival < batch[j].arrival
		}
		return batch[i].AgentID < batch[j].AgentID
	})
	return batch
}

func (q *ActionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}
